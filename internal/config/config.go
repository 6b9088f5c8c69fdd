// Package config loads the node's configuration surface (spec.md §6 "CLI /
// env / config"), grounded on
// original_source/include/bitcoin/node/config/settings.hpp for field names
// and defaults, and on go-ethereum's cmd/geth TOML tooling for the loading
// mechanism (github.com/naoina/toml).
package config

import (
	"fmt"
	"os"

	"github.com/naoina/toml"

	"github.com/libbitcoin/libbitcoin-node-sub001/internal/query"
)

// Checkpoint pins a known-good header at a height, exempting everything at
// or below it from full validation (spec.md §4.2 step 3).
type Checkpoint struct {
	Height query.Height    `toml:"height"`
	Hash   query.HeaderHash `toml:"hash"`
}

// Settings is the configuration surface the core reads (spec.md §6),
// expanded with the ambient sections (log/CLI) a complete node needs.
type Settings struct {
	// Core (spec.md §6).
	AllowedDeviation       float32      `toml:"allowed_deviation"`
	HeadersFirst           bool         `toml:"headers_first"`
	DelayInbound           bool         `toml:"delay_inbound"`
	MaximumConcurrency     uint32       `toml:"maximum_concurrency"`
	MaximumBacklog         uint32       `toml:"maximum_backlog"`
	SamplePeriodSeconds    uint16       `toml:"sample_period_seconds"`
	CurrencyWindowMinutes  uint32       `toml:"currency_window_minutes"`
	AnnouncementCache      uint16       `toml:"announcement_cache"`
	WitnessNode            bool         `toml:"witness_node"`
	EnableRelay            bool         `toml:"enable_relay"`
	ServicesMaximum        uint64       `toml:"services_maximum"`
	Checkpoints            []Checkpoint `toml:"checkpoints"`
	Milestone              *Checkpoint  `toml:"milestone"`

	// Ambient.
	Log     LogSettings     `toml:"log"`
	Storage StorageSettings `toml:"storage"`
}

// LogSettings configures the rotating file sink layered under
// github.com/ethereum/go-ethereum/log (gopkg.in/natefinch/lumberjack.v2),
// grounded on go-ethereum's own node.Config log wiring.
type LogSettings struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Verbosity  string `toml:"verbosity"`
}

// StorageSettings configures the archival store (external to this core, but
// its connection parameters are part of the outer shell a complete binary
// needs).
type StorageSettings struct {
	Path string `toml:"path"`
}

// Default returns the settings baseline matching
// original_source/include/bitcoin/node/config/settings.hpp's documented
// defaults.
func Default() Settings {
	return Settings{
		AllowedDeviation:      1.5,
		HeadersFirst:          true,
		DelayInbound:          false,
		MaximumConcurrency:    1000,
		MaximumBacklog:        50_000_000,
		SamplePeriodSeconds:   10,
		CurrencyWindowMinutes: 60,
		AnnouncementCache:     10_000,
		WitnessNode:           true,
		EnableRelay:           false,
		ServicesMaximum:       0,
		Log: LogSettings{
			File:       "node.log",
			MaxSizeMB:  100,
			MaxBackups: 10,
			MaxAgeDays: 30,
			Verbosity:  "info",
		},
		Storage: StorageSettings{Path: "./data"},
	}
}

// Load reads and decodes a TOML settings file at path, starting from
// Default() so unset fields keep their documented defaults.
func Load(path string) (Settings, error) {
	settings := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return settings, nil
}

// CheckpointMap converts the configured checkpoint list into the
// height->hash map the organize engine consumes directly.
func (s Settings) CheckpointMap() map[query.Height]query.HeaderHash {
	out := make(map[query.Height]query.HeaderHash, len(s.Checkpoints))
	for _, cp := range s.Checkpoints {
		out[cp.Height] = cp.Hash
	}
	return out
}

// MilestoneOrZero reports the configured milestone, or the zero value with
// ok=false if none was configured.
func (s Settings) MilestoneOrZero() (height query.Height, hash query.HeaderHash, ok bool) {
	if s.Milestone == nil {
		return 0, query.HeaderHash{}, false
	}
	return s.Milestone.Height, s.Milestone.Hash, true
}
