// Command node is the thin outer shell around the core: it parses a
// config-file flag, loads settings, constructs the full node, and runs it
// until interrupted. Grounded on go-ethereum's cmd/geth main.go (the
// urfave/cli/v2 App pattern go-ethereum itself migrated to).
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/libbitcoin/libbitcoin-node-sub001/internal/config"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/metrics"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/node"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/query"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Value:   "node.toml",
	Usage:   "path to the TOML settings file",
}

func main() {
	app := &cli.App{
		Name:  "node",
		Usage: "run the Bitcoin P2P node core",
		Flags: []cli.Flag{configFlag},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	settings, err := config.Load(c.String(configFlag.Name))
	if err != nil {
		return err
	}

	configureLogging(settings.Log)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration failed", "err", err)
	}

	store := query.NewMemory()
	n := node.New(settings, store)

	if err := n.Start(); err != nil {
		return fmt.Errorf("node: start: %w", err)
	}
	defer n.Stop()

	log.Info("node started", "config", c.String(configFlag.Name))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("node shutting down")
	return nil
}

// configureLogging installs a rotating file sink beneath go-ethereum's log
// handler (spec.md's ambient logging stack), grounded on go-ethereum's own
// node.Config log wiring plus gopkg.in/natefinch/lumberjack.v2 for rotation.
func configureLogging(settings config.LogSettings) {
	rotator := &lumberjack.Logger{
		Filename:   settings.File,
		MaxSize:    settings.MaxSizeMB,
		MaxBackups: settings.MaxBackups,
		MaxAge:     settings.MaxAgeDays,
	}

	opts := &slog.HandlerOptions{Level: parseLevel(settings.Verbosity)}
	handler := slog.NewTextHandler(rotator, opts)
	log.SetDefault(log.NewLogger(handler))
}

// parseLevel maps the configured verbosity name onto slog's level scale,
// gating the rotating file handler's minimum level.
func parseLevel(verbosity string) slog.Level {
	switch verbosity {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error", "crit":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
