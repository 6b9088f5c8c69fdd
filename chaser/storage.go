package chaser

import (
	"time"

	"github.com/libbitcoin/libbitcoin-node-sub001/chase"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/eventbus"
)

// pollInterval is the 1-second timer spec.md §4.6 polls space on while
// suspended.
const pollInterval = time.Second

// StorageChaser monitors disk space, suspending and resuming network
// connectivity around exhaustion (spec.md §4.6). Grounded on
// original_source/include/bitcoin/node/chasers/chaser_storage.hpp.
type StorageChaser struct {
	Base

	ticker  *time.Ticker
	polling bool
}

// NewStorageChaser constructs a StorageChaser.
func NewStorageChaser(node Node) *StorageChaser {
	return &StorageChaser{Base: NewBase("storage", node)}
}

func (s *StorageChaser) Start() error {
	s.Subscribe(func(ev chase.Event) eventbus.Disposition {
		if ev.Tag == chase.Space {
			s.Post(s.doSpace)
		}
		return eventbus.Continue
	}, chase.Space)

	s.Run()
	return nil
}

// doSpace implements spec.md §4.6: compare space_free to space_required;
// while insufficient, suspend and poll every second; once sufficient,
// reload then resume.
func (s *StorageChaser) doSpace() {
	if s.sufficient() {
		return
	}

	s.Logger().Warn("insufficient free space, suspending network")
	s.Suspend()
	s.startPolling()
}

func (s *StorageChaser) sufficient() bool {
	q := s.Query()
	return q.SpaceFree() >= q.SpaceRequired()
}

func (s *StorageChaser) startPolling() {
	if s.polling {
		return
	}
	s.polling = true
	s.ticker = time.NewTicker(pollInterval)
	go s.pollLoop(s.ticker)
}

// pollLoop runs off-strand (it only ever owns the ticker channel) and posts
// each tick back onto the strand so all state transitions remain
// strand-serialized.
func (s *StorageChaser) pollLoop(ticker *time.Ticker) {
	for range ticker.C {
		s.Post(s.doPoll)
	}
}

func (s *StorageChaser) doPoll() {
	if !s.polling {
		return
	}
	if !s.sufficient() {
		return
	}

	s.ticker.Stop()
	s.polling = false

	if err := s.Query().Reload(nil); err != nil {
		s.Fault(err)
		return
	}
	s.Resume()
	s.Logger().Info("free space recovered, network resumed")
}
