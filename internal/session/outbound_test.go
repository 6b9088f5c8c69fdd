package session

import (
	"testing"
	"time"

	"github.com/libbitcoin/libbitcoin-node-sub001/chase"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/eventbus"
)

// fakeOutboundCoordinator is an OutboundCoordinator double returning a
// fixed slowest-peer answer.
type fakeOutboundCoordinator struct {
	peer uint64
	ok   bool
}

func (f fakeOutboundCoordinator) SlowestOutstanding() (uint64, bool) { return f.peer, f.ok }

// TestOutboundSessionSplitsSlowestOnStarved reproduces spec.md §8
// scenario 3: a starved peer triggers a chase.Split at the slowest peer
// with outstanding work, as reported by the coordinator.
func TestOutboundSessionSplitsSlowestOnStarved(t *testing.T) {
	bus := eventbus.New()
	outbound := NewOutboundSession(bus, fakeOutboundCoordinator{peer: 2, ok: true})
	if err := outbound.Start(); err != nil {
		t.Fatalf("Start(): %v", err)
	}
	defer outbound.Stop()

	received := make(chan uint64, 1)
	bus.Subscribe(func(ev chase.Event) eventbus.Disposition {
		if ev.Tag == chase.Split {
			if peer, ok := chase.PeerValue(ev.Value); ok {
				received <- peer
			}
		}
		return eventbus.Continue
	}, chase.Split)

	bus.Publish(chase.Event{Tag: chase.Starved, Value: uint64(1)})

	select {
	case peer := <-received:
		if peer != 2 {
			t.Fatalf("chase.Split peer = %d, want 2", peer)
		}
	case <-time.After(testWaitTimeout):
		t.Fatal("timed out waiting for chase.Split after starvation")
	}
}

// TestOutboundSessionNoOutstandingWorkIsNoop ensures no chase.Split is
// published when the coordinator reports no outstanding peer at all.
func TestOutboundSessionNoOutstandingWorkIsNoop(t *testing.T) {
	bus := eventbus.New()
	outbound := NewOutboundSession(bus, fakeOutboundCoordinator{ok: false})
	if err := outbound.Start(); err != nil {
		t.Fatalf("Start(): %v", err)
	}
	defer outbound.Stop()

	received := make(chan uint64, 1)
	bus.Subscribe(func(ev chase.Event) eventbus.Disposition {
		if ev.Tag == chase.Split {
			received <- 1
		}
		return eventbus.Continue
	}, chase.Split)

	bus.Publish(chase.Event{Tag: chase.Starved, Value: uint64(1)})

	select {
	case <-received:
		t.Fatal("chase.Split published with no outstanding peer to split")
	case <-time.After(200 * time.Millisecond):
	}
}
