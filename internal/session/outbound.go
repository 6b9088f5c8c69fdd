package session

import (
	"github.com/ethereum/go-ethereum/log"

	"github.com/libbitcoin/libbitcoin-node-sub001/chase"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/eventbus"
)

// OutboundCoordinator is the subset of CheckChaser the outbound session
// needs to pick a split victim: the peer with outstanding work and the
// lowest recorded throughput (spec.md §4.3 "Starvation protocol").
type OutboundCoordinator interface {
	SlowestOutstanding() (uint64, bool)
}

// OutboundSession implements the "outbound session" spec.md §4.1's event
// table names as the publisher of split (in response to starved). It
// subscribes to starved only; the direct-outlier split path is driven by
// CheckChaser itself. Unlike a PeerSession it is not bound to one
// channel: the starvation protocol (spec.md §4.3) compares throughput
// across every peer the check chaser is tracking, so one instance is
// constructed per node rather than per connection.
type OutboundSession struct {
	bus         *eventbus.Bus
	coordinator OutboundCoordinator
	logger      log.Logger
	key         eventbus.Key
}

// NewOutboundSession constructs an OutboundSession bound to bus and
// coordinator (in practice the node's *chaser.CheckChaser, which
// satisfies OutboundCoordinator).
func NewOutboundSession(bus *eventbus.Bus, coordinator OutboundCoordinator) *OutboundSession {
	return &OutboundSession{
		bus:         bus,
		coordinator: coordinator,
		logger:      log.New("component", "outbound-session"),
	}
}

// Start subscribes to chase.Starved.
func (o *OutboundSession) Start() error {
	o.key = o.bus.Subscribe(func(ev chase.Event) eventbus.Disposition {
		if ev.Tag == chase.Starved {
			o.onStarved()
		}
		return eventbus.Continue
	}, chase.Starved)
	return nil
}

// Stop unsubscribes from the bus.
func (o *OutboundSession) Stop() {
	o.bus.Unsubscribe(o.key)
}

// onStarved implements spec.md §4.3's "Starvation protocol": find the
// slowest peer still holding outstanding work and instruct it to split,
// so the starved peer is handed the second half on its next get_map.
func (o *OutboundSession) onStarved() {
	peer, ok := o.coordinator.SlowestOutstanding()
	if !ok {
		return
	}
	o.logger.Info("splitting slowest peer with outstanding work", "peer", peer)
	o.bus.Publish(chase.Event{Tag: chase.Split, Value: peer})
}
