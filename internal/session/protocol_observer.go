package session

import (
	"errors"

	"github.com/libbitcoin/libbitcoin-node-sub001/chase"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/eventbus"
)

// errSuspended is the channel-close reason used when the node suspends
// network connectivity (spec.md §4.6, §4.7 step 2).
var errSuspended = errors.New("session: channel closed, node suspended")

// ObserverProtocol listens for chase.Suspend and fails its channel on
// reception (spec.md §4.7 step 2), installed on every peer unconditionally.
// Grounded on original_source's protocol_observer (the one protocol every
// channel always carries).
type ObserverProtocol struct {
	channel Channel
	node    Node
	key     eventbus.Key
}

// NewObserverProtocol constructs an ObserverProtocol bound to channel.
func NewObserverProtocol(channel Channel, node Node) *ObserverProtocol {
	return &ObserverProtocol{channel: channel, node: node}
}

func (p *ObserverProtocol) Start() error {
	p.key = p.node.Bus().Subscribe(func(ev chase.Event) eventbus.Disposition {
		if ev.Tag == chase.Suspend {
			p.channel.Close(errSuspended)
			return eventbus.Unsubscribe
		}
		return eventbus.Continue
	}, chase.Suspend)
	return nil
}

func (p *ObserverProtocol) Stop() {
	p.node.Bus().Unsubscribe(p.key)
}
