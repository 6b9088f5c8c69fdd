package session

import (
	"errors"

	"github.com/btcsuite/btcd/wire"
)

// RejectProtocol answers getaddr/getblocks-style "getx" requests this core
// does not itself serve with a `reject` message, and fails the channel on
// receiving an unexpected `reject` from the peer if its code indicates a
// protocol-level disagreement rather than routine policy (dropped tx,
// etc). Supplemental to spec.md's Non-goals list (not named there, but
// present in original_source's protocol set and useful for any complete
// node, hence carried here per SPEC_FULL.md's supplemented-features
// section).
type RejectProtocol struct {
	channel Channel
	node    Node
}

// NewRejectProtocol constructs a RejectProtocol.
func NewRejectProtocol(channel Channel, node Node) *RejectProtocol {
	return &RejectProtocol{channel: channel, node: node}
}

func (p *RejectProtocol) Start() error { return nil }
func (p *RejectProtocol) Stop()        {}

// RejectUnsupported answers a request this handler set does not serve
// (e.g. getblocks from a headers-first peer) with a reject message.
func (p *RejectProtocol) RejectUnsupported(cmd string, reason string) error {
	msg := wire.NewMsgReject(cmd, wire.RejectNonstandard, reason)
	return p.channel.Send(msg)
}

// OnReject handles an inbound reject message: a malformed/obsolete code is
// treated as a protocol violation and closes the channel.
func (p *RejectProtocol) OnReject(msg *wire.MsgReject) error {
	if msg.Code == wire.RejectMalformed || msg.Code == wire.RejectObsolete {
		p.channel.Close(errors.New("session: peer protocol violation: " + msg.Reason))
		return nil
	}
	return nil
}
