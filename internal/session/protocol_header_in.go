package session

import (
	"github.com/btcsuite/btcd/wire"

	"github.com/libbitcoin/libbitcoin-node-sub001/chaser"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/query"
)

// HeaderOrganize is the subset of HeaderOrganizer a protocol handler needs.
type HeaderOrganize interface {
	Organize(h *query.Header) (chaser.Result, error)
}

// HeaderInProtocol processes inbound `headers` messages, organizing each
// and pipelining a fresh `getheaders` whenever a full batch arrives (spec.md
// §4.7 "Header-in processes headers messages; on receiving max_get_headers
// it pipelines a new getheaders").
type HeaderInProtocol struct {
	channel Channel
	node    Node
	organize HeaderOrganize
	seen     *AnnouncementCache
}

// NewHeaderInProtocol constructs a HeaderInProtocol bound to this channel's
// own fingerprint cache (spec.md §3 "Fingerprint"): every header this peer
// announces is recorded into it, so the sibling HeaderOutProtocol on the
// same channel never echoes it back (spec.md §8 property 6). The organizer
// is resolved from node at construction time via an interface assertion so
// this file has no direct dependency on the concrete full-node wiring type.
func NewHeaderInProtocol(channel Channel, node Node, fingerprint *AnnouncementCache) *HeaderInProtocol {
	p := &HeaderInProtocol{channel: channel, node: node, seen: fingerprint}
	if provider, ok := node.(HeaderOrganizerNode); ok {
		p.organize = provider.HeaderOrganizer()
	}
	return p
}

// HeaderOrganizerNode is implemented by the full-node wiring to expose its
// HeaderOrganizer to protocol handlers without importing the node package
// from session (which would cycle back through chaser.Node).
type HeaderOrganizerNode interface {
	HeaderOrganizer() HeaderOrganize
}

func (p *HeaderInProtocol) Start() error { return nil }
func (p *HeaderInProtocol) Stop()        {}

// OnHeaders handles one inbound `headers` message: organizes every header
// in order, then, if the batch was full (2000 entries, Bitcoin's
// getheaders response cap), requests the next batch.
func (p *HeaderInProtocol) OnHeaders(msg *wire.MsgHeaders) error {
	if p.organize == nil {
		return nil
	}
	for _, wh := range msg.Headers {
		h := fromWireHeader(wh)
		if p.seen != nil && p.seen.Seen(h.Hash()) {
			continue
		}
		if _, err := p.organize.Organize(h); err != nil {
			// Duplicate/orphan/pending are expected steady-state outcomes,
			// not channel failures. Every organize error is skipped here; a
			// store fault is already reported by the organizer's own Fault.
			continue
		}
	}
	if len(msg.Headers) == wire.MaxBlockHeadersPerMsg {
		return p.channel.Send(&wire.MsgGetHeaders{ProtocolVersion: p.channel.Version()})
	}
	return nil
}

// fromWireHeader adapts a btcd wire.BlockHeader into this module's
// query.Header record.
func fromWireHeader(wh *wire.BlockHeader) *query.Header {
	return &query.Header{
		Version:    wh.Version,
		PrevHash:   wh.PrevBlock,
		MerkleRoot: wh.MerkleRoot,
		Timestamp:  uint32(wh.Timestamp.Unix()),
		Bits:       wh.Bits,
		Nonce:      wh.Nonce,
	}
}
