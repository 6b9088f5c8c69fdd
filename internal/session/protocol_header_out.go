package session

import (
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/libbitcoin/libbitcoin-node-sub001/chase"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/eventbus"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/query"
)

// HeaderOutProtocol announces new candidate-chain headers to the peer
// (spec.md §4.7 step 3). When headerFirst is true (negotiated >= bip130) it
// sends an initial `sendheaders` so the peer switches to unsolicited
// `headers` announcement instead of `inv`.
type HeaderOutProtocol struct {
	channel     Channel
	node        Node
	headerFirst bool
	fingerprint *AnnouncementCache
	key         eventbus.Key
}

// NewHeaderOutProtocol constructs a HeaderOutProtocol bound to this
// channel's own fingerprint cache, consulted before relaying an
// announcement back to the peer that sent it to us (spec.md §8 property 6
// "no echo").
func NewHeaderOutProtocol(channel Channel, node Node, headerFirst bool, fingerprint *AnnouncementCache) *HeaderOutProtocol {
	return &HeaderOutProtocol{channel: channel, node: node, headerFirst: headerFirst, fingerprint: fingerprint}
}

func (p *HeaderOutProtocol) Start() error {
	if p.headerFirst {
		if err := p.channel.Send(wire.NewMsgSendHeaders()); err != nil {
			return err
		}
	}

	p.key = p.node.Bus().Subscribe(func(ev chase.Event) eventbus.Disposition {
		if ev.Tag == chase.Headers {
			if branchPoint, ok := chase.HeightValue(ev.Value); ok {
				p.announce(query.Height(branchPoint))
			}
		}
		return eventbus.Continue
	}, chase.Headers)
	return nil
}

func (p *HeaderOutProtocol) Stop() {
	p.node.Bus().Unsubscribe(p.key)
}

// announce relays every candidate-chain header above branchPoint to the
// peer, skipping any hash already in this channel's fingerprint (the peer
// itself announced it to us, so echoing it back is redundant — spec.md §8
// property 6).
func (p *HeaderOutProtocol) announce(branchPoint query.Height) {
	_, top := p.node.Query().TopCandidate()
	msg := wire.NewMsgHeaders()
	for h := branchPoint + 1; h <= top; h++ {
		link, ok := p.node.Query().ToCandidate(h)
		if !ok {
			break
		}
		header, ok := p.node.Query().GetHeader(link)
		if !ok {
			continue
		}
		hash := header.Hash()
		if p.fingerprint != nil && p.fingerprint.Has(hash) {
			continue
		}
		if err := msg.AddBlockHeader(toWireHeader(header)); err != nil {
			break
		}
	}
	if len(msg.Headers) == 0 {
		return
	}
	_ = p.channel.Send(msg)
}

// toWireHeader adapts this module's query.Header record into a btcd
// wire.BlockHeader, the inverse of fromWireHeader. Timestamp must round-trip
// exactly: query.Header.Hash() folds it into the header's identity, so a
// zero-value Timestamp here would serialize a header whose wire hash no
// longer matches the one this node archived it under.
func toWireHeader(h *query.Header) *wire.BlockHeader {
	return &wire.BlockHeader{
		Version:    h.Version,
		PrevBlock:  h.PrevHash,
		MerkleRoot: h.MerkleRoot,
		Timestamp:  time.Unix(int64(h.Timestamp), 0),
		Bits:       h.Bits,
		Nonce:      h.Nonce,
	}
}
