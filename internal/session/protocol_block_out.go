package session

import (
	"github.com/btcsuite/btcd/wire"

	"github.com/libbitcoin/libbitcoin-node-sub001/chase"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/eventbus"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/query"
)

// BlockOutProtocol serves getdata requests for blocks already archived
// (spec.md §6 wire protocols "getdata/block"), and announces new candidate
// blocks to pre-bip130 peers via inv.
type BlockOutProtocol struct {
	channel     Channel
	node        Node
	fingerprint *AnnouncementCache
	key         eventbus.Key
}

// NewBlockOutProtocol constructs a BlockOutProtocol bound to this channel's
// own fingerprint cache (spec.md §8 property 6 "no echo").
func NewBlockOutProtocol(channel Channel, node Node, fingerprint *AnnouncementCache) *BlockOutProtocol {
	return &BlockOutProtocol{channel: channel, node: node, fingerprint: fingerprint}
}

func (p *BlockOutProtocol) Start() error {
	p.key = p.node.Bus().Subscribe(func(ev chase.Event) eventbus.Disposition {
		if ev.Tag != chase.Blocks {
			return eventbus.Continue
		}
		if branchPoint, ok := chase.HeightValue(ev.Value); ok {
			p.announce(query.Height(branchPoint))
		}
		return eventbus.Continue
	}, chase.Blocks)
	return nil
}

func (p *BlockOutProtocol) Stop() {
	p.node.Bus().Unsubscribe(p.key)
}

// announce relays every candidate-chain block above branchPoint to the
// peer via inv, skipping any hash already in this channel's fingerprint
// (spec.md §4.1 "blocks" event payload is the branch point; §8 property 6).
func (p *BlockOutProtocol) announce(branchPoint query.Height) {
	if p.channel.Version() >= VersionHeadersFirst {
		return // bip130 peers are announced to by HeaderOutProtocol
	}
	_, top := p.node.Query().TopCandidate()
	inv := wire.NewMsgInv()
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
		if err := inv.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &hash)); err != nil {
			break
		}
	}
	if len(inv.InvList) == 0 {
		return
	}
	_ = p.channel.Send(inv)
}

// OnGetData serves a getdata request for block inventory: fetch the body
// and reply with a wire.MsgBlock, or nothing if not archived (the peer may
// retry against another node).
func (p *BlockOutProtocol) OnGetData(msg *wire.MsgGetData) error {
	for _, inv := range msg.InvList {
		if inv.Type != wire.InvTypeBlock && inv.Type != wire.InvTypeWitnessBlock {
			continue
		}
		link, ok := p.node.Query().ToHeader(inv.Hash)
		if !ok {
			continue
		}
		block, ok := p.node.Query().GetBlock(link, inv.Type == wire.InvTypeWitnessBlock)
		if !ok {
			continue
		}
		if err := p.channel.Send(toWireBlock(block)); err != nil {
			return err
		}
	}
	return nil
}

func toWireBlock(b *query.Block) *wire.MsgBlock {
	return wire.NewMsgBlock(toWireHeader(&b.Header))
}
