package session

import (
	"errors"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/libbitcoin/libbitcoin-node-sub001/chaser"
	"github.com/libbitcoin/libbitcoin-node-sub001/chase"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/eventbus"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/query"
)

// errStalled is the channel-close reason used when the check chaser's
// outlier policing judges this peer stalled (spec.md §4.3 "a peer with
// speed == 0 is stalled (disconnect)").
var errStalled = errors.New("session: channel closed, peer stalled")

// errMerkleMismatch is returned when a delivered block's transactions do not
// hash to its own header's committed merkle root (spec.md §4.7 "verifies
// its identity"; this is the failure the organize engine's Unchecked
// disorganize tag exists for, distinct from the validate/confirm chasers'
// script and context failures).
var errMerkleMismatch = errors.New("session: block merkle root mismatch")

// CheckMapProvider is the subset of CheckChaser a block-in protocol needs:
// request a download map, and return it unfinished on failure (spec.md
// §4.3 get_map/put_map).
type CheckMapProvider interface {
	GetMap(peer chaser.PeerID) (*chaser.Map, error)
	PutMap(peer chaser.PeerID, m *chaser.Map)
	Disconnect(peer chaser.PeerID)
}

// BlockOrganize is the subset of BlockOrganizer a protocol handler needs.
type BlockOrganize interface {
	Organize(b *query.Block) (chaser.Result, error)
}

// BlockOrganizerNode exposes the full-node's BlockOrganizer to protocol
// handlers, mirroring HeaderOrganizerNode.
type BlockOrganizerNode interface {
	BlockOrganizer() BlockOrganize
}

// BlockInProtocol requests a download map from the check chaser, issues
// getdata, and for each arriving block verifies identity, archives the
// body, and publishes checked(height) (spec.md §4.7).
type BlockInProtocol struct {
	channel     Channel
	node        Node
	check       CheckMapProvider
	organize    BlockOrganize
	fingerprint *AnnouncementCache

	key eventbus.Key

	mu      sync.Mutex
	current *chaser.Map
}

// NewBlockInProtocol constructs a BlockInProtocol bound to check, the
// chaser supplying download maps, and this channel's own fingerprint cache
// (spec.md §3 "Fingerprint"): every block this peer delivers is recorded
// into it, so the sibling BlockOutProtocol on the same channel never
// echoes it back (spec.md §8 property 6).
func NewBlockInProtocol(channel Channel, node Node, check CheckMapProvider, fingerprint *AnnouncementCache) *BlockInProtocol {
	p := &BlockInProtocol{channel: channel, node: node, check: check, fingerprint: fingerprint}
	if provider, ok := node.(BlockOrganizerNode); ok {
		p.organize = provider.BlockOrganizer()
	}
	return p
}

// Start issues the protocol's first map request and subscribes to the
// per-peer control events of spec.md §4.3: split (halve the current map,
// this peer is the designated slow one), purge (candidate chain
// regressed, drop the map entirely), and stall (the check chaser judged
// this peer stalled; drop the map and close the channel).
func (p *BlockInProtocol) Start() error {
	p.key = p.node.Bus().Subscribe(func(ev chase.Event) eventbus.Disposition {
		peer, ok := chase.PeerValue(ev.Value)
		if !ok || peer != p.channel.PeerID() {
			return eventbus.Continue
		}
		switch ev.Tag {
		case chase.Split:
			p.onSplit()
		case chase.Purge:
			p.onPurge()
		case chase.Stall:
			p.onPurge()
			p.channel.Close(errStalled)
		}
		return eventbus.Continue
	}, chase.Split, chase.Purge, chase.Stall)

	return p.requestMap()
}

// Stop returns any outstanding map and clears this peer's throughput
// record (spec.md §4.3 "stored in a map cleared on disconnect").
func (p *BlockInProtocol) Stop() {
	p.node.Bus().Unsubscribe(p.key)

	p.mu.Lock()
	current := p.current
	p.current = nil
	p.mu.Unlock()

	if p.check != nil {
		if current != nil {
			p.check.PutMap(p.channel.PeerID(), current)
		}
		p.check.Disconnect(p.channel.PeerID())
	}
}

// requestMap asks the check chaser for work and, if any was granted, issues
// getdata for every hash in the map. If no map is available at all
// (neither pending nor fresh), this peer is starved (spec.md §4.3
// "Starvation protocol") and the outbound session is given a chance to
// rebalance work from the slowest peer still holding any.
func (p *BlockInProtocol) requestMap() error {
	if p.check == nil {
		return nil
	}
	m, err := p.check.GetMap(p.channel.PeerID())
	if err != nil {
		p.node.Bus().Publish(chase.Event{Tag: chase.Starved, Value: p.channel.PeerID()})
		return nil
	}
	if m.Empty() {
		return nil
	}

	p.mu.Lock()
	p.current = m
	p.mu.Unlock()

	getdata := wire.NewMsgGetData()
	for _, hash := range m.Hashes {
		h := hash
		iv := wire.NewInvVect(wire.InvTypeBlock, &h)
		if err := getdata.AddInvVect(iv); err != nil {
			break
		}
	}
	return p.channel.Send(getdata)
}

// onSplit implements the slow peer's half of spec.md §4.3's starvation
// protocol: halve the current map and release the second half back to the
// check chaser's pending deque.
func (p *BlockInProtocol) onSplit() {
	p.mu.Lock()
	var half *chaser.Map
	if !p.current.Empty() {
		half = chaser.Split(p.current)
	}
	p.mu.Unlock()

	if p.check != nil && !half.Empty() {
		p.check.PutMap(p.channel.PeerID(), half)
	}
}

// onPurge drops this peer's outstanding map entirely without returning it
// (the check chaser already discarded its own bookkeeping for every
// outstanding peer in doRegressed, spec.md §4.3 "Purge").
func (p *BlockInProtocol) onPurge() {
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()
}

// OnBlock handles one inbound `block` message: verify identity, archive,
// and publish checked(height); on failure the unfetched remainder of the
// current map is returned to the check chaser (spec.md §4.7).
func (p *BlockInProtocol) OnBlock(msg *wire.MsgBlock) error {
	block := fromWireBlock(msg)
	if p.fingerprint != nil {
		p.fingerprint.Seen(block.Identity())
	}

	if !merkleRootMatches(block) {
		p.reclaimMap()
		if link, ok := p.node.Query().ToHeader(block.Identity()); ok {
			p.node.Bus().Publish(chase.Event{Tag: chase.Unchecked, Value: uint64(link)})
		}
		return errMerkleMismatch
	}

	if p.organize == nil {
		return nil
	}
	result, err := p.organize.Organize(block)
	if err != nil && result != chaser.ResultDuplicate {
		p.reclaimMap()
		return err
	}

	if height, ok := p.blockHeight(block); ok {
		p.node.Bus().Publish(chase.Event{Tag: chase.Checked, Value: height})
	}
	return p.requestMap()
}

// reclaimMap returns any outstanding map to the check chaser on a delivery
// failure, clearing this protocol's own reference to it.
func (p *BlockInProtocol) reclaimMap() {
	p.mu.Lock()
	current := p.current
	p.current = nil
	p.mu.Unlock()
	if current != nil && p.check != nil {
		p.check.PutMap(p.channel.PeerID(), current)
	}
}

// merkleRootMatches recomputes the Bitcoin merkle root over b's transaction
// ids and compares it to the header's committed root (spec.md §4.7
// "verifies its identity").
func merkleRootMatches(b *query.Block) bool {
	if len(b.Transactions) == 0 {
		return false
	}
	ids := make([]chainhash.Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		ids[i] = tx.ID
	}
	return merkleRoot(ids) == b.Header.MerkleRoot
}

// merkleRoot computes the standard Bitcoin merkle root: pairwise
// double-SHA256, duplicating the final hash of an odd-length level, until a
// single root remains.
func merkleRoot(ids []chainhash.Hash) chainhash.Hash {
	level := ids
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]chainhash.Hash, len(level)/2)
		for i := range next {
			var buf [chainhash.HashSize * 2]byte
			copy(buf[:chainhash.HashSize], level[2*i][:])
			copy(buf[chainhash.HashSize:], level[2*i+1][:])
			next[i] = chainhash.DoubleHashH(buf[:])
		}
		level = next
	}
	return level[0]
}

// blockHeight resolves the candidate-chain height just archived for b, via
// the Query facade's hash index (spec.md §4.7 "archives the body, publishes
// checked(height)").
func (p *BlockInProtocol) blockHeight(b *query.Block) (uint32, bool) {
	link, ok := p.node.Query().ToHeader(b.Identity())
	if !ok {
		return 0, false
	}
	ctx, ok := p.node.Query().GetContext(link)
	if !ok {
		return 0, false
	}
	return ctx.Height, true
}

func fromWireBlock(msg *wire.MsgBlock) *query.Block {
	b := &query.Block{
		Header: *fromWireHeader(&msg.Header),
	}
	for _, tx := range msg.Transactions {
		b.Transactions = append(b.Transactions, query.Transaction{
			ID: tx.TxHash(),
		})
	}
	return b
}
