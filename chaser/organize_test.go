package chaser

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/libbitcoin/libbitcoin-node-sub001/chase"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/query"
)

func newTestHeaderOrganizer() (*HeaderOrganizer, *fakeNode) {
	node := newFakeNode()
	return NewHeaderOrganizer(node, nil, 0, query.HeaderHash{}, false), node
}

func TestHeaderOrganizeGenesisThenChild(t *testing.T) {
	org, _ := newTestHeaderOrganizer()

	genesis := &query.Header{Version: 1, Bits: 0x1d00ffff, Timestamp: 1}
	result, err := org.Organize(genesis)
	if err != nil || result != ResultOrganized {
		t.Fatalf("Organize(genesis) = (%v, %v), want (ResultOrganized, nil)", result, err)
	}

	child := &query.Header{Version: 1, Bits: 0x1d00ffff, Timestamp: 2, PrevHash: genesis.Hash()}
	result, err = org.Organize(child)
	if err != nil || result != ResultOrganized {
		t.Fatalf("Organize(child) = (%v, %v), want (ResultOrganized, nil)", result, err)
	}

	if org.TreeLen() != 0 {
		t.Fatalf("TreeLen() = %d, want 0 (both headers committed)", org.TreeLen())
	}
}

func TestHeaderOrganizeDuplicate(t *testing.T) {
	org, _ := newTestHeaderOrganizer()

	genesis := &query.Header{Version: 1, Bits: 0x1d00ffff, Timestamp: 1}
	if _, err := org.Organize(genesis); err != nil {
		t.Fatalf("Organize(genesis): %v", err)
	}

	result, err := org.Organize(genesis)
	if result != ResultDuplicate || !errors.Is(err, ErrDuplicateHeader) {
		t.Fatalf("Organize(genesis again) = (%v, %v), want (ResultDuplicate, ErrDuplicateHeader)", result, err)
	}
}

func TestHeaderOrganizeOrphan(t *testing.T) {
	org, _ := newTestHeaderOrganizer()

	var unknownParent query.HeaderHash
	unknownParent[0] = 0xff
	orphan := &query.Header{Version: 1, Bits: 0x1d00ffff, Timestamp: 1, PrevHash: unknownParent}

	result, err := org.Organize(orphan)
	if result != ResultOrphan || !errors.Is(err, ErrOrphanHeader) {
		t.Fatalf("Organize(orphan) = (%v, %v), want (ResultOrphan, ErrOrphanHeader)", result, err)
	}
}

func TestHeaderOrganizeZeroWorkIsInvalid(t *testing.T) {
	org, _ := newTestHeaderOrganizer()

	bad := &query.Header{Version: 1, Bits: 0, Timestamp: 1}
	result, err := org.Organize(bad)
	if result != ResultInvalid || err == nil {
		t.Fatalf("Organize(zero-work header) = (%v, %v), want (ResultInvalid, non-nil)", result, err)
	}
}

func newTestBlockOrganizer() (*BlockOrganizer, *fakeNode) {
	node := newFakeNode()
	return NewBlockOrganizer(node, nil, 0, query.HeaderHash{}, false), node
}

func TestBlockOrganizeAcceptsNonEmptyBlock(t *testing.T) {
	org, _ := newTestBlockOrganizer()

	genesis := &query.Block{
		Header:       query.Header{Version: 1, Bits: 0x1d00ffff, Timestamp: 1},
		Transactions: []query.Transaction{{ID: chainhash.Hash{1}}},
	}
	result, err := org.Organize(genesis)
	if err != nil || result != ResultOrganized {
		t.Fatalf("Organize(genesis block) = (%v, %v), want (ResultOrganized, nil)", result, err)
	}
}

func TestBlockOrganizeRejectsEmptyBlock(t *testing.T) {
	org, _ := newTestBlockOrganizer()

	empty := &query.Block{Header: query.Header{Version: 1, Bits: 0x1d00ffff, Timestamp: 1}}
	result, err := org.Organize(empty)
	if result != ResultInvalid || !errors.Is(err, chase.ErrInvalidBlock) {
		t.Fatalf("Organize(empty block) = (%v, %v), want (ResultInvalid, ErrInvalidBlock)", result, err)
	}
}

func TestBlockOrganizeDisorganizeTagsDifferFromHeader(t *testing.T) {
	hOrg, _ := newTestHeaderOrganizer()
	bOrg, _ := newTestBlockOrganizer()

	if tags := hOrg.Engine.strategy.DisorganizeTags(); tags != nil {
		t.Fatalf("HeaderOrganizer.DisorganizeTags() = %v, want nil", tags)
	}
	if tags := bOrg.Engine.strategy.DisorganizeTags(); len(tags) != 3 {
		t.Fatalf("BlockOrganizer.DisorganizeTags() = %v, want 3 entries", tags)
	}
}
