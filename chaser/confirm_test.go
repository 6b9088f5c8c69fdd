package chaser

import (
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/libbitcoin/libbitcoin-node-sub001/chase"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/eventbus"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/query"
)

func newTestConfirmChaser() (*ConfirmChaser, *fakeNode, *query.Memory) {
	mem := query.NewMemory()
	node := newFakeNodeWithStore(mem)
	return NewConfirmChaser(node), node, mem
}

// archiveAt pushes h onto the candidate chain at height with the given
// work and state, returning its link.
func archiveAt(t *testing.T, mem *query.Memory, h *query.Header, height query.Height, work *uint256.Int, state query.HeaderState) query.HeaderLink {
	t.Helper()
	ctx := &query.Context{Height: height, WorkRequired: work}
	link, err := mem.SetHeader(h, ctx)
	if err != nil {
		t.Fatalf("SetHeader: %v", err)
	}
	if err := mem.PushCandidate(link); err != nil {
		t.Fatalf("PushCandidate: %v", err)
	}
	if err := mem.SetState(link, state); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	return link
}

func subscribeLinks(node *fakeNode, tag chase.Tag) <-chan uint64 {
	ch := make(chan uint64, 8)
	node.Bus().Subscribe(func(ev chase.Event) eventbus.Disposition {
		if ev.Tag == tag {
			if l, ok := chase.LinkValue(ev.Value); ok {
				ch <- l
			}
		}
		return eventbus.Continue
	}, tag)
	return ch
}

func awaitLink(t *testing.T, ch <-chan uint64, want query.HeaderLink) {
	t.Helper()
	select {
	case got := <-ch:
		if query.HeaderLink(got) != want {
			t.Fatalf("got link %d, want %d", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

// TestConfirmDoValidExtendsEmptyConfirmedChain covers spec.md §4.5's basic
// extension path: a Valid candidate height with no confirmed chain yet must
// be confirmed and appended, publishing confirmable then organized.
func TestConfirmDoValidExtendsEmptyConfirmedChain(t *testing.T) {
	cc, node, mem := newTestConfirmChaser()

	genesis := &query.Header{Version: 1, Bits: 0x1d00ffff, Timestamp: 1}
	linkGenesis := archiveAt(t, mem, genesis, 0, uint256.NewInt(1), query.Valid)
	if err := mem.PushConfirmed(linkGenesis); err != nil {
		t.Fatalf("PushConfirmed(genesis): %v", err)
	}

	child := &query.Header{Version: 1, Bits: 0x1d00ffff, Timestamp: 2, PrevHash: genesis.Hash()}
	link1 := archiveAt(t, mem, child, 1, uint256.NewInt(100), query.Valid)

	confirmable := subscribeLinks(node, chase.Confirmable)
	organized := subscribeLinks(node, chase.Organized)

	cc.doValid(1)

	awaitLink(t, confirmable, link1)
	awaitLink(t, organized, link1)

	state, ok := mem.GetState(link1)
	if !ok || state != query.Confirmable {
		t.Fatalf("GetState(link1) = (%v, %v), want (Confirmable, true)", state, ok)
	}
	top, height := mem.TopConfirmed()
	if top != link1 || height != 1 {
		t.Fatalf("TopConfirmed() = (%d, %d), want (%d, 1)", top, height, link1)
	}
}

// TestConfirmDoValidNoopWhenForkWorkDoesNotExceed covers step 2 of spec.md
// §4.5: once the confirmed chain already matches the candidate chain at the
// height in question, revisiting it must not re-publish organized/
// confirmable or mutate the confirmed chain again.
func TestConfirmDoValidNoopWhenForkWorkDoesNotExceed(t *testing.T) {
	cc, node, mem := newTestConfirmChaser()

	genesis := &query.Header{Version: 1, Bits: 0x1d00ffff, Timestamp: 1}
	linkGenesis := archiveAt(t, mem, genesis, 0, uint256.NewInt(1), query.Valid)
	if err := mem.PushConfirmed(linkGenesis); err != nil {
		t.Fatalf("PushConfirmed(genesis): %v", err)
	}

	child := &query.Header{Version: 1, Bits: 0x1d00ffff, Timestamp: 2, PrevHash: genesis.Hash()}
	link1 := archiveAt(t, mem, child, 1, uint256.NewInt(100), query.Valid)

	cc.doValid(1) // first pass: confirms link1

	organized := subscribeLinks(node, chase.Organized)

	cc.doValid(1) // second pass: branch point == confirmed top, no new work

	select {
	case l := <-organized:
		t.Fatalf("unexpected chase.Organized(%d) on a no-op revalidation", l)
	case <-time.After(100 * time.Millisecond):
	}
	_, height := mem.TopConfirmed()
	if height != 1 {
		t.Fatalf("TopConfirmed height = %d, want 1 (unchanged)", height)
	}
}

// TestConfirmDoValidReorganizesToStrongerFork covers spec.md §4.5 step 3's
// pop-then-push sequence and §8 property 4 (reorg equivalence): a
// previously confirmed height-1 block on branch A is popped (reorganized)
// when the organize engine has already replaced the candidate chain's
// height-1 entry with a higher-work branch B block.
func TestConfirmDoValidReorganizesToStrongerFork(t *testing.T) {
	cc, node, mem := newTestConfirmChaser()

	genesis := &query.Header{Version: 1, Bits: 0x1d00ffff, Timestamp: 1}
	linkGenesis := archiveAt(t, mem, genesis, 0, uint256.NewInt(1), query.Valid)
	if err := mem.PushConfirmed(linkGenesis); err != nil {
		t.Fatalf("PushConfirmed(genesis): %v", err)
	}

	branchA := &query.Header{Version: 1, Bits: 0x1d00ffff, Timestamp: 2, PrevHash: genesis.Hash()}
	linkA1 := archiveAt(t, mem, branchA, 1, uint256.NewInt(100), query.Confirmable)
	if err := mem.PushConfirmed(linkA1); err != nil {
		t.Fatalf("PushConfirmed(branchA height1): %v", err)
	}

	// The organize engine has already replaced the candidate chain's height
	// 1 entry with a stronger branch B header (chaser/organize.go's job,
	// exercised separately in organize_test.go); simulate its result here.
	if _, err := mem.PopCandidate(); err != nil {
		t.Fatalf("PopCandidate: %v", err)
	}
	branchB := &query.Header{Version: 1, Bits: 0x1d00ffff, Timestamp: 3, PrevHash: genesis.Hash(), Nonce: 1}
	linkB1 := archiveAt(t, mem, branchB, 1, uint256.NewInt(200), query.Valid)

	reorganized := subscribeLinks(node, chase.Reorganized)
	confirmable := subscribeLinks(node, chase.Confirmable)
	organized := subscribeLinks(node, chase.Organized)

	cc.doValid(1)

	awaitLink(t, reorganized, linkA1)
	awaitLink(t, confirmable, linkB1)
	awaitLink(t, organized, linkB1)

	top, height := mem.TopConfirmed()
	if top != linkB1 || height != 1 {
		t.Fatalf("TopConfirmed() = (%d, %d), want (%d, 1)", top, height, linkB1)
	}
}

func TestConfirmDoRegressedOnlyMovesPositionBackward(t *testing.T) {
	cc, _, _ := newTestConfirmChaser()
	cc.SetPosition(10)

	cc.doRegressed(4)
	if cc.Position() != 4 {
		t.Fatalf("Position() = %d, want 4", cc.Position())
	}

	cc.doRegressed(8) // must not move position forward
	if cc.Position() != 4 {
		t.Fatalf("Position() = %d, want 4 (regress must not advance)", cc.Position())
	}
}
