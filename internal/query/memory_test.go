package query

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func sampleHeader(nonce uint32) *Header {
	return &Header{Version: 1, Timestamp: 1000, Bits: 0x1d00ffff, Nonce: nonce}
}

func TestSetHeaderIsIdempotent(t *testing.T) {
	m := NewMemory()
	h := sampleHeader(1)
	ctx := &Context{Height: 1, WorkRequired: Work(h.Bits)}

	link1, err := m.SetHeader(h, ctx)
	if err != nil {
		t.Fatalf("SetHeader: %v", err)
	}
	link2, err := m.SetHeader(h, ctx)
	if err != nil {
		t.Fatalf("SetHeader (re-archive): %v", err)
	}
	if link1 != link2 {
		t.Fatalf("re-archiving the same header returned a different link: %d != %d", link1, link2)
	}
}

func TestGetHeaderRoundTrip(t *testing.T) {
	m := NewMemory()
	h := sampleHeader(2)
	ctx := &Context{Height: 1, WorkRequired: Work(h.Bits)}

	link, err := m.SetHeader(h, ctx)
	if err != nil {
		t.Fatalf("SetHeader: %v", err)
	}

	got, ok := m.GetHeader(link)
	if !ok {
		t.Fatal("GetHeader: not found")
	}
	if got.Nonce != h.Nonce {
		t.Fatalf("GetHeader returned nonce %d, want %d", got.Nonce, h.Nonce)
	}

	state, ok := m.GetState(link)
	if !ok || state != Unassociated {
		t.Fatalf("GetState = (%v, %v), want (Unassociated, true)", state, ok)
	}
}

func TestSetBlockAdvancesToAssociated(t *testing.T) {
	m := NewMemory()
	h := sampleHeader(3)
	ctx := &Context{Height: 1, WorkRequired: Work(h.Bits)}
	link, _ := m.SetHeader(h, ctx)

	b := &Block{Header: *h, Transactions: []Transaction{{ID: chainhash.Hash{1}}}}
	blockLink, err := m.SetBlock(b)
	if err != nil {
		t.Fatalf("SetBlock: %v", err)
	}
	if blockLink != link {
		t.Fatalf("SetBlock returned link %d, want %d (same header)", blockLink, link)
	}

	state, ok := m.GetState(link)
	if !ok || state != Associated {
		t.Fatalf("GetState after SetBlock = (%v, %v), want (Associated, true)", state, ok)
	}
}

func TestCandidateChainPushPop(t *testing.T) {
	m := NewMemory()
	h := sampleHeader(4)
	ctx := &Context{Height: 0, WorkRequired: Work(h.Bits)}
	link, _ := m.SetHeader(h, ctx)

	if err := m.PushCandidate(link); err != nil {
		t.Fatalf("PushCandidate: %v", err)
	}
	top, height := m.TopCandidate()
	if top != link || height != 0 {
		t.Fatalf("TopCandidate = (%d, %d), want (%d, 0)", top, height, link)
	}

	popped, err := m.PopCandidate()
	if err != nil {
		t.Fatalf("PopCandidate: %v", err)
	}
	if popped != link {
		t.Fatalf("PopCandidate = %d, want %d", popped, link)
	}

	if _, err := m.PopCandidate(); err != ErrNotFound {
		t.Fatalf("PopCandidate on empty chain = %v, want ErrNotFound", err)
	}
}

func TestSetTransactionIsIdempotentByTxID(t *testing.T) {
	m := NewMemory()
	tx := &Transaction{ID: chainhash.Hash{9}, Fee: 100}

	link1, err := m.SetTransaction(tx)
	if err != nil {
		t.Fatalf("SetTransaction: %v", err)
	}
	link2, err := m.SetTransaction(&Transaction{ID: chainhash.Hash{9}, Fee: 200})
	if err != nil {
		t.Fatalf("SetTransaction (re-admit): %v", err)
	}
	if link1 != link2 {
		t.Fatalf("re-admitting the same txid returned a different link: %d != %d", link1, link2)
	}

	got, ok := m.GetTransaction(link1)
	if !ok {
		t.Fatal("GetTransaction: not found")
	}
	if got.Fee != 100 {
		t.Fatalf("GetTransaction returned fee %d, want the first-admitted value 100", got.Fee)
	}
}

func TestFaultedStoreRejectsWrites(t *testing.T) {
	m := NewMemory()
	m.Fault()

	if !m.IsFault() {
		t.Fatal("IsFault() = false after Fault()")
	}
	if _, err := m.SetHeader(sampleHeader(5), &Context{}); err != ErrFault {
		t.Fatalf("SetHeader on faulted store = %v, want ErrFault", err)
	}
}

func TestReloadClearsFault(t *testing.T) {
	m := NewMemory()
	m.Fault()
	if err := m.Reload(nil); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if m.IsFault() {
		t.Fatal("IsFault() = true after Reload")
	}
}

func TestTopAssociatedFrom(t *testing.T) {
	m := NewMemory()
	var links []HeaderLink
	for i := uint32(0); i < 3; i++ {
		h := sampleHeader(10 + i)
		link, _ := m.SetHeader(h, &Context{Height: i})
		if i < 2 {
			m.SetBlock(&Block{Header: *h})
		}
		if err := m.PushCandidate(link); err != nil {
			t.Fatalf("PushCandidate: %v", err)
		}
		links = append(links, link)
	}

	top := m.TopAssociatedFrom(0)
	if top != 1 {
		t.Fatalf("TopAssociatedFrom(0) = %d, want 1 (height 2 has no body)", top)
	}
}
