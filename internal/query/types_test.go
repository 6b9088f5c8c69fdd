package query

import "testing"

func TestHeaderStateCanAdvanceTo(t *testing.T) {
	if !Unassociated.CanAdvanceTo(Associated) {
		t.Error("Unassociated -> Associated should be allowed")
	}
	if Unassociated.CanAdvanceTo(Checked) {
		t.Error("Unassociated -> Checked (skipping a step) should not be allowed")
	}
	if !Valid.CanAdvanceTo(Unconfirmable) {
		t.Error("any non-terminal state -> Unconfirmable should be allowed")
	}
	if Unconfirmable.CanAdvanceTo(Unconfirmable) {
		t.Error("Unconfirmable is terminal and should not re-advance")
	}
}

func TestHeaderStateString(t *testing.T) {
	if got := Confirmed.String(); got != "confirmed" {
		t.Errorf("Confirmed.String() = %q, want %q", got, "confirmed")
	}
	if got := HeaderState(200).String(); got != "unknown" {
		t.Errorf("HeaderState(200).String() = %q, want %q", got, "unknown")
	}
}

func TestHeaderHashIsDeterministic(t *testing.T) {
	h := &Header{Version: 1, Timestamp: 100, Bits: 0x1d00ffff, Nonce: 7}
	a := h.Hash()
	b := h.Hash()
	if a != b {
		t.Fatal("Hash() is not deterministic across calls")
	}

	other := &Header{Version: 1, Timestamp: 100, Bits: 0x1d00ffff, Nonce: 8}
	if a == other.Hash() {
		t.Fatal("distinct headers produced the same hash")
	}
}

func TestHeaderEqual(t *testing.T) {
	a := &Header{Version: 1, Timestamp: 100, Bits: 0x1d00ffff, Nonce: 7}
	b := &Header{Version: 1, Timestamp: 100, Bits: 0x1d00ffff, Nonce: 7}
	c := &Header{Version: 1, Timestamp: 100, Bits: 0x1d00ffff, Nonce: 8}

	if !a.Equal(b) {
		t.Error("identical headers compared unequal")
	}
	if a.Equal(c) {
		t.Error("distinct headers compared equal")
	}
}

func TestWorkIncreasesAsBitsTighten(t *testing.T) {
	easy := Work(0x1d00ffff)
	hard := Work(0x1c00ffff) // smaller exponent -> smaller target -> more work

	if easy.Cmp(hard) >= 0 {
		t.Fatalf("Work(easy bits) = %s should be less than Work(hard bits) = %s", easy, hard)
	}
}

func TestWorkZeroBitsYieldsZero(t *testing.T) {
	w := Work(0)
	if !w.IsZero() {
		t.Fatalf("Work(0) = %s, want 0", w)
	}
}

func TestBlockArenaOwnerRetention(t *testing.T) {
	b := &Block{Header: Header{Nonce: 1}}
	if b.ArenaOwner() != nil {
		t.Fatal("fresh Block should have no arena owner")
	}

	type handle struct{ released bool }
	h := &handle{}
	b.WithArena(h)

	if owner, ok := b.ArenaOwner().(*handle); !ok || owner != h {
		t.Fatal("WithArena did not retain the owner handle")
	}
}

func TestBlockIdentityMatchesHeaderHash(t *testing.T) {
	h := Header{Version: 2, Timestamp: 5, Bits: 0x1d00ffff, Nonce: 3}
	b := &Block{Header: h}
	if b.Identity() != h.Hash() {
		t.Fatal("Block.Identity() does not match Header.Hash()")
	}
}
