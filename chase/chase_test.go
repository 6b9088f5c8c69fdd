package chase

import "testing"

func TestTagStringKnown(t *testing.T) {
	if got := Start.String(); got != "start" {
		t.Errorf("Start.String() = %q, want %q", got, "start")
	}
	if got := Reorganized.String(); got != "reorganized" {
		t.Errorf("Reorganized.String() = %q, want %q", got, "reorganized")
	}
}

func TestTagStringUnknown(t *testing.T) {
	unknown := Tag(255)
	if got := unknown.String(); got != "chase(255)" {
		t.Errorf("Tag(255).String() = %q, want %q", got, "chase(255)")
	}
}

func TestHeightValue(t *testing.T) {
	if h, ok := HeightValue(uint32(12)); !ok || h != 12 {
		t.Fatalf("HeightValue(uint32(12)) = (%d, %v), want (12, true)", h, ok)
	}
	if _, ok := HeightValue("not a height"); ok {
		t.Fatal("HeightValue accepted a non-uint32 payload")
	}
}

func TestPeerValue(t *testing.T) {
	if p, ok := PeerValue(uint64(99)); !ok || p != 99 {
		t.Fatalf("PeerValue(uint64(99)) = (%d, %v), want (99, true)", p, ok)
	}
	if _, ok := PeerValue(nil); ok {
		t.Fatal("PeerValue accepted a nil payload")
	}
}

func TestLinkValue(t *testing.T) {
	if l, ok := LinkValue(uint64(7)); !ok || l != 7 {
		t.Fatalf("LinkValue(uint64(7)) = (%d, %v), want (7, true)", l, ok)
	}
}
