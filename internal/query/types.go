// Package query defines the data model the core operates on (spec.md §3)
// and the Query storage facade the core consumes (spec.md §6). The facade
// is an external collaborator in the real system (the archival database
// engine); this package additionally ships an in-memory reference
// implementation (memory.go) so the chasers are independently testable.
package query

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/holiman/uint256"
)

// HeaderHash is the 32-byte double-SHA256 identity of a header, keyed the
// same way Bitcoin headers are keyed on the wire. Reusing btcd's hash type
// (rather than a bespoke [32]byte wrapper) gives us its String/IsEqual/
// big-endian display conventions for free.
type HeaderHash = chainhash.Hash

// HeaderLink is the stable dense identifier assigned the first time a
// header is archived (spec.md §3 "HeaderLink"). It is the canonical key
// passed between chasers over the event bus; hashes never cross the bus.
type HeaderLink uint64

// NoLink is the zero value, reserved to mean "no such header".
const NoLink HeaderLink = 0

// Height is a candidate/confirmed chain ordinal.
type Height = uint32

// TxLink is the dense identifier of an archived transaction.
type TxLink uint64

// HeaderState is the per-header coordination state machine (spec.md §3).
// Transitions are monotonic other than the ConfirmChaser-only
// Confirmed -> Reorganized step.
type HeaderState uint8

const (
	Unassociated HeaderState = iota
	Associated
	Checked
	Valid
	Confirmable
	Confirmed
	Unconfirmable
	Reorganized
)

func (s HeaderState) String() string {
	switch s {
	case Unassociated:
		return "unassociated"
	case Associated:
		return "associated"
	case Checked:
		return "checked"
	case Valid:
		return "valid"
	case Confirmable:
		return "confirmable"
	case Confirmed:
		return "confirmed"
	case Unconfirmable:
		return "unconfirmable"
	case Reorganized:
		return "reorganized"
	default:
		return "unknown"
	}
}

// CanAdvanceTo reports whether the monotonic forward-progress invariant
// (spec.md §3 "Forward progress") allows s -> next. Confirmed -> Reorganized
// is excluded here. No Query write performs it either: ConfirmChaser pops
// the confirmed chain and publishes chase.Reorganized without changing
// the link's stored state.
func (s HeaderState) CanAdvanceTo(next HeaderState) bool {
	if next == Unconfirmable {
		// Any non-terminal state may be marked unconfirmable on failure.
		return s != Unconfirmable
	}
	return next == s+1 && s != Unconfirmable
}

// Header is a fixed-size record keyed by HeaderHash (spec.md §3).
type Header struct {
	Version    int32
	PrevHash   HeaderHash
	MerkleRoot HeaderHash
	Timestamp  uint32
	Bits       uint32
	Nonce      uint32
}

// Hash computes the header's double-SHA256 identity.
func (h *Header) Hash() HeaderHash {
	buf := make([]byte, 0, 80)
	var tmp [4]byte

	binary.LittleEndian.PutUint32(tmp[:], uint32(h.Version))
	buf = append(buf, tmp[:]...)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	binary.LittleEndian.PutUint32(tmp[:], h.Timestamp)
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint32(tmp[:], h.Bits)
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint32(tmp[:], h.Nonce)
	buf = append(buf, tmp[:]...)

	first := sha256.Sum256(buf)
	second := sha256.Sum256(first[:])
	var out HeaderHash
	copy(out[:], second[:])
	return out
}

// Context is the derived per-header state produced during validation
// (spec.md §3 "context").
type Context struct {
	Flags           uint32
	MedianTimePast  uint32
	Height          Height
	MinBlockVersion int32
	WorkRequired    *uint256.Int

	// filterBody caches the BIP157 compact filter body once computed by
	// the validate chaser (spec.md §4.4 step 3); nil until set.
	filterBody []byte
}

// Work converts compact "bits" difficulty encoding into the 256-bit amount
// of proof-of-work represented by a block at that difficulty, following
// the standard work = 2^256 / (target + 1) formula (the same arithmetic
// btcd's blockchain package uses; reimplemented here over holiman/uint256
// since that is the arbitrary-precision integer type this module already
// depends on for summing work across a branch, spec.md §4.2 step 5).
func Work(bits uint32) *uint256.Int {
	target := compactToTarget(bits)
	if target.IsZero() {
		return uint256.NewInt(0)
	}
	one := uint256.NewInt(1)
	denom := new(uint256.Int).Add(target, one)

	// 2^256 represented as (max uint256) + 1; compute via division identity
	// work = ((2^256 - 1) - target) / (target + 1) + 1, which avoids
	// overflow when constructing 2^256 directly in a 256-bit type.
	maxUint := new(uint256.Int).Not(uint256.NewInt(0)) // 2^256 - 1
	numerator := new(uint256.Int).Sub(maxUint, target)
	quotient := new(uint256.Int).Div(numerator, denom)
	return new(uint256.Int).Add(quotient, one)
}

// compactToTarget expands Bitcoin's compact ("nBits") difficulty encoding.
func compactToTarget(bits uint32) *uint256.Int {
	exponent := bits >> 24
	mantissa := bits & 0x007fffff
	target := uint256.NewInt(uint64(mantissa))
	if exponent <= 3 {
		return new(uint256.Int).Rsh(target, uint(8*(3-exponent)))
	}
	return new(uint256.Int).Lsh(target, uint(8*(exponent-3)))
}

// Transaction is a minimal stand-in for a parsed Bitcoin transaction; full
// script/witness structure is outside this module's scope (spec.md §1
// Non-goals: "script evaluation semantics").
type Transaction struct {
	ID  chainhash.Hash
	Raw []byte
	Fee uint64
}

// Block is a header plus its transactions. Per spec.md §3, a block's full
// object graph is constructed by the receiving channel inside one
// arena.Arena slab; Block itself carries an optional back-reference to the
// owning arena so that it (and any retained sub-object) stays valid for as
// long as a reference to the block root is held (spec.md §8 property 5).
type Block struct {
	Header       Header
	Transactions []Transaction

	// arenaOwner, if non-nil, must remain alive (not released) for the
	// lifetime of this Block and anything derived from it.
	arenaOwner any
}

// WithArena attaches the owning arena handle, keeping it reachable from the
// block root as required by the arena-safety invariant.
func (b *Block) WithArena(owner any) *Block {
	b.arenaOwner = owner
	return b
}

// ArenaOwner returns the retained arena handle, if any.
func (b *Block) ArenaOwner() any {
	return b.arenaOwner
}

// Identity returns the block's header hash.
func (b *Block) Identity() HeaderHash {
	return b.Header.Hash()
}

// Equal reports byte-identical headers; used by duplicate-submission tests.
func (h *Header) Equal(o *Header) bool {
	var a, b bytes.Buffer
	writeHeader(&a, h)
	writeHeader(&b, o)
	return bytes.Equal(a.Bytes(), b.Bytes())
}

func writeHeader(buf *bytes.Buffer, h *Header) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(h.Version))
	buf.Write(tmp[:])
	buf.Write(h.PrevHash[:])
	buf.Write(h.MerkleRoot[:])
	binary.LittleEndian.PutUint32(tmp[:], h.Timestamp)
	buf.Write(tmp[:])
	binary.LittleEndian.PutUint32(tmp[:], h.Bits)
	buf.Write(tmp[:])
	binary.LittleEndian.PutUint32(tmp[:], h.Nonce)
	buf.Write(tmp[:])
}
