// Package chase defines the typed event vocabulary shared by every chaser
// and protocol handler in the node. It corresponds to the "chase" enum and
// per-tag payload documented in spec.md §4.1 and to
// original_source/include/bitcoin/node/chase.hpp.
package chase

import "fmt"

// Tag identifies the kind of progress event flowing across the event bus.
// Delivery is in order per publisher; a subscriber sees every tag it
// registered for, on its own strand.
type Tag uint8

const (
	// Work shuffling.

	Start Tag = iota
	Space
	Snap
	Bump
	Suspend
	Resume
	Starved
	Split
	Stall
	Purge
	Report

	// Candidate chain.

	Blocks
	Headers
	Download
	Regressed
	Disorganized

	// Check/identify.

	Checked
	Unchecked

	// Accept/connect.

	Valid
	Unvalid

	// Confirm.

	Confirmable
	Unconfirmable
	Organized
	Reorganized

	// Mining.

	Transaction
	Template

	// Stop.

	Stop
)

var names = map[Tag]string{
	Start: "start", Space: "space", Snap: "snap", Bump: "bump",
	Suspend: "suspend", Resume: "resume", Starved: "starved", Split: "split",
	Stall: "stall", Purge: "purge", Report: "report",
	Blocks: "blocks", Headers: "headers", Download: "download",
	Regressed: "regressed", Disorganized: "disorganized",
	Checked: "checked", Unchecked: "unchecked",
	Valid: "valid", Unvalid: "unvalid",
	Confirmable: "confirmable", Unconfirmable: "unconfirmable",
	Organized: "organized", Reorganized: "reorganized",
	Transaction: "transaction", Template: "template",
	Stop: "stop",
}

func (t Tag) String() string {
	if name, ok := names[t]; ok {
		return name
	}
	return fmt.Sprintf("chase(%d)", uint8(t))
}

// Value is the payload carried by an Event. Each Tag documents, in
// chase.hpp terms, what concrete type a subscriber may expect:
// height_t, header_t, peer_t, count_t or nil ("default").
type Value any

// Event is one unit of work posted to the bus. Err is non-nil only for
// the terminal Stop tag, carrying the fault reason (spec.md §7).
type Event struct {
	Tag   Tag
	Value Value
	Err   error
}

// Height-typed and link-typed convenience constructors keep call sites
// (chaser/*.go) free of repeated type assertions.

// HeightValue extracts a height_t payload, for Bump/Start/Checked/Valid/
// Report/Space/Snap/Disorganized/Headers/Blocks/Regressed events. Download
// carries a count_t (uint64) instead, not a height.
func HeightValue(v Value) (uint32, bool) {
	h, ok := v.(uint32)
	return h, ok
}

// PeerValue extracts a peer/object identifier payload, for
// Starved/Split/Stall/Purge events.
func PeerValue(v Value) (uint64, bool) {
	p, ok := v.(uint64)
	return p, ok
}

// LinkValue extracts a header_t (HeaderLink) payload, for
// Unchecked/Unvalid/Confirmable/Unconfirmable/Organized/Reorganized events,
// or a tx_t (TxLink) payload for Transaction events raised by
// TransactionChaser.Store. HeaderLink/TxLink are declared in internal/query
// to avoid an import cycle; both are a uint64 underneath, so the bus
// carries them untyped via Value.
func LinkValue(v Value) (uint64, bool) {
	l, ok := v.(uint64)
	return l, ok
}
