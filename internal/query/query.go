package query

import "sync"

// EventHandler receives progress callbacks during long administrative
// operations (snapshot/reload), per spec.md §6.
type EventHandler func(event string, value uint64)

// Lock is the reorganization lock described in spec.md §5: a classical
// exclusive lock held only by the confirm and snapshot chasers around
// confirmed-chain suffix mutation / store snapshotting.
type Lock interface {
	sync.Locker
}

// Query is the thread-safe archival storage facade the core consumes
// (spec.md §6). All mutating calls are idempotent on terminal states:
// re-archiving an already-archived header returns the existing link rather
// than erroring. Implementations must make writes atomic relative to a
// single HeaderLink; concurrent writers on distinct links must not
// interfere with one another.
type Query interface {
	// Lookup.
	ToHeader(hash HeaderHash) (HeaderLink, bool)
	ToConfirmed(height Height) (HeaderLink, bool)
	ToCandidate(height Height) (HeaderLink, bool)
	TopCandidate() (HeaderLink, Height)
	TopConfirmed() (HeaderLink, Height)
	TopAssociatedFrom(height Height) Height

	// Read.
	GetHeader(link HeaderLink) (*Header, bool)
	GetBlock(link HeaderLink, witness bool) (*Block, bool)
	GetTransaction(link TxLink) (*Transaction, bool)
	GetContext(link HeaderLink) (*Context, bool)
	GetState(link HeaderLink) (HeaderState, bool)
	GetStateByHash(hash HeaderHash) (HeaderState, bool)
	GetFork() ([]HeaderLink, error)
	GetCandidateHashes(heights []Height) ([]HeaderHash, error)
	GetFilterBody(link HeaderLink) ([]byte, bool)

	// Write.
	SetHeader(h *Header, ctx *Context) (HeaderLink, error)
	SetBlock(b *Block) (HeaderLink, error)
	SetBlockValid(link HeaderLink, fees uint64) error
	SetBlockUnconfirmable(link HeaderLink) error
	SetBlockConfirmable(link HeaderLink, fees uint64) error
	SetStrong(link HeaderLink) error
	SetFilterBody(link HeaderLink, block *Block) error
	SetPrevouts(link HeaderLink, block *Block) error
	SetTransaction(tx *Transaction) (TxLink, error)

	// Candidate/confirmed chain mutation (used by the organize engine and
	// the confirm chaser to move links between the chain vectors).
	PushCandidate(link HeaderLink) error
	PopCandidate() (HeaderLink, error)
	PushConfirmed(link HeaderLink) error
	PopConfirmed() (HeaderLink, error)

	// Administration.
	Snapshot(handler EventHandler) error
	Reload(handler EventHandler) error
	SpaceRequired() uint64
	SpaceFree() uint64
	IsFault() bool
	ReorganizationLock() Lock
}
