package query

import (
	"errors"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ErrNotFound is returned by pop operations against an empty chain.
var ErrNotFound = errors.New("query: not found")

// ErrFault marks the in-memory store as permanently faulted, mirroring the
// real archival engine's "fatal write failure" semantics (spec.md §7).
var ErrFault = errors.New("query: store fault")

type record struct {
	header  *Header
	context *Context
	block   *Block
	state   HeaderState
}

// Memory is a reference Query implementation backed by maps and slices. It
// exists to make the chasers independently testable without a real
// archival database engine, which spec.md §1 treats as an external
// collaborator. It is not a production storage engine: there is no
// persistence, compaction, or crash recovery.
type Memory struct {
	mu sync.Mutex

	byLink map[HeaderLink]*record
	byHash map[HeaderHash]HeaderLink
	next   HeaderLink

	candidate []HeaderLink
	confirmed []HeaderLink

	transactions map[TxLink]*Transaction
	txByID       map[chainhash.Hash]TxLink
	nextTx       TxLink

	spaceFree     uint64
	spaceRequired uint64
	faulted       bool

	reorgLock sync.Mutex
}

// NewMemory returns an empty store with ample configured free space.
func NewMemory() *Memory {
	return &Memory{
		byLink:        make(map[HeaderLink]*record),
		byHash:        make(map[HeaderHash]HeaderLink),
		next:          1,
		transactions:  make(map[TxLink]*Transaction),
		txByID:        make(map[chainhash.Hash]TxLink),
		nextTx:        1,
		spaceFree:     1 << 40,
		spaceRequired: 1 << 20,
	}
}

func (m *Memory) ToHeader(hash HeaderHash) (HeaderLink, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.byHash[hash]
	return link, ok
}

func (m *Memory) ToConfirmed(height Height) (HeaderLink, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(height) >= len(m.confirmed) {
		return NoLink, false
	}
	return m.confirmed[height], true
}

func (m *Memory) ToCandidate(height Height) (HeaderLink, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(height) >= len(m.candidate) {
		return NoLink, false
	}
	return m.candidate[height], true
}

func (m *Memory) TopCandidate() (HeaderLink, Height) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.candidate) == 0 {
		return NoLink, 0
	}
	top := Height(len(m.candidate) - 1)
	return m.candidate[top], top
}

func (m *Memory) TopConfirmed() (HeaderLink, Height) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.confirmed) == 0 {
		return NoLink, 0
	}
	top := Height(len(m.confirmed) - 1)
	return m.confirmed[top], top
}

// TopAssociatedFrom scans the candidate chain upward from height, returning
// the last height whose block body has been archived (state >= Associated).
func (m *Memory) TopAssociatedFrom(height Height) Height {
	m.mu.Lock()
	defer m.mu.Unlock()
	top := height
	for h := int(height); h < len(m.candidate); h++ {
		rec, ok := m.byLink[m.candidate[h]]
		if !ok || rec.state < Associated {
			break
		}
		top = Height(h)
	}
	return top
}

func (m *Memory) GetHeader(link HeaderLink) (*Header, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byLink[link]
	if !ok {
		return nil, false
	}
	return rec.header, true
}

func (m *Memory) GetBlock(link HeaderLink, witness bool) (*Block, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byLink[link]
	if !ok || rec.block == nil {
		return nil, false
	}
	return rec.block, true
}

func (m *Memory) GetTransaction(link TxLink) (*Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[link]
	return tx, ok
}

// SetTransaction archives a standalone transaction (spec.md §4.7
// TransactionChaser admission path), idempotent on a previously-seen txid.
func (m *Memory) SetTransaction(tx *Transaction) (TxLink, error) {
	if m.IsFault() {
		return 0, ErrFault
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if link, ok := m.txByID[tx.ID]; ok {
		return link, nil
	}
	link := m.nextTx
	m.nextTx++
	m.txByID[tx.ID] = link
	m.transactions[link] = tx
	return link, nil
}

func (m *Memory) GetContext(link HeaderLink) (*Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byLink[link]
	if !ok {
		return nil, false
	}
	return rec.context, true
}

func (m *Memory) GetState(link HeaderLink) (HeaderState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byLink[link]
	if !ok {
		return 0, false
	}
	return rec.state, true
}

func (m *Memory) GetStateByHash(hash HeaderHash) (HeaderState, bool) {
	m.mu.Lock()
	link, ok := m.byHash[hash]
	m.mu.Unlock()
	if !ok {
		return 0, false
	}
	return m.GetState(link)
}

func (m *Memory) GetFork() ([]HeaderLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HeaderLink, len(m.candidate))
	copy(out, m.candidate)
	return out, nil
}

func (m *Memory) GetCandidateHashes(heights []Height) ([]HeaderHash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HeaderHash, 0, len(heights))
	for _, h := range heights {
		if int(h) >= len(m.candidate) {
			return nil, ErrNotFound
		}
		rec := m.byLink[m.candidate[h]]
		out = append(out, rec.header.Hash())
	}
	return out, nil
}

func (m *Memory) GetFilterBody(link HeaderLink) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byLink[link]
	if !ok {
		return nil, false
	}
	return rec.context.filterBody, rec.context.filterBody != nil
}

func (m *Memory) SetHeader(h *Header, ctx *Context) (HeaderLink, error) {
	if m.IsFault() {
		return NoLink, ErrFault
	}
	hash := h.Hash()
	m.mu.Lock()
	defer m.mu.Unlock()
	if link, ok := m.byHash[hash]; ok {
		return link, nil // idempotent on terminal re-archival
	}
	link := m.next
	m.next++
	m.byHash[hash] = link
	m.byLink[link] = &record{header: h, context: ctx, state: Unassociated}
	return link, nil
}

func (m *Memory) SetBlock(b *Block) (HeaderLink, error) {
	if m.IsFault() {
		return NoLink, ErrFault
	}
	hash := b.Header.Hash()
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.byHash[hash]
	if !ok {
		link = m.next
		m.next++
		m.byHash[hash] = link
		m.byLink[link] = &record{header: &b.Header, state: Unassociated}
	}
	rec := m.byLink[link]
	if rec.block != nil {
		return link, nil // idempotent: already associated
	}
	rec.block = b
	if rec.state < Associated {
		rec.state = Associated
	}
	return link, nil
}

func (m *Memory) SetBlockValid(link HeaderLink, fees uint64) error {
	return m.advance(link, Valid, fees)
}

func (m *Memory) SetBlockConfirmable(link HeaderLink, fees uint64) error {
	return m.advance(link, Confirmable, fees)
}

func (m *Memory) SetBlockUnconfirmable(link HeaderLink) error {
	if m.IsFault() {
		return ErrFault
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byLink[link]
	if !ok {
		return ErrNotFound
	}
	rec.state = Unconfirmable
	return nil
}

func (m *Memory) advance(link HeaderLink, state HeaderState, fees uint64) error {
	if m.IsFault() {
		return ErrFault
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byLink[link]
	if !ok {
		return ErrNotFound
	}
	_ = fees // a production Query persists fees for fee-index/RPC purposes
	if rec.state < state {
		rec.state = state
	}
	return nil
}

func (m *Memory) SetStrong(link HeaderLink) error {
	if m.IsFault() {
		return ErrFault
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byLink[link]; !ok {
		return ErrNotFound
	}
	return nil
}

func (m *Memory) SetFilterBody(link HeaderLink, block *Block) error {
	if m.IsFault() {
		return ErrFault
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byLink[link]
	if !ok {
		return ErrNotFound
	}
	body := make([]byte, 0, len(block.Transactions))
	for range block.Transactions {
		body = append(body, 0)
	}
	rec.context.filterBody = body
	return nil
}

func (m *Memory) SetPrevouts(link HeaderLink, block *Block) error {
	if m.IsFault() {
		return ErrFault
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byLink[link]; !ok {
		return ErrNotFound
	}
	return nil
}

func (m *Memory) PushCandidate(link HeaderLink) error {
	if m.IsFault() {
		return ErrFault
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byLink[link]; !ok {
		return ErrNotFound
	}
	m.candidate = append(m.candidate, link)
	return nil
}

func (m *Memory) PopCandidate() (HeaderLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.candidate) == 0 {
		return NoLink, ErrNotFound
	}
	top := m.candidate[len(m.candidate)-1]
	m.candidate = m.candidate[:len(m.candidate)-1]
	return top, nil
}

func (m *Memory) PushConfirmed(link HeaderLink) error {
	if m.IsFault() {
		return ErrFault
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byLink[link]; !ok {
		return ErrNotFound
	}
	m.confirmed = append(m.confirmed, link)
	return nil
}

func (m *Memory) PopConfirmed() (HeaderLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.confirmed) == 0 {
		return NoLink, ErrNotFound
	}
	top := m.confirmed[len(m.confirmed)-1]
	m.confirmed = m.confirmed[:len(m.confirmed)-1]
	return top, nil
}

func (m *Memory) Snapshot(handler EventHandler) error {
	if m.IsFault() {
		return ErrFault
	}
	if handler != nil {
		handler("snapshot", 0)
	}
	return nil
}

func (m *Memory) Reload(handler EventHandler) error {
	m.mu.Lock()
	m.faulted = false
	m.mu.Unlock()
	if handler != nil {
		handler("reload", 0)
	}
	return nil
}

func (m *Memory) SpaceRequired() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spaceRequired
}

func (m *Memory) SpaceFree() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spaceFree
}

// SetSpaceFree lets tests (and the storage chaser's poll loop in
// integration tests) simulate disk pressure and recovery.
func (m *Memory) SetSpaceFree(free uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spaceFree = free
}

// SetState forcibly overwrites link's state, letting tests build fixtures
// at an arbitrary point of the checked/valid/confirmable progression
// without replaying every upstream chaser (mirrors SetSpaceFree's role as a
// test-only fixture helper).
func (m *Memory) SetState(link HeaderLink, state HeaderState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byLink[link]
	if !ok {
		return ErrNotFound
	}
	rec.state = state
	return nil
}

func (m *Memory) IsFault() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.faulted
}

// Fault marks the store permanently faulted, as a real engine would after
// an unrecoverable write failure.
func (m *Memory) Fault() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faulted = true
}

func (m *Memory) ReorganizationLock() Lock {
	return &m.reorgLock
}
