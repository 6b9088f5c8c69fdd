package chaser

import (
	"sync"

	"github.com/libbitcoin/libbitcoin-node-sub001/internal/eventbus"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/query"
)

// fakeNode implements Node over an in-memory store and a real bus, letting
// every chaser run its actual strand machinery in tests.
type fakeNode struct {
	bus   *eventbus.Bus
	store query.Query

	mu        sync.Mutex
	suspended bool
	faulted   bool
	faultErr  error
}

func newFakeNode() *fakeNode {
	return &fakeNode{bus: eventbus.New(), store: query.NewMemory()}
}

// newFakeNodeWithStore builds a fakeNode over a caller-supplied store,
// letting tests reach the concrete *query.Memory's test-only fixture
// helpers (SetState, SetSpaceFree) that the query.Query interface itself
// doesn't expose.
func newFakeNodeWithStore(store query.Query) *fakeNode {
	return &fakeNode{bus: eventbus.New(), store: store}
}

func (f *fakeNode) Bus() *eventbus.Bus   { return f.bus }
func (f *fakeNode) Query() query.Query   { return f.store }

func (f *fakeNode) Suspend() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suspended = true
}

func (f *fakeNode) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suspended = false
}

func (f *fakeNode) Suspended() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.suspended
}

func (f *fakeNode) Fault(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faulted = true
	f.faultErr = err
}

func (f *fakeNode) IsFaulted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.faulted
}
