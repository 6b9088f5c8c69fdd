// Package chaser implements the single-strand state machines of spec.md
// §2/§4: HeaderOrganizer, BlockOrganizer, CheckChaser, ValidateChaser,
// ConfirmChaser, StorageChaser and SnapshotChaser. Each owns a serialized
// goroutine ("strand", spec.md §5) and communicates with its peers only by
// publishing onto the shared eventbus.Bus; no chaser ever calls another
// directly (spec.md §2).
//
// Grounded on original_source/include/bitcoin/node/chasers/chaser.hpp: the
// base class binds event subscription, strand posting, fault/suspend/
// resume/snapshot/reload delegation, and a strand-private `position`
// cursor, all reproduced here as the Base type.
package chaser

import (
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"

	"github.com/libbitcoin/libbitcoin-node-sub001/chase"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/eventbus"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/query"
)

// Node is the subset of full-node services a chaser needs: the shared
// event bus, the archival Query facade, and the handful of
// administrative operations (suspend/resume/fault/snapshot/reload) that
// in the C++ original are reached through the owning full_node reference.
// Kept as an interface so chasers are testable against fakes.
type Node interface {
	Bus() *eventbus.Bus
	Query() query.Query
	Suspend()
	Resume()
	Suspended() bool
	Fault(err error)
	IsFaulted() bool
}

// Base implements the strand, event-subscription and administrative
// delegation shared by every chaser (chaser.hpp). Embed it in each
// concrete chaser and call Base.Start from the concrete Start().
type Base struct {
	name string
	node Node

	work chan func()
	quit chan struct{}

	logger log.Logger
	subs   []eventbus.Key

	position uint32 // strand-private; only touched from the strand goroutine
}

// NewBase constructs the strand plumbing for a chaser named name.
func NewBase(name string, node Node) Base {
	return Base{
		name:   name,
		node:   node,
		work:   make(chan func(), 256),
		quit:   make(chan struct{}),
		logger: log.New("component", name),
	}
}

// Run starts the strand goroutine. Must be called once, typically from the
// concrete chaser's Start method after its subscriptions are registered.
func (b *Base) Run() {
	go b.loop()
}

func (b *Base) loop() {
	for {
		select {
		case fn := <-b.work:
			fn()
		case <-b.quit:
			return
		}
	}
}

// Post queues fn to run on this chaser's strand, preserving FIFO order
// relative to every other Post call (spec.md §5 "message post to another
// strand's executor").
func (b *Base) Post(fn func()) {
	select {
	case b.work <- fn:
	case <-b.quit:
	}
}

// Stop halts the strand. Queued work is discarded, mirroring
// "channel close is a graceful cancel" (spec.md §5).
func (b *Base) Stop() {
	close(b.quit)
}

// Subscribe registers handler for the given tags and tracks the key so
// UnsubscribeAll can remove every registration; Stop does not unsubscribe
// by itself. Use
// SUBSCRIBE_EVENTS-equivalent: call from the chaser's Start method.
func (b *Base) Subscribe(handler eventbus.Handler, tags ...chase.Tag) eventbus.Key {
	key := b.node.Bus().Subscribe(handler, tags...)
	b.subs = append(b.subs, key)
	return key
}

// UnsubscribeAll removes every subscription this chaser registered.
func (b *Base) UnsubscribeAll() {
	for _, key := range b.subs {
		b.node.Bus().Unsubscribe(key)
	}
	b.subs = nil
}

// Notify publishes ev to the shared bus. Does not require the strand.
func (b *Base) Notify(ev chase.Event) {
	b.node.Bus().Publish(ev)
}

// Query returns the shared archival facade.
func (b *Base) Query() query.Query {
	return b.node.Query()
}

// Logger returns this chaser's structured logger.
func (b *Base) Logger() log.Logger {
	return b.logger
}

// Suspended reports whether network connections are currently suspended.
func (b *Base) Suspended() bool {
	return b.node.Suspended()
}

// Suspend suspends all network connectors/acceptors.
func (b *Base) Suspend() {
	b.node.Suspend()
}

// Resume resumes suspended network connections.
func (b *Base) Resume() {
	b.node.Resume()
}

// Fault converts a storage or invariant failure into the documented fatal
// path: publish chase.Stop with the fault code and mark the node faulted
// (spec.md §2 "any storage error returned from Query is fatal").
func (b *Base) Fault(err error) {
	b.logger.Error("fault", "err", err)
	b.node.Fault(err)
	b.Notify(chase.Event{Tag: chase.Stop, Err: err})
}

// Position returns the strand-private progress cursor. Must only be
// called from the strand.
func (b *Base) Position() uint32 {
	return b.position
}

// SetPosition updates the strand-private progress cursor. Must only be
// called from the strand.
func (b *Base) SetPosition(height uint32) {
	b.position = height
}

// atomicBool is a tiny helper used by chasers that expose a suspend/resume
// or full/not-full flag readable from outside the strand (e.g. validate's
// "marks itself full" in spec.md §4.4).
type atomicBool struct {
	v atomic.Bool
}

func (a *atomicBool) Set(value bool) { a.v.Store(value) }
func (a *atomicBool) Get() bool      { return a.v.Load() }
