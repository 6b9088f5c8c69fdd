package chaser

import (
	"testing"
	"time"

	"github.com/libbitcoin/libbitcoin-node-sub001/chase"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/eventbus"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/query"
)

func newTestSnapshotChaser() (*SnapshotChaser, *fakeNode, *query.Memory) {
	mem := query.NewMemory()
	node := newFakeNodeWithStore(mem)
	return NewSnapshotChaser(node), node, mem
}

// TestSnapshotDoSnapshotSucceedsAndReleasesLock covers spec.md §4.6: a
// healthy store's snap(height) handling must call Query.snapshot under the
// reorganization lock and release it again, without faulting the node.
func TestSnapshotDoSnapshotSucceedsAndReleasesLock(t *testing.T) {
	s, node, _ := newTestSnapshotChaser()

	s.doSnapshot()

	if node.IsFaulted() {
		t.Fatal("node faulted on a healthy store's snapshot")
	}

	lock := s.Query().ReorganizationLock()
	locker, ok := lock.(interface{ TryLock() bool })
	if !ok {
		t.Fatal("reorganization lock does not support TryLock")
	}
	if !locker.TryLock() {
		t.Fatal("reorganization lock still held after doSnapshot returned")
	}
	lock.Unlock()
}

// TestSnapshotDoSnapshotFaultsOnStoreFault covers spec.md §7 "store faults
// are fatal": Query.snapshot failing must fault the node and publish
// chase.Stop with the fault reason.
func TestSnapshotDoSnapshotFaultsOnStoreFault(t *testing.T) {
	s, node, mem := newTestSnapshotChaser()
	mem.Fault()

	stop := make(chan error, 1)
	node.Bus().Subscribe(func(ev chase.Event) eventbus.Disposition {
		if ev.Tag == chase.Stop {
			stop <- ev.Err
		}
		return eventbus.Continue
	}, chase.Stop)

	s.doSnapshot()

	if !node.IsFaulted() {
		t.Fatal("node not faulted after Query.Snapshot failed")
	}
	select {
	case err := <-stop:
		if err == nil {
			t.Fatal("chase.Stop published with a nil fault reason")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chase.Stop after a store fault")
	}
}

// TestSnapshotThresholdsDisabledByDefault documents the Open Question
// resolution of spec.md §9(b): the byte-count/valid-height/confirm-height
// snapshot triggers are wired but left at zero (disabled); snap(height) is
// the only active trigger.
func TestSnapshotThresholdsDisabledByDefault(t *testing.T) {
	s, _, _ := newTestSnapshotChaser()
	if !s.thresholdsDisabled() {
		t.Fatal("snapshot byte/height thresholds are not disabled by default")
	}
}
