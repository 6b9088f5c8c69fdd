package chaser

import (
	"testing"
	"time"

	"github.com/libbitcoin/libbitcoin-node-sub001/chase"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/eventbus"
)

// TestTransactionChaserReconsidersTemplateOnOrganized covers the §4.1 event
// table's "organized -> tx chaser" edge: a newly confirmed block must
// trigger a fresh chase.Template announcement so candidate assembly can
// reconsider the mempool.
func TestTransactionChaserReconsidersTemplateOnOrganized(t *testing.T) {
	node := newFakeNode()
	tc := NewTransactionChaser(node)
	if err := tc.Start(); err != nil {
		t.Fatalf("Start(): %v", err)
	}
	defer tc.Stop()

	received := make(chan struct{}, 1)
	node.Bus().Subscribe(func(ev chase.Event) eventbus.Disposition {
		if ev.Tag == chase.Template {
			select {
			case received <- struct{}{}:
			default:
			}
		}
		return eventbus.Continue
	}, chase.Template)

	node.Bus().Publish(chase.Event{Tag: chase.Organized, Value: uint64(7)})

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chase.Template after chase.Organized")
	}
}
