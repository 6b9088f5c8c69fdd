package chaser

import (
	"github.com/libbitcoin/libbitcoin-node-sub001/chase"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/eventbus"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/query"
)

// TransactionChaser admits standalone transactions into the store and
// notifies candidate-template assembly (spec.md system overview table;
// §4.7 item 5 "tx-in/tx-out"). Grounded on
// original_source/src/chasers/chaser_transaction.cpp, whose do_store/
// do_confirmed methods are reproduced here as Store/doOnConfirmed.
type TransactionChaser struct {
	Base
}

// NewTransactionChaser constructs a TransactionChaser.
func NewTransactionChaser(node Node) *TransactionChaser {
	return &TransactionChaser{Base: NewBase("transaction", node)}
}

func (t *TransactionChaser) Start() error {
	t.Subscribe(func(ev chase.Event) eventbus.Disposition {
		switch ev.Tag {
		case chase.Stop:
			return eventbus.Unsubscribe
		case chase.Organized:
			if link, ok := chase.LinkValue(ev.Value); ok {
				t.Post(func() { t.doOnConfirmed(query.HeaderLink(link)) })
			}
		}
		return eventbus.Continue
	}, chase.Stop, chase.Organized)

	t.Run()
	return nil
}

// Store admits a standalone transaction from a tx-in protocol handler. It
// archives the transaction and, on success, emits chase.Transaction so a
// candidate block template can incorporate it.
func (t *TransactionChaser) Store(tx *query.Transaction) error {
	result := make(chan error, 1)
	t.Post(func() { result <- t.doStore(tx) })
	return <-result
}

func (t *TransactionChaser) doStore(tx *query.Transaction) error {
	link, err := t.Query().SetTransaction(tx)
	if err != nil {
		return err
	}
	t.Notify(chase.Event{Tag: chase.Transaction, Value: uint64(link)})
	return nil
}

// doOnConfirmed reacts to a newly confirmed block (chase.Organized, per the
// §4.1 event table's "organized -> tx chaser") by announcing a fresh
// template opportunity (original's do_confirmed: "may issue transaction").
// Unlike Store's chase.Transaction, this carries no TxLink payload: it
// signals "reconsider the template", not a specific new transaction.
func (t *TransactionChaser) doOnConfirmed(query.HeaderLink) {
	t.Notify(chase.Event{Tag: chase.Template})
}
