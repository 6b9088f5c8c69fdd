package session

import (
	"github.com/btcsuite/btcd/wire"

	"github.com/libbitcoin/libbitcoin-node-sub001/chase"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/eventbus"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/query"
)

// TxAdmitter is the subset of TransactionChaser a tx-in protocol needs.
type TxAdmitter interface {
	Store(tx *query.Transaction) error
}

// TxInProtocol admits inbound standalone transactions (spec.md §4.7 step 5,
// §6 wire protocol "tx"), installed only when relay is enabled and the
// peer's version permits it.
type TxInProtocol struct {
	channel Channel
	node    Node
	admit   TxAdmitter
}

// NewTxInProtocol constructs a TxInProtocol bound to admit, the chaser
// responsible for archival and downstream template notification.
func NewTxInProtocol(channel Channel, node Node, admit TxAdmitter) *TxInProtocol {
	return &TxInProtocol{channel: channel, node: node, admit: admit}
}

func (p *TxInProtocol) Start() error { return nil }
func (p *TxInProtocol) Stop()        {}

// OnTx handles one inbound `tx` message.
func (p *TxInProtocol) OnTx(msg *wire.MsgTx) error {
	if p.admit == nil {
		return nil
	}
	tx := &query.Transaction{ID: msg.TxHash()}
	return p.admit.Store(tx)
}

// TxOutProtocol announces newly admitted transactions via inv (spec.md §6
// wire protocol "tx"), relaying chase.Transaction notifications.
type TxOutProtocol struct {
	channel Channel
	node    Node
	key     eventbus.Key
}

// NewTxOutProtocol constructs a TxOutProtocol.
func NewTxOutProtocol(channel Channel, node Node) *TxOutProtocol {
	return &TxOutProtocol{channel: channel, node: node}
}

func (p *TxOutProtocol) Start() error {
	p.key = p.node.Bus().Subscribe(func(ev chase.Event) eventbus.Disposition {
		if ev.Tag != chase.Transaction {
			return eventbus.Continue
		}
		if link, ok := chase.LinkValue(ev.Value); ok {
			p.announce(query.TxLink(link))
		}
		return eventbus.Continue
	}, chase.Transaction)
	return nil
}

func (p *TxOutProtocol) Stop() {
	p.node.Bus().Unsubscribe(p.key)
}

func (p *TxOutProtocol) announce(link query.TxLink) {
	tx, ok := p.node.Query().GetTransaction(link)
	if !ok {
		return
	}
	iv := wire.NewInvVect(wire.InvTypeTx, &tx.ID)
	inv := wire.NewMsgInv()
	if err := inv.AddInvVect(iv); err != nil {
		return
	}
	_ = p.channel.Send(inv)
}
