// Package node wires the chasers, event bus, and archival Query facade
// together into the full running core (spec.md §2's component table), the
// Go analogue of the C++ original's full_node class. Grounded on
// go-ethereum's eth/backend.go pattern of a central struct that owns every
// long-lived subsystem and exposes the handful of cross-cutting methods
// (here: Bus/Query/Suspend/Resume/Fault) those subsystems need back.
package node

import (
	"sync/atomic"

	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/log"

	"github.com/libbitcoin/libbitcoin-node-sub001/chase"
	"github.com/libbitcoin/libbitcoin-node-sub001/chaser"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/config"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/eventbus"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/query"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/session"
)

// Node is the full core: every chaser, the shared bus, and the archival
// facade, plus the suspend/resume/fault coordination every chaser reaches
// through the chaser.Node interface.
type Node struct {
	settings config.Settings
	bus      *eventbus.Bus
	store    query.Query
	logger   log.Logger

	suspended atomic.Bool
	faulted   atomic.Bool
	faultErr  atomic.Value // error

	headerOrganizer *chaser.HeaderOrganizer
	blockOrganizer  *chaser.BlockOrganizer
	check           *chaser.CheckChaser
	validate        *chaser.ValidateChaser
	confirm         *chaser.ConfirmChaser
	storage         *chaser.StorageChaser
	snapshot        *chaser.SnapshotChaser
	transaction     *chaser.TransactionChaser
	outbound        *session.OutboundSession
}

// New constructs a Node bound to store, configured from settings.
// Construction alone does not start any chaser; call Start.
func New(settings config.Settings, store query.Query) *Node {
	n := &Node{
		settings: settings,
		bus:      eventbus.New(),
		store:    store,
		logger:   log.New("component", "node"),
	}

	checkpoints := settings.CheckpointMap()
	milestoneHeight, milestoneHash, hasMilestone := settings.MilestoneOrZero()

	n.headerOrganizer = chaser.NewHeaderOrganizer(n, checkpoints, milestoneHeight, milestoneHash, hasMilestone)
	n.blockOrganizer = chaser.NewBlockOrganizer(n, checkpoints, milestoneHeight, milestoneHash, hasMilestone)
	n.check = chaser.NewCheckChaser(n, int(settings.MaximumConcurrency), float64(settings.AllowedDeviation))
	n.validate = chaser.NewValidateChaser(n, int(settings.MaximumBacklog), n.checkpointTop(checkpoints), milestoneHeight, hasMilestone)
	n.confirm = chaser.NewConfirmChaser(n)
	n.storage = chaser.NewStorageChaser(n)
	n.snapshot = chaser.NewSnapshotChaser(n)
	n.transaction = chaser.NewTransactionChaser(n)
	n.outbound = session.NewOutboundSession(n.bus, n.check)

	return n
}

// checkpointTop returns the highest configured checkpoint height, the
// boundary ValidateChaser treats as identity-only (spec.md §4.4).
func (n *Node) checkpointTop(checkpoints map[query.Height]query.HeaderHash) query.Height {
	var top query.Height
	for h := range checkpoints {
		if h > top {
			top = h
		}
	}
	return top
}

// Start launches every chaser's strand in dependency order (organizers
// first, since check/validate/confirm consume their output events).
func (n *Node) Start() error {
	starters := []interface{ Start() error }{
		n.headerOrganizer, n.blockOrganizer, n.check, n.validate,
		n.confirm, n.storage, n.snapshot, n.transaction, n.outbound,
	}
	for _, s := range starters {
		if err := s.Start(); err != nil {
			return err
		}
	}
	n.bus.Publish(chase.Event{Tag: chase.Start, Value: uint32(0)})
	return nil
}

// Stop halts every chaser strand.
func (n *Node) Stop() {
	stoppers := []interface{ Stop() }{
		&n.headerOrganizer.Base, &n.blockOrganizer.Base, &n.check.Base,
		&n.validate.Base, &n.confirm.Base, &n.storage.Base,
		&n.snapshot.Base, &n.transaction.Base, n.outbound,
	}
	for _, s := range stoppers {
		s.Stop()
	}
}

// Bus implements chaser.Node and session.Node.
func (n *Node) Bus() *eventbus.Bus { return n.bus }

// Query implements chaser.Node and session.Node.
func (n *Node) Query() query.Query { return n.store }

// Suspend implements chaser.Node: marks the node suspended and broadcasts
// chase.Suspend so every ObserverProtocol fails its channel (spec.md §4.6).
func (n *Node) Suspend() {
	if n.suspended.CompareAndSwap(false, true) {
		n.bus.Publish(chase.Event{Tag: chase.Suspend})
	}
}

// Resume implements chaser.Node.
func (n *Node) Resume() {
	if n.suspended.CompareAndSwap(true, false) {
		n.bus.Publish(chase.Event{Tag: chase.Resume})
	}
}

// Suspended implements chaser.Node.
func (n *Node) Suspended() bool { return n.suspended.Load() }

// Fault implements chaser.Node: marks the node faulted, recording err for
// diagnostics. Chasers that detect a store fault call this before
// publishing chase.Stop (spec.md §7 "any storage error ... is fatal").
func (n *Node) Fault(err error) {
	if n.faulted.CompareAndSwap(false, true) {
		n.faultErr.Store(err)
		n.logger.Error("node faulted", "err", err)
	}
}

// IsFaulted implements chaser.Node.
func (n *Node) IsFaulted() bool { return n.faulted.Load() }

// WitnessNode implements session.Node.
func (n *Node) WitnessNode() bool { return n.settings.WitnessNode }

// RelayEnabled implements session.Node.
func (n *Node) RelayEnabled() bool { return n.settings.EnableRelay }

// FilterServiceBit implements session.Node: the BIP157 compact-filter
// service bit this node advertises and requires of peers for filter-out.
func (n *Node) FilterServiceBit() wire.ServiceFlag {
	return wire.SFNodeCF
}

// HeaderOrganizer implements session.HeaderOrganizerNode.
func (n *Node) HeaderOrganizer() session.HeaderOrganize { return n.headerOrganizer }

// BlockOrganizer implements session.BlockOrganizerNode.
func (n *Node) BlockOrganizer() session.BlockOrganize { return n.blockOrganizer }

// Check exposes the CheckChaser for session construction
// (session.CheckMapProvider).
func (n *Node) Check() *chaser.CheckChaser { return n.check }

// Transaction exposes the TransactionChaser for session construction
// (session.TxAdmitter).
func (n *Node) Transaction() *chaser.TransactionChaser { return n.transaction }

// AnnouncementCacheSize implements session.Node: the configured capacity
// (spec.md §6 announcement_cache) each PeerSession sizes its own,
// per-channel fingerprint cache with (spec.md §3 "Fingerprint", §8
// property 6 "no echo" — the cache tracks one peer's announcements, so it
// cannot be shared across sessions).
func (n *Node) AnnouncementCacheSize() int { return int(n.settings.AnnouncementCache) }

// NewSession constructs a PeerSession for channel; the check and
// transaction chasers are passed to its Start.
func (n *Node) NewSession(channel session.Channel) *session.PeerSession {
	return session.NewPeerSession(channel, n)
}
