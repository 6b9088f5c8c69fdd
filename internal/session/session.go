// Package session implements the per-peer protocol scheduler of spec.md
// §4.7: a PeerSession selects which sub-protocols to install based on the
// negotiated wire version and node configuration, then binds them to a
// Channel. The TCP/TLS framing and version handshake themselves are a
// stated external collaborator (spec.md §1); Channel is the minimal seam
// this package needs against that collaborator, modeled after
// github.com/ethereum/go-ethereum/p2p's Peer/MsgWriter split (a session
// owns protocol lifecycle, not the socket).
package session

import (
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/log"

	"github.com/libbitcoin/libbitcoin-node-sub001/internal/eventbus"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/query"
)

// Version thresholds from spec.md §4.7, named after the original's
// bip130/headers identifiers rather than btcd's wire constants (which are
// expressed in different historical units for some of these flags).
const (
	// VersionHeadersFirst is BIP130 (70012): header-first announcement.
	VersionHeadersFirst = 70012
	// VersionHeaders is the headers message introduction (31800):
	// getheaders/headers in/out, getdata blocks.
	VersionHeaders = 31800
)

// Channel is the per-peer wire seam a PeerSession drives. A real channel is
// a single-strand executor bound to one TCP connection; this interface
// captures only what protocol handlers need, so the session and its
// protocols are independently testable against a fake.
type Channel interface {
	Send(msg wire.Message) error
	Version() uint32
	Services() wire.ServiceFlag
	PeerID() uint64
	Close(reason error)
}

// Protocol is a sub-protocol bound to one channel for its lifetime; it
// processes inbound messages (via its own registered handler, not modeled
// here beyond Stop) and unsubscribes from the bus on Stop (spec.md §4.7
// "Each protocol ... is unsubscribed from event bus on stop").
type Protocol interface {
	Start() error
	Stop()
}

// Node is the subset of full-node services protocol handlers need: the
// event bus, the Query facade, and configuration-driven policy.
type Node interface {
	Bus() *eventbus.Bus
	Query() query.Query
	WitnessNode() bool
	RelayEnabled() bool
	FilterServiceBit() wire.ServiceFlag
	AnnouncementCacheSize() int
}

// PeerSession is the chaser_session_.../protocol installer for one peer
// (spec.md §4.7). It does not itself implement Protocol: it is the
// composite owner of every protocol it installs, stopped as a unit when the
// channel closes.
type PeerSession struct {
	channel Channel
	node    Node
	logger  log.Logger

	// fingerprint is this channel's own announcement cache (spec.md §3
	// "Fingerprint", §8 property 6 "no echo"): populated by the in-
	// protocols with hashes the peer announced to us, consulted by the
	// out-protocols before relaying an announcement back to the same
	// peer. One instance per channel, never shared across peers.
	fingerprint *AnnouncementCache

	protocols []Protocol
}

// NewPeerSession constructs a session bound to an already-handshaked
// channel (spec.md §4.7 step 1 occurs before this constructor is called).
func NewPeerSession(channel Channel, node Node) *PeerSession {
	return &PeerSession{
		channel:     channel,
		node:        node,
		logger:      log.New("component", "session", "peer", channel.PeerID()),
		fingerprint: NewAnnouncementCache(node.AnnouncementCacheSize()),
	}
}

// Start installs the observer protocol unconditionally, then the
// version-gated in/out protocols (spec.md §4.7 steps 2-5), and starts each.
func (s *PeerSession) Start(checkChaser CheckMapProvider, txChaser TxAdmitter) error {
	s.install(NewObserverProtocol(s.channel, s.node))

	version := s.channel.Version()
	switch {
	case version >= VersionHeadersFirst:
		s.install(NewHeaderOutProtocol(s.channel, s.node, true, s.fingerprint))
		s.install(NewHeaderInProtocol(s.channel, s.node, s.fingerprint))
		s.install(NewBlockInProtocol(s.channel, s.node, checkChaser, s.fingerprint))
		s.install(NewBlockOutProtocol(s.channel, s.node, s.fingerprint))
	case version >= VersionHeaders:
		s.install(NewHeaderOutProtocol(s.channel, s.node, false, s.fingerprint))
		s.install(NewHeaderInProtocol(s.channel, s.node, s.fingerprint))
		s.install(NewBlockInProtocol(s.channel, s.node, checkChaser, s.fingerprint))
		s.install(NewBlockOutProtocol(s.channel, s.node, s.fingerprint))
	default:
		s.install(NewBlockInProtocol(s.channel, s.node, checkChaser, s.fingerprint))
		s.install(NewBlockOutProtocol(s.channel, s.node, s.fingerprint))
	}

	if s.shouldInstallFilterOut() {
		s.install(NewFilterOutProtocol(s.channel, s.node))
	}

	if s.shouldInstallTx(version) {
		s.install(NewTxInProtocol(s.channel, s.node, txChaser))
		s.install(NewTxOutProtocol(s.channel, s.node))
	}

	s.install(NewRejectProtocol(s.channel, s.node))

	for _, p := range s.protocols {
		if err := p.Start(); err != nil {
			s.Stop()
			return err
		}
	}
	return nil
}

func (s *PeerSession) install(p Protocol) {
	s.protocols = append(s.protocols, p)
}

// shouldInstallFilterOut implements spec.md §4.7 step 4: bip157 filter-out
// only if configured and the peer signals the service bit.
func (s *PeerSession) shouldInstallFilterOut() bool {
	bit := s.node.FilterServiceBit()
	return bit != 0 && s.channel.Services()&bit == bit
}

// shouldInstallTx implements spec.md §4.7 step 5.
func (s *PeerSession) shouldInstallTx(version uint32) bool {
	return s.node.RelayEnabled() && version >= wire.BIP0037Version
}

// Stop unwinds every installed protocol in reverse install order.
func (s *PeerSession) Stop() {
	for i := len(s.protocols) - 1; i >= 0; i-- {
		s.protocols[i].Stop()
	}
	s.protocols = nil
}
