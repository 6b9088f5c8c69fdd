package chaser

import (
	"errors"
	"math"
	"sort"

	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/libbitcoin/libbitcoin-node-sub001/chase"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/eventbus"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/query"
)

// minimumForStandardDeviation mirrors chaser_check.hpp's
// minimum_for_standard_deviation: outlier policing only engages once at
// least this many peers are being measured (spec.md §4.3).
const minimumForStandardDeviation = 3

// PeerID identifies a peer/channel for check-chaser bookkeeping. It is the
// "object_key"/"peer_t" of the C++ original.
type PeerID = uint64

// ErrNoWork is returned by GetMap when no pending map exists and the
// candidate chain has no further unassociated entries to slice.
var ErrNoWork = errors.New("check: no unassociated work available")

// Map is an ordered set of HeaderLinks (with hashes) issued to one peer
// for a getdata request (spec.md §3 "DownloadMap").
type Map struct {
	Owner PeerID
	Links []query.HeaderLink
	Hashes []query.HeaderHash
}

// Empty reports whether the map carries no work.
func (m *Map) Empty() bool { return m == nil || len(m.Links) == 0 }

// Split removes and returns the second half of m's entries (chaser_check's
// static `split`), used both for the starvation protocol (spec.md §4.3)
// and for manual testing of partition behavior.
func Split(m *Map) *Map {
	if m == nil || len(m.Links) < 2 {
		return &Map{Owner: m.Owner}
	}
	mid := len(m.Links) / 2
	out := &Map{
		Owner:  m.Owner,
		Links:  append([]query.HeaderLink(nil), m.Links[mid:]...),
		Hashes: append([]query.HeaderHash(nil), m.Hashes[mid:]...),
	}
	m.Links = m.Links[:mid]
	m.Hashes = m.Hashes[:mid]
	return out
}

var (
	checkSpeedGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "node",
		Subsystem: "check",
		Name:      "peer_speed_bytes_per_second",
		Help:      "Most recently reported per-peer download throughput.",
	}, []string{"peer"})
)

// CheckChaser owns the download queue and per-peer reservations (spec.md
// §4.3). Grounded on
// original_source/include/bitcoin/node/chasers/chaser_check.hpp.
type CheckChaser struct {
	Base

	maximumConcurrency int
	allowedDeviation   float64

	// strand-private state
	pending     []*Map             // maps.hpp's std::deque<map_ptr>
	outstanding map[PeerID]*Map    // at-most-one active map per peer
	speeds      map[PeerID]float64 // bytes/sec by peer
}

// NewCheckChaser constructs a CheckChaser. maximumConcurrency bounds the
// size of a freshly sliced Map (config.MaximumConcurrency); allowedDeviation
// is the outlier-policing factor k (config.AllowedDeviation).
func NewCheckChaser(node Node, maximumConcurrency int, allowedDeviation float64) *CheckChaser {
	return &CheckChaser{
		Base:               NewBase("check", node),
		maximumConcurrency: maximumConcurrency,
		allowedDeviation:   allowedDeviation,
		outstanding:        make(map[PeerID]*Map),
		speeds:             make(map[PeerID]float64),
	}
}

// Start subscribes to the tags chaser_check.hpp's handle_event reacts to
// and launches the strand.
func (c *CheckChaser) Start() error {
	c.Subscribe(func(ev chase.Event) eventbus.Disposition {
		switch ev.Tag {
		case chase.Start, chase.Bump:
			if h, ok := chase.HeightValue(ev.Value); ok {
				c.Post(func() { c.doBump(h) })
			}
		case chase.Checked:
			if h, ok := chase.HeightValue(ev.Value); ok {
				c.Post(func() { c.doChecked(h) })
			}
		case chase.Headers:
			if h, ok := chase.HeightValue(ev.Value); ok {
				c.Post(func() { c.doHeaders(h) })
			}
		case chase.Regressed:
			if h, ok := chase.HeightValue(ev.Value); ok {
				c.Post(func() { c.doRegressed(h) })
			}
		case chase.Disorganized:
			if h, ok := chase.HeightValue(ev.Value); ok {
				c.Post(func() { c.doRegressed(h) })
			}
		}
		return eventbus.Continue
	}, chase.Start, chase.Bump, chase.Checked, chase.Headers, chase.Regressed, chase.Disorganized)

	c.Run()
	return nil
}

func (c *CheckChaser) doBump(height query.Height) {
	c.SetPosition(height)
}

func (c *CheckChaser) doChecked(height query.Height) {
	if height >= c.Position() {
		c.SetPosition(height + 1)
	}
}

func (c *CheckChaser) doHeaders(branchPoint query.Height) {
	top := c.Query().TopAssociatedFrom(branchPoint)
	available := c.topUnassociated()
	if top > available {
		return
	}
	c.Notify(chase.Event{Tag: chase.Download, Value: uint64(c.unassociatedCount())})
}

// doRegressed implements the "purge" side effect of spec.md §4.3: when the
// candidate chain regresses, every outstanding map is invalidated and
// peers with outstanding work are sent chase.Purge.
func (c *CheckChaser) doRegressed(branchPoint query.Height) {
	c.pending = nil
	for peer := range c.outstanding {
		delete(c.outstanding, peer)
		c.Notify(chase.Event{Tag: chase.Purge, Value: peer})
	}
	if branchPoint < c.Position() {
		c.SetPosition(branchPoint)
	}
}

// topUnassociated returns the height of the candidate chain's top entry,
// the upper bound for fresh download maps; it does not check whether
// that entry's block is already associated.
func (c *CheckChaser) topUnassociated() query.Height {
	_, top := c.Query().TopCandidate()
	return top
}

func (c *CheckChaser) unassociatedCount() int {
	_, top := c.Query().TopCandidate()
	if top < c.Position() {
		return 0
	}
	return int(top-c.Position()) + 1
}

// GetMap hands out the oldest pending map, or slices up to
// maximumConcurrency fresh unassociated entries from the candidate chain
// (spec.md §4.3 "get_map"). At most one map is ever outstanding per peer.
func (c *CheckChaser) GetMap(peer PeerID) (*Map, error) {
	result := make(chan *Map, 1)
	errc := make(chan error, 1)
	c.Post(func() {
		m, err := c.doGetMap(peer)
		result <- m
		errc <- err
	})
	m, err := <-result, <-errc
	return m, err
}

func (c *CheckChaser) doGetMap(peer PeerID) (*Map, error) {
	if existing, ok := c.outstanding[peer]; ok && !existing.Empty() {
		return existing, nil
	}

	if len(c.pending) > 0 {
		m := c.pending[0]
		c.pending = c.pending[1:]
		m.Owner = peer
		c.outstanding[peer] = m
		return m, nil
	}

	start := c.Position()
	top := c.topUnassociated()
	if start > top {
		return nil, ErrNoWork
	}
	end := start + query.Height(c.maximumConcurrency)
	if end > top+1 {
		end = top + 1
	}
	if end <= start {
		return nil, ErrNoWork
	}

	var links []query.HeaderLink
	var hashes []query.HeaderHash
	for h := start; h < end; h++ {
		link, ok := c.Query().ToCandidate(h)
		if !ok {
			break
		}
		header, ok := c.Query().GetHeader(link)
		if !ok {
			break
		}
		links = append(links, link)
		hashes = append(hashes, header.Hash())
	}
	if len(links) == 0 {
		return nil, ErrNoWork
	}
	c.SetPosition(start + query.Height(len(links)))

	m := &Map{Owner: peer, Links: links, Hashes: hashes}
	c.outstanding[peer] = m
	return m, nil
}

// PutMap returns unfetched entries to the pending deque in height order
// (spec.md §4.3 "put_map"), e.g. because the peer disconnected or
// abandoned the work.
func (c *CheckChaser) PutMap(peer PeerID, m *Map) {
	done := make(chan struct{})
	c.Post(func() {
		delete(c.outstanding, peer)
		if !m.Empty() {
			c.pending = append(c.pending, m)
			sort.SliceStable(c.pending, func(i, j int) bool {
				return c.pending[i].Links[0] < c.pending[j].Links[0]
			})
		}
		close(done)
	})
	<-done
}

// Update records peer throughput and runs outlier policing (spec.md §4.3
// "update" and "Outlier policing"). handler, if non-nil, is invoked once
// the measurement and any resulting split/stall notification has been
// posted, mirroring the async result_handler in the C++ signature.
func (c *CheckChaser) Update(peer PeerID, bytesPerSecond float64, handler func()) {
	c.Post(func() {
		c.doUpdate(peer, bytesPerSecond)
		if handler != nil {
			handler()
		}
	})
}

func (c *CheckChaser) doUpdate(peer PeerID, bytesPerSecond float64) {
	c.speeds[peer] = bytesPerSecond
	checkSpeedGauge.WithLabelValues(itoa(peer)).Set(bytesPerSecond)
	c.policeOutliers()
}

// Disconnect clears a peer's recorded speed, done on channel close
// (spec.md §4.3 "stored in a map cleared on disconnect").
func (c *CheckChaser) Disconnect(peer PeerID) {
	c.Post(func() {
		delete(c.speeds, peer)
		delete(c.outstanding, peer)
	})
}

// SlowestOutstanding finds the peer with outstanding work (a non-empty
// Map not yet put back) with the lowest recorded speed, for the
// outbound session's starvation protocol (spec.md §4.3 "Starvation
// protocol": "the outbound session finds the slowest peer with
// outstanding work and sends it split"). A peer with no recorded speed
// sample is treated as infinitely fast (never picked ahead of a peer with
// a measured, finite speed) since it has not yet been sampled as slow.
func (c *CheckChaser) SlowestOutstanding() (PeerID, bool) {
	result := make(chan PeerID, 1)
	found := make(chan bool, 1)
	c.Post(func() {
		p, ok := c.doSlowestOutstanding()
		result <- p
		found <- ok
	})
	return <-result, <-found
}

func (c *CheckChaser) doSlowestOutstanding() (PeerID, bool) {
	var slowest PeerID
	best := math.Inf(1)
	ok := false
	for peer, m := range c.outstanding {
		if m.Empty() {
			continue
		}
		speed, known := c.speeds[peer]
		if !known {
			speed = math.Inf(1)
		}
		if !ok || speed < best {
			slowest, best, ok = peer, speed, true
		}
	}
	return slowest, ok
}

// RateSummary is the chaser_check.hpp rate_summary equivalent, exposed for
// tests of the outlier-eviction scenario (spec.md §8 scenario 4).
type RateSummary struct {
	ActiveCount        int
	ArithmeticMean     float64
	StandardDeviation  float64
}

// Rates computes the current sample mean/stddev synchronously; callers on
// the strand (tests, mainly) may call it directly.
func (c *CheckChaser) Rates() RateSummary {
	return rateSummary(c.speeds)
}

func rateSummary(speeds map[PeerID]float64) RateSummary {
	n := len(speeds)
	if n == 0 {
		return RateSummary{}
	}
	var sum float64
	finite := 0
	for _, s := range speeds {
		if math.IsInf(s, 1) {
			continue
		}
		sum += s
		finite++
	}
	if finite == 0 {
		return RateSummary{ActiveCount: n}
	}
	mean := sum / float64(finite)
	var variance float64
	for _, s := range speeds {
		if math.IsInf(s, 1) {
			continue
		}
		d := s - mean
		variance += d * d
	}
	variance /= float64(finite)
	return RateSummary{ActiveCount: n, ArithmeticMean: mean, StandardDeviation: math.Sqrt(variance)}
}

// policeOutliers implements spec.md §4.3's "Outlier policing": once at
// least minimumForStandardDeviation peers are active, any peer whose speed
// falls below mean - k*stddev is instructed to split (or, if its speed is
// exactly zero, evicted via Stall); a peer reporting +Inf (exhausted) is
// skipped for this cycle.
func (c *CheckChaser) policeOutliers() {
	if len(c.speeds) < minimumForStandardDeviation {
		return
	}
	summary := rateSummary(c.speeds)
	floor := summary.ArithmeticMean - c.allowedDeviation*summary.StandardDeviation

	for peer, speed := range c.speeds {
		switch {
		case speed == 0:
			c.Logger().Warn("peer stalled, evicting", "peer", peer)
			c.Notify(chase.Event{Tag: chase.Stall, Value: peer})
		case math.IsInf(speed, 1):
			continue
		case speed < floor:
			c.Logger().Info("peer slow relative to sample, splitting work",
				"peer", peer, "speed", speed, "floor", floor)
			c.Notify(chase.Event{Tag: chase.Split, Value: peer})
		}
	}
}

func itoa(v uint64) string {
	return strconv.FormatUint(v, 10)
}
