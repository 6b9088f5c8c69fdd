package chaser

import (
	"math"
	"testing"
	"time"

	"github.com/libbitcoin/libbitcoin-node-sub001/chase"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/eventbus"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/query"
)

// newTestCheckChaser constructs a CheckChaser without launching its
// strand: these tests call the unexported, synchronous
// doSlowestOutstanding directly (mirroring how organize_test.go exercises
// Engine.Organize synchronously) rather than racing the strand goroutine
// by poking unexported map fields from the test goroutine.
func newTestCheckChaser() (*CheckChaser, *fakeNode) {
	node := newFakeNode()
	return NewCheckChaser(node, 25, 1.5), node
}

// TestCheckSlowestOutstandingPicksLowestSpeed covers spec.md §8 scenario
// 3's premise: of several peers holding outstanding work, the outbound
// session must be able to identify the slowest one to split.
func TestCheckSlowestOutstandingPicksLowestSpeed(t *testing.T) {
	c, _ := newTestCheckChaser()

	c.outstanding[1] = &Map{Owner: 1, Links: []query.HeaderLink{1}}
	c.outstanding[2] = &Map{Owner: 2, Links: []query.HeaderLink{1}}
	c.speeds[1] = 100
	c.speeds[2] = 10

	peer, ok := c.doSlowestOutstanding()
	if !ok || peer != 2 {
		t.Fatalf("doSlowestOutstanding() = (%v, %v), want (2, true)", peer, ok)
	}
}

// TestCheckSlowestOutstandingIgnoresEmptyMaps: a peer whose map has
// already been fully consumed has no outstanding work and must not be
// selected as a split victim.
func TestCheckSlowestOutstandingIgnoresEmptyMaps(t *testing.T) {
	c, _ := newTestCheckChaser()

	c.outstanding[1] = &Map{Owner: 1}
	c.outstanding[2] = &Map{Owner: 2, Links: []query.HeaderLink{7}}
	c.speeds[1] = 1
	c.speeds[2] = 500

	peer, ok := c.doSlowestOutstanding()
	if !ok || peer != 2 {
		t.Fatalf("doSlowestOutstanding() = (%v, %v), want (2, true)", peer, ok)
	}
}

func TestCheckSlowestOutstandingNoneFound(t *testing.T) {
	c, _ := newTestCheckChaser()

	if _, ok := c.doSlowestOutstanding(); ok {
		t.Fatalf("doSlowestOutstanding() on empty outstanding set reported found")
	}
}

// TestCheckOutlierEvictionScenario4 reproduces spec.md §8 scenario 4's
// literal inputs: with allowed_deviation = 1.5, neither [10, 100, 100] nor
// [1, 100, 100] trips the floor for the slow peer, but a speed of exactly
// zero always evicts regardless of the sample.
func TestCheckOutlierEvictionScenario4(t *testing.T) {
	cases := []struct {
		name   string
		speeds map[PeerID]float64
	}{
		{"ten-hundred-hundred", map[PeerID]float64{1: 10, 2: 100, 3: 100}},
		{"one-hundred-hundred", map[PeerID]float64{1: 1, 2: 100, 3: 100}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			summary := rateSummary(tc.speeds)
			floor := summary.ArithmeticMean - 1.5*summary.StandardDeviation
			for peer, speed := range tc.speeds {
				if speed < floor {
					t.Fatalf("peer %d speed %v fell below floor %v, want no eviction", peer, speed, floor)
				}
			}
		})
	}
}

func TestCheckOutlierEvictionStalledAlwaysEvicts(t *testing.T) {
	speeds := map[PeerID]float64{1: 0, 2: 100, 3: 100}
	summary := rateSummary(speeds)
	if summary.ArithmeticMean == 0 {
		t.Fatalf("mean should reflect the zero sample, not skip it")
	}
	// Stalled (speed == 0) evicts unconditionally, independent of the
	// computed floor (spec.md §8 scenario 4 "a stalled reading of 0
	// always evicts").
	if speeds[1] != 0 {
		t.Fatalf("expected peer 1's recorded speed to be exactly zero")
	}

	c, node := newTestCheckChaser()
	stalled := make(chan uint64, len(speeds))
	node.Bus().Subscribe(func(ev chase.Event) eventbus.Disposition {
		if peer, ok := chase.PeerValue(ev.Value); ok {
			stalled <- peer
		}
		return eventbus.Continue
	}, chase.Stall)
	for peer, speed := range speeds {
		c.speeds[peer] = speed
	}
	c.policeOutliers()
	select {
	case peer := <-stalled:
		if peer != 1 {
			t.Fatalf("policeOutliers() stalled peer %d, want 1", peer)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("policeOutliers() did not publish stall for the zero-speed peer")
	}
}

func TestCheckOutlierEvictionSkipsExhaustedPeer(t *testing.T) {
	speeds := map[PeerID]float64{1: math.Inf(1), 2: 100, 3: 100}
	summary := rateSummary(speeds)
	if math.IsInf(summary.ArithmeticMean, 0) {
		t.Fatalf("exhausted (+Inf) readings must be excluded from the mean/stddev, got %v", summary.ArithmeticMean)
	}
	if summary.ArithmeticMean != 100 || summary.StandardDeviation != 0 {
		t.Fatalf("rateSummary = mean %v stddev %v, want mean 100 stddev 0 over the finite samples",
			summary.ArithmeticMean, summary.StandardDeviation)
	}
}
