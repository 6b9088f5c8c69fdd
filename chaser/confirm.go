package chaser

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/libbitcoin/libbitcoin-node-sub001/chase"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/eventbus"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/query"
)

// ConfirmChaser computes fork work and commits reorganization of the
// confirmed chain (spec.md §4.5). Grounded on
// original_source/include/bitcoin/node/chasers/chaser_confirm.hpp.
type ConfirmChaser struct {
	Base
}

// NewConfirmChaser constructs a ConfirmChaser.
func NewConfirmChaser(node Node) *ConfirmChaser {
	return &ConfirmChaser{Base: NewBase("confirm", node)}
}

func (cc *ConfirmChaser) Start() error {
	cc.Subscribe(func(ev chase.Event) eventbus.Disposition {
		switch ev.Tag {
		case chase.Start, chase.Bump:
			if h, ok := chase.HeightValue(ev.Value); ok {
				cc.Post(func() { cc.doBump(h) })
			}
		case chase.Valid:
			if h, ok := chase.HeightValue(ev.Value); ok {
				cc.Post(func() { cc.doValid(h) })
			}
		case chase.Regressed, chase.Disorganized:
			if h, ok := chase.HeightValue(ev.Value); ok {
				cc.Post(func() { cc.doRegressed(h) })
			}
		}
		return eventbus.Continue
	}, chase.Start, chase.Bump, chase.Valid, chase.Regressed, chase.Disorganized)

	cc.Run()
	return nil
}

func (cc *ConfirmChaser) doBump(height query.Height) { cc.SetPosition(height) }

func (cc *ConfirmChaser) doRegressed(branchPoint query.Height) {
	if branchPoint < cc.Position() {
		cc.SetPosition(branchPoint)
	}
}

// doValid consumes valid(height) and attempts to extend/reorganize the
// confirmed chain (spec.md §4.5 steps 1-4).
func (cc *ConfirmChaser) doValid(height query.Height) {
	_, confirmedTop := cc.Query().TopConfirmed()
	branchPoint := cc.branchPoint(confirmedTop)

	fork, forkWork, err := cc.forkAbove(branchPoint, height)
	if err != nil {
		cc.Fault(err)
		return
	}

	confirmedWork, err := cc.confirmedWorkAbove(branchPoint, confirmedTop)
	if err != nil {
		cc.Fault(err)
		return
	}

	if forkWork.Cmp(confirmedWork) <= 0 {
		return // step 2: candidate suffix does not strictly exceed
	}

	lock := cc.Query().ReorganizationLock()
	lock.Lock()
	defer lock.Unlock()

	if err := cc.reorganize(fork, branchPoint, confirmedTop); err != nil {
		// step 4: mid-roll failure is fatal. Any links already pushed (or
		// not yet popped) above branchPoint are popped so the confirmed top
		// equals branchPoint again, then the node is faulted.
		for {
			_, top := cc.Query().TopConfirmed()
			if top <= branchPoint {
				break
			}
			if _, perr := cc.Query().PopConfirmed(); perr != nil {
				break
			}
		}
		cc.Fault(fmt.Errorf("confirm: reorganization failed: %w", err))
		return
	}
}

// branchPoint finds the highest height at or below confirmedTop that is
// shared between the candidate and confirmed chains.
func (cc *ConfirmChaser) branchPoint(confirmedTop query.Height) query.Height {
	for h := confirmedTop; ; {
		confirmedLink, ok1 := cc.Query().ToConfirmed(h)
		candidateLink, ok2 := cc.Query().ToCandidate(h)
		if ok1 && ok2 && confirmedLink == candidateLink {
			return h
		}
		if h == 0 {
			return 0
		}
		h--
	}
}

// forkAbove collects the candidate-chain links above branchPoint through
// height and sums their work (spec.md §4.5 step 1).
func (cc *ConfirmChaser) forkAbove(branchPoint, height query.Height) ([]query.HeaderLink, *uint256.Int, error) {
	work := uint256.NewInt(0)
	var fork []query.HeaderLink
	for h := branchPoint + 1; h <= height; h++ {
		link, ok := cc.Query().ToCandidate(h)
		if !ok {
			return nil, nil, fmt.Errorf("confirm: missing candidate at height %d", h)
		}
		ctx, ok := cc.Query().GetContext(link)
		if !ok {
			return nil, nil, fmt.Errorf("confirm: missing context at height %d", h)
		}
		work = new(uint256.Int).Add(work, ctx.WorkRequired)
		fork = append(fork, link)
	}
	return fork, work, nil
}

// confirmedWorkAbove sums the confirmed chain's existing suffix work above
// branchPoint, the comparison baseline for step 2.
func (cc *ConfirmChaser) confirmedWorkAbove(branchPoint, confirmedTop query.Height) (*uint256.Int, error) {
	work := uint256.NewInt(0)
	if confirmedTop <= branchPoint {
		return work, nil
	}
	for h := branchPoint + 1; h <= confirmedTop; h++ {
		link, ok := cc.Query().ToConfirmed(h)
		if !ok {
			return nil, fmt.Errorf("confirm: missing confirmed at height %d", h)
		}
		ctx, ok := cc.Query().GetContext(link)
		if !ok {
			return nil, fmt.Errorf("confirm: missing context at height %d", h)
		}
		work = new(uint256.Int).Add(work, ctx.WorkRequired)
	}
	return work, nil
}

// reorganize performs the pop-then-push sequence of spec.md §4.5 step 3
// under the caller-held reorganization lock.
func (cc *ConfirmChaser) reorganize(fork []query.HeaderLink, branchPoint, confirmedTop query.Height) error {
	for h := confirmedTop; h > branchPoint; h-- {
		popped, err := cc.Query().PopConfirmed()
		if err != nil {
			return err
		}
		cc.Notify(chase.Event{Tag: chase.Reorganized, Value: uint64(popped)})
	}

	for _, link := range fork {
		state, ok := cc.Query().GetState(link)
		if !ok {
			return fmt.Errorf("confirm: missing state for link %d", link)
		}
		if state == query.Valid {
			if err := cc.Query().SetBlockConfirmable(link, 0); err != nil {
				return err
			}
			cc.Notify(chase.Event{Tag: chase.Confirmable, Value: uint64(link)})
		}
		if err := cc.Query().PushConfirmed(link); err != nil {
			return err
		}
		cc.Notify(chase.Event{Tag: chase.Organized, Value: uint64(link)})
	}
	return nil
}
