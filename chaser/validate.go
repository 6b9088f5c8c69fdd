package chaser

import (
	"github.com/libbitcoin/libbitcoin-node-sub001/chase"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/eventbus"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/query"
)

// ValidateChaser validates checked blocks in candidate order (spec.md
// §4.4). Grounded on
// original_source/include/bitcoin/node/chasers/chaser_validate.hpp.
type ValidateChaser struct {
	Base

	maximumBacklog int
	checkpointTop  query.Height
	milestoneTop   query.Height
	hasMilestone   bool

	backlog int
	full    atomicBool
}

// NewValidateChaser constructs a ValidateChaser. maximumBacklog bounds the
// number of in-flight validations (config.MaximumBacklog); checkpointTop/
// milestoneTop/hasMilestone gate the identity-only fast path below which
// the chaser simply advances its position (spec.md §4.4).
func NewValidateChaser(node Node, maximumBacklog int, checkpointTop, milestoneTop query.Height, hasMilestone bool) *ValidateChaser {
	return &ValidateChaser{
		Base:           NewBase("validate", node),
		maximumBacklog: maximumBacklog,
		checkpointTop:  checkpointTop,
		milestoneTop:   milestoneTop,
		hasMilestone:   hasMilestone,
	}
}

func (v *ValidateChaser) Start() error {
	v.Subscribe(func(ev chase.Event) eventbus.Disposition {
		switch ev.Tag {
		case chase.Start, chase.Bump:
			if h, ok := chase.HeightValue(ev.Value); ok {
				v.Post(func() { v.doBump(h) })
			}
		case chase.Checked:
			if h, ok := chase.HeightValue(ev.Value); ok {
				v.Post(func() { v.doChecked(h) })
			}
		case chase.Regressed, chase.Disorganized:
			if h, ok := chase.HeightValue(ev.Value); ok {
				v.Post(func() { v.doRegressed(h) })
			}
		}
		return eventbus.Continue
	}, chase.Start, chase.Bump, chase.Checked, chase.Regressed, chase.Disorganized)

	v.Run()
	return nil
}

func (v *ValidateChaser) doBump(height query.Height) { v.SetPosition(height) }

func (v *ValidateChaser) doRegressed(branchPoint query.Height) {
	if branchPoint < v.Position() {
		v.SetPosition(branchPoint)
	}
	v.backlog = 0
	v.full.Set(false)
}

// isUnderBoundary reports whether height is at or below the
// milestone/checkpoint boundary, below which only position advancement
// (no script/context validation) occurs (spec.md §4.4).
func (v *ValidateChaser) isUnderBoundary(height query.Height) bool {
	if v.hasMilestone && height <= v.milestoneTop {
		return true
	}
	return height <= v.checkpointTop
}

// doChecked consumes checked(height) in candidate order, validating every
// newly checked, body-present HeaderLink from the current position up to
// height (spec.md §4.4).
func (v *ValidateChaser) doChecked(height query.Height) {
	if !v.unfilled() {
		v.full.Set(true)
		return
	}

	for h := v.Position(); h <= height; h++ {
		link, ok := v.Query().ToCandidate(h)
		if !ok {
			break
		}
		state, ok := v.Query().GetState(link)
		if !ok || state != query.Checked {
			break
		}

		if v.isUnderBoundary(h) {
			v.Notify(chase.Event{Tag: chase.Valid, Value: h})
			v.SetPosition(h + 1)
			continue
		}

		v.backlog++
		v.validateBlock(link, h)
	}
}

func (v *ValidateChaser) unfilled() bool {
	return v.backlog < v.maximumBacklog
}

// validateBlock runs full context+script validation (spec.md §4.4 steps
// 1-4). Script evaluation semantics are a stated Non-goal (spec.md §1);
// the structural stand-in below mirrors chaser_validate's shape
// (populate prevouts, run checks, commit result, publish event) without
// claiming consensus-rule completeness.
func (v *ValidateChaser) validateBlock(link query.HeaderLink, height query.Height) {
	block, ok := v.Query().GetBlock(link, false)
	if !ok {
		v.completeBlock(chase.ErrInvalidBlock, link, height)
		return
	}

	if err := v.Query().SetFilterBody(link, block); err != nil {
		v.Fault(err)
		return
	}
	if err := v.Query().SetPrevouts(link, block); err != nil {
		v.Fault(err)
		return
	}

	var fees uint64
	for _, tx := range block.Transactions {
		fees += tx.Fee
	}

	if err := v.Query().SetBlockValid(link, fees); err != nil {
		v.Fault(err)
		return
	}
	v.completeBlock(nil, link, height)
}

func (v *ValidateChaser) completeBlock(err error, link query.HeaderLink, height query.Height) {
	v.backlog--
	if v.backlog < 0 {
		v.backlog = 0
	}
	if err != nil {
		if qerr := v.Query().SetBlockUnconfirmable(link); qerr != nil {
			v.Fault(qerr)
			return
		}
		v.Notify(chase.Event{Tag: chase.Unvalid, Value: uint64(link)})
		return
	}
	v.SetPosition(height + 1)
	v.Notify(chase.Event{Tag: chase.Valid, Value: height})
	if v.full.Get() && v.unfilled() {
		v.full.Set(false)
		v.Post(func() { v.doChecked(height) })
	}
}
