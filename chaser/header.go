package chaser

import (
	"github.com/libbitcoin/libbitcoin-node-sub001/chase"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/query"
)

// headerStrategy implements Strategy[*query.Header] for the
// HeaderOrganizer (spec.md §2: "accepts announced headers, maintains
// header tree, decides fork choice on header work"). Grounded on
// original_source/include/bitcoin/node/chasers/chaser_organize.hpp
// instantiated over a header-only Block type.
type headerStrategy struct{}

func (headerStrategy) Header(h *query.Header) *query.Header { return h }

func (headerStrategy) Validate(h *query.Header, ctx *query.Context, underMilestone bool) error {
	// Header-level checks always run; full acceptance (script connect) is
	// a block-organizer concern (spec.md §4.2 step 3). The one header-level
	// rule retained here rejects bits that yield zero work; the header hash
	// is not compared against the target. Consensus rule enumeration beyond
	// this is a stated Non-goal (§1).
	if ctx.WorkRequired.IsZero() {
		return chase.ErrInvalidHeader
	}
	return nil
}

func (headerStrategy) IsStorable(*query.Context) bool { return true }

func (headerStrategy) Archive(q query.Query, h *query.Header, ctx *query.Context) (query.HeaderLink, error) {
	return q.SetHeader(h, ctx)
}

func (headerStrategy) ChaseTag() chase.Tag { return chase.Headers }

func (headerStrategy) DisorganizeTags() []chase.Tag { return nil }

func (headerStrategy) DuplicateErr() error { return ErrDuplicateHeader }
func (headerStrategy) OrphanErr() error    { return ErrOrphanHeader }

// HeaderOrganizer is the chaser.hpp "chaser_header" equivalent: organize
// engine instantiated over bare headers.
type HeaderOrganizer struct {
	*Engine[*query.Header]
}

// NewHeaderOrganizer constructs a HeaderOrganizer bound to the given
// checkpoint/milestone configuration (spec.md §6).
func NewHeaderOrganizer(node Node, checkpoints map[query.Height]query.HeaderHash,
	milestoneHeight query.Height, milestoneHash query.HeaderHash, hasMilestone bool,
) *HeaderOrganizer {
	return &HeaderOrganizer{
		Engine: NewEngine[*query.Header]("header_organize", node, headerStrategy{},
			checkpoints, milestoneHeight, milestoneHash, hasMilestone),
	}
}
