package chaser

import (
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/holiman/uint256"

	"github.com/libbitcoin/libbitcoin-node-sub001/chase"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/eventbus"
	"github.com/libbitcoin/libbitcoin-node-sub001/internal/query"
)

// Result is one of the organize-engine result codes of spec.md §4.2.
type Result uint8

const (
	ResultOrganized Result = iota
	ResultDuplicate
	ResultOrphan
	ResultInvalid
	ResultDisorganized
	ResultPending // strong check failed and not storable; left in tree
)

var (
	// ErrDuplicateHeader/Block and ErrOrphanHeader/Block are the organize
	// engine's policy-violation results (spec.md §7 "Policy violations").
	ErrDuplicateHeader = errors.New("organize: duplicate header")
	ErrDuplicateBlock  = errors.New("organize: duplicate block")
	ErrOrphanHeader    = errors.New("organize: orphan header")
	ErrOrphanBlock     = errors.New("organize: orphan block")
)

// Strategy supplies the entity-specific behavior the organize engine is
// templated over in the C++ original (chaser_organize<Block>): header-only
// acceptance for HeaderOrganizer, full block identity+context+script
// acceptance for BlockOrganizer. C is either a *query.Header or a
// *query.Block value.
type Strategy[C any] interface {
	// Header extracts the common header fields from candidate.
	Header(candidate C) *query.Header

	// Validate runs header-level (and, for blocks, identity/context/script)
	// checks. Below the milestone/checkpoint boundary only identity checks
	// run (spec.md §4.2 step 3).
	Validate(candidate C, ctx *query.Context, underMilestone bool) error

	// IsStorable reports whether ctx represents the top of a branch
	// eligible for storage (header organizer: always after validate
	// succeeds; block organizer additionally requires the body present).
	IsStorable(ctx *query.Context) bool

	// Archive persists candidate (Query.SetHeader or Query.SetBlock).
	Archive(q query.Query, candidate C, ctx *query.Context) (query.HeaderLink, error)

	// ChaseTag is the event tag announced on a successful reorganization
	// (chase.Headers for HeaderOrganizer, chase.Blocks for BlockOrganizer).
	ChaseTag() chase.Tag

	// DisorganizeTags are the downstream failure tags
	// (unchecked/unvalid/unconfirmable) that trigger do_disorganize.
	DisorganizeTags() []chase.Tag

	// DuplicateErr/OrphanErr distinguish header vs. block result codes.
	DuplicateErr() error
	OrphanErr() error
}

type treeEntry[C any] struct {
	candidate C
	header    *query.Header
	ctx       *query.Context
}

// Engine is the shared organize algorithm of spec.md §4.2, instantiated
// once for headers and once for blocks (header.go, block.go). It owns a
// private, un-shared tree of not-yet-committed entities (spec.md §9 "never
// share tree nodes across chasers").
type Engine[C any] struct {
	Base

	strategy        Strategy[C]
	tree            map[query.HeaderHash]treeEntry[C]
	checkpoints     map[query.Height]query.HeaderHash
	milestoneHeight query.Height
	milestoneHash   query.HeaderHash
	hasMilestone    bool

	// knownHashes mirrors the set of hashes currently cached in tree, kept
	// as a golang-set for O(1) membership checks used by fork-walk
	// short-circuiting and by tests asserting "tree empty" postconditions.
	knownHashes mapset.Set[query.HeaderHash]
}

// NewEngine constructs an Engine bound to strategy. checkpoints and
// milestone follow spec.md §6's configuration surface.
func NewEngine[C any](name string, node Node, strategy Strategy[C],
	checkpoints map[query.Height]query.HeaderHash, milestoneHeight query.Height,
	milestoneHash query.HeaderHash, hasMilestone bool,
) *Engine[C] {
	return &Engine[C]{
		Base:            NewBase(name, node),
		strategy:        strategy,
		tree:            make(map[query.HeaderHash]treeEntry[C]),
		checkpoints:     checkpoints,
		milestoneHeight: milestoneHeight,
		milestoneHash:   milestoneHash,
		hasMilestone:    hasMilestone,
		knownHashes:     mapset.NewThreadUnsafeSet[query.HeaderHash](),
	}
}

// Start subscribes to the downstream disorganize-trigger tags and launches
// the strand. Concrete organizers (HeaderOrganizer/BlockOrganizer) call
// this from their own Start.
func (e *Engine[C]) Start() error {
	tags := e.strategy.DisorganizeTags()
	e.Subscribe(func(ev chase.Event) eventbus.Disposition {
		link, ok := chase.LinkValue(ev.Value)
		if !ok {
			return eventbus.Continue
		}
		e.Post(func() { e.doDisorganize(query.HeaderLink(link)) })
		return eventbus.Continue
	}, tags...)
	e.Run()
	return nil
}

// TreeLen reports the number of not-yet-committed entries cached in the
// tree, used by tests to assert "tree empty" / "X headers remain in tree"
// postconditions (spec.md §8 scenarios 1 and 2).
func (e *Engine[C]) TreeLen() int {
	return len(e.tree)
}

// Organize runs the full algorithm of spec.md §4.2 synchronously on the
// calling goroutine; callers (protocol handlers) are expected to invoke it
// via Post when strand-exclusivity matters, exactly as the C++ organize()
// is bound to the chaser's own strand.
func (e *Engine[C]) Organize(candidate C) (Result, error) {
	header := e.strategy.Header(candidate)
	hash := header.Hash()

	// Step 1: duplicate check.
	if state, ok := e.Query().GetStateByHash(hash); ok {
		if state == query.Unconfirmable {
			return ResultInvalid, fmt.Errorf("%w: previously marked unconfirmable", e.strategy.OrphanErr())
		}
		return ResultDuplicate, e.strategy.DuplicateErr()
	}
	if _, ok := e.tree[hash]; ok {
		return ResultDuplicate, e.strategy.DuplicateErr()
	}

	// Step 2: parent lookup.
	parentCtx, parentHeight, found := e.parentContext(header.PrevHash)
	if !found {
		return ResultOrphan, e.strategy.OrphanErr()
	}

	height := parentHeight + 1
	under := e.isUnderMilestone(height)

	// Step 3: validate.
	ctx := &query.Context{
		Height:          height,
		MedianTimePast:  parentCtx.MedianTimePast,
		MinBlockVersion: parentCtx.MinBlockVersion,
		WorkRequired:    query.Work(header.Bits),
	}
	if err := e.strategy.Validate(candidate, ctx, under); err != nil {
		return ResultInvalid, err
	}

	// Step 4: tree insert.
	e.tree[hash] = treeEntry[C]{candidate: candidate, header: header, ctx: ctx}
	e.knownHashes.Add(hash)

	// Step 5: fork choice.
	branchWork, branchPoint, branchHashes := e.branchWork(hash)
	candidateWork, err := e.chainWorkAbove(branchPoint)
	if err != nil {
		e.Fault(err)
		return ResultPending, err
	}

	strong := branchWork.Cmp(candidateWork) > 0
	if !strong {
		if !e.strategy.IsStorable(ctx) {
			return ResultPending, nil
		}
	}

	// Step 6: reorganize candidate.
	if err := e.reorganize(branchPoint, branchHashes); err != nil {
		e.Fault(err)
		return ResultPending, err
	}

	e.Notify(chase.Event{Tag: e.strategy.ChaseTag(), Value: branchPoint})
	return ResultOrganized, nil
}

// parentContext resolves the chain_state of the header identified by
// prevHash from, in order: the candidate chain tip, the tree, or any
// archived height (spec.md §4.2 step 2).
func (e *Engine[C]) parentContext(prevHash query.HeaderHash) (*query.Context, query.Height, bool) {
	var zero query.HeaderHash
	if prevHash == zero {
		// Genesis: synthesize a virtual "height -1" ancestor context.
		return &query.Context{Height: ^query.Height(0), WorkRequired: uint256.NewInt(0)}, ^query.Height(0), true
	}

	if topLink, topHeight := e.Query().TopCandidate(); topLink != query.NoLink {
		if top, ok := e.Query().GetHeader(topLink); ok && top.Hash() == prevHash {
			if ctx, ok := e.Query().GetContext(topLink); ok {
				return ctx, topHeight, true
			}
		}
	}

	if entry, ok := e.tree[prevHash]; ok {
		return entry.ctx, entry.ctx.Height, true
	}

	if link, ok := e.Query().ToHeader(prevHash); ok {
		if ctx, ok := e.Query().GetContext(link); ok {
			return ctx, ctx.Height, true
		}
	}

	return nil, 0, false
}

// branchWork walks the tree from tipHash back to the nearest ancestor
// already present in the candidate chain (the branch point), summing work
// along the way (spec.md §4.2 step 5).
func (e *Engine[C]) branchWork(tipHash query.HeaderHash) (*uint256.Int, query.Height, []query.HeaderHash) {
	work := uint256.NewInt(0)
	var hashes []query.HeaderHash

	hash := tipHash
	for {
		entry, inTree := e.tree[hash]
		if !inTree {
			// hash is either the candidate tip (branch point) or genesis.
			if link, ok := e.Query().ToHeader(hash); ok {
				if ctx, ok := e.Query().GetContext(link); ok {
					return work, ctx.Height, reverse(hashes)
				}
			}
			return work, 0, reverse(hashes)
		}
		work = new(uint256.Int).Add(work, entry.ctx.WorkRequired)
		hashes = append(hashes, hash)
		hash = entry.header.PrevHash
	}
}

func reverse(hashes []query.HeaderHash) []query.HeaderHash {
	for i, j := 0, len(hashes)-1; i < j; i, j = i+1, j-1 {
		hashes[i], hashes[j] = hashes[j], hashes[i]
	}
	return hashes
}

// chainWorkAbove sums the candidate chain's work above branchPoint.
func (e *Engine[C]) chainWorkAbove(branchPoint query.Height) (*uint256.Int, error) {
	work := uint256.NewInt(0)
	_, top := e.Query().TopCandidate()
	if e.isEmptyChain() {
		return work, nil
	}
	for h := branchPoint + 1; h <= top; h++ {
		link, ok := e.Query().ToCandidate(h)
		if !ok {
			break
		}
		ctx, ok := e.Query().GetContext(link)
		if !ok {
			return nil, fmt.Errorf("organize: missing context for candidate height %d", h)
		}
		work = new(uint256.Int).Add(work, ctx.WorkRequired)
	}
	return work, nil
}

func (e *Engine[C]) isEmptyChain() bool {
	link, _ := e.Query().TopCandidate()
	return link == query.NoLink
}

// reorganize pops the candidate chain down to branchPoint (publishing one
// `regressed(branchPoint)` event if anything was popped, spec.md §4.2 step
// 6) then drains the branch (tip-to-branch-point order reversed to
// branch-point-to-tip) into storage and onto the candidate chain.
func (e *Engine[C]) reorganize(branchPoint query.Height, branchHashes []query.HeaderHash) error {
	if !e.isEmptyChain() {
		regressed := false
		for {
			_, top := e.Query().TopCandidate()
			if top <= branchPoint {
				break
			}
			if _, err := e.Query().PopCandidate(); err != nil {
				return err
			}
			regressed = true
		}
		if regressed {
			e.Notify(chase.Event{Tag: chase.Regressed, Value: branchPoint})
		}
	}

	for _, hash := range branchHashes {
		entry, ok := e.tree[hash]
		if !ok {
			return fmt.Errorf("organize: branch hash missing from tree")
		}
		link, err := e.strategy.Archive(e.Query(), entry.candidate, entry.ctx)
		if err != nil {
			return err
		}
		if err := e.Query().PushCandidate(link); err != nil {
			return err
		}
		delete(e.tree, hash)
		e.knownHashes.Remove(hash)
	}
	return nil
}

// isUnderMilestone reports whether height is covered by the configured
// milestone or any checkpoint (spec.md §4.2 step 3, §9 "Milestone").
func (e *Engine[C]) isUnderMilestone(height query.Height) bool {
	if e.hasMilestone && height <= e.milestoneHeight {
		return true
	}
	if _, ok := e.checkpoints[height]; ok {
		return true
	}
	for h := range e.checkpoints {
		if height <= h {
			return true
		}
	}
	return false
}

// doDisorganize implements spec.md §4.2 step 7: mark link unconfirmable,
// find the highest still-valid ancestor, pop the candidate chain back to
// it, and publish disorganized(fork point).
func (e *Engine[C]) doDisorganize(link query.HeaderLink) {
	if err := e.Query().SetBlockUnconfirmable(link); err != nil {
		e.Fault(err)
		return
	}

	header, ok := e.Query().GetHeader(link)
	if !ok {
		e.Fault(fmt.Errorf("organize: missing header for link %d", link))
		return
	}
	ctx, ok := e.Query().GetContext(link)
	if !ok {
		e.Fault(fmt.Errorf("organize: missing context for link %d", link))
		return
	}
	_ = header

	forkPoint := ctx.Height
	if forkPoint > 0 {
		forkPoint--
	}

	regressed := false
	for {
		_, top := e.Query().TopCandidate()
		if e.isEmptyChain() || top <= forkPoint {
			break
		}
		if _, err := e.Query().PopCandidate(); err != nil {
			e.Fault(err)
			return
		}
		regressed = true
	}
	if regressed {
		e.Notify(chase.Event{Tag: chase.Regressed, Value: forkPoint})
	}

	e.Notify(chase.Event{Tag: chase.Disorganized, Value: forkPoint})
}
