package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/delaneyj/hmrcore/hotapi"
	"github.com/delaneyj/hmrcore/instance"
	"github.com/delaneyj/hmrcore/traversal"
)

// UpdateStatus is one of the exact status tags the hot-reload algorithm
// can report to a caller of RequestUpdate.
type UpdateStatus string

const (
	StatusSuccess              UpdateStatus = "success"
	StatusDeclined             UpdateStatus = "declined"
	StatusEvaluationError      UpdateStatus = "evaluationError"
	StatusLinkError            UpdateStatus = "linkError"
	StatusFatalError           UpdateStatus = "fatalError"
	StatusUnaccepted           UpdateStatus = "unaccepted"
	StatusUnacceptedEvaluation UpdateStatus = "unacceptedEvaluation"
)

// UpdateResult is requestUpdate's outcome. A nil *UpdateResult with a nil
// error is the "nothing to do" no-op case from the failure table.
type UpdateResult struct {
	Status   UpdateStatus
	Declined []string
	Chain    *InvalidationChain
	Err      error

	Loads         int
	Reevaluations int
}

// InvalidationChain is the human-readable tree built when an update
// reaches the root unaccepted: one node list per SCC, nested by which
// SCC's invalidation forced the next. A Repeat node marks an SCC whose
// chain is already embedded under an earlier sibling in the same tree
// (a shared descendant in a diamond); it carries the URLs but no children.
type InvalidationChain struct {
	URLs     []string
	Children []*InvalidationChain
	Repeat   bool
}

// phase1SCC is one SCC's dry-run acceptance result, folded bottom-up.
type phase1SCC struct {
	hasNewCode    bool
	invalidated   []*ReloadableModuleController
	declined      []*ReloadableModuleController
	needsDispatch bool
	chain         *InvalidationChain
}

// phase3SCC is one SCC's commit result, folded bottom-up.
type phase3SCC struct {
	treeDidUpdate    bool
	newlyInvalidated []*ReloadableModuleController
}

// requestUpdate runs the four-phase hot-reload algorithm rooted at c.
func (c *ReloadableModuleController) requestUpdate(ctx context.Context) (*UpdateResult, error) {
	// Phase 0 — sticky fatal.
	if c.fatalError != nil {
		return &UpdateResult{Status: StatusFatalError, Err: c.fatalError}, c.fatalError
	}
	c.lastLoads, c.lastReevaluations = 0, 0

	rootP1, visited, declined, err := c.phase1DryRun()
	if err != nil {
		return nil, err
	}
	if !rootP1.needsDispatch {
		clearPendingPrevious(visited)
		return nil, nil
	}
	if len(declined) > 0 {
		clearPendingPrevious(visited)
		specs := make([]string, 0, len(declined))
		for _, n := range declined {
			specs = append(specs, n.url)
		}
		return &UpdateResult{Status: StatusDeclined, Declined: specs}, nil
	}
	if len(rootP1.invalidated) > 0 {
		clearPendingPrevious(visited)
		return &UpdateResult{Status: StatusUnaccepted, Chain: rootP1.chain}, nil
	}

	globallyInvalidated := make(map[*ReloadableModuleController]bool)
	collectInvalidated(visited, globallyInvalidated)

	if rootP1.hasNewCode {
		if err := c.phase2LinkTest(globallyInvalidated); err != nil {
			clearPendingPrevious(visited)
			return &UpdateResult{Status: StatusLinkError, Err: err}, nil
		}
	}

	previousControllers := c.reachableCurrent()

	rootP3, err := c.phase3Commit(ctx, globallyInvalidated)
	if err != nil {
		var fatal *fatalFailure
		if errors.As(err, &fatal) {
			c.fatalError = fatal
			return &UpdateResult{Status: StatusFatalError, Err: fatal}, fatal
		}
		c.phase3Rollback(visited)
		var linkFail *commitLinkFailure
		if errors.As(err, &linkFail) {
			return &UpdateResult{Status: StatusLinkError, Err: linkFail.err}, nil
		}
		var evalFail *commitEvalFailure
		if errors.As(err, &evalFail) {
			return &UpdateResult{Status: StatusEvaluationError, Err: evalFail.err}, nil
		}
		return &UpdateResult{Status: StatusEvaluationError, Err: err}, nil
	}

	result := c.phase4Finalize(visited, previousControllers)
	if result != nil {
		return result, nil
	}

	if rootP3.treeDidUpdate && len(rootP3.newlyInvalidated) > 0 {
		return &UpdateResult{Status: StatusUnacceptedEvaluation, Loads: c.lastLoads, Reevaluations: c.lastReevaluations}, nil
	}
	return &UpdateResult{Status: StatusSuccess, Loads: c.lastLoads, Reevaluations: c.lastReevaluations}, nil
}

// phase1DryRun assigns pending/previous across the reachable graph and
// computes, SCC by SCC, which controllers need replacing.
func (c *ReloadableModuleController) phase1DryRun() (root *phase1SCC, visited []*ReloadableModuleController, declined []*ReloadableModuleController, err error) {
	chainTag, release := c.registry.visitAlloc.Acquire()
	defer release()

	w := traversal.Walk[*ReloadableModuleController, *phase1SCC]{
		Children: childrenFor(slotPending),
		Pre: func(n *ReloadableModuleController) {
			if n.staging != nil {
				n.pending = n.staging
			} else {
				n.pending = n.current
			}
			n.previous = n.current
			visited = append(visited, n)
		},
		Post: func(scc []*ReloadableModuleController, forward []*phase1SCC) (*phase1SCC, error) {
			var forwardUpdates []*ReloadableModuleController
			hasNewCodeAgg := false
			needsDispatchAgg := false
			var childChains []*InvalidationChain
			for _, f := range forward {
				forwardUpdates = append(forwardUpdates, f.invalidated...)
				if f.hasNewCode {
					hasNewCodeAgg = true
				}
				if f.needsDispatch {
					needsDispatchAgg = true
				}
				if len(f.invalidated) > 0 {
					// f.invalidated[0] stands in for its whole SCC: the
					// first sibling to reach it embeds the real subtree
					// and stamps it, any later sibling in this same
					// chain-formatting pass gets a repeat sentinel
					// instead of nesting the identical subtree again.
					rep := f.invalidated[0]
					if rep.chainStampedAt == chainTag {
						childChains = append(childChains, &InvalidationChain{URLs: f.chain.URLs, Repeat: true})
					} else {
						rep.chainStampedAt = chainTag
						childChains = append(childChains, f.chain)
					}
				}
			}

			hasNewCodeSCC := false
			for _, n := range scc {
				if n.previous != n.pending {
					hasNewCodeSCC = true
				}
			}

			changed := make(map[*ReloadableModuleController]bool, len(forwardUpdates))
			for _, n := range forwardUpdates {
				changed[n] = true
			}

			var sccInvalidated, sccDeclined []*ReloadableModuleController
			for _, n := range scc {
				handle := hotHandleOf(n.current)
				inv := hasNewCodeSCC || n.current == nil ||
					hotapi.IsInvalidated(handle) ||
					!hotapi.IsAccepted(handle, changedSpecifiers(n.pending, changed))
				if hotapi.IsAcceptedSelf(handle) {
					inv = false
				}
				if inv {
					sccInvalidated = append(sccInvalidated, n)
					if hotapi.IsDeclined(handle) {
						sccDeclined = append(sccDeclined, n)
					}
				}
			}
			declined = append(declined, sccDeclined...)

			needsDispatch := needsDispatchAgg || hasNewCodeSCC || len(sccInvalidated) > 0

			var chain *InvalidationChain
			if len(sccInvalidated) > 0 {
				urls := make([]string, len(scc))
				for i, n := range scc {
					urls[i] = n.url
				}
				chain = &InvalidationChain{URLs: urls, Children: childChains}
			}

			return &phase1SCC{
				hasNewCode:    hasNewCodeAgg || hasNewCodeSCC,
				invalidated:   sccInvalidated,
				declined:      sccDeclined,
				needsDispatch: needsDispatch,
				chain:         chain,
			}, nil
		},
	}
	root, err = w.Run(c)
	return root, visited, declined, err
}

// collectInvalidated marks every visited controller that has new code
// (pending differs from previous) or no current instance, the set phase 2
// link-tests and phase 3 replaces outright. Invalidation that phase 1
// propagated to importers is not in this set; phase 3 recomputes it from
// each SCC's forward updates.
func collectInvalidated(visited []*ReloadableModuleController, out map[*ReloadableModuleController]bool) {
	for _, n := range visited {
		if n.pending != n.previous || n.current == nil {
			out[n] = true
		}
	}
}

func clearPendingPrevious(visited []*ReloadableModuleController) {
	for _, n := range visited {
		n.pending = nil
		n.previous = nil
	}
}

// phase2LinkTest clones every invalidated controller's pending instance
// into temporary, instantiates it, and links it against the
// temporary-or-pending view — proving the new code links without
// running any user body. Everything it creates is unlinked and cleared
// before it returns, success or failure.
func (c *ReloadableModuleController) phase2LinkTest(invalidated map[*ReloadableModuleController]bool) error {
	var created []*instance.ReloadableModuleInstance
	var touched []*ReloadableModuleController
	defer func() {
		for _, inst := range created {
			inst.Unlink()
		}
		for _, n := range touched {
			n.temporary = nil
		}
	}()

	sel := selectorFor(slotTemporaryOrPending)
	w := traversal.Walk[*ReloadableModuleController, struct{}]{
		Children: childrenFor(slotPending),
		Post: func(scc []*ReloadableModuleController, _ []struct{}) (struct{}, error) {
			any := false
			for _, n := range scc {
				if invalidated[n] {
					any = true
				}
			}
			if !any {
				return struct{}{}, nil
			}
			for _, n := range scc {
				if n.pending == nil {
					continue
				}
				n.temporary = n.pending.Clone()
				n.temporary.Instantiate(nil)
				created = append(created, n.temporary)
				touched = append(touched, n)
			}
			for _, n := range scc {
				if n.temporary == nil {
					continue
				}
				if err := n.temporary.Link(sel); err != nil {
					return struct{}{}, err
				}
			}
			return struct{}{}, nil
		},
	}
	_, err := w.Run(c)
	return err
}

// phase3Commit replaces every invalidated controller's current instance,
// links and evaluates each SCC in dependency order, and runs
// tryAcceptSelf against each replaced member's predecessor handle to
// decide whether the update still needs to keep propagating upward.
func (c *ReloadableModuleController) phase3Commit(ctx context.Context, invalidated map[*ReloadableModuleController]bool) (*phase3SCC, error) {
	w := traversal.Walk[*ReloadableModuleController, *phase3SCC]{
		Children: childrenFor(slotPending),
		Post: func(scc []*ReloadableModuleController, forward []*phase3SCC) (*phase3SCC, error) {
			var forwardUpdates []*ReloadableModuleController
			treeDidUpdateAgg := false
			for _, f := range forward {
				forwardUpdates = append(forwardUpdates, f.newlyInvalidated...)
				if f.treeDidUpdate {
					treeDidUpdateAgg = true
				}
			}

			needsUpdate := false
			for _, n := range scc {
				if invalidated[n] || hotapi.IsInvalidated(hotHandleOf(n.current)) {
					needsUpdate = true
				}
			}

			if treeDidUpdateAgg {
				changed := make(map[*ReloadableModuleController]bool, len(forwardUpdates))
				for _, n := range forwardUpdates {
					changed[n] = true
				}
				sel := selectorFor(slotCurrent)
				for _, n := range scc {
					if n.current == nil || invalidated[n] {
						continue
					}
					if err := n.current.Relink(sel); err != nil {
						return nil, &commitLinkFailure{err}
					}
					specs := changedSpecifiers(n.current, changed)
					handle := hotHandleOf(n.current)
					// A bare self-accept does not count as having
					// specifically handled a changed dependency: it
					// commits to re-evaluating itself instead, which is
					// exactly the needsUpdate path below.
					if !hotapi.IsPreciselyAccepted(handle, specs) || !hotapi.TryAccept(handle, specs) {
						needsUpdate = true
					}
				}
			}

			if !needsUpdate {
				for _, n := range scc {
					if n.pending != nil {
						n.current = n.pending
					}
					n.pending = nil
				}
				return &phase3SCC{treeDidUpdate: treeDidUpdateAgg}, nil
			}

			return c.commitSCC(ctx, scc)
		},
	}
	return w.Run(c)
}

// commitSCC runs steps 3–7 of phase 3 for one SCC that genuinely needs
// replacing: dispose the old instances, allocate/clone their
// successors, link and evaluate the SCC, roll back on a throw, then
// decide each replaced member's tryAcceptSelf outcome.
func (c *ReloadableModuleController) commitSCC(ctx context.Context, scc []*ReloadableModuleController) (*phase3SCC, error) {
	for _, n := range scc {
		var carry any
		if n.current != nil {
			data, err := safeDispose(n.current)
			if err != nil {
				return nil, &fatalFailure{err}
			}
			carry = data
		}
		switch {
		case n.current != nil && n.current == n.pending:
			n.current = n.current.Clone()
		case n.pending != nil:
			n.current = n.pending
		case n.current != nil:
			n.current = n.current.Clone()
		}
		n.current.Instantiate(carry)
	}

	sel := selectorFor(slotCurrent)
	for _, n := range scc {
		if err := n.current.Link(sel); err != nil {
			restoreCurrentFromPrevious(scc)
			return nil, &commitLinkFailure{err}
		}
	}

	for _, n := range scc {
		if err := n.current.Evaluate(ctx, n.dynamicImport); err != nil {
			restoreCurrentFromPrevious(scc)
			return nil, &commitEvalFailure{err}
		}
	}

	var newlyInvalidated []*ReloadableModuleController
	for _, n := range scc {
		if n.previous != nil {
			if n.previous.Declaration() == n.current.Declaration() {
				c.lastReevaluations++
			} else {
				c.lastLoads++
			}
			ns := n.current.ModuleNamespace()
			if !hotapi.TryAcceptSelf(hotHandleOf(n.previous), func() any { return ns }) {
				newlyInvalidated = append(newlyInvalidated, n)
			}
		} else {
			c.lastLoads++
		}
		n.pending = nil
	}

	return &phase3SCC{treeDidUpdate: true, newlyInvalidated: newlyInvalidated}, nil
}

// restoreCurrentFromPrevious undoes commitSCC's dispose/instantiate step
// for every member of scc, whether or not it reached Link or Evaluate: all
// of them had current reassigned to an unevaluated candidate before either
// loop ran, so a failure partway through must hand every member back its
// pre-update instance, not just the ones that got there first.
func restoreCurrentFromPrevious(scc []*ReloadableModuleController) {
	for _, n := range scc {
		if n.previous != nil {
			n.current = n.previous
		}
	}
}

// safeDispose runs dispose on inst's predecessor handle, converting a
// user panic into an error instead of letting it unwind into the
// traversal — dispose/prune failures are always fatal, but the
// controller still needs a clean Go error to classify rather than a
// bare panic.
func safeDispose(inst *instance.ReloadableModuleInstance) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispose: panic: %v", r)
		}
	}()
	data = hotapi.Dispose(hotHandleOf(inst), inst.HotData())
	return data, nil
}

// phase3Rollback restores consistent link state after an evaluation or
// commit-link failure: any surviving pending instances are unlinked and
// every current instance is relinked.
func (c *ReloadableModuleController) phase3Rollback(visited []*ReloadableModuleController) {
	sel := selectorFor(slotCurrent)
	for _, n := range visited {
		if n.pending != nil && n.pending != n.current {
			n.pending.Unlink()
		}
		n.pending = nil
		if n.current != nil {
			_ = n.current.Relink(sel)
		}
		n.previous = nil
	}
}

// reachableCurrent walks the graph exactly as it stands via current —
// phases 1 and 2 leave current alone, and this runs before phase 3
// replaces anything — so phase4Finalize has something to diff against that reflects what was
// actually loaded before this update, not just what the new code reaches.
// A module whose new code drops an import no longer appears in the
// pending-based traversal at all, so previousControllers has to come from
// here rather than from phase1DryRun's visited list.
func (c *ReloadableModuleController) reachableCurrent() map[*ReloadableModuleController]bool {
	reachable := make(map[*ReloadableModuleController]bool)
	w := traversal.Walk[*ReloadableModuleController, struct{}]{
		Children: childrenFor(slotCurrent),
		Pre: func(n *ReloadableModuleController) {
			if n.current != nil {
				reachable[n] = true
			}
		},
		Post: func(scc []*ReloadableModuleController, _ []struct{}) (struct{}, error) { return struct{}{}, nil },
	}
	_, _ = w.Run(c)
	return reachable
}

// phase4Finalize computes the post-update reachable set, clears every
// node's previous, and prunes every controller that dropped out of the
// graph — cloning its current back into staging so a later re-import
// can revive it. A prune failure is sticky fatal and short-circuits the
// rest of finalize, matching the failure table.
func (c *ReloadableModuleController) phase4Finalize(visited []*ReloadableModuleController, previousControllers map[*ReloadableModuleController]bool) *UpdateResult {
	reachableNow := make(map[*ReloadableModuleController]bool)
	w := traversal.Walk[*ReloadableModuleController, struct{}]{
		Children: childrenFor(slotCurrent),
		Pre:      func(n *ReloadableModuleController) { reachableNow[n] = true },
		Post:     func(scc []*ReloadableModuleController, _ []struct{}) (struct{}, error) { return struct{}{}, nil },
	}
	_, _ = w.Run(c)

	for _, n := range visited {
		n.previous = nil
	}

	for n := range previousControllers {
		if reachableNow[n] {
			continue
		}
		if err := safePrune(n.current); err != nil {
			n.fatalError = &fatalFailure{err}
			c.fatalError = n.fatalError
			return &UpdateResult{Status: StatusFatalError, Err: n.fatalError}
		}
		n.staging = n.current.Clone()
		n.current = nil
	}
	return nil
}

// safePrune guards hotapi.Prune against a panicking prune callback the
// same way safeDispose guards Dispose.
func safePrune(inst *instance.ReloadableModuleInstance) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("prune: panic: %v", r)
		}
	}()
	return hotapi.Prune(hotHandleOf(inst))
}
