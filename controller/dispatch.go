package controller

import (
	"context"

	"github.com/delaneyj/hmrcore/traversal"
)

// Dispatch performs the initial load of the whole graph reachable from
// c's staging instance: two traversals, instantiate+link then evaluate.
// It is idempotent only in the sense that calling it again re-walks
// whatever is newly staged; ordinary callers call it once, right after
// the root's first Load.
func (c *ReloadableModuleController) Dispatch(ctx context.Context) error {
	if err := c.dispatchLink(); err != nil {
		return err
	}
	return c.dispatchEvaluate(ctx)
}

// dispatchLink adopts staging into current wherever current is still
// empty, then links every newly-adopted instance SCC by SCC. A link
// failure anywhere unlinks everything this call linked and clears the
// current/staging slots it adopted, so a retried Load starts clean.
func (c *ReloadableModuleController) dispatchLink() error {
	var linked []*ReloadableModuleController
	var adopted []*ReloadableModuleController

	w := traversal.Walk[*ReloadableModuleController, struct{}]{
		Children: childrenFor(slotStagingOrCurrent),
		Pre: func(n *ReloadableModuleController) {
			if n.current == nil && n.staging != nil {
				n.current = n.staging
				n.current.Instantiate(nil)
				adopted = append(adopted, n)
			}
		},
		Post: func(scc []*ReloadableModuleController, _ []struct{}) (struct{}, error) {
			sel := selectorFor(slotStagingOrCurrent)
			for _, n := range scc {
				if n.current == nil {
					continue
				}
				if err := n.current.Link(sel); err != nil {
					return struct{}{}, err
				}
				linked = append(linked, n)
			}
			return struct{}{}, nil
		},
		Cancel: func(remaining []*ReloadableModuleController) {
			for _, n := range linked {
				n.current.Unlink()
			}
			for _, n := range adopted {
				n.current = nil
				n.staging = nil
			}
		},
	}
	_, err := w.Run(c)
	return err
}

// dispatchEvaluate evaluates every current instance reachable from c,
// dependency order first, clearing staging wherever it still mirrors
// the instance that just finished evaluating.
func (c *ReloadableModuleController) dispatchEvaluate(ctx context.Context) error {
	w := traversal.Walk[*ReloadableModuleController, struct{}]{
		Children: childrenFor(slotCurrent),
		Post: func(scc []*ReloadableModuleController, _ []struct{}) (struct{}, error) {
			for _, n := range scc {
				if n.current == nil {
					continue
				}
				if err := n.current.Evaluate(ctx, n.dynamicImport); err != nil {
					return struct{}{}, err
				}
				if n.staging == n.current {
					n.staging = nil
				}
			}
			return struct{}{}, nil
		},
	}
	_, err := w.Run(c)
	return err
}
