// Package controller owns one URL's lifecycle: the five instance slots
// (current/pending/previous/staging/temporary), the acquire map that
// interns one controller per URL, and the two operations everything else
// in hmrcore exists to support — dispatch (initial load of a reachable
// graph) and requestUpdate (the hot-reload algorithm). It is the only
// package that imports both instance and hotapi and ties them together
// through the traversal primitive.
package controller

import (
	"context"
	"fmt"
	"sync"

	"github.com/delaneyj/hmrcore/declaration"
	"github.com/delaneyj/hmrcore/hotapi"
	"github.com/delaneyj/hmrcore/instance"
	"github.com/delaneyj/hmrcore/traversal"
)

// Loader resolves a URL to a freshly transformed declaration — the
// concrete shape of the host loader contract's "re-import under a
// versioned URL" step. hostloader implements this against an in-memory
// source map; production hosts would resolve real files.
type Loader interface {
	Load(ctx context.Context, url string) (*declaration.ModuleDeclaration, error)
}

// Application is the process-wide indirection every controller reaches
// through to initiate an update: dynamicImport, requestUpdate, and the
// last result requestUpdate produced. Only the root controller's Dispatch
// should be followed by wiring RequestUpdate to a debounced caller (see
// internal/debounce); every other controller only reads LastResult.
type Application struct {
	// DynamicImport backs declaration.DynamicImport for bodies whose
	// UsesDynamicImport is set. If nil, dynamicImport resolves against
	// the registry directly (see ReloadableModuleController.dynamicImport).
	DynamicImport declaration.DynamicImport

	registry *Registry

	mu         sync.Mutex
	lastResult *UpdateResult
}

// RequestUpdate runs the hot-reload algorithm rooted at rootURL. It is
// not itself debounced — wrap it with internal/debounce.Debounced before
// handing it to a watcher.
func (a *Application) RequestUpdate(ctx context.Context, rootURL string) (*UpdateResult, error) {
	root := a.registry.Acquire(rootURL)
	res, err := root.requestUpdate(ctx)
	a.mu.Lock()
	a.lastResult = res
	a.mu.Unlock()
	return res, err
}

// LastResult returns the most recent result RequestUpdate produced, or
// nil if no update has run yet.
func (a *Application) LastResult() *UpdateResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastResult
}

// Registry is the per-URL acquire map: at most one controller exists per
// URL. It is safe to share across goroutines driving it concurrently
// (e.g. a demo CLI and its watcher); this does not imply controllers
// themselves are safe to mutate concurrently — callers serialize updates
// per URL (the single-flight assumption documented alongside Application).
type Registry struct {
	mu          sync.Mutex
	controllers map[string]*ReloadableModuleController
	loader      Loader
	app         *Application
	visitAlloc  *traversal.Allocator
}

// NewRegistry wires loader and app together into a fresh, empty acquire
// map. app.registry is set as a side effect so Application.RequestUpdate
// can resolve the root controller by URL.
func NewRegistry(loader Loader, app *Application) *Registry {
	r := &Registry{
		controllers: make(map[string]*ReloadableModuleController),
		loader:      loader,
		app:         app,
		visitAlloc:  traversal.NewAllocator(),
	}
	app.registry = r
	return r
}

// Acquire returns the controller for url, creating it on first request.
func (r *Registry) Acquire(url string) *ReloadableModuleController {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.controllers[url]; ok {
		return c
	}
	c := &ReloadableModuleController{url: url, registry: r}
	r.controllers[url] = c
	return c
}

// ReloadableModuleController is one URL's slot. It satisfies
// declaration.ChildResolver (via URL) and the narrow currentHolder
// interface instance.Link's default selector expects (via
// CurrentLinkTarget), so an instance's Resolve thunks can point straight
// at a *ReloadableModuleController without either package importing this
// one.
type ReloadableModuleController struct {
	url      string
	registry *Registry
	version  int

	current   *instance.ReloadableModuleInstance
	pending   *instance.ReloadableModuleInstance
	previous  *instance.ReloadableModuleInstance
	staging   *instance.ReloadableModuleInstance
	temporary *instance.ReloadableModuleInstance

	fatalError error

	// lastLoads/lastReevaluations are scratch counters for the commit
	// phase of the update currently in flight on this controller; reset
	// at the start of each requestUpdate call.
	lastLoads         int
	lastReevaluations int

	// chainStampedAt marks the visitAlloc tag of the chain-formatting
	// pass that last embedded this controller's SCC as a child chain
	// somewhere else in the tree, so a later sibling reaching the same
	// SCC within the same pass can cut it with a repeat sentinel instead
	// of nesting the whole subtree again. Stale tags from an earlier
	// pass never match the allocator's fresh, non-reusable tag.
	chainStampedAt traversal.VisitIndex
}

func (c *ReloadableModuleController) URL() string { return c.url }

// Version reports the monotonic counter bumped by each Load.
func (c *ReloadableModuleController) Version() int { return c.version }

// Current returns the instance currently serving imports, or nil before
// the first Dispatch.
func (c *ReloadableModuleController) Current() *instance.ReloadableModuleInstance { return c.current }

// FatalError returns the sticky failure recorded by a dispose/prune
// panic or error, if any.
func (c *ReloadableModuleController) FatalError() error { return c.fatalError }

// ForceFatalForTest sticks err onto this controller exactly as a real
// dispose/prune panic would, for exercising the sticky-fatal property
// without contriving a panicking callback.
func (c *ReloadableModuleController) ForceFatalForTest(err error) {
	c.fatalError = &fatalFailure{err}
}

// CurrentLinkTarget satisfies the currentHolder interface
// instance.Link's default selector type-asserts for — "resolve this
// child to whatever it currently serves".
func (c *ReloadableModuleController) CurrentLinkTarget() (instance.LinkTarget, error) {
	if c.current == nil {
		return nil, fmt.Errorf("%s: module has not been evaluated yet", c.url)
	}
	return c.current, nil
}

// Load fetches a fresh declaration from the registry's loader, bumps
// version, and places a new unlinked instance in staging — the
// controller.load(...) step the transformer contract calls out.
func (c *ReloadableModuleController) Load(ctx context.Context) error {
	return c.LoadFrom(ctx, c.url)
}

// LoadFrom is Load with an explicit loader specifier rather than c.url —
// the hook a host's re-import of a versioned hot:reload? URL goes
// through, since that specifier carries a version the loader cares about
// even though the controller is still keyed by the bare URL.
func (c *ReloadableModuleController) LoadFrom(ctx context.Context, specifier string) error {
	decl, err := c.registry.loader.Load(ctx, specifier)
	if err != nil {
		return fmt.Errorf("%s: load: %w", c.url, err)
	}
	c.version++
	c.staging = instance.New(c.url, decl)
	return nil
}

// dynamicImport backs declaration.DynamicImport for this controller's
// instances. It defers to the application hook if one is wired (the
// usual case, since a real dynamic import must itself go through
// load/dispatch for the target URL); otherwise it falls back to reading
// whatever the target controller is already serving.
func (c *ReloadableModuleController) dynamicImport(ctx context.Context, specifier string) (declaration.ExportsObject, error) {
	if c.registry.app != nil && c.registry.app.DynamicImport != nil {
		return c.registry.app.DynamicImport(ctx, specifier)
	}
	target := c.registry.Acquire(specifier)
	if target.current == nil {
		return nil, fmt.Errorf("%s: dynamic import target has no current instance", specifier)
	}
	return target.current.ModuleNamespace(), nil
}

// slotFunc picks one of a controller's five instance slots, letting the
// same traversal machinery walk the graph from whichever view a phase
// needs (pending, current, temporary-or-pending, staging-or-current).
type slotFunc func(*ReloadableModuleController) *instance.ReloadableModuleInstance

func slotCurrent(c *ReloadableModuleController) *instance.ReloadableModuleInstance { return c.current }
func slotPending(c *ReloadableModuleController) *instance.ReloadableModuleInstance { return c.pending }

func slotStagingOrCurrent(c *ReloadableModuleController) *instance.ReloadableModuleInstance {
	if c.staging != nil {
		return c.staging
	}
	return c.current
}

func slotTemporaryOrPending(c *ReloadableModuleController) *instance.ReloadableModuleInstance {
	if c.temporary != nil {
		return c.temporary
	}
	return c.pending
}

// asController recovers the concrete controller behind a
// declaration.ChildResolver. Every resolver this package hands out is a
// *ReloadableModuleController, so the assertion only fails if a caller
// wired a foreign ChildResolver implementation directly into a
// declaration, which isn't supported.
func asController(cr declaration.ChildResolver) *ReloadableModuleController {
	c, _ := cr.(*ReloadableModuleController)
	return c
}

// childrenFor builds a traversal.Walk Children function over the
// controller graph reachable through slot's instances — static
// LoadedModules edges plus any dynamic-import edges observed so far,
// deduplicated.
func childrenFor(slot slotFunc) func(*ReloadableModuleController) []*ReloadableModuleController {
	return func(c *ReloadableModuleController) []*ReloadableModuleController {
		inst := slot(c)
		if inst == nil {
			return nil
		}
		seen := make(map[*ReloadableModuleController]bool)
		var out []*ReloadableModuleController
		for _, entry := range inst.IterateDependencies() {
			if entry.Resolve == nil {
				continue
			}
			child := asController(entry.Resolve())
			if child == nil || seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, child)
		}
		for _, url := range inst.DynamicChildren() {
			child := c.registry.Acquire(url)
			if seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, child)
		}
		return out
	}
}

// selectorFor adapts a slot into an instance.Selector, the closure
// Link/Relink resolve every import against.
func selectorFor(slot slotFunc) instance.Selector {
	return func(cr declaration.ChildResolver) (instance.LinkTarget, error) {
		c := asController(cr)
		if c == nil {
			return nil, fmt.Errorf("%s: resolver is not a controller", cr.URL())
		}
		inst := slot(c)
		if inst == nil {
			return nil, fmt.Errorf("%s: no instance in the requested slot", c.url)
		}
		return inst, nil
	}
}

// hotHandleOf nil-safely returns inst's attached hot facade handle.
func hotHandleOf(inst *instance.ReloadableModuleInstance) *hotapi.Handle {
	if inst == nil {
		return nil
	}
	return inst.HotHandle()
}

// changedSpecifiers returns the specifiers among inst's static imports
// whose resolved controller is in changed — the changedDependencyList isAccepted/tryAccept consult.
func changedSpecifiers(inst *instance.ReloadableModuleInstance, changed map[*ReloadableModuleController]bool) []string {
	if inst == nil {
		return nil
	}
	var out []string
	for _, entry := range inst.IterateDependencies() {
		if entry.Resolve == nil {
			continue
		}
		child := asController(entry.Resolve())
		if child != nil && changed[child] {
			out = append(out, entry.Specifier)
		}
	}
	return out
}
