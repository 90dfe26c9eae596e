// Package instance implements one concrete linked form of a module — a
// module instance. An instance holds the declaration it was built from,
// its live exports object, link state,
// and evaluation state, and knows how to instantiate, link, relink,
// unlink, evaluate and clone itself. It never imports controller —
// controllers are referred to only through the LinkTarget/Selector
// abstraction below, which is how the same link() logic works whichever
// of current/pending/previous/temporary the caller wants resolved.
package instance

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/delaneyj/hmrcore/declaration"
	"github.com/delaneyj/hmrcore/hotapi"
)

// LinkState is the module instance's position in its link-state machine:
// unlinked, linked, evaluating, evaluated, or errored.
type LinkState int

const (
	Unlinked LinkState = iota
	Linked
	Evaluating
	Evaluated
	Errored
)

func (s LinkState) String() string {
	switch s {
	case Unlinked:
		return "unlinked"
	case Linked:
		return "linked"
	case Evaluating:
		return "evaluating"
	case Evaluated:
		return "evaluated"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// LinkTarget is what link() resolves an import against: enough of
// another instance's surface to read its exports and chase its
// indirect/star re-export chains. The concrete *ReloadableModuleInstance
// satisfies this directly.
type LinkTarget interface {
	URL() string
	Declaration() *declaration.ModuleDeclaration
	Exports() declaration.ExportsObject
}

// Selector picks which concrete LinkTarget a declaration.ChildResolver
// (i.e. a controller, seen only through this narrow interface) currently
// stands for — current, pending, previous-or-pending, or
// temporary-or-pending, depending which graph view the caller is
// traversing. A nil Selector result with a nil error means "not yet
// linkable" and is itself treated as a missing-binding failure by the
// caller that asked for a specific name.
type Selector func(declaration.ChildResolver) (LinkTarget, error)

// ReloadableModuleInstance is one interpretation of a ModuleDeclaration.
type ReloadableModuleInstance struct {
	url   string
	decl  *declaration.ModuleDeclaration
	state LinkState

	exports        declaration.ExportsObject
	replaceExports declaration.ReplaceExports
	namespace      declaration.ExportsObject // exports ∪ aggregated `export *` names, recomputed on link/relink

	evaluationError error
	hotData         any
	hot             *hotapi.Handle

	dynamicChildren mapset.Set[string] // URLs of controllers observed via dynamicImport so far
}

// New allocates an instance for decl, unlinked and uninstantiated. url
// identifies the controller this instance belongs to and is only used
// for error messages and LinkTarget.URL().
func New(url string, decl *declaration.ModuleDeclaration) *ReloadableModuleInstance {
	return &ReloadableModuleInstance{
		url:             url,
		decl:            decl,
		state:           Unlinked,
		dynamicChildren: mapset.NewSet[string](),
	}
}

func (m *ReloadableModuleInstance) URL() string                                { return m.url }
func (m *ReloadableModuleInstance) Declaration() *declaration.ModuleDeclaration { return m.decl }
func (m *ReloadableModuleInstance) State() LinkState                           { return m.state }
func (m *ReloadableModuleInstance) EvaluationError() error                     { return m.evaluationError }
func (m *ReloadableModuleInstance) HotData() any                               { return m.hotData }

// HotHandle returns the hot facade handle attached during this instance's
// last Evaluate call, or nil if the declaration carries no Meta (the
// module never referenced import.meta.hot) or Evaluate hasn't run yet.
func (m *ReloadableModuleInstance) HotHandle() *hotapi.Handle { return m.hot }

// Exports returns the live export namespace. Before the first Instantiate
// call this is nil.
func (m *ReloadableModuleInstance) Exports() declaration.ExportsObject { return m.exports }

// ModuleNamespace returns the exports object merged with every name this
// module re-exports via `export *`, as computed by the last successful
// Link/Relink.
func (m *ReloadableModuleInstance) ModuleNamespace() declaration.ExportsObject {
	if m.namespace != nil {
		return m.namespace
	}
	return m.exports
}

// Instantiate allocates a fresh, empty exports object. disposeData, if
// non-nil, is the opaque payload a predecessor's dispose() callback
// returned; it is retained (HotData) so the hot facade handle attached to
// this instance during Evaluate can hand it back to the module's own
// dispose-data consumer.
func (m *ReloadableModuleInstance) Instantiate(disposeData any) {
	m.exports = declaration.ExportsObject{}
	m.namespace = nil
	m.replaceExports = func(next declaration.ExportsObject) { m.exports = next }
	m.hotData = disposeData
	m.state = Unlinked
	m.evaluationError = nil
}

// Clone returns a fresh, uninstantiated instance sharing this instance's
// declaration — used for self-update (replacing a module with a new
// evaluation of the identical code) and for reviving a pruned orphan back
// into staging.
func (m *ReloadableModuleInstance) Clone() *ReloadableModuleInstance {
	return New(m.url, m.decl)
}

// IterateDependencies returns every specifier this instance's
// declaration statically imports, in declaration order.
func (m *ReloadableModuleInstance) IterateDependencies() []declaration.LoadedModuleRequestEntry {
	return m.decl.LoadedModules
}

// NoteDynamicImport records that dynamicImport(childURL) was observed
// during this instance's evaluation, so the controller can fold
// dynamically-discovered edges into later traversals.
func (m *ReloadableModuleInstance) NoteDynamicImport(childURL string) {
	m.dynamicChildren.Add(childURL)
}

// DynamicChildren returns the URLs observed via NoteDynamicImport so far.
func (m *ReloadableModuleInstance) DynamicChildren() []string {
	return m.dynamicChildren.ToSlice()
}

// Unlink releases this instance's link state. It always reports true
// (the caller should forget any slot it was occupying): unlike the
// reference engine this package has no module-record interning, so an
// instance is never referenced from more than the one controller slot
// that created it.
func (m *ReloadableModuleInstance) Unlink() bool {
	m.namespace = nil
	if m.state == Linked {
		m.state = Unlinked
	}
	return true
}

// Evaluate drives the body to completion. For an async body, ctx governs
// cancellation of whatever the body awaits; for a sync body ctx is
// ignored. The instance's post-state is always Evaluated, with
// EvaluationError() discriminating success from failure — Evaluate
// itself also returns that error for caller convenience.
func (m *ReloadableModuleInstance) Evaluate(ctx context.Context, dynamicImport declaration.DynamicImport) error {
	m.state = Evaluating

	if m.decl.Meta != nil {
		m.hot = hotapi.New()
		m.decl.Meta.Hot = m.hot
	}

	wrappedDynamicImport := dynamicImport
	if dynamicImport != nil {
		wrappedDynamicImport = func(ctx context.Context, specifier string) (declaration.ExportsObject, error) {
			m.NoteDynamicImport(specifier)
			return dynamicImport(ctx, specifier)
		}
	}

	emit := func(step declaration.Step) {
		m.replaceExports = step.ReplaceExports
		m.exports = step.Exports
	}

	var err error
	if m.decl.Body.IsAsync() {
		err = m.decl.Body.Async(ctx, m.decl.Meta, wrappedDynamicImport, acceptsView{m}, emit)
	} else if m.decl.Body.Sync != nil {
		err = m.decl.Body.Sync(m.decl.Meta, wrappedDynamicImport, emit)
	}

	m.state = Evaluated
	m.evaluationError = err
	return err
}

// acceptsView adapts an instance to declaration.AcceptsView so an async
// body can ask "was I self-accepted before this re-evaluation started"
// without importing hotapi itself.
type acceptsView struct{ m *ReloadableModuleInstance }

func (a acceptsView) IsAcceptedSelf() bool {
	return hotapi.IsAcceptedSelf(a.m.hot)
}
