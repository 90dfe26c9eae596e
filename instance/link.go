package instance

import (
	"fmt"

	"github.com/delaneyj/hmrcore/declaration"
)

// defaultSelector resolves a child controller to its current instance —
// the fallback Link and Relink use when the caller passes a nil selector.
func defaultSelector(c declaration.ChildResolver) (LinkTarget, error) {
	type currentHolder interface {
		CurrentLinkTarget() (LinkTarget, error)
	}
	ch, ok := c.(currentHolder)
	if !ok {
		return nil, fmt.Errorf("resolver for %q does not expose a current instance", c.URL())
	}
	return ch.CurrentLinkTarget()
}

// Link binds every import in this instance's declaration against the
// instance the selector resolves each child to, chasing indirect and
// star export entries per host module semantics. selector may be nil to
// use defaultSelector (resolve against each child's "current" slot).
//
// Link fails with a *SyntaxError carrying this instance's URL on any
// unresolved name, ambiguity, or `export * from self`.
func (m *ReloadableModuleInstance) Link(selector Selector) error {
	if selector == nil {
		selector = defaultSelector
	}

	boundNames := make(map[string]bool)

	for _, entry := range m.decl.LoadedModules {
		target, err := m.resolveEntryTarget(entry.Specifier, entry.Resolve, selector)
		if err != nil {
			return &SyntaxError{URL: m.url, Err: err}
		}
		for _, b := range entry.Bindings {
			switch {
			case b.Local == "":
				// side-effect-only import, nothing to bind
			case b.Imported == "*":
				// namespace import: bind the whole namespace object.
				boundNames[b.Local] = true
			default:
				if _, ok, ambiguous, rerr := m.resolveExport(target, b.Imported, selector, nil); rerr != nil {
					return &SyntaxError{URL: m.url, Err: rerr}
				} else if ambiguous {
					return &SyntaxError{URL: m.url, Err: fmt.Errorf("%s: %w", b.Imported, errAmbiguous)}
				} else if !ok {
					return &SyntaxError{URL: m.url, Err: fmt.Errorf("%s: %w", b.Imported, errMissingBinding)}
				}
				boundNames[b.Local] = true
			}
		}
	}

	ns, err := m.computeNamespace(selector)
	if err != nil {
		return &SyntaxError{URL: m.url, Err: err}
	}
	m.namespace = ns
	m.state = Linked
	return nil
}

// Relink re-executes Link under the assumption the declaration's import
// shape hasn't changed since the last successful Link — it is used after
// a dependency SCC re-evaluates, to rebind live names in modules that
// weren't themselves replaced.
func (m *ReloadableModuleInstance) Relink(selector Selector) error {
	return m.Link(selector)
}

// resolveEntryTarget applies selector to the controller a module-request
// entry's Resolve thunk returns.
func (m *ReloadableModuleInstance) resolveEntryTarget(specifier string, resolve func() declaration.ChildResolver, selector Selector) (LinkTarget, error) {
	if resolve == nil {
		return nil, fmt.Errorf("%s: no resolver for module request", specifier)
	}
	resolver := resolve()
	if resolver == nil {
		return nil, fmt.Errorf("%s: module request did not resolve to a controller", specifier)
	}
	target, err := selector(resolver)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", specifier, err)
	}
	if target == nil {
		return nil, fmt.Errorf("%s: %w", specifier, errMissingBinding)
	}
	return target, nil
}

// resolveExport looks up name against target: first its own exports,
// then its indirect export entries, then its star export entries. seen
// guards against a target appearing twice in the same chase (a cyclic
// `export *` is only detected in the single-hop self-reference case — see
// DESIGN.md).
func (m *ReloadableModuleInstance) resolveExport(target LinkTarget, name string, selector Selector, seen map[string]bool) (value any, ok bool, ambiguous bool, err error) {
	if v, present := target.Exports()[name]; present {
		return v, true, false, nil
	}

	decl := target.Declaration()
	if entry, present := decl.IndirectExportEntries[name]; present {
		if seen == nil {
			seen = make(map[string]bool)
		}
		if seen[target.URL()+"|"+entry.Specifier] {
			return nil, false, false, fmt.Errorf("%s: %w", name, errStarSelfCycle)
		}
		seen[target.URL()+"|"+entry.Specifier] = true

		next, rerr := m.resolveEntryTarget(entry.Specifier, entry.Resolve, selector)
		if rerr != nil {
			return nil, false, false, rerr
		}
		lookFor := entry.Binding
		if lookFor == "" {
			lookFor = name
		}
		return m.resolveExport(next, lookFor, selector, seen)
	}

	var found []any
	for _, star := range decl.StarExportEntries {
		if star.Specifier == "" {
			continue
		}
		next, rerr := m.resolveEntryTarget(star.Specifier, star.Resolve, selector)
		if rerr != nil {
			return nil, false, false, rerr
		}
		if next.URL() == target.URL() {
			return nil, false, false, fmt.Errorf("%s: %w", target.URL(), errStarSelfCycle)
		}
		if v, present := next.Exports()[name]; present && name != "default" {
			found = append(found, v)
		}
	}
	switch len(found) {
	case 0:
		return nil, false, false, nil
	case 1:
		return found[0], true, false, nil
	default:
		return nil, false, true, nil
	}
}

// computeNamespace builds this instance's own exports merged with every
// name aggregated in from `export *` entries (excluding "default" and
// any name ambiguous across multiple star sources, matching host module
// semantics: ambiguous star names are simply absent from the namespace
// rather than an error — the error only fires when a specific import
// asks for that exact name).
func (m *ReloadableModuleInstance) computeNamespace(selector Selector) (declaration.ExportsObject, error) {
	ns := declaration.ExportsObject{}
	for k, v := range m.exports {
		ns[k] = v
	}

	counts := map[string]int{}
	values := map[string]any{}
	for _, star := range m.decl.StarExportEntries {
		next, err := m.resolveEntryTarget(star.Specifier, star.Resolve, selector)
		if err != nil {
			return nil, err
		}
		if next.URL() == m.url {
			return nil, fmt.Errorf("%s: %w", m.url, errStarSelfCycle)
		}
		for k, v := range next.Exports() {
			if k == "default" {
				continue
			}
			if _, own := m.exports[k]; own {
				continue
			}
			counts[k]++
			values[k] = v
		}
	}
	for k, c := range counts {
		if c == 1 {
			ns[k] = values[k]
		}
	}
	return ns, nil
}
