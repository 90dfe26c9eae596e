package instance_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delaneyj/hmrcore/declaration"
	"github.com/delaneyj/hmrcore/instance"
)

// fakeResolver is a minimal declaration.ChildResolver that always
// resolves to one fixed instance, standing in for a controller in these
// leaf-package tests.
type fakeResolver struct {
	url    string
	target *instance.ReloadableModuleInstance
}

func (f *fakeResolver) URL() string { return f.url }

func selectorFor(resolvers ...*fakeResolver) instance.Selector {
	return func(c declaration.ChildResolver) (instance.LinkTarget, error) {
		for _, r := range resolvers {
			if r == c {
				return r.target, nil
			}
		}
		return nil, nil
	}
}

func syncBodyExporting(values declaration.ExportsObject) declaration.SyncBody {
	return func(meta *declaration.Meta, dyn declaration.DynamicImport, emit func(declaration.Step)) error {
		exports := declaration.ExportsObject{}
		for k, v := range values {
			exports[k] = v
		}
		emit(declaration.Step{Exports: exports, ReplaceExports: func(declaration.ExportsObject) {}})
		return nil
	}
}

func newLinkedChild(t *testing.T, url string, exports declaration.ExportsObject) *instance.ReloadableModuleInstance {
	t.Helper()
	decl := &declaration.ModuleDeclaration{Body: declaration.Body{Sync: syncBodyExporting(exports)}}
	m := instance.New(url, decl)
	m.Instantiate(nil)
	require.NoError(t, m.Evaluate(context.Background(), nil))
	require.NoError(t, m.Link(nil))
	return m
}

func TestLinkResolvesDirectNamedImport(t *testing.T) {
	child := newLinkedChild(t, "child.js", declaration.ExportsObject{"counter": 1})
	resolver := &fakeResolver{url: "child.js", target: child}

	decl := &declaration.ModuleDeclaration{
		Body: declaration.Body{Sync: syncBodyExporting(nil)},
		LoadedModules: []declaration.LoadedModuleRequestEntry{{
			Specifier: "child.js",
			Bindings:  []declaration.Binding{{Imported: "counter", Local: "counter"}},
			Resolve:   func() declaration.ChildResolver { return resolver },
		}},
	}
	main := instance.New("main.js", decl)
	main.Instantiate(nil)
	require.NoError(t, main.Evaluate(context.Background(), nil))
	require.NoError(t, main.Link(selectorFor(resolver)))
	assert.Equal(t, instance.Linked, main.State())
}

func TestLinkFailsOnMissingBinding(t *testing.T) {
	child := newLinkedChild(t, "child.js", declaration.ExportsObject{})
	resolver := &fakeResolver{url: "child.js", target: child}

	decl := &declaration.ModuleDeclaration{
		Body: declaration.Body{Sync: syncBodyExporting(nil)},
		LoadedModules: []declaration.LoadedModuleRequestEntry{{
			Specifier: "child.js",
			Bindings:  []declaration.Binding{{Imported: "symbol", Local: "symbol"}},
			Resolve:   func() declaration.ChildResolver { return resolver },
		}},
	}
	main := instance.New("main.js", decl)
	main.Instantiate(nil)
	require.NoError(t, main.Evaluate(context.Background(), nil))

	err := main.Link(selectorFor(resolver))
	require.Error(t, err)
	var synErr *instance.SyntaxError
	require.ErrorAs(t, err, &synErr)
	assert.Equal(t, "main.js", synErr.URL)
}

func TestLinkDetectsStarExportSelfCycle(t *testing.T) {
	decl := &declaration.ModuleDeclaration{
		Body: declaration.Body{Sync: syncBodyExporting(nil)},
	}
	self := instance.New("self.js", decl)
	selfResolver := &fakeResolver{url: "self.js", target: self}
	decl.StarExportEntries = []declaration.ModuleRequestBinding{{
		Specifier: "self.js",
		Resolve:   func() declaration.ChildResolver { return selfResolver },
	}}

	self.Instantiate(nil)
	require.NoError(t, self.Evaluate(context.Background(), nil))

	err := self.Link(selectorFor(selfResolver))
	require.Error(t, err)
	var synErr *instance.SyntaxError
	require.ErrorAs(t, err, &synErr)
}

func TestLinkDetectsAmbiguousStarExport(t *testing.T) {
	a := newLinkedChild(t, "a.js", declaration.ExportsObject{"x": 1})
	b := newLinkedChild(t, "b.js", declaration.ExportsObject{"x": 2})
	ra := &fakeResolver{url: "a.js", target: a}
	rb := &fakeResolver{url: "b.js", target: b}

	decl := &declaration.ModuleDeclaration{
		Body: declaration.Body{Sync: syncBodyExporting(nil)},
		LoadedModules: []declaration.LoadedModuleRequestEntry{
			{Specifier: "a.js", Bindings: []declaration.Binding{{Imported: "*", Local: "a"}}, Resolve: func() declaration.ChildResolver { return ra }},
			{Specifier: "b.js", Bindings: []declaration.Binding{{Imported: "*", Local: "b"}}, Resolve: func() declaration.ChildResolver { return rb }},
		},
		StarExportEntries: []declaration.ModuleRequestBinding{
			{Specifier: "a.js", Resolve: func() declaration.ChildResolver { return ra }},
			{Specifier: "b.js", Resolve: func() declaration.ChildResolver { return rb }},
		},
	}
	main := instance.New("main.js", decl)
	main.Instantiate(nil)
	require.NoError(t, main.Evaluate(context.Background(), nil))
	require.NoError(t, main.Link(selectorFor(ra, rb)), "link itself succeeds: ambiguity only matters for an explicit named import")

	_, present := main.ModuleNamespace()["x"]
	assert.False(t, present, "an ambiguous star-exported name must not appear in the namespace")
}

func TestCloneSharesDeclarationFreshState(t *testing.T) {
	decl := &declaration.ModuleDeclaration{Body: declaration.Body{Sync: syncBodyExporting(declaration.ExportsObject{"n": 1})}}
	m := instance.New("mod.js", decl)
	m.Instantiate(nil)
	require.NoError(t, m.Evaluate(context.Background(), nil))
	require.NoError(t, m.Link(nil))

	clone := m.Clone()
	assert.Same(t, decl, clone.Declaration())
	assert.Equal(t, instance.Unlinked, clone.State())
	assert.Nil(t, clone.Exports())
}

func TestInstantiateCarriesDisposeDataAsHotData(t *testing.T) {
	decl := &declaration.ModuleDeclaration{Body: declaration.Body{Sync: syncBodyExporting(nil)}}
	m := instance.New("mod.js", decl)
	m.Instantiate("carried-over")
	assert.Equal(t, "carried-over", m.HotData())
}

func TestEvaluateAsyncBodyRespectsContext(t *testing.T) {
	var sawCtx context.Context
	decl := &declaration.ModuleDeclaration{
		Body: declaration.Body{Async: func(ctx context.Context, meta *declaration.Meta, dyn declaration.DynamicImport, accepts declaration.AcceptsView, emit func(declaration.Step)) error {
			sawCtx = ctx
			emit(declaration.Step{Exports: declaration.ExportsObject{}, ReplaceExports: func(declaration.ExportsObject) {}})
			return ctx.Err()
		}},
	}
	m := instance.New("mod.js", decl)
	m.Instantiate(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Evaluate(ctx, nil)
	require.Error(t, err)
	assert.Equal(t, ctx, sawCtx)
	assert.Equal(t, instance.Evaluated, m.State())
	assert.Equal(t, err, m.EvaluationError())
}
