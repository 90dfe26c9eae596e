package main

import (
	"context"
	"fmt"

	"github.com/delaneyj/hmrcore/controller"
	"github.com/delaneyj/hmrcore/declaration"
	"github.com/delaneyj/hmrcore/hostloader"
	"github.com/delaneyj/hmrcore/hotapi"
	"github.com/delaneyj/hmrcore/report"
)

// demo bundles the registry/application pair every scenario drives, plus
// the loader the scenario registers its modules against.
type demo struct {
	loader *hostloader.Loader
	reg    *controller.Registry
	app    *controller.Application
}

func newDemo() *demo {
	loader := hostloader.New()
	app := &controller.Application{}
	reg := controller.NewRegistry(loader, app)
	return &demo{loader: loader, reg: reg, app: app}
}

// leafBody returns a Sync body exporting exports, ignoring imports.
func leafBody(exports declaration.ExportsObject) declaration.SyncBody {
	return func(meta *declaration.Meta, dyn declaration.DynamicImport, emit func(declaration.Step)) error {
		emit(declaration.Step{Exports: exports, ReplaceExports: func(declaration.ExportsObject) {}})
		return nil
	}
}

// importingBody returns a Sync body that optionally registers a hot
// accept/decline policy via configureHot before emitting its own exports.
// Its imports are declared separately, in the declaration's LoadedModules.
func importingBody(configureHot func(h *hotapi.Handle), exports declaration.ExportsObject) declaration.SyncBody {
	return func(meta *declaration.Meta, dyn declaration.DynamicImport, emit func(declaration.Step)) error {
		if configureHot != nil {
			if h, ok := meta.Hot.(*hotapi.Handle); ok {
				configureHot(h)
			}
		}
		emit(declaration.Step{Exports: exports, ReplaceExports: func(declaration.ExportsObject) {}})
		return nil
	}
}

// loadedModule builds a single LoadedModuleRequestEntry importing the
// named bindings from specifier, resolved lazily against reg.
func loadedModule(reg *controller.Registry, specifier string, imported ...string) declaration.LoadedModuleRequestEntry {
	bindings := make([]declaration.Binding, len(imported))
	for i, name := range imported {
		bindings[i] = declaration.Binding{Imported: name, Local: name}
	}
	return declaration.LoadedModuleRequestEntry{
		Specifier: specifier,
		Bindings:  bindings,
		Resolve:   func() declaration.ChildResolver { return reg.Acquire(specifier) },
	}
}

func dispatchRoot(ctx context.Context, d *demo, rootURL string, urls ...string) error {
	for _, u := range urls {
		c := d.reg.Acquire(u)
		if err := c.Load(ctx); err != nil {
			return fmt.Errorf("load %s: %w", u, err)
		}
	}
	return d.reg.Acquire(rootURL).Dispatch(ctx)
}

// runSimple is scenario S1: main imports counter from child.js, registers
// a bare accept(). After child's exported value changes, main's body
// still re-runs since a bare self-accept doesn't precisely cover child.js.
func runSimple(ctx context.Context) error {
	d := newDemo()
	d.loader.Register("child.js", func(int) *declaration.ModuleDeclaration {
		return &declaration.ModuleDeclaration{
			Meta: &declaration.Meta{URL: "child.js"},
			Body: declaration.Body{Sync: leafBody(declaration.ExportsObject{"counter": 1})},
		}
	})
	d.loader.Register("main.js", func(int) *declaration.ModuleDeclaration {
		return &declaration.ModuleDeclaration{
			Meta:          &declaration.Meta{URL: "main.js"},
			LoadedModules: []declaration.LoadedModuleRequestEntry{loadedModule(d.reg, "child.js", "counter")},
			Body: declaration.Body{Sync: importingBody(func(h *hotapi.Handle) {
				h.Accept().Do(nil)
			}, declaration.ExportsObject{})},
		}
	})

	if err := dispatchRoot(ctx, d, "main.js", "child.js", "main.js"); err != nil {
		return err
	}

	reloadSpec, err := d.loader.Reload("child.js", func(int) *declaration.ModuleDeclaration {
		return &declaration.ModuleDeclaration{
			Meta: &declaration.Meta{URL: "child.js"},
			Body: declaration.Body{Sync: leafBody(declaration.ExportsObject{"counter": 2})},
		}
	})
	if err != nil {
		return err
	}
	if err := d.reg.Acquire("child.js").LoadFrom(ctx, reloadSpec); err != nil {
		return err
	}
	res, err := d.app.RequestUpdate(ctx, "main.js")
	if err != nil {
		return err
	}
	report.Print(cliOut, "main.js", res)
	return nil
}

// runUnaccepted is scenario S2: main imports child but never touches
// meta.hot; the update must stop unaccepted at main.
func runUnaccepted(ctx context.Context) error {
	d := newDemo()
	d.loader.Register("child.js", func(int) *declaration.ModuleDeclaration {
		return &declaration.ModuleDeclaration{
			Meta: &declaration.Meta{URL: "child.js"},
			Body: declaration.Body{Sync: leafBody(declaration.ExportsObject{"counter": 1})},
		}
	})
	d.loader.Register("main.js", func(int) *declaration.ModuleDeclaration {
		return &declaration.ModuleDeclaration{
			Meta:          &declaration.Meta{URL: "main.js"},
			LoadedModules: []declaration.LoadedModuleRequestEntry{loadedModule(d.reg, "child.js", "counter")},
			Body:          declaration.Body{Sync: importingBody(nil, declaration.ExportsObject{})},
		}
	})
	if err := dispatchRoot(ctx, d, "main.js", "child.js", "main.js"); err != nil {
		return err
	}

	reloadSpec, err := d.loader.Reload("child.js", func(int) *declaration.ModuleDeclaration {
		return &declaration.ModuleDeclaration{
			Meta: &declaration.Meta{URL: "child.js"},
			Body: declaration.Body{Sync: leafBody(declaration.ExportsObject{"counter": 2})},
		}
	})
	if err != nil {
		return err
	}
	if err := d.reg.Acquire("child.js").LoadFrom(ctx, reloadSpec); err != nil {
		return err
	}
	res, err := d.app.RequestUpdate(ctx, "main.js")
	if err != nil {
		return err
	}
	report.Print(cliOut, "main.js", res)
	return nil
}

// runAccepted is scenario S3: main accepts ["updated", "unupdated"];
// only updated.js changes. The update succeeds without re-running main's
// own body, since main's per-dependency accept precisely covers it.
func runAccepted(ctx context.Context) error {
	d := newDemo()
	for _, url := range []string{"updated.js", "unupdated.js"} {
		v := url
		d.loader.Register(v, func(int) *declaration.ModuleDeclaration {
			return &declaration.ModuleDeclaration{
				Meta: &declaration.Meta{URL: v},
				Body: declaration.Body{Sync: leafBody(declaration.ExportsObject{"value": 1})},
			}
		})
	}
	d.loader.Register("main.js", func(int) *declaration.ModuleDeclaration {
		return &declaration.ModuleDeclaration{
			Meta: &declaration.Meta{URL: "main.js"},
			LoadedModules: []declaration.LoadedModuleRequestEntry{
				loadedModule(d.reg, "updated.js", "value"),
				loadedModule(d.reg, "unupdated.js", "value"),
			},
			Body: declaration.Body{Sync: importingBody(func(h *hotapi.Handle) {
				h.Accept("updated.js", "unupdated.js").Do(nil)
			}, declaration.ExportsObject{})},
		}
	})
	if err := dispatchRoot(ctx, d, "main.js", "updated.js", "unupdated.js", "main.js"); err != nil {
		return err
	}

	reloadSpec, err := d.loader.Reload("updated.js", func(int) *declaration.ModuleDeclaration {
		return &declaration.ModuleDeclaration{
			Meta: &declaration.Meta{URL: "updated.js"},
			Body: declaration.Body{Sync: leafBody(declaration.ExportsObject{"value": 2})},
		}
	})
	if err != nil {
		return err
	}
	if err := d.reg.Acquire("updated.js").LoadFrom(ctx, reloadSpec); err != nil {
		return err
	}
	res, err := d.app.RequestUpdate(ctx, "main.js")
	if err != nil {
		return err
	}
	report.Print(cliOut, "main.js", res)
	return nil
}

// runLinkError is scenario S4: main imports {symbol} from child with
// accept(). Child is updated to drop symbol (linkError), then main is
// updated to drop its import of child, so nothing needs symbol (success).
func runLinkError(ctx context.Context) error {
	d := newDemo()
	d.loader.Register("child.js", func(int) *declaration.ModuleDeclaration {
		return &declaration.ModuleDeclaration{
			Meta: &declaration.Meta{URL: "child.js"},
			Body: declaration.Body{Sync: leafBody(declaration.ExportsObject{"symbol": 1})},
		}
	})
	d.loader.Register("main.js", func(int) *declaration.ModuleDeclaration {
		return &declaration.ModuleDeclaration{
			Meta:          &declaration.Meta{URL: "main.js"},
			LoadedModules: []declaration.LoadedModuleRequestEntry{loadedModule(d.reg, "child.js", "symbol")},
			Body: declaration.Body{Sync: importingBody(func(h *hotapi.Handle) {
				h.Accept().Do(nil)
			}, declaration.ExportsObject{})},
		}
	})
	if err := dispatchRoot(ctx, d, "main.js", "child.js", "main.js"); err != nil {
		return err
	}

	reloadSpec, err := d.loader.Reload("child.js", func(int) *declaration.ModuleDeclaration {
		return &declaration.ModuleDeclaration{
			Meta: &declaration.Meta{URL: "child.js"},
			Body: declaration.Body{Sync: leafBody(declaration.ExportsObject{})},
		}
	})
	if err != nil {
		return err
	}
	if err := d.reg.Acquire("child.js").LoadFrom(ctx, reloadSpec); err != nil {
		return err
	}
	res, err := d.app.RequestUpdate(ctx, "main.js")
	if err != nil {
		return err
	}
	report.Print(cliOut, "main.js (dropped symbol)", res)

	reloadSpec2, err := d.loader.Reload("main.js", func(int) *declaration.ModuleDeclaration {
		return &declaration.ModuleDeclaration{
			Meta: &declaration.Meta{URL: "main.js"},
			Body: declaration.Body{Sync: importingBody(func(h *hotapi.Handle) {
				h.Accept().Do(nil)
			}, declaration.ExportsObject{})},
		}
	})
	if err != nil {
		return err
	}
	if err := d.reg.Acquire("main.js").LoadFrom(ctx, reloadSpec2); err != nil {
		return err
	}
	res2, err := d.app.RequestUpdate(ctx, "main.js")
	if err != nil {
		return err
	}
	report.Print(cliOut, "main.js (dropped the import)", res2)
	return nil
}

// runInfiniteExport is scenario S5: a module whose only content is
// `export * from self` must fail at dispatch with a link error.
func runInfiniteExport(ctx context.Context) error {
	d := newDemo()
	d.loader.Register("self.js", func(int) *declaration.ModuleDeclaration {
		decl := &declaration.ModuleDeclaration{
			Meta: &declaration.Meta{URL: "self.js"},
			Body: declaration.Body{Sync: leafBody(declaration.ExportsObject{})},
		}
		decl.StarExportEntries = []declaration.ModuleRequestBinding{{
			Specifier: "self.js",
			Resolve:   func() declaration.ChildResolver { return d.reg.Acquire("self.js") },
		}}
		return decl
	})
	if err := d.reg.Acquire("self.js").Load(ctx); err != nil {
		return err
	}
	err := d.reg.Acquire("self.js").Dispatch(ctx)
	if err == nil {
		return fmt.Errorf("expected export * from self to fail dispatch, it did not")
	}
	fmt.Fprintf(cliOut, "self.js: dispatch rejected as expected: %v\n", err)
	return nil
}

// runDeclined is scenario S6: a module that declines itself but still
// accepts its own child must let an update to the grandchild through,
// since decline only matters when the declining module is itself
// invalidated.
func runDeclined(ctx context.Context) error {
	d := newDemo()
	d.loader.Register("grandchild.js", func(int) *declaration.ModuleDeclaration {
		return &declaration.ModuleDeclaration{
			Meta: &declaration.Meta{URL: "grandchild.js"},
			Body: declaration.Body{Sync: leafBody(declaration.ExportsObject{"value": 1})},
		}
	})
	d.loader.Register("child.js", func(int) *declaration.ModuleDeclaration {
		return &declaration.ModuleDeclaration{
			Meta:          &declaration.Meta{URL: "child.js"},
			LoadedModules: []declaration.LoadedModuleRequestEntry{loadedModule(d.reg, "grandchild.js", "value")},
			Body: declaration.Body{Sync: importingBody(func(h *hotapi.Handle) {
				h.Accept("grandchild.js").Do(nil)
				h.Decline()
			}, declaration.ExportsObject{})},
		}
	})
	d.loader.Register("main.js", func(int) *declaration.ModuleDeclaration {
		return &declaration.ModuleDeclaration{
			Meta:          &declaration.Meta{URL: "main.js"},
			LoadedModules: []declaration.LoadedModuleRequestEntry{loadedModule(d.reg, "child.js")},
			Body:          declaration.Body{Sync: importingBody(nil, declaration.ExportsObject{})},
		}
	})
	if err := dispatchRoot(ctx, d, "main.js", "grandchild.js", "child.js", "main.js"); err != nil {
		return err
	}

	reloadSpec, err := d.loader.Reload("grandchild.js", func(int) *declaration.ModuleDeclaration {
		return &declaration.ModuleDeclaration{
			Meta: &declaration.Meta{URL: "grandchild.js"},
			Body: declaration.Body{Sync: leafBody(declaration.ExportsObject{"value": 2})},
		}
	})
	if err != nil {
		return err
	}
	if err := d.reg.Acquire("grandchild.js").LoadFrom(ctx, reloadSpec); err != nil {
		return err
	}
	res, err := d.app.RequestUpdate(ctx, "main.js")
	if err != nil {
		return err
	}
	report.Print(cliOut, "main.js", res)
	return nil
}
