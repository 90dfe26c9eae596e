// Package declaration holds the immutable record a transformer produces for
// one module body: the data the rest of hmrcore needs to link and evaluate
// that body, but nothing about how the body was sourced or who's asking.
package declaration

import "context"

// Format is the module format tag, passed through to the host loader
// untouched. hmrcore never branches on it.
type Format string

const (
	FormatESM       Format = "esm"
	FormatCommonJS  Format = "commonjs"
	FormatJSON      Format = "json"
	FormatWASM      Format = "wasm"
	FormatUnknown   Format = ""
)

// ChildResolver resolves the controller behind one loaded-module-request
// entry. It is the "thunk that returns the target controller" from the
// spec's LoadedModuleRequestEntry — kept as an interface rather than a
// concrete *controller.ReloadableModuleController to avoid an import cycle
// between declaration and controller.
type ChildResolver interface {
	// URL is the specifier this resolver ultimately resolves to.
	URL() string
}

// Binding names a single imported identifier pulled from a child module:
// Imported is the name as exported by the child ("*" for a namespace
// import), Local is the name bound in this module's scope ("" for a
// side-effect-only import).
type Binding struct {
	Imported string
	Local    string
}

// LoadedModuleRequestEntry is one static import recorded by the
// transformer: the specifier as written, the bindings pulled from it, and
// a thunk resolving to the controller that will serve it.
type LoadedModuleRequestEntry struct {
	Specifier string
	Bindings  []Binding
	Resolve   func() ChildResolver
}

// ModuleRequestBinding names the (specifier, binding) pair that an
// indirect or star export entry resolves through, plus the thunk that
// resolves that specifier to its controller — mirroring
// LoadedModuleRequestEntry.Resolve so link() can chase re-export chains
// using the same selector machinery it uses for ordinary imports.
type ModuleRequestBinding struct {
	Specifier string
	Binding   string
	Resolve   func() ChildResolver
}

// ExportsObject is the mutable, live export namespace of one module
// instance. Bodies populate it through ReplaceExports (see Body below);
// importers read from it through instance.ReloadableModuleInstance.
type ExportsObject map[string]any

// ReplaceExports is handed to a Body by the instance driving it. Calling
// it installs a new exports object as the live namespace, in place,
// supporting `export let` reassignment and re-evaluation without handing
// out a fresh map identity to every importer.
type ReplaceExports func(ExportsObject)

// Meta is the per-module metadata descriptor threaded through to bodies
// (import.meta equivalent). A nil *Meta means "absent".
type Meta struct {
	URL string
	Hot any // set by hotapi to a *hotapi.Handle; opaque here to avoid a cycle
}

// HotHandle returns m.Hot, nil-safe against an absent Meta.
func (m *Meta) HotHandle() any {
	if m == nil {
		return nil
	}
	return m.Hot
}

// DynamicImport is handed to bodies that set UsesDynamicImport; it mirrors
// the host's dynamic `import()` and resolves to the imported namespace.
type DynamicImport func(ctx context.Context, specifier string) (ExportsObject, error)

// Step is one yield of a Body: a fresh ReplaceExports hook paired with the
// exports object current at that point in execution.
type Step struct {
	ReplaceExports ReplaceExports
	Exports        ExportsObject
}

// SyncBody is a resumable producer for a module whose evaluation never
// suspends. Run drives it to completion, calling emit for every
// (replaceExports, exports) pair it yields before returning.
type SyncBody func(meta *Meta, dynamicImport DynamicImport, emit func(Step)) error

// AsyncBody is the asynchronous form: it additionally receives the
// accepts predicate bundle (so top-level `await import.meta.hot.accept()`
// patterns can observe acceptance state), and emit/return happen across
// suspension points the caller awaits.
type AsyncBody func(ctx context.Context, meta *Meta, dynamicImport DynamicImport, accepts AcceptsView, emit func(Step)) error

// AcceptsView is the read-only slice of hot-facade predicates an async
// body may consult about itself. Defined here (not in hotapi) to keep
// declaration free of a dependency on instance state.
type AcceptsView interface {
	IsAcceptedSelf() bool
}

// Body is the declaration's executable payload: exactly one of Sync or
// Async is set.
type Body struct {
	Sync  SyncBody
	Async AsyncBody
}

// IsAsync reports whether this body must be driven with the async
// calling convention.
func (b Body) IsAsync() bool { return b.Async != nil }

// ModuleDeclaration is the immutable record produced by the transformer
// and attached to every instance created from it. Two declarations are
// the "same code" for reevaluation-counting purposes iff they are the
// same *ModuleDeclaration (pointer identity) — see controller.
type ModuleDeclaration struct {
	Body                  Body
	Meta                  *Meta
	Format                Format
	ImportAssertions      map[string]string
	UsesDynamicImport     bool
	LoadedModules         []LoadedModuleRequestEntry
	IndirectExportEntries map[string]ModuleRequestBinding
	StarExportEntries     []ModuleRequestBinding
}
