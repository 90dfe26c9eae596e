package instance

import "fmt"

// SyntaxError is a static linking failure: it always carries the URL of
// the module whose link() call produced it, wrapping
// whatever more specific problem (ambiguity, missing binding, cyclic
// self star-export) was found.
type SyntaxError struct {
	URL string
	Err error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s: %s", e.URL, e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

var (
	errMissingBinding = fmt.Errorf("no matching export")
	errAmbiguous      = fmt.Errorf("ambiguous export: multiple star re-exports provide this name")
	errStarSelfCycle  = fmt.Errorf("export * from self")
)
