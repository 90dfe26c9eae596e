package controller

import "fmt"

// fatalFailure marks an error that must stick on the controller: a
// dispose or prune callback that panicked or returned an error. Every
// subsequent requestUpdate on this controller returns the same failure
// once recorded.
type fatalFailure struct{ err error }

func (f *fatalFailure) Error() string { return fmt.Sprintf("fatal: %s", f.err) }
func (f *fatalFailure) Unwrap() error { return f.err }

// commitLinkFailure marks a link error surfacing during phase 3's commit
// pass rather than phase 2's link test — this should not normally happen
// since phase 2 already proved the new code links, but a graph mutated
// concurrently with an in-flight update could still hit it.
type commitLinkFailure struct{ err error }

func (f *commitLinkFailure) Error() string { return f.err.Error() }
func (f *commitLinkFailure) Unwrap() error { return f.err }

// commitEvalFailure wraps a user body's evaluation error so requestUpdate
// can distinguish "evaluation threw" from the other failure shapes
// without inspecting error text.
type commitEvalFailure struct{ err error }

func (f *commitEvalFailure) Error() string { return f.err.Error() }
func (f *commitEvalFailure) Unwrap() error { return f.err }
