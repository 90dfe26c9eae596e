package hotapi_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/delaneyj/hmrcore/hotapi"
)

func TestIsAcceptedRequiresEveryChangedDep(t *testing.T) {
	h := hotapi.New()
	h.Accept("./a", "./b").Do(nil)
	assert.True(t, hotapi.IsAccepted(h, []string{"./a"}))
	assert.True(t, hotapi.IsAccepted(h, []string{"./a", "./b"}))
	assert.False(t, hotapi.IsAccepted(h, []string{"./a", "./c"}))
}

func TestBareAcceptCoversEveryDep(t *testing.T) {
	h := hotapi.New()
	h.Accept().Do(nil)
	assert.True(t, hotapi.IsAcceptedSelf(h))
	assert.True(t, hotapi.IsAccepted(h, []string{"./anything"}))
}

func TestDeclineAndInvalidate(t *testing.T) {
	h := hotapi.New()
	assert.False(t, hotapi.IsDeclined(h))
	h.Decline()
	assert.True(t, hotapi.IsDeclined(h))

	assert.False(t, hotapi.IsInvalidated(h))
	h.Invalidate()
	assert.True(t, hotapi.IsInvalidated(h))
}

func TestIsPreciselyAcceptedIgnoresBareSelfAccept(t *testing.T) {
	h := hotapi.New()
	h.Accept().Do(nil)
	assert.False(t, hotapi.IsPreciselyAccepted(h, []string{"./a"}), "bare self-accept must not count as a specific dependency accept")
}

func TestIsPreciselyAcceptedRequiresEveryDep(t *testing.T) {
	h := hotapi.New()
	h.Accept("./a").Do(nil)
	assert.True(t, hotapi.IsPreciselyAccepted(h, []string{"./a"}))
	assert.False(t, hotapi.IsPreciselyAccepted(h, []string{"./a", "./b"}))
}

func TestTryAcceptRunsOnlyIntersectingCallbacks(t *testing.T) {
	var ran []string
	h := hotapi.New()
	h.Accept("./a").Do(func(dep string) error { ran = append(ran, dep); return nil })
	h.Accept("./b").Do(func(dep string) error { ran = append(ran, dep); return nil })

	ok := hotapi.TryAccept(h, []string{"./a", "./c"})
	assert.True(t, ok)
	assert.Equal(t, []string{"./a"}, ran)
}

func TestTryAcceptFalseOnCallbackError(t *testing.T) {
	h := hotapi.New()
	h.Accept("./a").Do(func(string) error { return errors.New("boom") })
	assert.False(t, hotapi.TryAccept(h, []string{"./a"}))
}

func TestTryAcceptFalseOnCallbackPanic(t *testing.T) {
	h := hotapi.New()
	h.Accept("./a").Do(func(string) error { panic("nope") })
	assert.False(t, hotapi.TryAccept(h, []string{"./a"}))
}

func TestTryAcceptSelfPassesNamespaceGetter(t *testing.T) {
	h := hotapi.New()
	var seen any
	h.AcceptSelf(func(getNamespace func() any) error {
		seen = getNamespace()
		return nil
	})
	ok := hotapi.TryAcceptSelf(h, func() any { return "namespace" })
	assert.True(t, ok)
	assert.Equal(t, "namespace", seen)
}

func TestTryAcceptSelfFalseWithoutRegistration(t *testing.T) {
	h := hotapi.New()
	assert.False(t, hotapi.TryAcceptSelf(h, func() any { return nil }))
}

func TestDisposeThreadsDataThroughCallbacksInOrder(t *testing.T) {
	h := hotapi.New()
	h.Dispose(func(data any) any { return data.(int) + 1 })
	h.Dispose(func(data any) any { return data.(int) * 2 })
	assert.Equal(t, 4, hotapi.Dispose(h, 1))
}

func TestPruneReturnsFirstError(t *testing.T) {
	h := hotapi.New()
	called := false
	h.Prune(func() error { return errors.New("first") })
	h.Prune(func() error { called = true; return nil })
	err := hotapi.Prune(h)
	assert.Error(t, err)
	assert.False(t, called, "prune stops at the first failing callback")
}
