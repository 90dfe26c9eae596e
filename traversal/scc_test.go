package traversal_test

import (
	"errors"
	"testing"

	"github.com/delaneyj/hmrcore/traversal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chain graph: a -> b -> c (no cycles). Each node's own result is its
// name, and Post appends every forward result after its own.
func chainWalk(edges map[string][]string) traversal.Walk[string, []string] {
	return traversal.Walk[string, []string]{
		Children: func(n string) []string { return edges[n] },
		Post: func(scc []string, forward [][]string) ([]string, error) {
			var out []string
			out = append(out, scc...)
			for _, f := range forward {
				out = append(out, f...)
			}
			return out, nil
		},
	}
}

func TestWalkVisitsLeavesBeforeRoot(t *testing.T) {
	edges := map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": nil,
	}
	res, err := chainWalk(edges).Run("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, res)
}

func TestWalkGroupsCycleIntoOneSCC(t *testing.T) {
	edges := map[string][]string{
		"a": {"b"},
		"b": {"a"},
	}
	var sccSizes []int
	w := traversal.Walk[string, int]{
		Children: func(n string) []string { return edges[n] },
		Post: func(scc []string, forward []int) (int, error) {
			sccSizes = append(sccSizes, len(scc))
			return len(scc), nil
		},
	}
	res, err := w.Run("a")
	require.NoError(t, err)
	assert.Equal(t, 2, res)
	assert.Equal(t, []int{2}, sccSizes)
}

func TestWalkSelfLoopIsOwnSCC(t *testing.T) {
	edges := map[string][]string{"a": {"a"}}
	w := traversal.Walk[string, int]{
		Children: func(n string) []string { return edges[n] },
		Post: func(scc []string, forward []int) (int, error) {
			return len(scc), nil
		},
	}
	res, err := w.Run("a")
	require.NoError(t, err)
	assert.Equal(t, 1, res)
}

func TestWalkDiamondFoldsSuccessorsOnce(t *testing.T) {
	// a -> b, a -> c, b -> d, c -> d
	edges := map[string][]string{
		"a": {"b", "c"},
		"b": {"d"},
		"c": {"d"},
		"d": nil,
	}
	var postCount int
	w := traversal.Walk[string, string]{
		Children: func(n string) []string { return edges[n] },
		Post: func(scc []string, forward []string) (string, error) {
			postCount++
			if scc[0] == "a" {
				require.Len(t, forward, 2, "a's two successor SCCs (b, c) must each appear once, not d twice")
			}
			return scc[0], nil
		},
	}
	_, err := w.Run("a")
	require.NoError(t, err)
	assert.Equal(t, 4, postCount)
}

func TestWalkCancelOnError(t *testing.T) {
	edges := map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": nil,
	}
	var cancelled []string
	boom := errors.New("boom")
	w := traversal.Walk[string, string]{
		Children: func(n string) []string { return edges[n] },
		Post: func(scc []string, forward []string) (string, error) {
			if scc[0] == "c" {
				return "", boom
			}
			return scc[0], nil
		},
		Cancel: func(remaining []string) {
			cancelled = remaining
		},
	}
	_, err := w.Run("a")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cancelled)
}

func TestAllocatorAcquireReleaseDistinctTags(t *testing.T) {
	alloc := traversal.NewAllocator()
	tag1, release1 := alloc.Acquire()
	tag2, release2 := alloc.Acquire()
	assert.NotEqual(t, tag1, tag2)
	release2()
	release1()

	tag3, release3 := alloc.Acquire()
	assert.False(t, traversal.None(tag3))
	assert.NotEqual(t, tag1, tag3)
	release3()
}
