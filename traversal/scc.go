// Package traversal provides the depth-first, SCC-grouped walk that every
// higher-level hmrcore algorithm (instance linking, the update algorithm)
// is built from. It never imports declaration/instance/controller — it
// only knows about a comparable node type and a selector function handed
// in by the caller, which is how the same walk serves the four different
// graph "views" (current/pending/previous-or-pending/temporary-or-pending)
// the controller needs without duplicating traversal logic.
package traversal

import "fmt"

// Walk runs a depth-first, strongly-connected-component-grouped traversal
// over a graph of N, folding each SCC (leaves first) into an R via Post.
//
// Children returns the outgoing edges to follow from a node — callers
// close over whichever slot (current/pending/…) they want this walk to
// see. Pre is an optional hook invoked once per node on first descent.
// Post is called once per SCC, in dependency order (a SCC's successors
// have already been folded by the time Post sees it), with the SCC's
// member nodes and the already-computed results of every distinct
// successor SCC. Cancel, if set, is invoked with every node that was
// descended into but never reached a successful Post call, in the event
// Post returns an error anywhere in the walk.
type Walk[N comparable, R any] struct {
	Children func(n N) []N
	Pre      func(n N)
	Post     func(scc []N, forward []R) (R, error)
	Cancel   func(remaining []N)
}

type walkState[N comparable, R any] struct {
	index   map[N]int
	low     map[N]int
	onStack map[N]bool
	stack   []N
	next    int
	sccID   map[N]int
	results map[int]R
	nextSCC int
}

// Run walks the graph reachable from root and returns root's SCC's
// folded result.
func (w Walk[N, R]) Run(root N) (R, error) {
	var zero R
	st := &walkState[N, R]{
		index:   make(map[N]int),
		low:     make(map[N]int),
		onStack: make(map[N]bool),
		sccID:   make(map[N]int),
		results: make(map[int]R),
	}
	res, _, err := w.connect(st, root)
	if err != nil {
		if w.Cancel != nil {
			w.Cancel(append([]N(nil), st.stack...))
		}
		return zero, err
	}
	return res, nil
}

// connect is Tarjan's strongConnect, extended to fold SCCs via Post as
// each one closes. It returns the result for v's own SCC (only
// meaningful once v turns out to be that SCC's root) and v's low-link.
func (w Walk[N, R]) connect(st *walkState[N, R], v N) (R, int, error) {
	var zero R
	if w.Pre != nil {
		w.Pre(v)
	}
	st.index[v] = st.next
	st.low[v] = st.next
	st.next++
	st.stack = append(st.stack, v)
	st.onStack[v] = true

	low := st.index[v]
	for _, child := range w.Children(v) {
		if _, seen := st.index[child]; !seen {
			_, childLow, err := w.connect(st, child)
			if err != nil {
				return zero, 0, err
			}
			if childLow < low {
				low = childLow
			}
		} else if st.onStack[child] {
			if st.index[child] < low {
				low = st.index[child]
			}
		}
	}
	st.low[v] = low

	if low != st.index[v] {
		return zero, low, nil
	}

	// v is an SCC root: pop members off the Tarjan stack down to and
	// including v.
	var scc []N
	for {
		n := len(st.stack) - 1
		member := st.stack[n]
		st.stack = st.stack[:n]
		st.onStack[member] = false
		scc = append(scc, member)
		if member == v {
			break
		}
	}

	sccID := st.nextSCC
	st.nextSCC++

	forward, err := w.forwardResults(st, scc, sccID)
	if err != nil {
		return zero, 0, err
	}

	res, err := w.Post(scc, forward)
	if err != nil {
		// The failed SCC's members never reached a successful Post: put
		// them back so Run hands them to Cancel with the still-open nodes.
		st.stack = append(st.stack, scc...)
		return zero, 0, fmt.Errorf("traversal: post-visit failed: %w", err)
	}

	for _, member := range scc {
		st.sccID[member] = sccID
	}
	st.results[sccID] = res

	return res, low, nil
}

// forwardResults collects, in first-seen order, the results of every
// distinct already-closed SCC reachable in one hop from members of scc.
func (w Walk[N, R]) forwardResults(st *walkState[N, R], scc []N, sccID int) ([]R, error) {
	inThisSCC := make(map[N]bool, len(scc))
	for _, n := range scc {
		inThisSCC[n] = true
	}
	var forward []R
	seen := make(map[int]bool)
	for _, n := range scc {
		for _, child := range w.Children(n) {
			if inThisSCC[child] {
				continue
			}
			id, ok := st.sccID[child]
			if !ok {
				// Reachable through a forward edge to a node whose SCC
				// hasn't closed yet, i.e. to a node still on the Tarjan
				// stack but outside our own SCC. That cannot happen: any
				// such node would have been reachable back to us, making
				// it part of this SCC. Treat it defensively as "no
				// result yet" rather than panicking on a graph shape we
				// didn't anticipate.
				continue
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			forward = append(forward, st.results[id])
		}
	}
	return forward, nil
}
