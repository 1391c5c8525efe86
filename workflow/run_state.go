package workflow

import (
	"maps"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/BaSui01/ensembleflow/types"
)

// fanInParameter is the parameter name used when a node has exactly one
// predecessor.
const fanInParameter = "body"

// runState is the mutable bookkeeping of a single Execute or Plan call.
// Only the coordinator goroutine touches inDegree, ready and dispatched.
type runState struct {
	graph      *Graph
	inDegree   map[string]int
	ready      map[string]struct{}
	dispatched map[string]struct{}
	requests   *requestTable
	failed     int
}

// newRunState seeds the ready set with the graph roots. A nil top request
// means planning mode, where no requests are synthesized.
func newRunState(graph *Graph, top *types.Request) *runState {
	s := &runState{
		graph:      graph,
		inDegree:   graph.InDegreeSnapshot(),
		ready:      make(map[string]struct{}, graph.Len()),
		dispatched: make(map[string]struct{}, graph.Len()),
		requests:   newRequestTable(top),
	}
	for _, root := range graph.RootNames() {
		s.ready[root] = struct{}{}
		if top != nil {
			s.requests.seed(root, top)
		}
	}
	return s
}

func (s *runState) hasReady() bool {
	return len(s.ready) > 0
}

// takeNewlyReady returns the ready nodes not yet dispatched, sorted by name,
// and marks them dispatched.
func (s *runState) takeNewlyReady() []string {
	var names []string
	for name := range s.ready {
		if _, ok := s.dispatched[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		s.dispatched[name] = struct{}{}
	}
	return names
}

// complete removes a finished node from the ready and dispatched sets.
func (s *runState) complete(name string) {
	delete(s.ready, name)
	delete(s.dispatched, name)
}

// release decrements the working in-degree of child and reports whether it
// became ready.
func (s *runState) release(child string) bool {
	s.inDegree[child]--
	if s.inDegree[child] == 0 {
		s.ready[child] = struct{}{}
		return true
	}
	return false
}

// requestTable holds the synthesized request of every node in a run. The
// coordinator writes contributions; dispatch tasks read a node's request once
// it is ready.
type requestTable struct {
	mu       sync.Mutex
	headers  map[string]string
	requests map[string]*types.Request
}

func newRequestTable(top *types.Request) *requestTable {
	t := &requestTable{requests: make(map[string]*types.Request)}
	if top != nil {
		t.headers = top.Headers
	}
	return t
}

// seed gives a root node its own copy of the top-level request.
func (t *requestTable) seed(name string, top *types.Request) {
	req := top.Clone()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests[name] = req
}

// contribute adds the output of from to the request of child, creating the
// request on first contribution. A single-parent child receives the payload
// as "body"; otherwise the parameter is named after the parent.
func (t *requestTable) contribute(child, from string, payload []byte, originalInDegree int) {
	name := from
	if originalInDegree == 1 {
		name = fanInParameter
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	req, ok := t.requests[child]
	if !ok {
		req = &types.Request{
			ID:      uuid.NewString(),
			Headers: maps.Clone(t.headers),
		}
		t.requests[child] = req
	}
	req.AddParameter(name, payload)
}

// get returns the request of a node, or nil if nothing was contributed.
func (t *requestTable) get(name string) *types.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requests[name]
}
