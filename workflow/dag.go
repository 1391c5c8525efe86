package workflow

import (
	"slices"
	"sort"
)

// ServiceRef identifies the model a node invokes.
type ServiceRef struct {
	// Model is the registered model name
	Model string `json:"model" yaml:"model"`
	// Version selects a model version; empty means the default version
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// String returns "model" or "model/version".
func (r ServiceRef) String() string {
	if r.Version == "" {
		return r.Model
	}
	return r.Model + "/" + r.Version
}

// Node is a single model-invocation step in a workflow graph.
type Node struct {
	// Name is the unique node name within the graph
	Name string
	// Service is the model this node dispatches to
	Service ServiceRef
}

// Graph is the immutable dependency structure of a workflow. It is built once
// by GraphBuilder and only queried afterwards, so it is safe to share between
// concurrent runs.
type Graph struct {
	// nodes maps node names to node descriptors
	nodes map[string]*Node
	// children maps node names to their direct dependents, sorted and unique
	children map[string][]string
	// inDegree maps node names to the number of distinct incoming edges
	inDegree map[string]int
	// roots lists nodes with no incoming edges, sorted
	roots []string
	// names lists all node names, sorted
	names []string
}

// RootNames returns the nodes with no incoming edges.
func (g *Graph) RootNames() []string {
	return slices.Clone(g.roots)
}

// Children returns the direct dependents of a node. An empty result marks a
// terminal node.
func (g *Graph) Children(name string) []string {
	return slices.Clone(g.children[name])
}

// InDegreeSnapshot returns a fresh, caller-owned copy of the in-degree counts.
func (g *Graph) InDegreeSnapshot() map[string]int {
	snapshot := make(map[string]int, len(g.inDegree))
	for name, degree := range g.inDegree {
		snapshot[name] = degree
	}
	return snapshot
}

// InDegree returns the original in-degree of a node.
func (g *Graph) InDegree(name string) int {
	return g.inDegree[name]
}

// Node retrieves a node by name.
func (g *Graph) Node(name string) (*Node, bool) {
	node, exists := g.nodes[name]
	return node, exists
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// NodeNames returns all node names in sorted order.
func (g *Graph) NodeNames() []string {
	return slices.Clone(g.names)
}

// IsTerminal reports whether a node has no dependents.
func (g *Graph) IsTerminal(name string) bool {
	return len(g.children[name]) == 0
}

// Edges returns every edge as a [from, to] pair, ordered by source then target.
func (g *Graph) Edges() [][2]string {
	var edges [][2]string
	for _, from := range g.names {
		for _, to := range g.children[from] {
			edges = append(edges, [2]string{from, to})
		}
	}
	return edges
}

func newGraph(nodes map[string]*Node, adjacency map[string]map[string]struct{}) *Graph {
	g := &Graph{
		nodes:    nodes,
		children: make(map[string][]string, len(nodes)),
		inDegree: make(map[string]int, len(nodes)),
		names:    make([]string, 0, len(nodes)),
	}

	for name := range nodes {
		g.names = append(g.names, name)
		g.inDegree[name] = 0
	}
	sort.Strings(g.names)

	for from, targets := range adjacency {
		kids := make([]string, 0, len(targets))
		for to := range targets {
			kids = append(kids, to)
			g.inDegree[to]++
		}
		sort.Strings(kids)
		g.children[from] = kids
	}

	for _, name := range g.names {
		if g.inDegree[name] == 0 {
			g.roots = append(g.roots, name)
		}
	}

	return g
}
