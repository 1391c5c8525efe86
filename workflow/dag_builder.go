package workflow

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/ensembleflow/types"
)

var (
	ErrEmptyGraph    = errors.New("workflow: graph has no nodes")
	ErrDuplicateNode = errors.New("workflow: duplicate node")
	ErrNodeNotFound  = errors.New("workflow: node not found")
	ErrCycleDetected = errors.New("workflow: cycle detected, graph is not acyclic")
)

// GraphBuilder provides a fluent API for constructing workflow graphs.
// Errors are collected and reported by Build.
type GraphBuilder struct {
	nodes     map[string]*Node
	adjacency map[string]map[string]struct{}
	edges     [][2]string
	errs      []error
	logger    *zap.Logger
}

// NewGraphBuilder creates an empty builder.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{
		nodes:     make(map[string]*Node),
		adjacency: make(map[string]map[string]struct{}),
		logger:    zap.NewNop(),
	}
}

// WithLogger sets a custom logger.
func (b *GraphBuilder) WithLogger(logger *zap.Logger) *GraphBuilder {
	if logger != nil {
		b.logger = logger.With(zap.String("component", "graph_builder"))
	}
	return b
}

// AddNode adds a node that invokes ref.
func (b *GraphBuilder) AddNode(name string, ref ServiceRef) *GraphBuilder {
	switch {
	case name == "":
		b.errs = append(b.errs, errors.New("workflow: node name is empty"))
	case ref.Model == "":
		b.errs = append(b.errs, fmt.Errorf("workflow: node %s has no model", name))
	case b.nodes[name] != nil:
		b.errs = append(b.errs, fmt.Errorf("%w: %s", ErrDuplicateNode, name))
	default:
		b.nodes[name] = &Node{Name: name, Service: ref}
	}
	return b
}

// AddEdge adds a directed edge from one node to another. Repeated edges are
// recorded once.
func (b *GraphBuilder) AddEdge(from, to string) *GraphBuilder {
	b.edges = append(b.edges, [2]string{from, to})
	return b
}

// Build validates the graph and returns an immutable Graph.
func (b *GraphBuilder) Build() (*Graph, error) {
	if err := b.validate(); err != nil {
		return nil, types.NewError(types.ErrGraphInvalid, "graph validation failed").WithCause(err)
	}

	g := newGraph(b.nodes, b.adjacency)

	b.logger.Debug("workflow graph built",
		zap.Int("nodes", g.Len()),
		zap.Strings("roots", g.roots),
	)

	return g, nil
}

// validate performs structural validation of the collected nodes and edges
func (b *GraphBuilder) validate() error {
	if len(b.errs) > 0 {
		return errors.Join(b.errs...)
	}

	if len(b.nodes) == 0 {
		return ErrEmptyGraph
	}

	for _, e := range b.edges {
		from, to := e[0], e[1]
		if b.nodes[from] == nil {
			return fmt.Errorf("%w: edge source %s", ErrNodeNotFound, from)
		}
		if b.nodes[to] == nil {
			return fmt.Errorf("%w: edge target %s", ErrNodeNotFound, to)
		}
		targets := b.adjacency[from]
		if targets == nil {
			targets = make(map[string]struct{})
			b.adjacency[from] = targets
		}
		if _, dup := targets[to]; dup {
			b.logger.Debug("ignoring repeated edge", zap.String("from", from), zap.String("to", to))
			continue
		}
		targets[to] = struct{}{}
	}

	return b.detectCycles()
}

// detectCycles checks that the edges don't form a cycle using DFS
func (b *GraphBuilder) detectCycles() error {
	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)

	state := make(map[string]int, len(b.nodes))

	var dfs func(name string) string
	dfs = func(name string) string {
		state[name] = visiting
		for next := range b.adjacency[name] {
			switch state[next] {
			case visiting:
				return next
			case unvisited:
				if at := dfs(next); at != "" {
					return at
				}
			}
		}
		state[name] = visited
		return ""
	}

	for name := range b.nodes {
		if state[name] == unvisited {
			if at := dfs(name); at != "" {
				return fmt.Errorf("%w: involving node %s", ErrCycleDetected, at)
			}
		}
	}

	return nil
}
