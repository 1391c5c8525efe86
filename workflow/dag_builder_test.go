package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/ensembleflow/types"
)

func ref(model string) ServiceRef {
	return ServiceRef{Model: model}
}

func TestGraphBuilder_Diamond(t *testing.T) {
	g, err := NewGraphBuilder().
		WithLogger(zap.NewNop()).
		AddNode("D", ref("d")).
		AddNode("A", ref("a")).
		AddNode("B", ref("b")).
		AddNode("C", ref("c")).
		AddEdge("A", "C").
		AddEdge("A", "B").
		AddEdge("B", "D").
		AddEdge("C", "D").
		Build()
	require.NoError(t, err)

	assert.Equal(t, 4, g.Len())
	assert.Equal(t, []string{"A"}, g.RootNames())
	assert.Equal(t, []string{"B", "C"}, g.Children("A"))
	assert.Equal(t, []string{"A", "B", "C", "D"}, g.NodeNames())
	assert.Equal(t, 2, g.InDegree("D"))
	assert.Equal(t, 0, g.InDegree("A"))
	assert.True(t, g.IsTerminal("D"))
	assert.False(t, g.IsTerminal("A"))
	assert.Equal(t, [][2]string{{"A", "B"}, {"A", "C"}, {"B", "D"}, {"C", "D"}}, g.Edges())

	node, ok := g.Node("B")
	require.True(t, ok)
	assert.Equal(t, "b", node.Service.Model)

	_, ok = g.Node("missing")
	assert.False(t, ok)
}

func TestGraphBuilder_RepeatedEdgeCountsOnce(t *testing.T) {
	g, err := NewGraphBuilder().
		AddNode("A", ref("a")).
		AddNode("B", ref("b")).
		AddEdge("A", "B").
		AddEdge("A", "B").
		Build()
	require.NoError(t, err)

	assert.Equal(t, 1, g.InDegree("B"))
	assert.Equal(t, []string{"B"}, g.Children("A"))
}

func TestGraphBuilder_QueriesReturnCopies(t *testing.T) {
	g, err := NewGraphBuilder().
		AddNode("A", ref("a")).
		AddNode("B", ref("b")).
		AddEdge("A", "B").
		Build()
	require.NoError(t, err)

	children := g.Children("A")
	children[0] = "mutated"
	roots := g.RootNames()
	roots[0] = "mutated"
	snapshot := g.InDegreeSnapshot()
	snapshot["B"] = 42

	assert.Equal(t, []string{"B"}, g.Children("A"))
	assert.Equal(t, []string{"A"}, g.RootNames())
	assert.Equal(t, 1, g.InDegree("B"))
}

func TestGraphBuilder_MultipleRoots(t *testing.T) {
	g, err := NewGraphBuilder().
		AddNode("Y", ref("y")).
		AddNode("X", ref("x")).
		AddNode("Z", ref("z")).
		AddEdge("X", "Z").
		AddEdge("Y", "Z").
		Build()
	require.NoError(t, err)

	assert.Equal(t, []string{"X", "Y"}, g.RootNames())
}

func TestGraphBuilder_Errors(t *testing.T) {
	tests := []struct {
		name    string
		build   func() *GraphBuilder
		wantErr error
	}{
		{
			name:    "empty graph",
			build:   NewGraphBuilder,
			wantErr: ErrEmptyGraph,
		},
		{
			name: "duplicate node",
			build: func() *GraphBuilder {
				return NewGraphBuilder().AddNode("A", ref("a")).AddNode("A", ref("b"))
			},
			wantErr: ErrDuplicateNode,
		},
		{
			name: "unknown edge source",
			build: func() *GraphBuilder {
				return NewGraphBuilder().AddNode("A", ref("a")).AddEdge("X", "A")
			},
			wantErr: ErrNodeNotFound,
		},
		{
			name: "unknown edge target",
			build: func() *GraphBuilder {
				return NewGraphBuilder().AddNode("A", ref("a")).AddEdge("A", "X")
			},
			wantErr: ErrNodeNotFound,
		},
		{
			name: "self loop",
			build: func() *GraphBuilder {
				return NewGraphBuilder().AddNode("A", ref("a")).AddEdge("A", "A")
			},
			wantErr: ErrCycleDetected,
		},
		{
			name: "three node cycle",
			build: func() *GraphBuilder {
				return NewGraphBuilder().
					AddNode("A", ref("a")).
					AddNode("B", ref("b")).
					AddNode("C", ref("c")).
					AddEdge("A", "B").
					AddEdge("B", "C").
					AddEdge("C", "A")
			},
			wantErr: ErrCycleDetected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := tt.build().Build()
			require.Error(t, err)
			assert.Nil(t, g)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, types.IsErrorCode(err, types.ErrGraphInvalid))
		})
	}
}

func TestGraphBuilder_InvalidNodes(t *testing.T) {
	_, err := NewGraphBuilder().AddNode("", ref("a")).Build()
	assert.True(t, types.IsErrorCode(err, types.ErrGraphInvalid))

	_, err = NewGraphBuilder().AddNode("A", ServiceRef{}).Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no model")
}

func TestServiceRef_String(t *testing.T) {
	assert.Equal(t, "resnet", ServiceRef{Model: "resnet"}.String())
	assert.Equal(t, "resnet/2.0", ServiceRef{Model: "resnet", Version: "2.0"}.String())
}
