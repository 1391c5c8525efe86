package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ensembleflow/types"
)

func diamond(t *testing.T) *Graph {
	t.Helper()
	g, err := NewGraphBuilder().
		AddNode("A", ref("a")).
		AddNode("B", ref("b")).
		AddNode("C", ref("c")).
		AddNode("D", ref("d")).
		AddEdge("A", "B").
		AddEdge("A", "C").
		AddEdge("B", "D").
		AddEdge("C", "D").
		Build()
	require.NoError(t, err)
	return g
}

func TestRunState_SeedsRoots(t *testing.T) {
	g := diamond(t)
	top := types.NewRequest(map[string]string{"X-Trace": "1"}, types.Parameter{Name: "input", Value: []byte("img")})
	top.ID = "req-1"

	s := newRunState(g, top)

	assert.True(t, s.hasReady())
	root := s.requests.get("A")
	require.NotNil(t, root)
	assert.Equal(t, "req-1", root.ID)
	assert.Equal(t, "1", root.Headers["X-Trace"])
	assert.Equal(t, []string{"input"}, root.ParameterNames())

	root.Headers["X-Trace"] = "changed"
	assert.Equal(t, "1", top.Headers["X-Trace"])
	assert.Nil(t, s.requests.get("D"))
}

func TestRunState_PlanningHasNoRequests(t *testing.T) {
	s := newRunState(diamond(t), nil)
	assert.Nil(t, s.requests.get("A"))
}

func TestRunState_TakeNewlyReady(t *testing.T) {
	s := newRunState(diamond(t), nil)

	assert.Equal(t, []string{"A"}, s.takeNewlyReady())
	assert.Empty(t, s.takeNewlyReady(), "dispatched nodes are not returned again")

	s.complete("A")
	assert.True(t, s.release("C"))
	assert.True(t, s.release("B"))
	assert.Equal(t, []string{"B", "C"}, s.takeNewlyReady())

	s.complete("B")
	assert.False(t, s.release("D"))
	s.complete("C")
	assert.True(t, s.release("D"))
	assert.Equal(t, []string{"D"}, s.takeNewlyReady())

	s.complete("D")
	assert.False(t, s.hasReady())
}

func TestRunState_WorkingCopyIsolated(t *testing.T) {
	g := diamond(t)
	s := newRunState(g, nil)
	s.release("D")
	s.release("D")

	assert.Equal(t, 2, g.InDegree("D"))
	assert.Equal(t, 2, g.InDegreeSnapshot()["D"])
}

func TestRequestTable_Contribute(t *testing.T) {
	headers := map[string]string{"Authorization": "token"}
	table := newRequestTable(types.NewRequest(headers))

	table.contribute("B", "A", []byte("a-out"), 1)
	b := table.get("B")
	require.NotNil(t, b)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, headers, b.Headers)
	p, ok := b.Parameter("body")
	require.True(t, ok)
	assert.Equal(t, []byte("a-out"), p.Value)

	table.contribute("D", "B", []byte("b-out"), 2)
	table.contribute("D", "C", nil, 2)
	d := table.get("D")
	assert.Equal(t, []string{"B", "C"}, d.ParameterNames())
	c, ok := d.Parameter("C")
	require.True(t, ok)
	assert.Nil(t, c.Value)

	d.Headers["Authorization"] = "other"
	assert.Equal(t, "token", headers["Authorization"])
	assert.Equal(t, "token", b.Headers["Authorization"])
}
