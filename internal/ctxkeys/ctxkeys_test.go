package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithRunID(ctx, "run-1")
	ctx = WithWorkflow(ctx, "ensemble")
	ctx = WithNode(ctx, "m1")

	runID, ok := RunID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "run-1", runID)

	wf, ok := Workflow(ctx)
	assert.True(t, ok)
	assert.Equal(t, "ensemble", wf)

	node, ok := Node(ctx)
	assert.True(t, ok)
	assert.Equal(t, "m1", node)
}

func TestMissingAndEmpty(t *testing.T) {
	_, ok := RunID(context.Background())
	assert.False(t, ok)

	_, ok = Node(WithNode(context.Background(), ""))
	assert.False(t, ok, "empty values are treated as absent")
}
