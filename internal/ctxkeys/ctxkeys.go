// Package ctxkeys 定义在 context 中传递的工作流运行标识。
package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	runIDKey    contextKey = "run_id"
	workflowKey contextKey = "workflow"
	nodeKey     contextKey = "node"
)

// WithRunID 设置本次运行的 ID
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID 获取运行 ID
func RunID(ctx context.Context) (string, bool) {
	return stringValue(ctx, runIDKey)
}

// WithWorkflow 设置工作流名称
func WithWorkflow(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, workflowKey, name)
}

// Workflow 获取工作流名称
func Workflow(ctx context.Context) (string, bool) {
	return stringValue(ctx, workflowKey)
}

// WithNode 设置当前调度的节点名
func WithNode(ctx context.Context, node string) context.Context {
	return context.WithValue(ctx, nodeKey, node)
}

// Node 获取当前节点名
func Node(ctx context.Context) (string, bool) {
	return stringValue(ctx, nodeKey)
}

func stringValue(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
