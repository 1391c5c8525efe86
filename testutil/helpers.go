// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数和断言
//
// 使用方法:
//
//	ctx := testutil.TestContext(t)
//	testutil.AssertParameterNames(t, req, "A", "B")
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/BaSui01/ensembleflow/types"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	return TestContextWithTimeout(t, 30*time.Second)
}

// TestContextWithTimeout 返回带自定义超时的测试上下文
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 🔍 断言辅助
// =============================================================================

// AssertParameterNames 断言请求参数名集合（忽略顺序）
func AssertParameterNames(t *testing.T, req *types.Request, expected ...string) {
	t.Helper()

	if req == nil {
		t.Fatalf("request is nil, expected parameters %v", expected)
	}

	actual := req.ParameterNames()
	sort.Strings(actual)
	want := append([]string(nil), expected...)
	sort.Strings(want)

	if len(actual) != len(want) {
		t.Errorf("parameter names mismatch: expected %v, got %v", want, actual)
		return
	}
	for i := range want {
		if want[i] != actual[i] {
			t.Errorf("parameter names mismatch: expected %v, got %v", want, actual)
			return
		}
	}
}

// ParameterValues 将请求参数转换为 name → string(value) 映射
func ParameterValues(req *types.Request) map[string]string {
	values := make(map[string]string, len(req.Parameters))
	for _, p := range req.Parameters {
		values[p.Name] = string(p.Value)
	}
	return values
}

// AssertEventuallyTrue 断言条件最终为真
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()

	if !WaitFor(condition, timeout) {
		t.Errorf("condition not met within %v", timeout)
	}
}

// =============================================================================
// ⏳ 等待辅助
// =============================================================================

// WaitFor 轮询等待条件满足
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return condition()
}

// =============================================================================
// 📦 数据辅助
// =============================================================================

// MustJSON 序列化为 JSON 字符串，失败时 panic
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
