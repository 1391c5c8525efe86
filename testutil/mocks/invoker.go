// MockInvoker 的推理调用测试模拟实现。
//
// 支持固定载荷、按模型注入错误、延迟与调用记录。
package mocks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/ensembleflow/types"
	"github.com/BaSui01/ensembleflow/workflow"
)

// MockInvokerCall 记录单次调用
type MockInvokerCall struct {
	Service workflow.ServiceRef
	Request *types.Request
}

// MockInvoker 是 workflow.Invoker 的模拟实现。
// 默认返回模型名作为载荷。
type MockInvoker struct {
	mu sync.Mutex

	payloads map[string][]byte
	errs     map[string]error
	delay    time.Duration
	fn       func(ctx context.Context, ref workflow.ServiceRef, req *types.Request) ([]byte, error)

	calls    []MockInvokerCall
	counts   map[string]int
	inFlight atomic.Int32
	peak     atomic.Int32
}

// NewMockInvoker 创建新的 MockInvoker
func NewMockInvoker() *MockInvoker {
	return &MockInvoker{
		payloads: make(map[string][]byte),
		errs:     make(map[string]error),
		counts:   make(map[string]int),
	}
}

// --- Builder 方法 ---

// WithPayload 设置指定模型返回的载荷
func (m *MockInvoker) WithPayload(model string, payload []byte) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads[model] = payload
	return m
}

// WithError 设置指定模型返回的错误
func (m *MockInvoker) WithError(model string, err error) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[model] = err
	return m
}

// WithDelay 设置每次调用的模拟延迟（遵守 ctx 取消）
func (m *MockInvoker) WithDelay(d time.Duration) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithFunc 设置自定义调用逻辑，优先于载荷与错误配置
func (m *MockInvoker) WithFunc(fn func(ctx context.Context, ref workflow.ServiceRef, req *types.Request) ([]byte, error)) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	return m
}

// --- workflow.Invoker 实现 ---

// Invoke 实现 workflow.Invoker
func (m *MockInvoker) Invoke(ctx context.Context, ref workflow.ServiceRef, req *types.Request) ([]byte, error) {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		peak := m.peak.Load()
		if n <= peak || m.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, MockInvokerCall{Service: ref, Request: req.Clone()})
	m.counts[ref.Model]++
	delay := m.delay
	fn := m.fn
	payload, hasPayload := m.payloads[ref.Model]
	err := m.errs[ref.Model]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, types.NewError(types.ErrInterrupted, "invocation interrupted").WithCause(ctx.Err())
		}
	}

	if fn != nil {
		return fn(ctx, ref, req)
	}
	if err != nil {
		return nil, err
	}
	if hasPayload {
		return payload, nil
	}
	return []byte(ref.Model), nil
}

// --- 调用记录 ---

// Calls 返回全部调用记录
func (m *MockInvoker) Calls() []MockInvokerCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]MockInvokerCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CallCount 返回指定模型的调用次数
func (m *MockInvoker) CallCount(model string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[model]
}

// TotalCalls 返回总调用次数
func (m *MockInvoker) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// RequestFor 返回指定模型最近一次调用的请求
func (m *MockInvoker) RequestFor(model string) *types.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.calls) - 1; i >= 0; i-- {
		if m.calls[i].Service.Model == model {
			return m.calls[i].Request
		}
	}
	return nil
}

// PeakConcurrency 返回观察到的最大并发调用数
func (m *MockInvoker) PeakConcurrency() int {
	return int(m.peak.Load())
}

// Reset 清空调用记录
func (m *MockInvoker) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.counts = make(map[string]int)
	m.peak.Store(0)
}
