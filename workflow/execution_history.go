package workflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/ensembleflow/types"
)

// ExecutionStatus represents the status of a run or of a single node.
type ExecutionStatus string

const (
	// ExecutionStatusRunning indicates the run or node is in progress
	ExecutionStatusRunning ExecutionStatus = "running"
	// ExecutionStatusCompleted indicates success
	ExecutionStatusCompleted ExecutionStatus = "completed"
	// ExecutionStatusDegraded indicates the run finished but at least one node failed
	ExecutionStatusDegraded ExecutionStatus = "degraded"
	// ExecutionStatusFailed indicates failure
	ExecutionStatusFailed ExecutionStatus = "failed"
)

// NodeExecution records the dispatch of a single node.
type NodeExecution struct {
	NodeName    string          `json:"node_name"`
	Service     ServiceRef      `json:"service"`
	StartTime   time.Time       `json:"start_time"`
	EndTime     time.Time       `json:"end_time"`
	Duration    time.Duration   `json:"duration"`
	Status      ExecutionStatus `json:"status"`
	Input       *types.Request  `json:"input,omitempty"`
	PayloadSize int             `json:"payload_size"`
	Error       string          `json:"error,omitempty"`
	ErrorCode   types.ErrorCode `json:"error_code,omitempty"`
}

// ExecutionHistory records every node dispatched by one Execute call.
type ExecutionHistory struct {
	ExecutionID  string           `json:"execution_id"`
	WorkflowName string           `json:"workflow_name"`
	StartTime    time.Time        `json:"start_time"`
	EndTime      time.Time        `json:"end_time"`
	Duration     time.Duration    `json:"duration"`
	Status       ExecutionStatus  `json:"status"`
	Nodes        []*NodeExecution `json:"nodes"`
	Error        string           `json:"error,omitempty"`
	mu           sync.RWMutex
}

// NewExecutionHistory creates a running history with a fresh execution ID.
func NewExecutionHistory(workflowName string) *ExecutionHistory {
	return &ExecutionHistory{
		ExecutionID:  uuid.NewString(),
		WorkflowName: workflowName,
		StartTime:    time.Now(),
		Status:       ExecutionStatusRunning,
		Nodes:        make([]*NodeExecution, 0),
	}
}

// RecordNodeStart records the start of a node dispatch. input is stored as a
// clone so later contributions to the live request are not observed.
func (h *ExecutionHistory) RecordNodeStart(node *Node, input *types.Request) *NodeExecution {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec := &NodeExecution{
		NodeName:  node.Name,
		Service:   node.Service,
		StartTime: time.Now(),
		Status:    ExecutionStatusRunning,
		Input:     input.Clone(),
	}
	h.Nodes = append(h.Nodes, rec)
	return rec
}

// RecordNodeEnd completes a node record.
func (h *ExecutionHistory) RecordNodeEnd(rec *NodeExecution, payload []byte, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec.EndTime = time.Now()
	rec.Duration = rec.EndTime.Sub(rec.StartTime)
	rec.PayloadSize = len(payload)

	if err != nil {
		rec.Status = ExecutionStatusFailed
		rec.Error = err.Error()
		rec.ErrorCode = types.GetErrorCode(err)
	} else {
		rec.Status = ExecutionStatusCompleted
	}
}

// Complete marks the run finished. A nil err with failed nodes yields the
// degraded status.
func (h *ExecutionHistory) Complete(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.EndTime = time.Now()
	h.Duration = h.EndTime.Sub(h.StartTime)

	switch {
	case err != nil:
		h.Status = ExecutionStatusFailed
		h.Error = err.Error()
	case h.failedLocked() > 0:
		h.Status = ExecutionStatusDegraded
	default:
		h.Status = ExecutionStatusCompleted
	}
}

// FailedNodes returns the number of failed node records.
func (h *ExecutionHistory) FailedNodes() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.failedLocked()
}

func (h *ExecutionHistory) failedLocked() int {
	n := 0
	for _, rec := range h.Nodes {
		if rec.Status == ExecutionStatusFailed {
			n++
		}
	}
	return n
}

// GetStatus returns the current run status.
func (h *ExecutionHistory) GetStatus() ExecutionStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.Status
}

// GetNodes returns a copy of the node records in dispatch order.
func (h *ExecutionHistory) GetNodes() []*NodeExecution {
	h.mu.RLock()
	defer h.mu.RUnlock()

	nodes := make([]*NodeExecution, len(h.Nodes))
	copy(nodes, h.Nodes)
	return nodes
}

// GetNode returns the record for a node, or nil.
func (h *ExecutionHistory) GetNode(name string) *NodeExecution {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, rec := range h.Nodes {
		if rec.NodeName == name {
			return rec
		}
	}
	return nil
}

// ExecutionHistoryStore keeps histories in memory.
type ExecutionHistoryStore struct {
	histories map[string]*ExecutionHistory
	mu        sync.RWMutex
}

// NewExecutionHistoryStore creates an empty store.
func NewExecutionHistoryStore() *ExecutionHistoryStore {
	return &ExecutionHistoryStore{
		histories: make(map[string]*ExecutionHistory),
	}
}

// Save stores a history under its execution ID.
func (s *ExecutionHistoryStore) Save(history *ExecutionHistory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[history.ExecutionID] = history
}

// Record implements HistorySink.
func (s *ExecutionHistoryStore) Record(_ context.Context, history *ExecutionHistory) error {
	s.Save(history)
	return nil
}

// Get retrieves a history by execution ID.
func (s *ExecutionHistoryStore) Get(executionID string) (*ExecutionHistory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.histories[executionID]
	return h, ok
}

// ListByWorkflow returns the runs of a workflow, oldest first.
func (s *ExecutionHistoryStore) ListByWorkflow(workflowName string) []*ExecutionHistory {
	return s.filter(func(h *ExecutionHistory) bool {
		return h.WorkflowName == workflowName
	})
}

// ListByStatus returns the runs with a given status, oldest first.
func (s *ExecutionHistoryStore) ListByStatus(status ExecutionStatus) []*ExecutionHistory {
	return s.filter(func(h *ExecutionHistory) bool {
		return h.GetStatus() == status
	})
}

// ListByTimeRange returns the runs started within [start, end], oldest first.
func (s *ExecutionHistoryStore) ListByTimeRange(start, end time.Time) []*ExecutionHistory {
	return s.filter(func(h *ExecutionHistory) bool {
		return !h.StartTime.Before(start) && !h.StartTime.After(end)
	})
}

func (s *ExecutionHistoryStore) filter(keep func(*ExecutionHistory) bool) []*ExecutionHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*ExecutionHistory
	for _, h := range s.histories {
		if keep(h) {
			result = append(result, h)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.Before(result[j].StartTime)
	})
	return result
}
