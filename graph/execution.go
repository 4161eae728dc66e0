package graph

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Status is shared by both per-node and per-execution state machines.
// Not every value is reachable by both: StatusReady is node-only, and an
// execution never reports StatusSkipped for itself.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReady     Status = "ready"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusSkipped   Status = "skipped"
)

// ExecError is the terminal error recorded against a failed execution.
type ExecError struct {
	Kind    ErrKind
	NodeID  string
	Message string
}

// ExecutionState is owned exclusively by the scheduler that created it
// for the lifetime of the run; every other reader (the façade's Status
// call, the router, the trace recorder) takes an ExecutionSnapshot
// instead of touching this struct directly.
type ExecutionState struct {
	ExecutionID string
	WorkflowID  string
	UserID      *string
	Status      Status
	StartedAt   time.Time
	CompletedAt *time.Time

	mu          sync.Mutex
	nodeStatus  map[string]Status
	nodeOutputs map[string]NodeOutput
	totalCost   decimal.Decimal
	totalTokens int64
	execErr     *ExecError
}

// NewExecutionState allocates the per-run state for wf, to be driven by
// exactly one scheduler goroutine tree.
func NewExecutionState(executionID string, wf Workflow, userID *string) *ExecutionState {
	st := &ExecutionState{
		ExecutionID: executionID,
		WorkflowID:  wf.ID,
		UserID:      userID,
		Status:      StatusPending,
		StartedAt:   time.Now(),
		nodeStatus:  make(map[string]Status, len(wf.Nodes)),
		nodeOutputs: make(map[string]NodeOutput, len(wf.Nodes)),
	}
	for id := range wf.Nodes {
		st.nodeStatus[id] = StatusPending
	}
	return st
}

// Begin transitions pending → running. A no-op once the execution has
// moved past pending.
func (s *ExecutionState) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status == StatusPending {
		s.Status = StatusRunning
	}
}

// CompletedOutputs returns a consistent snapshot of every published
// node output, keyed by node id. The router reads predecessors through
// this; each NodeOutput value is immutable once published.
func (s *ExecutionState) CompletedOutputs() map[string]NodeOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]NodeOutput, len(s.nodeOutputs))
	for k, v := range s.nodeOutputs {
		out[k] = v
	}
	return out
}

// SetNodeStatus records a node's state-machine transition. Guarded by
// the same mutex as output publication so a reader never observes a
// status update and its corresponding output out of sync.
func (s *ExecutionState) SetNodeStatus(nodeID string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeStatus[nodeID] = status
}

func (s *ExecutionState) NodeStatus(nodeID string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodeStatus[nodeID]
}

// PublishOutput is the single write path into the shared output map. No
// I/O happens while the lock is held; callers compute the output first
// and publish it as the last step of node completion.
func (s *ExecutionState) PublishOutput(nodeID string, out NodeOutput, cost decimal.Decimal, tokens TokenUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeOutputs[nodeID] = out
	s.nodeStatus[nodeID] = StatusCompleted
	s.totalCost = s.totalCost.Add(cost)
	s.totalTokens += tokens.Norm().Total
}

// Output returns a snapshot of nodeID's published output, or false if
// it has not completed yet.
func (s *ExecutionState) Output(nodeID string) (NodeOutput, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.nodeOutputs[nodeID]
	return out, ok
}

// Snapshot returns an immutable, caller-owned copy of the run's current
// state for external observers (the façade's Status call, the trace
// recorder's final write).
func (s *ExecutionState) Snapshot() ExecutionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodeStatus := make(map[string]Status, len(s.nodeStatus))
	for k, v := range s.nodeStatus {
		nodeStatus[k] = v
	}
	outputs := make(map[string]NodeOutput, len(s.nodeOutputs))
	for k, v := range s.nodeOutputs {
		outputs[k] = v.Clone()
	}

	return ExecutionSnapshot{
		ExecutionID: s.ExecutionID,
		WorkflowID:  s.WorkflowID,
		Status:      s.Status,
		StartedAt:   s.StartedAt,
		CompletedAt: s.CompletedAt,
		NodeStatus:  nodeStatus,
		NodeOutputs: outputs,
		TotalCost:   s.totalCost,
		TotalTokens: s.totalTokens,
		Error:       s.execErr,
	}
}

// Finish transitions the execution to a terminal status and records the
// wall-clock completion time. Calling it more than once is a no-op
// after the first terminal transition.
func (s *ExecutionState) Finish(status Status, execErr *ExecError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status == StatusCompleted || s.Status == StatusFailed || s.Status == StatusCancelled {
		return
	}
	s.Status = status
	s.execErr = execErr
	now := time.Now()
	s.CompletedAt = &now
}

// ExecutionSnapshot is the read-only, race-free view of an execution's
// state handed to anything outside the owning scheduler.
type ExecutionSnapshot struct {
	ExecutionID string
	WorkflowID  string
	Status      Status
	StartedAt   time.Time
	CompletedAt *time.Time
	NodeStatus  map[string]Status
	NodeOutputs map[string]NodeOutput
	TotalCost   decimal.Decimal
	TotalTokens int64
	Error       *ExecError
}
