// Package context implements the ContextManager (C3): stacks of operation,
// pipeline, for and guard-retry frames exposing the read-only @ctx/@mx views
// to user code.
package context

import (
	"sync"

	"github.com/mlld-lang/mlld/internal/mllderr"
)

// OperationFrame is the directive currently being evaluated.
type OperationFrame struct {
	Type   string // var/exe/run/for/when/output/...
	Labels []string

	// baseline stack depths at push time, used to detect sub-stacks left
	// unpopped when this operation frame is popped.
	pipelineBaseline   int
	forBaseline        int
	guardRetryBaseline int
}

// PipelineFrame mirrors §3.5.
type PipelineFrame struct {
	Stage           int
	TotalStages     int
	CurrentCommand  string
	Input           interface{}
	PreviousOutputs []interface{}
	AttemptCount    int
	AttemptHistory  []interface{}
	Hint            *string
	HintHistory     []*string
	SourceRetryable bool
	Guards          []string
}

// ForFrame is the active iteration frame, surfaced as @mx.for.
type ForFrame struct {
	Index      int
	Total      int
	BatchIndex int
	BatchSize  int
}

// GuardTry is one recorded guard decision within a retry sequence.
type GuardTry struct {
	Attempt  int
	Decision string
	Hint     *string
}

// GuardRetryFrame mirrors §3.6; Default() gives the documented zero value.
type GuardRetryFrame struct {
	Attempt     int
	Tries       []GuardTry
	HintHistory []*string
	Max         int
}

// Default returns {attempt:1, tries:[], hintHistory:[], max:3}.
func Default() GuardRetryFrame {
	return GuardRetryFrame{Attempt: 1, Max: 3}
}

// Manager owns the context stacks for one evaluation. It is created once
// per root Environment and shared (by reference) with all descendant envs.
type Manager struct {
	mu sync.Mutex

	operation  []OperationFrame
	pipeline   []PipelineFrame
	forStack   []ForFrame
	guardRetry []GuardRetryFrame
	generic    map[string][]interface{}

	loopIteration int
	loopLimit     int
	loopActive    bool
	hooksErrors   []HooksError
	taint         []string
}

// HooksError is one entry of @mx.hooks.errors.
type HooksError struct {
	HookName string
	Message  string
}

// New creates an empty ContextManager.
func New() *Manager {
	return &Manager{generic: make(map[string][]interface{})}
}

// PushOperation enters a new operation context (§4.3 contract: push/pop must
// match FILO).
func (m *Manager) PushOperation(f OperationFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f.pipelineBaseline = len(m.pipeline)
	f.forBaseline = len(m.forStack)
	f.guardRetryBaseline = len(m.guardRetry)
	m.operation = append(m.operation, f)
}

// PopOperation exits the current operation context. Fails fatally with
// CONTEXT_IMBALANCE if the stack is empty or if sub-stacks pushed during
// this frame were not popped before this call.
func (m *Manager) PopOperation() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.operation) == 0 {
		return mllderr.New(mllderr.ContextImbalance, "popOperation called with empty operation stack")
	}
	top := m.operation[len(m.operation)-1]
	if len(m.pipeline) != top.pipelineBaseline || len(m.forStack) != top.forBaseline || len(m.guardRetry) != top.guardRetryBaseline {
		return mllderr.New(mllderr.ContextImbalance, "sub-stack not popped before operation frame %q exited", top.Type)
	}
	m.operation = m.operation[:len(m.operation)-1]
	return nil
}

// CurrentOperation returns the top operation frame, if any.
func (m *Manager) CurrentOperation() (OperationFrame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.operation) == 0 {
		return OperationFrame{}, false
	}
	return m.operation[len(m.operation)-1], true
}

// IsPipeline reports @ctx.isPipeline.
func (m *Manager) IsPipeline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pipeline) > 0
}

// PushPipeline enters a pipeline stage frame.
func (m *Manager) PushPipeline(f PipelineFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipeline = append(m.pipeline, f)
}

// PopPipeline exits the current pipeline stage frame.
func (m *Manager) PopPipeline() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pipeline) == 0 {
		return mllderr.New(mllderr.ContextImbalance, "popPipeline called with empty pipeline stack")
	}
	m.pipeline = m.pipeline[:len(m.pipeline)-1]
	return nil
}

// CurrentPipeline returns the top pipeline frame, if any.
func (m *Manager) CurrentPipeline() (*PipelineFrame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pipeline) == 0 {
		return nil, false
	}
	return &m.pipeline[len(m.pipeline)-1], true
}

// UpdateCurrentPipeline mutates the top pipeline frame in place (used when a
// stage's attemptCount/hint/previousOutputs change within the same frame).
func (m *Manager) UpdateCurrentPipeline(fn func(*PipelineFrame)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pipeline) == 0 {
		return
	}
	fn(&m.pipeline[len(m.pipeline)-1])
}

// PushFor enters a for-loop iteration frame.
func (m *Manager) PushFor(f ForFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forStack = append(m.forStack, f)
}

// PopFor exits the current for-loop iteration frame.
func (m *Manager) PopFor() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.forStack) == 0 {
		return mllderr.New(mllderr.ContextImbalance, "popFor called with empty for stack")
	}
	m.forStack = m.forStack[:len(m.forStack)-1]
	return nil
}

// CurrentFor returns the top for frame, if any (@mx.for).
func (m *Manager) CurrentFor() (ForFrame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.forStack) == 0 {
		return ForFrame{}, false
	}
	return m.forStack[len(m.forStack)-1], true
}

// PushGuardRetry enters a guard-retry context.
func (m *Manager) PushGuardRetry(f GuardRetryFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guardRetry = append(m.guardRetry, f)
}

// PopGuardRetry exits the current guard-retry context.
func (m *Manager) PopGuardRetry() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.guardRetry) == 0 {
		return mllderr.New(mllderr.ContextImbalance, "popGuardRetry called with empty guard-retry stack")
	}
	m.guardRetry = m.guardRetry[:len(m.guardRetry)-1]
	return nil
}

// CurrentGuardRetry returns the top guard-retry frame, defaulting per
// Default() when the stack is empty.
func (m *Manager) CurrentGuardRetry() GuardRetryFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.guardRetry) == 0 {
		return Default()
	}
	return m.guardRetry[len(m.guardRetry)-1]
}

// SetLoop records @mx.loop.{iteration,limit,active}.
func (m *Manager) SetLoop(iteration, limit int, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loopIteration, m.loopLimit, m.loopActive = iteration, limit, active
}

// Loop returns @mx.loop.
func (m *Manager) Loop() (iteration, limit int, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loopIteration, m.loopLimit, m.loopActive
}

// RecordHookError appends to @mx.hooks.errors (§4.8: hook body errors are
// captured, not propagated, and remaining hooks continue).
func (m *Manager) RecordHookError(hookName, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooksErrors = append(m.hooksErrors, HooksError{HookName: hookName, Message: message})
}

// HooksErrors returns a snapshot of @mx.hooks.errors.
func (m *Manager) HooksErrors() []HooksError {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]HooksError{}, m.hooksErrors...)
}

// Generic namespaced buckets, for extensions that don't warrant a
// dedicated stack.
func (m *Manager) PushGeneric(namespace string, v interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generic[namespace] = append(m.generic[namespace], v)
}

func (m *Manager) PopGeneric(namespace string) (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stack := m.generic[namespace]
	if len(stack) == 0 {
		return nil, false
	}
	v := stack[len(stack)-1]
	m.generic[namespace] = stack[:len(stack)-1]
	return v, true
}

// CtxView is the read-only @ctx view exposed to user code.
type CtxView struct {
	OpType     string
	PipeStage  int
	TotalStage int
	IsPipeline bool
}

// Ctx computes the current @ctx snapshot.
func (m *Manager) Ctx() CtxView {
	v := CtxView{}
	if op, ok := m.CurrentOperation(); ok {
		v.OpType = op.Type
	}
	if p, ok := m.CurrentPipeline(); ok {
		v.PipeStage = p.Stage
		v.TotalStage = p.TotalStages
		v.IsPipeline = true
	}
	return v
}
