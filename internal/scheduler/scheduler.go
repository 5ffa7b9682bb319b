// Package scheduler admits, queues, executes and retires dispatch requests
// against target agents subject to per-agent capacity, emitting a complete
// audit trail on the event bus.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/fingerworks/finger/internal/events"
	"github.com/fingerworks/finger/internal/hub"
	"github.com/fingerworks/finger/internal/types"
)

// Admission failure messages, surfaced verbatim to callers and events
const (
	ErrTargetRequired  = "targetAgentId is required"
	ErrAgentNotStarted = "target agent is not started in resource pool"
	ErrAgentDisabled   = "target agent is disabled by orchestration config"
	ErrModuleNotFound  = "target module not found or not started"
	ErrDeadlockRisk    = "dispatch deadlock risk"
	ErrAgentBusy       = "target agent busy"
	ErrQueueTimeout    = "dispatch queue timeout"
	ErrInterrupted     = "interrupted by user"
)

// ErrorSink receives recovered panics and failure samples
type ErrorSink interface {
	Write(component string, err error, ctx map[string]any)
}

// Metrics receives scheduler observations. Implementations must be
// goroutine-safe; a nil Metrics disables collection.
type Metrics interface {
	ObserveDispatch(agentID, status string)
	ObserveQueueWait(agentID string, wait time.Duration)
	SetQueueDepth(agentID string, depth int)
	SetActiveDispatches(agentID string, active int)
}

// DefinitionsFunc supplies the current catalog; injected so the scheduler
// stays decoupled from how definitions are sourced.
type DefinitionsFunc func() map[string]types.AgentDefinition

// Scheduler owns the dispatch queues, deployments, runtime profiles,
// workflow tracker and the per-agent last-event store.
type Scheduler struct {
	hub        *hub.Hub
	bus        *events.Bus
	defs       DefinitionsFunc
	lastEvents *LastEventStore
	metrics    Metrics
	samples    ErrorSink

	// Injected clock/timers for deterministic tests
	now       func() time.Time
	afterFunc func(d time.Duration, f func()) *time.Timer

	mu             sync.Mutex
	deployments    map[string]*types.Deployment
	profiles       map[string]*types.RuntimeProfile
	states         map[string]*agentState
	workflows      map[string]*Workflow
	pausedSessions map[string]bool
	seenIDs        map[string]bool
	templates      []types.StartupTemplate
	toolAccess     ToolAccessFunc

	idMu sync.Mutex
	rng  *rand.Rand

	// Detached non-blocking sends, drained on Close
	wg sync.WaitGroup
}

// agentState is the per-agent critical section protecting the active count
// and the FIFO queue. Operations on different agents proceed in parallel.
type agentState struct {
	mu       sync.Mutex
	active   int
	queue    []*queueItem
	draining bool
}

// queueItem is one waiting dispatch. The done channel is the one-shot waiter
// the drain loop (or the timeout) signals to resolve the caller.
type queueItem struct {
	dispatchID string
	req        types.DispatchRequest
	moduleID   string
	assignment types.Assignment
	execCtx    context.Context
	done       chan types.DispatchResult
	timer      *time.Timer
	enqueuedAt time.Time
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock injects the wall clock
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithTimerFactory injects timer creation for queue timeouts
func WithTimerFactory(after func(d time.Duration, f func()) *time.Timer) Option {
	return func(s *Scheduler) { s.afterFunc = after }
}

// WithMetrics attaches a metrics recorder
func WithMetrics(m Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithErrorSink attaches the error-sample sink
func WithErrorSink(sink ErrorSink) Option {
	return func(s *Scheduler) { s.samples = sink }
}

// New creates a scheduler
func New(moduleHub *hub.Hub, bus *events.Bus, defs DefinitionsFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		hub:            moduleHub,
		bus:            bus,
		defs:           defs,
		lastEvents:     NewLastEventStore(),
		now:            time.Now,
		afterFunc:      time.AfterFunc,
		deployments:    make(map[string]*types.Deployment),
		profiles:       make(map[string]*types.RuntimeProfile),
		states:         make(map[string]*agentState),
		workflows:      make(map[string]*Workflow),
		pausedSessions: make(map[string]bool),
		seenIDs:        make(map[string]bool),
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LastEvents exposes the per-agent last-event read model
func (s *Scheduler) LastEvents() *LastEventStore {
	return s.lastEvents
}

// Close waits for detached non-blocking dispatches to finish
func (s *Scheduler) Close() {
	s.wg.Wait()
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// newDispatchID generates dispatch-<epochMs>-<6 base36 chars>, unique within
// the process lifetime.
func (s *Scheduler) newDispatchID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()

	for {
		suffix := make([]byte, 6)
		for i := range suffix {
			suffix[i] = base36[s.rng.Intn(len(base36))]
		}
		id := fmt.Sprintf("dispatch-%d-%s", s.now().UnixMilli(), suffix)
		if !s.seenIDs[id] {
			s.seenIDs[id] = true
			return id
		}
	}
}

// Dispatch runs the admission pipeline and either executes, queues, or fails
// the request. Blocking callers wait for the terminal result; non-blocking
// callers get a queued result immediately while the send runs detached.
func (s *Scheduler) Dispatch(ctx context.Context, req types.DispatchRequest) types.DispatchResult {
	// Validation failures have no side effects, not even an event.
	if strings.TrimSpace(req.TargetAgentID) == "" {
		return types.FailedDispatch("", ErrTargetRequired)
	}

	dispatchID := s.newDispatchID()
	target := req.TargetAgentID
	assignment := baseAssignment(req)

	dep := s.latestDeployment(target)
	if dep == nil {
		return s.admissionFailure(dispatchID, req, assignment, ErrAgentNotStarted)
	}
	if !s.profileEnabled(target) {
		return s.admissionFailure(dispatchID, req, assignment, ErrAgentDisabled)
	}

	moduleID := dep.ModuleID
	if moduleID == "" {
		moduleID = target
	}
	if !s.hub.Has(moduleID) {
		return s.admissionFailure(dispatchID, req, assignment, ErrModuleNotFound)
	}

	if req.WorkflowID != "" {
		s.RegisterWorkflow(req.WorkflowID, req.SessionID)
	}

	capacity := dep.Capacity()
	quota := s.ResolveQuota(target, req.WorkflowID)
	st := s.stateFor(target)

	st.mu.Lock()
	active := st.active

	// Deadlock guard: a blocking self-dispatch while the agent is saturated
	// can never make progress.
	if req.Blocking && req.SourceAgentID == target && active >= capacity {
		st.mu.Unlock()
		return s.admissionFailure(dispatchID, req, assignment, ErrDeadlockRisk)
	}

	if active >= capacity {
		if !req.QueueOnBusyOrDefault() {
			st.mu.Unlock()
			return s.admissionFailure(dispatchID, req, assignment, ErrAgentBusy)
		}

		item := &queueItem{
			dispatchID: dispatchID,
			req:        req,
			moduleID:   moduleID,
			assignment: assignment,
			execCtx:    context.Background(),
			done:       make(chan types.DispatchResult, 1),
			enqueuedAt: s.now(),
		}
		if req.Blocking {
			item.execCtx = ctx
		}

		st.queue = append(st.queue, item)
		position := len(st.queue)
		wait := time.Duration(req.EffectiveQueueWaitMs()) * time.Millisecond
		item.timer = s.afterFunc(wait, func() { s.expireQueued(target, item) })
		st.mu.Unlock()

		s.setGauges(target)
		s.emitDispatch(dispatchID, req, moduleID, types.DispatchQueued,
			assignment.WithPhase(types.PhaseQueued), position, "")

		queued := types.DispatchResult{
			OK:             true,
			DispatchID:     dispatchID,
			Status:         types.DispatchQueued,
			TargetModuleID: moduleID,
			QueuePosition:  position,
			Quota:          &quota,
		}
		if !req.Blocking {
			return queued
		}
		return s.awaitQueued(ctx, target, item, queued)
	}

	st.active++
	st.mu.Unlock()

	s.setGauges(target)
	s.emitDispatch(dispatchID, req, moduleID, types.DispatchQueued,
		assignment.WithPhase(types.PhaseStarted), 0, "")

	if req.Blocking {
		result := s.execute(ctx, dispatchID, req, moduleID, assignment)
		result.Quota = &quota
		return result
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(context.Background(), dispatchID, req, moduleID, assignment)
	}()
	return types.DispatchResult{
		OK:             true,
		DispatchID:     dispatchID,
		Status:         types.DispatchQueued,
		TargetModuleID: moduleID,
		Quota:          &quota,
	}
}

// awaitQueued blocks on the item's one-shot waiter, honouring caller
// cancellation while the item has not yet been admitted.
func (s *Scheduler) awaitQueued(ctx context.Context, target string, item *queueItem, queued types.DispatchResult) types.DispatchResult {
	select {
	case result := <-item.done:
		result.Quota = queued.Quota
		return result
	case <-ctx.Done():
	}

	// Caller aborted. If the item is still queued, cancel it outright.
	if s.removeQueued(target, item) {
		if item.timer != nil {
			item.timer.Stop()
		}
		s.setGauges(target)
		s.emitDispatch(item.dispatchID, item.req, item.moduleID, types.DispatchFailed,
			item.assignment.WithPhase(types.PhaseFailed), 0, ErrInterrupted)
		s.observe(target, "failed")
		return types.FailedDispatch(item.dispatchID, ErrInterrupted)
	}

	// Already admitted: the execution context carries the abort signal, so
	// the in-flight send terminates on its own. Wait for its verdict.
	result := <-item.done
	result.Quota = queued.Quota
	return result
}

// expireQueued fires when a queued item outlives its wait budget
func (s *Scheduler) expireQueued(target string, item *queueItem) {
	if !s.removeQueued(target, item) {
		return
	}

	s.setGauges(target)
	s.emitDispatch(item.dispatchID, item.req, item.moduleID, types.DispatchFailed,
		item.assignment.WithPhase(types.PhaseFailed), 0, ErrQueueTimeout)
	s.observe(target, "failed")
	item.done <- types.FailedDispatch(item.dispatchID, ErrQueueTimeout)
}

// removeQueued takes an item off the queue if still present
func (s *Scheduler) removeQueued(target string, item *queueItem) bool {
	st := s.stateFor(target)
	st.mu.Lock()
	defer st.mu.Unlock()

	for i, queued := range st.queue {
		if queued == item {
			st.queue = append(st.queue[:i], st.queue[i+1:]...)
			return true
		}
	}
	return false
}

// execute sends the dispatch payload to the target module, emits the terminal
// event, and triggers the queue drain.
func (s *Scheduler) execute(ctx context.Context, dispatchID string, req types.DispatchRequest, moduleID string, assignment types.Assignment) types.DispatchResult {
	target := req.TargetAgentID
	payload := buildDispatchPayload(req, dispatchID, assignment)

	defer func() {
		st := s.stateFor(target)
		st.mu.Lock()
		st.active--
		st.mu.Unlock()
		s.setGauges(target)
		s.drain(target)
	}()

	result, err := s.hub.SendToModule(ctx, moduleID, payload)
	if err != nil {
		if s.samples != nil {
			s.samples.Write("scheduler", err, map[string]any{
				"dispatchId": dispatchID,
				"agentId":    target,
				"moduleId":   moduleID,
			})
		}
		s.emitDispatch(dispatchID, req, moduleID, types.DispatchFailed,
			assignment.WithPhase(types.PhaseFailed), 0, err.Error())
		s.observe(target, "failed")
		return types.DispatchResult{
			OK:             false,
			DispatchID:     dispatchID,
			Status:         types.DispatchFailed,
			Error:          err.Error(),
			TargetModuleID: moduleID,
		}
	}

	phase := types.TerminalPhaseFor(reviewDecision(result))
	s.emitDispatch(dispatchID, req, moduleID, types.DispatchCompleted,
		assignment.WithPhase(phase), 0, "")
	s.observe(target, "completed")
	return types.DispatchResult{
		OK:             true,
		DispatchID:     dispatchID,
		Status:         types.DispatchCompleted,
		Result:         result,
		TargetModuleID: moduleID,
	}
}

// drain admits queued items while capacity allows. The draining flag
// serialises the loop per agent: completions racing each other collapse into
// a single drainer.
func (s *Scheduler) drain(target string) {
	st := s.stateFor(target)

	st.mu.Lock()
	if st.draining {
		st.mu.Unlock()
		return
	}
	st.draining = true

	for {
		capacity := s.capacityFor(target)
		if st.active >= capacity || len(st.queue) == 0 {
			break
		}

		item := st.queue[0]
		st.queue = st.queue[1:]
		if item.timer != nil {
			item.timer.Stop()
		}
		st.active++
		st.mu.Unlock()

		s.setGauges(target)
		if s.metrics != nil {
			s.metrics.ObserveQueueWait(target, s.now().Sub(item.enqueuedAt))
		}
		s.emitDispatch(item.dispatchID, item.req, item.moduleID, types.DispatchQueued,
			item.assignment.WithPhase(types.PhaseStarted), 0, "")

		s.wg.Add(1)
		go func(item *queueItem) {
			defer s.wg.Done()
			result := s.execute(item.execCtx, item.dispatchID, item.req, item.moduleID, item.assignment)
			item.done <- result
		}(item)

		st.mu.Lock()
	}

	st.draining = false
	st.mu.Unlock()
}

// capacityFor re-reads the deployment capacity; defaults to 1
func (s *Scheduler) capacityFor(target string) int {
	if dep := s.latestDeployment(target); dep != nil {
		return dep.Capacity()
	}
	return 1
}

// ActiveCount returns the in-flight dispatch count for an agent
func (s *Scheduler) ActiveCount(agentID string) int {
	st := s.stateFor(agentID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.active
}

// QueueDepth returns the queued dispatch count for an agent
func (s *Scheduler) QueueDepth(agentID string) int {
	st := s.stateFor(agentID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.queue)
}

func (s *Scheduler) stateFor(agentID string) *agentState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[agentID]
	if !ok {
		st = &agentState{}
		s.states[agentID] = st
	}
	return st
}

// admissionFailure emits the failed event and builds the caller result
func (s *Scheduler) admissionFailure(dispatchID string, req types.DispatchRequest, assignment types.Assignment, errMsg string) types.DispatchResult {
	s.emitDispatch(dispatchID, req, "", types.DispatchFailed,
		assignment.WithPhase(types.PhaseFailed), 0, errMsg)
	s.observe(req.TargetAgentID, "rejected")
	return types.FailedDispatch(dispatchID, errMsg)
}

// emitDispatch publishes an agent_runtime_dispatch event and updates the
// per-agent last event. Called outside the per-agent critical section.
func (s *Scheduler) emitDispatch(dispatchID string, req types.DispatchRequest, moduleID string, status types.DispatchStatus, assignment types.Assignment, queuePos int, errMsg string) {
	eventStatus := lastEventStatus(status, assignment.Phase, errMsg)

	s.lastEvents.Record(req.TargetAgentID, types.LastEvent{
		Kind:       types.LastEventDispatch,
		Status:     eventStatus,
		Summary:    dispatchSummary(status, assignment.Phase, errMsg),
		Timestamp:  s.now().UTC(),
		SessionID:  req.SessionID,
		WorkflowID: req.WorkflowID,
		DispatchID: dispatchID,
	})

	payload := events.DispatchPayload{
		DispatchID:    dispatchID,
		SourceAgentID: req.SourceAgentID,
		TargetAgentID: req.TargetAgentID,
		Status:        status,
		ModuleID:      moduleID,
		WorkflowID:    req.WorkflowID,
		QueuePosition: queuePos,
		Assignment:    &assignment,
		Error:         errMsg,
	}
	s.bus.Publish(events.New(events.EventDispatch, req.SessionID, req.TargetAgentID, payload))
}

func (s *Scheduler) observe(agentID, status string) {
	if s.metrics != nil {
		s.metrics.ObserveDispatch(agentID, status)
	}
}

func (s *Scheduler) setGauges(agentID string) {
	if s.metrics == nil {
		return
	}
	st := s.stateFor(agentID)
	st.mu.Lock()
	active, depth := st.active, len(st.queue)
	st.mu.Unlock()
	s.metrics.SetActiveDispatches(agentID, active)
	s.metrics.SetQueueDepth(agentID, depth)
}

// baseAssignment normalises the request assignment, defaulting assigner and
// assignee from the dispatch endpoints.
func baseAssignment(req types.DispatchRequest) types.Assignment {
	var a types.Assignment
	if req.Assignment != nil {
		a = *req.Assignment
	}
	if a.AssignerAgentID == "" {
		a.AssignerAgentID = req.SourceAgentID
	}
	if a.AssigneeAgentID == "" {
		a.AssigneeAgentID = req.TargetAgentID
	}
	if a.Attempt < 1 {
		a.Attempt = 1
	}
	if a.Phase == "" {
		a.Phase = types.PhaseAssigned
	}
	return a
}

// buildDispatchPayload builds the module payload. Object tasks are cloned
// and annotated; string tasks are wrapped as a text message.
func buildDispatchPayload(req types.DispatchRequest, dispatchID string, assignment types.Assignment) map[string]any {
	meta := map[string]any{}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta["dispatchId"] = dispatchID
	meta["sourceAgentId"] = req.SourceAgentID
	meta["targetAgentId"] = req.TargetAgentID
	meta["orchestration"] = true
	if req.Assignment != nil {
		meta["assignment"] = assignment
	}

	switch task := req.Task.(type) {
	case string:
		payload := map[string]any{"text": task, "metadata": meta}
		if req.SessionID != "" {
			payload["sessionId"] = req.SessionID
		}
		return payload
	case map[string]any:
		payload := make(map[string]any, len(task)+1)
		for k, v := range task {
			payload[k] = v
		}
		if existing, ok := payload["metadata"].(map[string]any); ok {
			merged := make(map[string]any, len(existing)+len(meta))
			for k, v := range existing {
				merged[k] = v
			}
			for k, v := range meta {
				merged[k] = v
			}
			payload["metadata"] = merged
		} else {
			payload["metadata"] = meta
		}
		if req.SessionID != "" {
			if _, ok := payload["sessionId"]; !ok {
				payload["sessionId"] = req.SessionID
			}
		}
		return payload
	default:
		payload := map[string]any{"task": task, "metadata": meta}
		if req.SessionID != "" {
			payload["sessionId"] = req.SessionID
		}
		return payload
	}
}

// reviewDecision extracts the reviewDecision field from a module reply
func reviewDecision(result any) string {
	reply, ok := result.(map[string]any)
	if !ok {
		return ""
	}
	if decision, ok := reply["reviewDecision"].(string); ok {
		return decision
	}
	return ""
}

// lastEventStatus maps a dispatch transition to the last-event status string.
// Interrupt-shaped failures land in the interrupted bucket so catalog status
// derivation reflects the control action that killed the turn.
func lastEventStatus(status types.DispatchStatus, phase types.AssignmentPhase, errMsg string) string {
	switch status {
	case types.DispatchFailed:
		if strings.Contains(strings.ToLower(errMsg), "interrupt") {
			return "interrupted"
		}
		return "failed"
	case types.DispatchCompleted:
		switch phase {
		case types.PhasePassed, types.PhaseClosed:
			return string(phase)
		}
		return "completed"
	default:
		if phase == types.PhaseStarted {
			return "started"
		}
		return "queued"
	}
}

func dispatchSummary(status types.DispatchStatus, phase types.AssignmentPhase, errMsg string) string {
	if errMsg != "" {
		return errMsg
	}
	return fmt.Sprintf("dispatch %s (%s)", status, phase)
}
