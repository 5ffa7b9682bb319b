package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fingerworks/finger/internal/events"
	"github.com/fingerworks/finger/internal/hub"
	"github.com/fingerworks/finger/internal/types"
)

type fixture struct {
	hub   *hub.Hub
	bus   *events.Bus
	sched *Scheduler
	evCh  <-chan events.Event
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	moduleHub := hub.New()
	bus := events.NewBus(nil)
	sched := New(moduleHub, bus, nil, opts...)
	return &fixture{
		hub:   moduleHub,
		bus:   bus,
		sched: sched,
		evCh:  bus.Subscribe(events.EventDispatch),
	}
}

func (f *fixture) registerEcho(id string) {
	f.hub.Register(types.ModuleInfo{ID: id, Type: "agent"}, func(ctx context.Context, payload map[string]any) (any, error) {
		return map[string]any{"echo": payload}, nil
	})
}

// registerGated registers a module that signals start and waits for release
func (f *fixture) registerGated(id string) (started chan string, release chan struct{}) {
	started = make(chan string, 16)
	release = make(chan struct{})
	f.hub.Register(types.ModuleInfo{ID: id, Type: "agent"}, func(ctx context.Context, payload map[string]any) (any, error) {
		meta, _ := payload["metadata"].(map[string]any)
		dispatchID, _ := meta["dispatchId"].(string)
		started <- dispatchID
		select {
		case <-release:
			return map[string]any{"done": dispatchID}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	return started, release
}

func (f *fixture) deploy(t *testing.T, agentID string, instances int) {
	t.Helper()
	res := f.sched.Deploy(types.DeployRequest{
		AgentID:       agentID,
		ModuleID:      agentID,
		SessionID:     "session-test",
		InstanceCount: instances,
	})
	if !res.OK {
		t.Fatalf("deploy %s failed: %s", agentID, res.Error)
	}
}

func (f *fixture) nextEvent(t *testing.T) events.DispatchPayload {
	t.Helper()
	select {
	case ev := <-f.evCh:
		payload, ok := ev.Payload.(events.DispatchPayload)
		if !ok {
			t.Fatalf("unexpected payload type %T", ev.Payload)
		}
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch event")
		return events.DispatchPayload{}
	}
}

func (f *fixture) expectNoEvent(t *testing.T) {
	t.Helper()
	select {
	case ev := <-f.evCh:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatch_ValidationWithoutSideEffects(t *testing.T) {
	f := newFixture(t)

	res := f.sched.Dispatch(context.Background(), types.DispatchRequest{Task: "hi"})
	if res.OK || res.Error != ErrTargetRequired {
		t.Errorf("result = %+v, want %q", res, ErrTargetRequired)
	}
	f.expectNoEvent(t)
}

func TestDispatch_AgentNotStarted(t *testing.T) {
	f := newFixture(t)

	res := f.sched.Dispatch(context.Background(), types.DispatchRequest{TargetAgentID: "ghost", Task: "hi"})
	if res.OK || res.Error != ErrAgentNotStarted {
		t.Errorf("result = %+v, want %q", res, ErrAgentNotStarted)
	}

	ev := f.nextEvent(t)
	if ev.Status != types.DispatchFailed || ev.Error != ErrAgentNotStarted {
		t.Errorf("event = %+v", ev)
	}
}

func TestDispatch_DisabledByOrchestrationConfig(t *testing.T) {
	f := newFixture(t)
	f.registerEcho("executor")
	f.deploy(t, "executor", 1)

	f.sched.SetRuntimeProfile(types.RuntimeProfile{AgentID: "executor", Enabled: false, DefaultQuota: 1})

	res := f.sched.Dispatch(context.Background(), types.DispatchRequest{TargetAgentID: "executor", Task: "hi"})
	if res.OK || res.Error != ErrAgentDisabled {
		t.Errorf("result = %+v, want %q", res, ErrAgentDisabled)
	}
}

func TestDispatch_ModuleNotFound(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, "executor", 1)

	res := f.sched.Dispatch(context.Background(), types.DispatchRequest{TargetAgentID: "executor", Task: "hi"})
	if res.OK || res.Error != ErrModuleNotFound {
		t.Errorf("result = %+v, want %q", res, ErrModuleNotFound)
	}
}

func TestDispatch_HappyPathBlocking(t *testing.T) {
	f := newFixture(t)
	f.registerEcho("executor")
	f.deploy(t, "executor", 1)

	res := f.sched.Dispatch(context.Background(), types.DispatchRequest{
		SourceAgentID: "orchestrator",
		TargetAgentID: "executor",
		Task:          map[string]any{"text": "hi"},
		SessionID:     "session-test",
		Blocking:      true,
	})

	if !res.OK || res.Status != types.DispatchCompleted {
		t.Fatalf("result = %+v", res)
	}
	if res.Result == nil {
		t.Error("missing module reply")
	}
	if res.TargetModuleID != "executor" {
		t.Errorf("TargetModuleID = %s", res.TargetModuleID)
	}

	first := f.nextEvent(t)
	if first.Status != types.DispatchQueued || first.Assignment.Phase != types.PhaseStarted {
		t.Errorf("first event = %+v, want queued/started", first)
	}
	second := f.nextEvent(t)
	if second.Status != types.DispatchCompleted {
		t.Errorf("second event = %+v, want completed", second)
	}
	if first.DispatchID != res.DispatchID || second.DispatchID != res.DispatchID {
		t.Error("event dispatch ids do not match result")
	}
}

func TestDispatch_PayloadAnnotation(t *testing.T) {
	f := newFixture(t)

	var got map[string]any
	f.hub.Register(types.ModuleInfo{ID: "executor", Type: "agent"}, func(ctx context.Context, payload map[string]any) (any, error) {
		got = payload
		return "ok", nil
	})
	f.deploy(t, "executor", 1)

	res := f.sched.Dispatch(context.Background(), types.DispatchRequest{
		SourceAgentID: "orchestrator",
		TargetAgentID: "executor",
		Task:          map[string]any{"text": "hi", "metadata": map[string]any{"origin": "test"}},
		Metadata:      map[string]any{"priority": "high"},
		SessionID:     "session-test",
		Blocking:      true,
	})
	if !res.OK {
		t.Fatalf("dispatch failed: %s", res.Error)
	}

	meta, _ := got["metadata"].(map[string]any)
	if meta == nil {
		t.Fatalf("payload missing metadata: %#v", got)
	}
	if meta["dispatchId"] != res.DispatchID {
		t.Errorf("dispatchId = %v", meta["dispatchId"])
	}
	if meta["sourceAgentId"] != "orchestrator" || meta["targetAgentId"] != "executor" {
		t.Errorf("endpoints = %v / %v", meta["sourceAgentId"], meta["targetAgentId"])
	}
	if meta["orchestration"] != true {
		t.Error("orchestration flag missing")
	}
	if meta["origin"] != "test" || meta["priority"] != "high" {
		t.Errorf("metadata merge lost keys: %#v", meta)
	}
	if got["sessionId"] != "session-test" {
		t.Errorf("sessionId = %v", got["sessionId"])
	}
}

func TestDispatch_StringTaskWrapped(t *testing.T) {
	f := newFixture(t)

	var got map[string]any
	f.hub.Register(types.ModuleInfo{ID: "executor", Type: "agent"}, func(ctx context.Context, payload map[string]any) (any, error) {
		got = payload
		return "ok", nil
	})
	f.deploy(t, "executor", 1)

	f.sched.Dispatch(context.Background(), types.DispatchRequest{
		TargetAgentID: "executor",
		Task:          "do the thing",
		Blocking:      true,
	})

	if got["text"] != "do the thing" {
		t.Errorf("text = %v", got["text"])
	}
}

func TestDispatch_QueueingFIFO(t *testing.T) {
	f := newFixture(t)
	started, release := f.registerGated("executor")
	f.deploy(t, "executor", 1)

	results := make(chan types.DispatchResult, 2)
	dispatch := func() {
		results <- f.sched.Dispatch(context.Background(), types.DispatchRequest{
			SourceAgentID: "orchestrator",
			TargetAgentID: "executor",
			Task:          "work",
			Blocking:      true,
		})
	}

	go dispatch()
	// Wait until #1 occupies the only slot
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first dispatch never started")
	}
	firstStarted := f.nextEvent(t)
	if firstStarted.Assignment.Phase != types.PhaseStarted {
		t.Fatalf("first event = %+v", firstStarted)
	}

	go dispatch()
	queuedEv := f.nextEvent(t)
	if queuedEv.Status != types.DispatchQueued || queuedEv.Assignment.Phase != types.PhaseQueued {
		t.Fatalf("expected queued/queued event, got %+v", queuedEv)
	}
	if queuedEv.QueuePosition != 1 {
		t.Errorf("QueuePosition = %d, want 1", queuedEv.QueuePosition)
	}
	if f.sched.QueueDepth("executor") != 1 {
		t.Errorf("QueueDepth = %d, want 1", f.sched.QueueDepth("executor"))
	}

	// Release both executions
	close(release)

	// #1 completes, then the drain admits #2 (queued/started), then #2 completes
	completed1 := f.nextEvent(t)
	if completed1.Status != types.DispatchCompleted || completed1.DispatchID != firstStarted.DispatchID {
		t.Fatalf("expected completion of first dispatch, got %+v", completed1)
	}
	started2 := f.nextEvent(t)
	if started2.Status != types.DispatchQueued || started2.Assignment.Phase != types.PhaseStarted {
		t.Fatalf("expected queued/started for second dispatch, got %+v", started2)
	}
	if started2.DispatchID != queuedEv.DispatchID {
		t.Error("drain admitted a different dispatch than the queued one")
	}
	completed2 := f.nextEvent(t)
	if completed2.Status != types.DispatchCompleted || completed2.DispatchID != started2.DispatchID {
		t.Fatalf("expected completion of second dispatch, got %+v", completed2)
	}

	for i := 0; i < 2; i++ {
		select {
		case res := <-results:
			if !res.OK || res.Status != types.DispatchCompleted {
				t.Errorf("result %d = %+v", i, res)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("caller never resolved")
		}
	}
}

func TestDispatch_DeadlockGuard(t *testing.T) {
	f := newFixture(t)
	started, release := f.registerGated("orchestrator")
	defer close(release)
	f.deploy(t, "orchestrator", 1)

	go f.sched.Dispatch(context.Background(), types.DispatchRequest{
		SourceAgentID: "orchestrator",
		TargetAgentID: "orchestrator",
		Task:          "self",
		Blocking:      true,
	})
	<-started

	res := f.sched.Dispatch(context.Background(), types.DispatchRequest{
		SourceAgentID: "orchestrator",
		TargetAgentID: "orchestrator",
		Task:          "self again",
		Blocking:      true,
	})
	if res.OK || res.Error != ErrDeadlockRisk {
		t.Errorf("result = %+v, want %q", res, ErrDeadlockRisk)
	}
	if f.sched.QueueDepth("orchestrator") != 0 {
		t.Error("deadlock-guarded dispatch must not enqueue")
	}
}

func TestDispatch_BusyWithoutQueueing(t *testing.T) {
	f := newFixture(t)
	started, release := f.registerGated("executor")
	defer close(release)
	f.deploy(t, "executor", 1)

	go f.sched.Dispatch(context.Background(), types.DispatchRequest{
		TargetAgentID: "executor", Task: "one", Blocking: true,
	})
	<-started

	noQueue := false
	res := f.sched.Dispatch(context.Background(), types.DispatchRequest{
		TargetAgentID: "executor",
		Task:          "two",
		QueueOnBusy:   &noQueue,
	})
	if res.OK || res.Error != ErrAgentBusy {
		t.Errorf("result = %+v, want %q", res, ErrAgentBusy)
	}
}

func TestDispatch_QueueTimeout(t *testing.T) {
	var requested time.Duration
	f := newFixture(t, WithTimerFactory(func(d time.Duration, fn func()) *time.Timer {
		requested = d
		return time.AfterFunc(30*time.Millisecond, fn)
	}))
	started, release := f.registerGated("executor")
	defer close(release)
	f.deploy(t, "executor", 1)

	go f.sched.Dispatch(context.Background(), types.DispatchRequest{
		TargetAgentID: "executor", Task: "long", Blocking: true,
	})
	<-started
	f.nextEvent(t) // queued/started for #1

	res := f.sched.Dispatch(context.Background(), types.DispatchRequest{
		TargetAgentID:  "executor",
		Task:           "waits",
		Blocking:       true,
		MaxQueueWaitMs: 1000,
	})
	if res.OK || res.Error != ErrQueueTimeout {
		t.Fatalf("result = %+v, want %q", res, ErrQueueTimeout)
	}
	if requested != time.Second {
		t.Errorf("timer duration = %v, want 1s", requested)
	}

	queuedEv := f.nextEvent(t)
	if queuedEv.Assignment.Phase != types.PhaseQueued {
		t.Fatalf("expected queued event, got %+v", queuedEv)
	}
	failedEv := f.nextEvent(t)
	if failedEv.Status != types.DispatchFailed || failedEv.Error != ErrQueueTimeout {
		t.Fatalf("expected queue-timeout failure, got %+v", failedEv)
	}
	if failedEv.Assignment.Phase != types.PhaseFailed {
		t.Errorf("failure phase = %s", failedEv.Assignment.Phase)
	}
	if f.sched.QueueDepth("executor") != 0 {
		t.Error("expired item still queued")
	}
}

func TestDispatch_QueueWaitClamping(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want int
	}{
		{"default", 0, types.DefaultQueueWaitMs},
		{"negative", -5, types.DefaultQueueWaitMs},
		{"clamped", 200, types.MinQueueWaitMs},
		{"passthrough", 5000, 5000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := types.DispatchRequest{MaxQueueWaitMs: tt.in}
			if got := req.EffectiveQueueWaitMs(); got != tt.want {
				t.Errorf("EffectiveQueueWaitMs(%d) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestDispatch_CapacityInvariant(t *testing.T) {
	f := newFixture(t)

	const capacity = 2
	var mu sync.Mutex
	var active, peak int
	f.hub.Register(types.ModuleInfo{ID: "executor", Type: "agent"}, func(ctx context.Context, payload map[string]any) (any, error) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return "ok", nil
	})
	f.deploy(t, "executor", capacity)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := f.sched.Dispatch(context.Background(), types.DispatchRequest{
				TargetAgentID: "executor", Task: "n", Blocking: true,
			})
			if !res.OK {
				t.Errorf("dispatch failed: %s", res.Error)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if peak > capacity {
		t.Errorf("peak concurrency %d exceeded capacity %d", peak, capacity)
	}
}

func TestDispatch_NonBlockingReturnsImmediately(t *testing.T) {
	f := newFixture(t)
	started, release := f.registerGated("executor")
	f.deploy(t, "executor", 1)

	res := f.sched.Dispatch(context.Background(), types.DispatchRequest{
		TargetAgentID: "executor", Task: "bg",
	})
	if !res.OK || res.Status != types.DispatchQueued {
		t.Fatalf("result = %+v", res)
	}

	<-started
	close(release)

	f.nextEvent(t) // queued/started
	terminal := f.nextEvent(t)
	if terminal.Status != types.DispatchCompleted {
		t.Errorf("terminal event = %+v", terminal)
	}
	f.sched.Close()
}

func TestDispatch_ReviewDecisionPhases(t *testing.T) {
	tests := []struct {
		decision string
		want     types.AssignmentPhase
	}{
		{"pass", types.PhasePassed},
		{"passed", types.PhasePassed},
		{"approved", types.PhasePassed},
		{"retry", types.PhaseRetry},
		{"rework", types.PhaseRetry},
		{"reject", types.PhaseRetry},
		{"reviewing", types.PhaseReviewing},
		{"", types.PhaseClosed},
		{"anything", types.PhaseClosed},
	}

	for _, tt := range tests {
		t.Run("decision_"+tt.decision, func(t *testing.T) {
			f := newFixture(t)
			f.hub.Register(types.ModuleInfo{ID: "reviewer", Type: "agent"}, func(ctx context.Context, payload map[string]any) (any, error) {
				return map[string]any{"reviewDecision": tt.decision}, nil
			})
			f.deploy(t, "reviewer", 1)

			res := f.sched.Dispatch(context.Background(), types.DispatchRequest{
				TargetAgentID: "reviewer", Task: "review", Blocking: true,
				Assignment: &types.Assignment{TaskID: "t1"},
			})
			if !res.OK {
				t.Fatalf("dispatch failed: %s", res.Error)
			}

			f.nextEvent(t) // queued/started
			terminal := f.nextEvent(t)
			if terminal.Assignment.Phase != tt.want {
				t.Errorf("phase = %s, want %s", terminal.Assignment.Phase, tt.want)
			}
		})
	}
}

func TestDeploy_IdempotentPreservesCreatedAt(t *testing.T) {
	f := newFixture(t)

	first := f.sched.Deploy(types.DeployRequest{
		AgentID: "executor", ModuleID: "executor", SessionID: "s", InstanceCount: 2,
	})
	if !first.OK {
		t.Fatalf("deploy failed: %s", first.Error)
	}

	time.Sleep(5 * time.Millisecond)
	second := f.sched.Deploy(types.DeployRequest{
		AgentID: "executor", ModuleID: "executor", SessionID: "s", InstanceCount: 2,
	})

	if first.Deployment.ID != second.Deployment.ID {
		t.Errorf("ids differ: %s vs %s", first.Deployment.ID, second.Deployment.ID)
	}
	if !first.Deployment.CreatedAt.Equal(second.Deployment.CreatedAt) {
		t.Error("CreatedAt not preserved across redeploy")
	}
}

func TestDeploy_NormalisesInstanceCount(t *testing.T) {
	f := newFixture(t)

	res := f.sched.Deploy(types.DeployRequest{
		AgentID: "executor", ModuleID: "executor", SessionID: "s", InstanceCount: 0,
	})
	if res.Deployment.InstanceCount != 1 {
		t.Errorf("InstanceCount = %d, want 1", res.Deployment.InstanceCount)
	}
}

func TestDeploy_DeterministicSanitisedID(t *testing.T) {
	f := newFixture(t)

	res := f.sched.Deploy(types.DeployRequest{
		AgentID:                "executor",
		TargetImplementationID: "native:Exec_Loop",
		ModuleID:               "exec-loop",
		SessionID:              "s",
	})
	want := "deployment-executor-native-exec-loop"
	if res.Deployment.ID != want {
		t.Errorf("ID = %s, want %s", res.Deployment.ID, want)
	}
}

func TestResolveQuota_Precedence(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, "executor", 3)

	project := 7
	f.sched.SetRuntimeProfile(types.RuntimeProfile{
		AgentID:      "executor",
		Enabled:      true,
		DefaultQuota: 2,
		QuotaPolicy: types.QuotaPolicy{
			ProjectQuota:   &project,
			WorkflowQuotas: map[string]int{"wf-1": 9},
		},
	})

	if q := f.sched.ResolveQuota("executor", "wf-1"); q.Source != types.QuotaFromWorkflow || q.Effective != 9 {
		t.Errorf("workflow quota = %+v", q)
	}
	if q := f.sched.ResolveQuota("executor", "wf-other"); q.Source != types.QuotaFromProject || q.Effective != 7 {
		t.Errorf("project quota = %+v", q)
	}

	f.sched.SetRuntimeProfile(types.RuntimeProfile{AgentID: "executor", Enabled: true, DefaultQuota: 2})
	if q := f.sched.ResolveQuota("executor", ""); q.Source != types.QuotaFromDefault || q.Effective != 2 {
		t.Errorf("default quota = %+v", q)
	}

	// No profile at all falls back to the deployment instance count
	if q := f.sched.ResolveQuota("reviewer", ""); q.Source != types.QuotaFromDeployment {
		t.Errorf("fallback quota = %+v", q)
	}
}

func TestAgentStatus_Precedence(t *testing.T) {
	f := newFixture(t)
	f.registerEcho("executor")
	f.deploy(t, "executor", 1)

	if got := f.sched.AgentStatus("executor"); got != types.AgentIdle {
		t.Errorf("fresh agent status = %s, want idle", got)
	}

	res := f.sched.Dispatch(context.Background(), types.DispatchRequest{
		TargetAgentID: "executor", Task: "x", Blocking: true,
	})
	if !res.OK {
		t.Fatalf("dispatch failed: %s", res.Error)
	}
	if got := f.sched.AgentStatus("executor"); got != types.AgentCompleted {
		t.Errorf("status after completion = %s, want completed", got)
	}

	// Workflow in-progress reference forces running
	f.sched.UpsertWorkflowTask("wf-1", WorkflowTask{ID: "t1", AgentID: "executor", Status: "in-progress"})
	if got := f.sched.AgentStatus("executor"); got != types.AgentRunning {
		t.Errorf("status with in-progress task = %s, want running", got)
	}
	f.sched.UpsertWorkflowTask("wf-1", WorkflowTask{ID: "t1", AgentID: "executor", Status: "completed"})

	// Error deployment dominates everything
	f.sched.Deploy(types.DeployRequest{
		AgentID: "executor", ModuleID: "executor", SessionID: "s",
		StatusOverride: string(types.DeployError),
	})
	if got := f.sched.AgentStatus("executor"); got != types.AgentError {
		t.Errorf("status with error instance = %s, want error", got)
	}
}

func TestDispatchIDsUnique(t *testing.T) {
	f := newFixture(t)

	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		id := f.sched.newDispatchID()
		if seen[id] {
			t.Fatalf("duplicate dispatch id %s", id)
		}
		seen[id] = true
	}
}

func TestCatalogLayers(t *testing.T) {
	f := newFixture(t)
	f.registerEcho("executor")
	f.deploy(t, "executor", 2)

	defs := func() map[string]types.AgentDefinition {
		return map[string]types.AgentDefinition{
			"executor": {ID: "executor", Name: "Executor", Role: types.RoleExecutor,
				Implementations: []types.Implementation{{ImplID: "native:executor", Kind: types.KindNative, Status: types.ImplAvailable}},
				Tags:            []string{"executor"}},
		}
	}
	f.sched.defs = defs
	f.sched.SetToolAccessFunc(func(agentID string) any {
		return map[string]any{"agentId": agentID}
	})
	f.sched.SetStartupTemplates(types.DefaultStartupTemplates())

	summary := f.sched.Catalog(LayerSummary)
	if len(summary.Agents) != 1 {
		t.Fatalf("summary agents = %d", len(summary.Agents))
	}
	if summary.Agents[0].Implementations != nil || summary.Agents[0].Profile != nil {
		t.Error("summary layer leaked execution/governance fields")
	}

	execution := f.sched.Catalog(LayerExecution)
	if execution.Agents[0].Capacity != 2 || execution.Agents[0].Implementations == nil {
		t.Errorf("execution layer = %+v", execution.Agents[0])
	}
	if execution.Agents[0].Profile != nil {
		t.Error("execution layer leaked governance fields")
	}

	governance := f.sched.Catalog(LayerGovernance)
	if governance.Agents[0].Profile == nil || governance.Agents[0].Quota == nil {
		t.Errorf("governance layer = %+v", governance.Agents[0])
	}
	if governance.Agents[0].ToolAccess == nil {
		t.Error("governance layer missing tool access")
	}

	full := f.sched.Catalog(LayerFull)
	if full.Agents[0].Profile == nil || full.Agents[0].Implementations == nil {
		t.Errorf("full layer = %+v", full.Agents[0])
	}
	if len(full.StartupTargets) == 0 {
		t.Error("full layer missing startup targets")
	}

	// Unknown layers fall back to summary
	unknown := f.sched.Catalog(CatalogLayer("bogus"))
	if unknown.Agents[0].Implementations != nil {
		t.Error("unknown layer should fall back to summary")
	}
}
