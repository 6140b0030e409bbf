package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/environment"
	"github.com/shaiso/Conveyor/internal/queue"
	"github.com/shaiso/Conveyor/internal/queue/queuetest"
)

func testDescriptor() *domain.TaskDescriptor {
	return domain.NewTaskDescriptor("load", "load", domain.Chunk{Start: 10, End: 19}, 2)
}

// --- HTTPExecutor Tests ---

func TestHTTPExecutor_PostsChunk(t *testing.T) {
	var (
		received    ChunkRequest
		method      string
		contentType string
		auth        string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	runID := uuid.New()
	d := testDescriptor()
	err := (&HTTPExecutor{}).Execute(context.Background(), TaskContext{
		Descriptor: d,
		Env:        &environment.Snapshot{RunID: runID},
		Config: map[string]any{
			"url":     server.URL,
			"headers": map[string]any{"Authorization": "Bearer token123"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if method != http.MethodPost {
		t.Errorf("expected POST by default, got %s", method)
	}
	if contentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", contentType)
	}
	if auth != "Bearer token123" {
		t.Errorf("expected Authorization header, got %q", auth)
	}

	want := ChunkRequest{
		DescriptorID: d.ID.String(),
		RunID:        runID.String(),
		Stage:        "load",
		ChunkStart:   "10",
		ChunkEnd:     "19",
		Attempt:      2,
	}
	if received != want {
		t.Errorf("unexpected body:\n got %+v\nwant %+v", received, want)
	}
}

func TestHTTPExecutor_CustomMethod(t *testing.T) {
	var method string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
	}))
	defer server.Close()

	err := (&HTTPExecutor{}).Execute(context.Background(), TaskContext{
		Descriptor: testDescriptor(),
		Config:     map[string]any{"url": server.URL, "method": "put"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if method != http.MethodPut {
		t.Errorf("expected PUT, got %s", method)
	}
}

func TestHTTPExecutor_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("database is down"))
	}))
	defer server.Close()

	err := (&HTTPExecutor{}).Execute(context.Background(), TaskContext{
		Descriptor: testDescriptor(),
		Config:     map[string]any{"url": server.URL},
	})
	if !errors.Is(err, ErrHTTPRequest) {
		t.Fatalf("expected ErrHTTPRequest, got %v", err)
	}
	if !strings.Contains(err.Error(), "HTTP 500") || !strings.Contains(err.Error(), "database is down") {
		t.Errorf("error should carry status and body, got %q", err)
	}
}

func TestHTTPExecutor_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	err := (&HTTPExecutor{}).Execute(context.Background(), TaskContext{
		Descriptor: testDescriptor(),
		Config:     map[string]any{"url": server.URL, "timeout_sec": 0.05},
	})
	if !errors.Is(err, ErrHTTPRequest) {
		t.Errorf("expected ErrHTTPRequest, got %v", err)
	}
}

func TestHTTPExecutor_MissingURL(t *testing.T) {
	err := (&HTTPExecutor{}).Execute(context.Background(), TaskContext{
		Descriptor: testDescriptor(),
		Config:     map[string]any{},
	})
	if !errors.Is(err, ErrExecutorConfig) {
		t.Errorf("expected ErrExecutorConfig, got %v", err)
	}
}

// --- CommandExecutor Tests ---

func TestCommandExecutor(t *testing.T) {
	env := &environment.Snapshot{Values: map[string]string{"DB_URL": "postgres://batch"}}

	tests := []struct {
		name    string
		command string
		wantErr error
	}{
		{
			name:    "chunk bounds in environment",
			command: `test "$CONVEYOR_CHUNK_START" = 10 && test "$CONVEYOR_CHUNK_END" = 19 && test "$CONVEYOR_ATTEMPT" = 2`,
		},
		{
			name:    "snapshot in environment",
			command: `test "$DB_URL" = "postgres://batch" && test "$CONVEYOR_STAGE" = load`,
		},
		{
			name:    "non-zero exit",
			command: "echo broken >&2; exit 3",
			wantErr: ErrCommandFailed,
		},
		{
			name:    "missing command",
			command: "",
			wantErr: ErrExecutorConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&CommandExecutor{}).Execute(context.Background(), TaskContext{
				Descriptor: testDescriptor(),
				Env:        env,
				Config:     map[string]any{"command": tt.command},
			})
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCommandExecutor_OutputInError(t *testing.T) {
	err := (&CommandExecutor{}).Execute(context.Background(), TaskContext{
		Descriptor: testDescriptor(),
		Config:     map[string]any{"command": "echo row 12 is malformed >&2; exit 1"},
	})
	if err == nil || !strings.Contains(err.Error(), "row 12 is malformed") {
		t.Errorf("error should include command output, got %v", err)
	}
}

// --- DelayExecutor Tests ---

func TestDelayExecutor(t *testing.T) {
	start := time.Now()
	err := (&DelayExecutor{}).Execute(context.Background(), TaskContext{
		Descriptor: testDescriptor(),
		Config:     map[string]any{"duration_sec": 0.01},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("expected at least 10ms delay, got %v", elapsed)
	}
}

func TestDelayExecutor_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := (&DelayExecutor{}).Execute(ctx, TaskContext{
		Descriptor: testDescriptor(),
		Config:     map[string]any{"duration_sec": 10},
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// --- Registry Tests ---

func TestBuildRegistry(t *testing.T) {
	p := testPipeline(engine.PolicyDrain)

	r, err := BuildRegistry(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	executor, config, err := r.Get("A")
	if err != nil {
		t.Fatalf("get A: %v", err)
	}
	if _, ok := executor.(*DelayExecutor); !ok {
		t.Errorf("expected DelayExecutor, got %T", executor)
	}
	if config["duration_sec"] != 0 {
		t.Errorf("expected stage config, got %v", config)
	}

	if _, _, err := r.Get("missing"); !errors.Is(err, ErrNoExecutor) {
		t.Errorf("expected ErrNoExecutor, got %v", err)
	}
}

func TestBuildRegistry_UnknownType(t *testing.T) {
	p := testPipeline(engine.PolicyDrain)
	p.Stages[1].Executor.Type = "smoke-signal"

	if _, err := BuildRegistry(p); !errors.Is(err, ErrUnknownExecutor) {
		t.Errorf("expected ErrUnknownExecutor, got %v", err)
	}
}

// --- Worker Tests ---

func testPipeline(policy engine.QueuePolicy) *engine.Pipeline {
	delay := engine.ExecutorDef{Type: "delay", Config: map[string]any{"duration_sec": 0}}
	return &engine.Pipeline{
		Name:   "test",
		Policy: policy,
		Stages: []engine.StageDef{
			{Name: "A", Records: 22, ChunkSize: 10, Queues: []engine.QueueDef{{Name: "A", MaxWIP: 2}}, Executor: delay},
			{Name: "B", Records: 5, ChunkSize: 1, Queues: []engine.QueueDef{{Name: "B", MaxWIP: 4}}, Executor: delay},
		},
	}
}

type fixture struct {
	store  *queuetest.MemoryStore
	state  *queuetest.StateStore
	router *queue.Router
	reg    *Registry
}

func newFixture(t *testing.T, policy engine.QueuePolicy) *fixture {
	t.Helper()

	p := testPipeline(policy)
	store := queuetest.NewMemoryStore()
	state := queuetest.NewStateStore()
	reg, err := BuildRegistry(p)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	if err := environment.Push(context.Background(), state, &environment.Snapshot{RunID: uuid.New()}); err != nil {
		t.Fatalf("push env: %v", err)
	}

	return &fixture{
		store:  store,
		state:  state,
		router: queue.NewRouter(queue.RouterConfig{Store: store, Pipeline: p}),
		reg:    reg,
	}
}

func (f *fixture) enqueue(t *testing.T, stage string, n int) {
	t.Helper()
	chunks := make([]domain.Chunk, n)
	for i := range chunks {
		chunks[i] = domain.Chunk{Start: i * 10, End: i*10 + 9}
	}
	if _, err := f.router.Enqueue(context.Background(), stage, chunks, 1); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func (f *fixture) pool(concurrency int) *Pool {
	return NewPool(PoolConfig{
		Concurrency: concurrency,
		Worker: Config{
			Router:   f.router,
			Registry: f.reg,
			Env:      f.state,
			Stages:   f.state,
			IdleWait: 5 * time.Millisecond,
		},
	})
}

// runUntilDrained запускает пул и останавливает его, когда очереди
// всех stages пусты и WIP равен нулю.
func (f *fixture) runUntilDrained(t *testing.T, pool *Pool, stages ...string) []Stats {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		stats []Stats
		err   error
	}
	done := make(chan result, 1)
	go func() {
		stats, err := pool.Run(ctx)
		done <- result{stats, err}
	}()

	deadline := time.After(5 * time.Second)
	for {
		drained := true
		for _, stage := range stages {
			depth, err := f.router.Pending(ctx, stage)
			if err != nil {
				t.Fatalf("pending: %v", err)
			}
			drained = drained && depth.Empty()
		}
		if drained {
			break
		}
		select {
		case <-deadline:
			t.Fatal("queues were not drained in time")
		case <-time.After(2 * time.Millisecond):
		}
	}

	cancel()
	res := <-done
	if res.err != nil {
		t.Fatalf("pool: %v", res.err)
	}
	return res.stats
}

func TestWorker_ProcessesAndRecordsFailures(t *testing.T) {
	f := newFixture(t, engine.PolicyDrain)
	f.state.SetActiveStage(context.Background(), "B")
	f.enqueue(t, "B", 6)

	f.reg.Register("B", ExecutorFunc(func(_ context.Context, tc TaskContext) error {
		if tc.Descriptor.Chunk.Start == 20 {
			return errors.New("row 23 rejected")
		}
		return nil
	}), nil)

	stats := f.runUntilDrained(t, f.pool(3), "B")

	if len(stats) != 3 {
		t.Fatalf("expected stats for 3 workers, got %d", len(stats))
	}
	total := Totals(stats)
	if total.Succeeded != 5 || total.Failed != 1 {
		t.Errorf("expected 5 succeeded and 1 failed, got %+v", total)
	}

	failures, _ := f.router.Failures(context.Background(), "B")
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(failures))
	}
	if failures[0].Descriptor.Chunk.Start != 20 || !strings.Contains(failures[0].Error, "row 23 rejected") {
		t.Errorf("unexpected failure: %+v", failures[0])
	}
}

func TestWorker_PanicBecomesFailure(t *testing.T) {
	f := newFixture(t, engine.PolicyDrain)
	f.state.SetActiveStage(context.Background(), "A")
	f.enqueue(t, "A", 2)

	f.reg.Register("A", ExecutorFunc(func(_ context.Context, tc TaskContext) error {
		if tc.Descriptor.Chunk.Start == 0 {
			panic("nil map")
		}
		return nil
	}), nil)

	stats := f.runUntilDrained(t, f.pool(1), "A")

	if stats[0].Succeeded != 1 || stats[0].Failed != 1 {
		t.Errorf("unexpected stats: %+v", stats[0])
	}
	failures, _ := f.router.Failures(context.Background(), "A")
	if len(failures) != 1 || !strings.Contains(failures[0].Error, "nil map") {
		t.Errorf("panic should be recorded as failure, got %+v", failures)
	}
}

func TestWorker_RespectsMaxWIP(t *testing.T) {
	f := newFixture(t, engine.PolicyDrain)
	f.state.SetActiveStage(context.Background(), "A")
	f.enqueue(t, "A", 12)

	var running, peak atomic.Int32
	f.reg.Register("A", ExecutorFunc(func(context.Context, TaskContext) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(3 * time.Millisecond)
		running.Add(-1)
		return nil
	}), nil)

	stats := f.runUntilDrained(t, f.pool(6), "A")

	if total := Totals(stats); total.Succeeded != 12 {
		t.Errorf("expected 12 chunks processed, got %d", total.Succeeded)
	}
	if peak.Load() > 2 {
		t.Errorf("max_wip 2 exceeded: %d tasks ran at once", peak.Load())
	}
	if got := f.store.MaxInFlight("A"); got > 2 {
		t.Errorf("store WIP exceeded max_wip: %d", got)
	}
}

func TestWorker_DrainsEarlierStagesFirst(t *testing.T) {
	f := newFixture(t, engine.PolicyDrain)
	f.state.SetActiveStage(context.Background(), "B")
	f.enqueue(t, "A", 3)
	f.enqueue(t, "B", 3)

	var (
		mu    sync.Mutex
		order []string
	)
	record := ExecutorFunc(func(_ context.Context, tc TaskContext) error {
		mu.Lock()
		order = append(order, tc.Descriptor.Stage)
		mu.Unlock()
		return nil
	})
	f.reg.Register("A", record, nil)
	f.reg.Register("B", record, nil)

	f.runUntilDrained(t, f.pool(1), "A", "B")

	want := "A A A B B B"
	if got := strings.Join(order, " "); got != want {
		t.Errorf("expected order %q, got %q", want, got)
	}
}

func TestWorker_IsolatedPolicyIgnoresEarlierStages(t *testing.T) {
	f := newFixture(t, engine.PolicyIsolated)
	f.state.SetActiveStage(context.Background(), "B")
	f.enqueue(t, "A", 2)
	f.enqueue(t, "B", 2)

	f.runUntilDrained(t, f.pool(2), "B")

	depth, _ := f.router.Pending(context.Background(), "A")
	if depth.Pending != 2 {
		t.Errorf("isolated workers should not touch stage A, got %+v", depth)
	}
}

func TestWorker_RetriesClaimConflicts(t *testing.T) {
	f := newFixture(t, engine.PolicyDrain)
	f.state.SetActiveStage(context.Background(), "A")
	f.enqueue(t, "A", 3)
	f.store.InjectConflicts(5)

	stats := f.runUntilDrained(t, f.pool(1), "A")

	if stats[0].Succeeded != 3 || stats[0].Failed != 0 {
		t.Errorf("conflicts should not count as failures, got %+v", stats[0])
	}
}

func TestWorker_BacksOffOnSustainedConflicts(t *testing.T) {
	f := newFixture(t, engine.PolicyDrain)
	f.state.SetActiveStage(context.Background(), "A")
	f.enqueue(t, "A", 1)

	const injected = 1_000_000
	f.store.InjectConflicts(injected)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := f.pool(1).Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	attempts := injected - f.store.RemainingConflicts()
	if attempts == 0 {
		t.Fatal("worker should keep retrying the claim")
	}
	if attempts > 50 {
		t.Errorf("expected a paced claim loop, got %d attempts in 100ms", attempts)
	}
}

func TestConflictBackoff(t *testing.T) {
	tests := []struct {
		conflicts int
		want      time.Duration
	}{
		{1, time.Millisecond},
		{10, 10 * time.Millisecond},
		{50, maxConflictBackoff},
		{1000, maxConflictBackoff},
	}

	for _, tt := range tests {
		if got := conflictBackoff(tt.conflicts); got != tt.want {
			t.Errorf("conflictBackoff(%d) = %v, want %v", tt.conflicts, got, tt.want)
		}
	}
}

func TestWorker_IdleWithoutActiveStage(t *testing.T) {
	f := newFixture(t, engine.PolicyDrain)
	f.enqueue(t, "A", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	stats, err := f.pool(1).Run(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats[0].Succeeded != 0 {
		t.Errorf("nothing should run before a stage is active, got %+v", stats[0])
	}
}

func TestWorker_WakesOnSignal(t *testing.T) {
	f := newFixture(t, engine.PolicyDrain)
	f.state.SetActiveStage(context.Background(), "A")

	waker := &testWaker{ch: make(chan struct{})}
	processed := make(chan struct{}, 1)
	f.reg.Register("A", ExecutorFunc(func(context.Context, TaskContext) error {
		processed <- struct{}{}
		return nil
	}), nil)

	w := New(Config{
		Router:   f.router,
		Registry: f.reg,
		Env:      f.state,
		Stages:   f.state,
		Waker:    waker,
		IdleWait: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(20 * time.Millisecond)
	f.enqueue(t, "A", 1)
	close(waker.ch)

	select {
	case <-processed:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not wake up on signal")
	}
}

func TestPool_MissingEnvironment(t *testing.T) {
	f := newFixture(t, engine.PolicyDrain)

	pool := NewPool(PoolConfig{
		Concurrency: 2,
		Worker: Config{
			Router:   f.router,
			Registry: f.reg,
			Env:      queuetest.NewStateStore(),
			Stages:   f.state,
		},
	})

	_, err := pool.Run(context.Background())
	if !errors.Is(err, domain.ErrConfigurationMissing) {
		t.Errorf("expected ErrConfigurationMissing, got %v", err)
	}
}

func TestPool_DefaultConcurrency(t *testing.T) {
	if got := NewPool(PoolConfig{}).Concurrency(); got != DefaultConcurrency {
		t.Errorf("expected %d, got %d", DefaultConcurrency, got)
	}
}

type testWaker struct {
	ch chan struct{}
}

func (w *testWaker) Ready() <-chan struct{} {
	return w.ch
}
