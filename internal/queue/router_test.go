package queue_test

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/queue"
	"github.com/shaiso/Conveyor/internal/queue/queuetest"
)

func testPipeline(policy engine.QueuePolicy) *engine.Pipeline {
	return &engine.Pipeline{
		Name:   "test",
		Policy: policy,
		Stages: []engine.StageDef{
			{
				Name:      "A",
				Records:   22,
				ChunkSize: 10,
				Queues:    []engine.QueueDef{{Name: "A", MaxWIP: 2}},
				Executor:  engine.ExecutorDef{Type: "delay"},
			},
			{
				Name:      "B",
				Records:   5,
				ChunkSize: 1,
				Queues: []engine.QueueDef{
					{Name: "B.high", MaxWIP: 3},
					{Name: "B.low", MaxWIP: 1},
				},
				Executor: engine.ExecutorDef{Type: "delay"},
			},
			{
				Name:      "C",
				Records:   1,
				ChunkSize: 1,
				Queues:    []engine.QueueDef{{Name: "C", MaxWIP: 1}},
				Executor:  engine.ExecutorDef{Type: "delay"},
			},
		},
	}
}

func newRouter(store queue.Store, policy engine.QueuePolicy) *queue.Router {
	return queue.NewRouter(queue.RouterConfig{
		Store:    store,
		Pipeline: testPipeline(policy),
	})
}

func TestRouter_QueuesFor(t *testing.T) {
	tests := []struct {
		name   string
		policy engine.QueuePolicy
		stage  string
		want   []string
	}{
		{"drain first stage", engine.PolicyDrain, "A", []string{"A"}},
		{"drain includes earlier stages", engine.PolicyDrain, "B", []string{"A", "B.high", "B.low"}},
		{"drain last stage", engine.PolicyDrain, "C", []string{"A", "B.high", "B.low", "C"}},
		{"isolated", engine.PolicyIsolated, "B", []string{"B.high", "B.low"}},
		{"isolated last stage", engine.PolicyIsolated, "C", []string{"C"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(queuetest.NewMemoryStore(), tt.policy)

			got, err := r.QueuesFor(tt.stage)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("QueuesFor(%s) = %v, want %v", tt.stage, got, tt.want)
			}
		})
	}
}

func TestRouter_QueuesForUnknownStage(t *testing.T) {
	r := newRouter(queuetest.NewMemoryStore(), engine.PolicyDrain)

	_, err := r.QueuesFor("Z")
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestRouter_EnqueueRoundRobin(t *testing.T) {
	store := queuetest.NewMemoryStore()
	r := newRouter(store, engine.PolicyDrain)
	ctx := context.Background()

	chunks, _ := engine.Plan(5, 1)
	n, err := r.Enqueue(ctx, "B", chunks, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5 enqueued, got %d", n)
	}

	pushed := store.Pushed()
	for i, d := range pushed {
		if d.Chunk.Start != i {
			t.Errorf("descriptor %d: expected ascending chunk order, got %s", i, d.Chunk)
		}
		wantQueue := []string{"B.high", "B.low"}[i%2]
		if d.Queue != wantQueue {
			t.Errorf("descriptor %d: expected queue %s, got %s", i, wantQueue, d.Queue)
		}
		if d.Attempt != 1 {
			t.Errorf("descriptor %d: expected attempt 1, got %d", i, d.Attempt)
		}
	}

	depth, _ := r.Pending(ctx, "B")
	if depth.Pending != 5 || depth.InFlight != 0 {
		t.Errorf("unexpected depth: %+v", depth)
	}
}

func TestRouter_TryClaimRespectsMaxWIP(t *testing.T) {
	store := queuetest.NewMemoryStore()
	r := newRouter(store, engine.PolicyDrain)
	ctx := context.Background()

	chunks, _ := engine.Plan(22, 10)
	if _, err := r.Enqueue(ctx, "A", chunks, 1); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	first, _ := r.TryClaim(ctx, "A")
	second, _ := r.TryClaim(ctx, "A")
	if first == nil || second == nil {
		t.Fatal("expected two successful claims")
	}

	third, err := r.TryClaim(ctx, "A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third != nil {
		t.Fatal("claim beyond max_wip should return nil")
	}

	if err := r.Ack(ctx, first); err != nil {
		t.Fatalf("ack: %v", err)
	}

	third, _ = r.TryClaim(ctx, "A")
	if third == nil {
		t.Fatal("claim after ack should succeed")
	}
	if third.Chunk != (domain.Chunk{Start: 20, End: 21}) {
		t.Errorf("expected last chunk, got %s", third.Chunk)
	}
}

func TestRouter_TryClaimEmptyQueue(t *testing.T) {
	r := newRouter(queuetest.NewMemoryStore(), engine.PolicyDrain)

	d, err := r.TryClaim(context.Background(), "A")
	if err != nil || d != nil {
		t.Errorf("expected nil, nil for empty queue, got %v, %v", d, err)
	}
}

func TestRouter_TryClaimUnknownQueue(t *testing.T) {
	r := newRouter(queuetest.NewMemoryStore(), engine.PolicyDrain)

	_, err := r.TryClaim(context.Background(), "nope")
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestRouter_TryClaimConflict(t *testing.T) {
	store := queuetest.NewMemoryStore()
	r := newRouter(store, engine.PolicyDrain)
	store.InjectConflicts(1)

	_, err := r.TryClaim(context.Background(), "A")
	if !errors.Is(err, domain.ErrClaimConflict) {
		t.Errorf("expected ErrClaimConflict, got %v", err)
	}
}

func TestRouter_DoubleAck(t *testing.T) {
	store := queuetest.NewMemoryStore()
	r := newRouter(store, engine.PolicyDrain)
	ctx := context.Background()

	r.Enqueue(ctx, "A", []domain.Chunk{{Start: 0, End: 9}}, 1)
	d, _ := r.TryClaim(ctx, "A")

	if err := r.Ack(ctx, d); err != nil {
		t.Fatalf("first ack: %v", err)
	}
	if err := r.Ack(ctx, d); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second ack: expected ErrNotFound, got %v", err)
	}

	depth, _ := r.Pending(ctx, "A")
	if depth.InFlight != 0 {
		t.Errorf("WIP must stay at zero, got %d", depth.InFlight)
	}
}

func TestRouter_FailRecordsFailure(t *testing.T) {
	store := queuetest.NewMemoryStore()
	r := newRouter(store, engine.PolicyDrain)
	ctx := context.Background()

	r.Enqueue(ctx, "A", []domain.Chunk{{Start: 0, End: 9}}, 1)
	d, _ := r.TryClaim(ctx, "A")

	if err := r.Fail(ctx, d, errors.New("boom")); err != nil {
		t.Fatalf("fail: %v", err)
	}

	failures, err := r.Failures(ctx, "A")
	if err != nil {
		t.Fatalf("failures: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(failures))
	}
	if failures[0].Error != "boom" || failures[0].Descriptor.Chunk != d.Chunk {
		t.Errorf("unexpected failure: %+v", failures[0])
	}

	depth, _ := r.Pending(ctx, "A")
	if !depth.Empty() {
		t.Errorf("failed descriptor must not be re-enqueued, depth %+v", depth)
	}

	if err := r.Fail(ctx, d, errors.New("again")); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second fail: expected ErrNotFound, got %v", err)
	}
}

func TestRouter_Requeue(t *testing.T) {
	store := queuetest.NewMemoryStore()
	r := newRouter(store, engine.PolicyDrain)
	ctx := context.Background()

	failures := []domain.Failure{
		{Descriptor: *domain.NewTaskDescriptor("B", "B.low", domain.Chunk{Start: 3, End: 3}, 1), Error: "x"},
		{Descriptor: *domain.NewTaskDescriptor("B", "B.gone", domain.Chunk{Start: 4, End: 4}, 2), Error: "y"},
	}

	n, err := r.Requeue(ctx, failures)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 requeued, got %d", n)
	}

	pushed := store.Pushed()
	if pushed[0].Queue != "B.low" || pushed[0].Attempt != 2 {
		t.Errorf("unexpected first descriptor: queue=%s attempt=%d", pushed[0].Queue, pushed[0].Attempt)
	}
	if pushed[1].Queue != "B.high" || pushed[1].Attempt != 3 {
		t.Errorf("unexpected second descriptor: queue=%s attempt=%d", pushed[1].Queue, pushed[1].Attempt)
	}
	if pushed[0].ID == failures[0].Descriptor.ID {
		t.Error("requeued descriptor should get a new ID")
	}
}

func TestRouter_ClearMaxWIP(t *testing.T) {
	store := queuetest.NewMemoryStore()
	r := newRouter(store, engine.PolicyDrain)
	ctx := context.Background()

	chunks, _ := engine.Plan(30, 10)
	r.Enqueue(ctx, "A", chunks, 1)
	r.TryClaim(ctx, "A")
	r.TryClaim(ctx, "A")

	if d, _ := r.TryClaim(ctx, "A"); d != nil {
		t.Fatal("queue should be throttled")
	}

	if err := r.ClearMaxWIP(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}

	if d, _ := r.TryClaim(ctx, "A"); d == nil {
		t.Error("claim should succeed after WIP reset")
	}
}

func TestRouter_ExpiredLeaseIsReclaimed(t *testing.T) {
	store := queuetest.NewMemoryStore()
	now := time.Now()
	store.Now = func() time.Time { return now }

	r := queue.NewRouter(queue.RouterConfig{
		Store:        store,
		Pipeline:     testPipeline(engine.PolicyDrain),
		LeaseTimeout: time.Minute,
	})
	ctx := context.Background()

	r.Enqueue(ctx, "C", []domain.Chunk{{Start: 0, End: 0}}, 1)
	crashed, _ := r.TryClaim(ctx, "C")
	if crashed == nil {
		t.Fatal("expected claim")
	}

	if d, _ := r.TryClaim(ctx, "C"); d != nil {
		t.Fatal("claim should be held while lease is alive")
	}

	now = now.Add(2 * time.Minute)

	d, _ := r.TryClaim(ctx, "C")
	if d == nil {
		t.Fatal("expired claim should become claimable")
	}
	if d.ID != crashed.ID {
		t.Errorf("expected the same descriptor, got %s", d.ID)
	}
}

// Сколько бы воркеров ни забирали задачи параллельно, число
// незавершённых claim'ов очереди не превышает max_wip.
func TestRouter_ConcurrentClaimsNeverExceedMaxWIP(t *testing.T) {
	store := queuetest.NewMemoryStore()
	r := newRouter(store, engine.PolicyDrain)
	ctx := context.Background()

	chunks, _ := engine.Plan(200, 1)
	r.Enqueue(ctx, "A", chunks, 1)

	var (
		wg        sync.WaitGroup
		processed atomic.Int64
		current   atomic.Int64
		violation atomic.Bool
	)

	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))

			for processed.Load() < int64(len(chunks)) {
				d, err := r.TryClaim(ctx, "A")
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if d == nil {
					time.Sleep(time.Millisecond)
					continue
				}

				if current.Add(1) > 2 {
					violation.Store(true)
				}
				time.Sleep(time.Duration(rnd.Intn(200)) * time.Microsecond)
				current.Add(-1)

				if rnd.Intn(4) == 0 {
					err = r.Fail(ctx, d, errors.New("random"))
				} else {
					err = r.Ack(ctx, d)
				}
				if err != nil {
					t.Errorf("complete: %v", err)
					return
				}
				processed.Add(1)
			}
		}(int64(w))
	}
	wg.Wait()

	if violation.Load() {
		t.Error("observed more than max_wip concurrent claims")
	}
	if got := store.MaxInFlight("A"); got > 2 {
		t.Errorf("store WIP reached %d, max_wip is 2", got)
	}

	depth, _ := r.Pending(ctx, "A")
	if !depth.Empty() {
		t.Errorf("expected drained queue, got %+v", depth)
	}
}
