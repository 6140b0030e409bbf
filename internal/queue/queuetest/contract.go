package queuetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/queue"
)

// RunStoreTests проверяет реализацию queue.Store на общих сценариях.
// newStore должен возвращать пустое хранилище.
func RunStoreTests(t *testing.T, newStore func(t *testing.T) queue.Store) {
	t.Helper()

	t.Run("FIFO", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			push(t, s, "q", i)
		}
		for i := 0; i < 3; i++ {
			d := pop(t, s, "q", 10)
			if d == nil || d.Chunk.Start != i {
				t.Fatalf("pop %d: expected chunk starting at %d, got %v", i, i, d)
			}
			if d.ClaimedAt == nil || d.LeaseUntil == nil {
				t.Errorf("pop %d: claim timestamps should be set", i)
			}
		}
		if d := pop(t, s, "q", 10); d != nil {
			t.Errorf("expected empty queue, got %v", d)
		}

		depth, _ := s.Depth(ctx, "q")
		if depth.Pending != 0 || depth.InFlight != 3 {
			t.Errorf("unexpected depth: %+v", depth)
		}
	})

	t.Run("MaxWIP", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			push(t, s, "q", i)
		}
		a := pop(t, s, "q", 2)
		pop(t, s, "q", 2)
		if d := pop(t, s, "q", 2); d != nil {
			t.Fatal("pop beyond max_wip should return nil")
		}

		if err := s.AckRemove(ctx, "q", a.ID); err != nil {
			t.Fatalf("ack: %v", err)
		}
		if d := pop(t, s, "q", 2); d == nil {
			t.Fatal("pop after ack should succeed")
		}
	})

	t.Run("DoubleAck", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		push(t, s, "q", 0)
		d := pop(t, s, "q", 1)

		if err := s.AckRemove(ctx, "q", d.ID); err != nil {
			t.Fatalf("first ack: %v", err)
		}
		if err := s.AckRemove(ctx, "q", d.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("second ack: expected ErrNotFound, got %v", err)
		}
		depth, _ := s.Depth(ctx, "q")
		if depth.InFlight != 0 {
			t.Errorf("WIP should be zero, got %d", depth.InFlight)
		}
	})

	t.Run("AckUnknown", func(t *testing.T) {
		s := newStore(t)
		if err := s.AckRemove(context.Background(), "q", uuid.New()); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Failures", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		push(t, s, "q", 0)
		push(t, s, "q", 1)
		first := pop(t, s, "q", 5)
		second := pop(t, s, "q", 5)

		for _, d := range []*domain.TaskDescriptor{first, second} {
			f := domain.Failure{Descriptor: *d, Error: "boom", FailedAt: time.Now().UTC()}
			if err := s.AppendFailure(ctx, "q", f); err != nil {
				t.Fatalf("append failure: %v", err)
			}
		}

		depth, _ := s.Depth(ctx, "q")
		if !depth.Empty() {
			t.Errorf("failed descriptors should leave the queue, got %+v", depth)
		}

		failures, err := s.ListFailures(ctx, "stage")
		if err != nil {
			t.Fatalf("list failures: %v", err)
		}
		if len(failures) != 2 {
			t.Fatalf("expected 2 failures, got %d", len(failures))
		}
		if failures[0].Descriptor.ID != first.ID || failures[0].Error != "boom" {
			t.Errorf("unexpected first failure: %+v", failures[0])
		}

		if err := s.ClearFailures(ctx, "stage", []uuid.UUID{first.ID}); err != nil {
			t.Fatalf("clear failures: %v", err)
		}
		failures, _ = s.ListFailures(ctx, "stage")
		if len(failures) != 1 || failures[0].Descriptor.ID != second.ID {
			t.Errorf("expected only the second failure to remain, got %+v", failures)
		}

		other, _ := s.ListFailures(ctx, "other")
		if len(other) != 0 {
			t.Errorf("failed-set is keyed by stage, got %v", other)
		}
	})

	// Имя, которое начинается с другого имени, не делит с ним данные.
	t.Run("PrefixNames", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, name := range []string{"a:b", "a:pending:x", "a:claimed:x"} {
			d := domain.NewTaskDescriptor(name, name, domain.Chunk{}, 1)
			if err := s.Push(ctx, d); err != nil {
				t.Fatalf("push %s: %v", name, err)
			}
		}

		claimed := pop(t, s, "a:b", 1)
		if claimed == nil {
			t.Fatal("expected descriptor in a:b")
		}
		f := domain.Failure{Descriptor: *claimed, Error: "boom", FailedAt: time.Now().UTC()}
		if err := s.AppendFailure(ctx, "a:b", f); err != nil {
			t.Fatalf("append failure: %v", err)
		}

		depth, err := s.Depth(ctx, "a")
		if err != nil {
			t.Fatalf("depth: %v", err)
		}
		if !depth.Empty() {
			t.Errorf("queue a should be empty, got %+v", depth)
		}
		if d := pop(t, s, "a", 1); d != nil {
			t.Errorf("queue a should not yield descriptors of %s", d.Queue)
		}

		failures, err := s.ListFailures(ctx, "a")
		if err != nil {
			t.Fatalf("list failures: %v", err)
		}
		if len(failures) != 0 {
			t.Errorf("stage a should have no failures, got %d (stage %s)", len(failures), failures[0].Descriptor.Stage)
		}

		if err := s.ClearFailures(ctx, "a", []uuid.UUID{claimed.ID}); err != nil {
			t.Fatalf("clear failures: %v", err)
		}
		failures, _ = s.ListFailures(ctx, "a:b")
		if len(failures) != 1 {
			t.Errorf("failures of a:b should survive clearing stage a, got %d", len(failures))
		}

		for _, name := range []string{"a:pending:x", "a:claimed:x"} {
			depth, _ := s.Depth(ctx, name)
			if depth.Pending != 1 || depth.InFlight != 0 {
				t.Errorf("queue %s: unexpected depth %+v", name, depth)
			}
		}
	})

	t.Run("FailUnclaimed", func(t *testing.T) {
		s := newStore(t)
		d := domain.NewTaskDescriptor("stage", "q", domain.Chunk{}, 1)
		err := s.AppendFailure(context.Background(), "q", domain.Failure{Descriptor: *d, Error: "x"})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ExpiredLease", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		push(t, s, "q", 0)
		d, err := s.PopIfAvailable(ctx, "q", 1, time.Millisecond)
		if err != nil || d == nil {
			t.Fatalf("pop: %v, %v", d, err)
		}

		time.Sleep(50 * time.Millisecond)

		again := pop(t, s, "q", 1)
		if again == nil {
			t.Fatal("expired claim should be claimable again")
		}
		if again.ID != d.ID {
			t.Errorf("expected descriptor %s, got %s", d.ID, again.ID)
		}

		depth, _ := s.Depth(ctx, "q")
		if depth.InFlight != 1 {
			t.Errorf("expected WIP 1 after reclaim, got %d", depth.InFlight)
		}
	})

	t.Run("ResetWIP", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		push(t, s, "q", 0)
		push(t, s, "q", 1)
		stale := pop(t, s, "q", 1)

		if err := s.ResetWIP(ctx); err != nil {
			t.Fatalf("reset: %v", err)
		}

		depth, _ := s.Depth(ctx, "q")
		if depth.InFlight != 0 || depth.Pending != 1 {
			t.Errorf("unexpected depth after reset: %+v", depth)
		}
		if err := s.AckRemove(ctx, "q", stale.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("stale claim ack: expected ErrNotFound, got %v", err)
		}
		if d := pop(t, s, "q", 1); d == nil {
			t.Error("queue should accept claims after reset")
		}
	})

	t.Run("FlushAll", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		push(t, s, "q", 0)
		push(t, s, "q", 1)
		d := pop(t, s, "q", 5)
		s.AppendFailure(ctx, "q", domain.Failure{Descriptor: *d, Error: "x"})

		if err := s.FlushAll(ctx); err != nil {
			t.Fatalf("flush: %v", err)
		}

		depth, _ := s.Depth(ctx, "q")
		if !depth.Empty() {
			t.Errorf("expected empty queue, got %+v", depth)
		}
		failures, _ := s.ListFailures(ctx, "stage")
		if len(failures) != 0 {
			t.Errorf("expected empty failed-set, got %d", len(failures))
		}
	})

	t.Run("ConcurrentClaims", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const total = 40
		for i := 0; i < total; i++ {
			push(t, s, "q", i)
		}

		var (
			mu   sync.Mutex
			seen = make(map[uuid.UUID]bool)
			wg   sync.WaitGroup
		)
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					d, err := s.PopIfAvailable(ctx, "q", 3, time.Minute)
					if errors.Is(err, domain.ErrClaimConflict) {
						continue
					}
					if err != nil {
						t.Errorf("pop: %v", err)
						return
					}
					if d == nil {
						depth, _ := s.Depth(ctx, "q")
						if depth.Pending == 0 {
							return
						}
						time.Sleep(time.Millisecond)
						continue
					}

					mu.Lock()
					if seen[d.ID] {
						t.Errorf("descriptor %s claimed twice", d.ID)
					}
					seen[d.ID] = true
					mu.Unlock()

					for {
						err := s.AckRemove(ctx, "q", d.ID)
						if errors.Is(err, domain.ErrClaimConflict) {
							continue
						}
						if err != nil {
							t.Errorf("ack: %v", err)
						}
						break
					}
				}
			}()
		}
		wg.Wait()

		if len(seen) != total {
			t.Errorf("expected %d claims, got %d", total, len(seen))
		}
		depth, _ := s.Depth(ctx, "q")
		if !depth.Empty() {
			t.Errorf("expected drained queue, got %+v", depth)
		}
	})
}

func push(t *testing.T, s queue.Store, q string, start int) {
	t.Helper()
	d := domain.NewTaskDescriptor("stage", q, domain.Chunk{Start: start, End: start}, 1)
	if err := s.Push(context.Background(), d); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func pop(t *testing.T, s queue.Store, q string, maxWIP int) *domain.TaskDescriptor {
	t.Helper()
	for {
		d, err := s.PopIfAvailable(context.Background(), q, maxWIP, time.Minute)
		if errors.Is(err, domain.ErrClaimConflict) {
			continue
		}
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		return d
	}
}
