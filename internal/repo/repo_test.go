package repo

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/environment"
	"github.com/shaiso/Conveyor/internal/queue"
	"github.com/shaiso/Conveyor/internal/queue/queuetest"
)

// testDBEnv — DSN отдельной тестовой БД. Тесты очищают все таблицы
// conveyor_*, поэтому рабочий DB_URL здесь не используется.
const testDBEnv = "CONVEYOR_TEST_DB_URL"

// openTestPool подключается к тестовой БД и очищает её.
// Без CONVEYOR_TEST_DB_URL тест пропускается.
func openTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv(testDBEnv)
	if dsn == "" {
		t.Skipf("%s is not set", testDBEnv)
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, dsn, 10)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	resetTables(t, pool)
	return pool
}

func resetTables(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`TRUNCATE conveyor_tasks, conveyor_queues, conveyor_failures, conveyor_stages, conveyor_meta`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

func TestQueueRepo_Contract(t *testing.T) {
	pool := openTestPool(t)

	queuetest.RunStoreTests(t, func(t *testing.T) queue.Store {
		resetTables(t, pool)
		return NewQueueRepo(pool)
	})
}

func TestQueueRepo_ClaimSetsLease(t *testing.T) {
	pool := openTestPool(t)
	r := NewQueueRepo(pool)
	ctx := context.Background()

	first := domain.NewTaskDescriptor("parse", "parse", domain.Chunk{Start: 0, End: 9}, 1)
	second := domain.NewTaskDescriptor("parse", "parse", domain.Chunk{Start: 10, End: 19}, 2)
	for _, d := range []*domain.TaskDescriptor{first, second} {
		if err := r.Push(ctx, d); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	got, err := r.PopIfAvailable(ctx, "parse", 1, time.Minute)
	if err != nil || got == nil {
		t.Fatalf("pop: %v, %v", got, err)
	}
	if got.ID != first.ID || got.Stage != "parse" || got.Chunk != first.Chunk {
		t.Errorf("unexpected descriptor: %+v", got)
	}
	if got.LeaseUntil == nil || !got.LeaseUntil.After(*got.ClaimedAt) {
		t.Errorf("lease should end after the claim: %+v", got)
	}

	if d, err := r.PopIfAvailable(ctx, "parse", 1, time.Minute); err != nil || d != nil {
		t.Errorf("max_wip 1 should block the second claim, got %v, %v", d, err)
	}
}

func TestStateRepo_StageState(t *testing.T) {
	pool := openTestPool(t)
	s := NewStateRepo(pool)
	ctx := context.Background()

	if _, err := s.ActiveStage(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound before any stage, got %v", err)
	}

	now := time.Now().UTC()
	s.SetStageStatus(ctx, domain.StageState{Name: "load", Position: 1, Status: domain.StageStatusPending, UpdatedAt: now})
	s.SetStageStatus(ctx, domain.StageState{Name: "parse", Position: 0, Status: domain.StageStatusInProgress, UpdatedAt: now})
	s.SetStageStatus(ctx, domain.StageState{Name: "parse", Position: 0, Status: domain.StageStatusCompleted, UpdatedAt: now})
	if err := s.SetActiveStage(ctx, "load"); err != nil {
		t.Fatalf("set active: %v", err)
	}

	states, err := s.StageStatuses(ctx)
	if err != nil {
		t.Fatalf("statuses: %v", err)
	}
	if len(states) != 2 || states[0].Name != "parse" || states[1].Name != "load" {
		t.Fatalf("expected stages ordered by position, got %+v", states)
	}
	if states[0].Status != domain.StageStatusCompleted {
		t.Errorf("status should be upserted, got %s", states[0].Status)
	}
	if active, _ := s.ActiveStage(ctx); active != "load" {
		t.Errorf("expected active stage load, got %q", active)
	}

	if err := s.ResetStages(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := s.ActiveStage(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound after reset, got %v", err)
	}
}

func TestStateRepo_Environment(t *testing.T) {
	pool := openTestPool(t)
	s := NewStateRepo(pool)
	ctx := context.Background()

	if _, err := environment.Pull(ctx, s); !errors.Is(err, domain.ErrConfigurationMissing) {
		t.Errorf("expected ErrConfigurationMissing, got %v", err)
	}

	snap := &environment.Snapshot{Values: map[string]string{"DB_URL": "x"}}
	if err := environment.Push(ctx, s, snap); err != nil {
		t.Fatalf("push: %v", err)
	}

	got, err := environment.Pull(ctx, s)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if got.Get("DB_URL") != "x" {
		t.Errorf("unexpected snapshot: %+v", got)
	}
}
