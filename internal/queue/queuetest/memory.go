// Package queuetest содержит in-memory реализацию queue.Store для тестов.
package queuetest

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/queue"
)

// MemoryStore — queue.Store в памяти процесса.
// Все операции выполняются под одним mutex, поэтому атомарны.
type MemoryStore struct {
	mu        sync.Mutex
	pending   map[string][]*domain.TaskDescriptor
	inflight  map[string]map[uuid.UUID]*domain.TaskDescriptor
	failures  map[string][]domain.Failure
	maxSeen   map[string]int
	pushed    []domain.TaskDescriptor
	conflicts int

	// Now — источник времени для lease (default: time.Now).
	Now func() time.Time
}

var _ queue.Store = (*MemoryStore)(nil)

// NewMemoryStore создаёт пустой MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pending:  make(map[string][]*domain.TaskDescriptor),
		inflight: make(map[string]map[uuid.UUID]*domain.TaskDescriptor),
		failures: make(map[string][]domain.Failure),
		maxSeen:  make(map[string]int),
		Now:      time.Now,
	}
}

// InjectConflicts заставляет следующие n вызовов PopIfAvailable
// вернуть domain.ErrClaimConflict.
func (s *MemoryStore) InjectConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = n
}

// RemainingConflicts возвращает, сколько внедрённых конфликтов ещё не выдано.
func (s *MemoryStore) RemainingConflicts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conflicts
}

// MaxInFlight возвращает максимальный WIP, наблюдавшийся в очереди.
func (s *MemoryStore) MaxInFlight(queue string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxSeen[queue]
}

// Pushed возвращает все descriptors, когда-либо добавленные через Push.
func (s *MemoryStore) Pushed() []domain.TaskDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.pushed)
}

func (s *MemoryStore) Push(_ context.Context, d *domain.TaskDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *d
	cp.ResetClaim()
	s.pending[d.Queue] = append(s.pending[d.Queue], &cp)
	s.pushed = append(s.pushed, cp)
	return nil
}

func (s *MemoryStore) PopIfAvailable(_ context.Context, q string, maxWIP int, lease time.Duration) (*domain.TaskDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conflicts > 0 {
		s.conflicts--
		return nil, domain.ErrClaimConflict
	}

	now := s.Now()
	s.reclaimExpired(q, now)

	if len(s.inflight[q]) >= maxWIP || len(s.pending[q]) == 0 {
		return nil, nil
	}

	d := s.pending[q][0]
	s.pending[q] = s.pending[q][1:]
	d.MarkClaimed(now, lease)

	if s.inflight[q] == nil {
		s.inflight[q] = make(map[uuid.UUID]*domain.TaskDescriptor)
	}
	s.inflight[q][d.ID] = d
	s.maxSeen[q] = max(s.maxSeen[q], len(s.inflight[q]))

	cp := *d
	return &cp, nil
}

// reclaimExpired возвращает claim'ы с истёкшим lease в начало очереди.
func (s *MemoryStore) reclaimExpired(q string, now time.Time) {
	var expired []*domain.TaskDescriptor
	for id, d := range s.inflight[q] {
		if d.LeaseExpired(now) {
			delete(s.inflight[q], id)
			d.ResetClaim()
			expired = append(expired, d)
		}
	}
	slices.SortFunc(expired, func(a, b *domain.TaskDescriptor) int {
		return a.EnqueuedAt.Compare(b.EnqueuedAt)
	})
	s.pending[q] = append(expired, s.pending[q]...)
}

func (s *MemoryStore) AckRemove(_ context.Context, q string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inflight[q][id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.inflight[q], id)
	return nil
}

func (s *MemoryStore) AppendFailure(_ context.Context, q string, f domain.Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inflight[q][f.Descriptor.ID]; !ok {
		return domain.ErrNotFound
	}
	delete(s.inflight[q], f.Descriptor.ID)
	stage := f.Descriptor.Stage
	s.failures[stage] = append(s.failures[stage], f)
	return nil
}

func (s *MemoryStore) ListFailures(_ context.Context, stage string) ([]domain.Failure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.failures[stage]), nil
}

func (s *MemoryStore) ClearFailures(_ context.Context, stage string, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures[stage] = slices.DeleteFunc(s.failures[stage], func(f domain.Failure) bool {
		return slices.Contains(ids, f.Descriptor.ID)
	})
	return nil
}

func (s *MemoryStore) Depth(_ context.Context, q string) (queue.Depth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queue.Depth{Pending: len(s.pending[q]), InFlight: len(s.inflight[q])}, nil
}

func (s *MemoryStore) ResetWIP(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight = make(map[string]map[uuid.UUID]*domain.TaskDescriptor)
	return nil
}

func (s *MemoryStore) FlushAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = make(map[string][]*domain.TaskDescriptor)
	s.inflight = make(map[string]map[uuid.UUID]*domain.TaskDescriptor)
	s.failures = make(map[string][]domain.Failure)
	return nil
}
