package queuetest

import (
	"context"
	"slices"
	"sync"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/environment"
)

// StateStore хранит состояние стадий и снимок окружения в памяти.
type StateStore struct {
	mu      sync.Mutex
	stages  map[string]domain.StageState
	active  string
	env     *environment.Snapshot
	history []domain.StageState
}

// NewStateStore создаёт пустой StateStore.
func NewStateStore() *StateStore {
	return &StateStore{stages: make(map[string]domain.StageState)}
}

// History возвращает все выставленные статусы в порядке вызовов.
func (s *StateStore) History() []domain.StageState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

func (s *StateStore) SetStageStatus(_ context.Context, st domain.StageState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages[st.Name] = st
	s.history = append(s.history, st)
	return nil
}

func (s *StateStore) StageStatuses(_ context.Context) ([]domain.StageState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make([]domain.StageState, 0, len(s.stages))
	for _, st := range s.stages {
		states = append(states, st)
	}
	slices.SortFunc(states, func(a, b domain.StageState) int {
		return a.Position - b.Position
	})
	return states, nil
}

func (s *StateStore) SetActiveStage(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = name
	return nil
}

func (s *StateStore) ActiveStage(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == "" {
		return "", domain.ErrNotFound
	}
	return s.active, nil
}

func (s *StateStore) ResetStages(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages = make(map[string]domain.StageState)
	s.active = ""
	return nil
}

func (s *StateStore) PutEnvironment(_ context.Context, snap *environment.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *snap
	s.env = &cp
	return nil
}

func (s *StateStore) GetEnvironment(_ context.Context) (*environment.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.env == nil {
		return nil, domain.ErrNotFound
	}
	cp := *s.env
	return &cp, nil
}
