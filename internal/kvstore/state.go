package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/environment"
)

// SetStageStatus сохраняет статус стадии.
func (s *Store) SetStageStatus(_ context.Context, st domain.StageState) error {
	return s.update(func(txn *badger.Txn) error {
		return setJSON(txn, stageKey(st.Name), st)
	})
}

// StageStatuses возвращает статусы всех стадий по позиции.
func (s *Store) StageStatuses(_ context.Context) ([]domain.StageState, error) {
	var states []domain.StageState

	err := s.db.View(func(txn *badger.Txn) error {
		return iterate(txn, []byte("stage:"), func(item *badger.Item) error {
			var st domain.StageState
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &st)
			}); err != nil {
				return err
			}
			states = append(states, st)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(states, func(a, b domain.StageState) int {
		return a.Position - b.Position
	})
	return states, nil
}

// SetActiveStage запоминает стадию, с которой работает restart.
func (s *Store) SetActiveStage(_ context.Context, name string) error {
	return s.update(func(txn *badger.Txn) error {
		return txn.Set(keyActiveStage, []byte(name))
	})
}

// ActiveStage возвращает активную стадию или domain.ErrNotFound.
func (s *Store) ActiveStage(_ context.Context) (string, error) {
	var name string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyActiveStage)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		name = string(val)
		return err
	})
	return name, err
}

// ResetStages удаляет статусы стадий и активную стадию.
func (s *Store) ResetStages(_ context.Context) error {
	if err := s.db.DropPrefix([]byte("stage:")); err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		return txn.Delete(keyActiveStage)
	})
}

// PutEnvironment перезаписывает снимок окружения.
func (s *Store) PutEnvironment(_ context.Context, snap *environment.Snapshot) error {
	return s.update(func(txn *badger.Txn) error {
		return setJSON(txn, keyEnvironment, snap)
	})
}

// GetEnvironment возвращает снимок окружения или domain.ErrNotFound.
func (s *Store) GetEnvironment(_ context.Context) (*environment.Snapshot, error) {
	var snap environment.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, keyEnvironment, &snap)
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
