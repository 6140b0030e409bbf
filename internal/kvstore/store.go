// Package kvstore реализует хранилища поверх встроенного Badger.
//
// Badger держит эксклюзивную блокировку каталога, поэтому scheduler
// и workers с этим хранилищем работают в одном процессе
// (conveyor-scheduler --workers N). Для нескольких процессов нужен
// PostgreSQL (repo).
//
// Раскладка ключей (\0 — байт 0x00 после имени):
//
//	queue:{name}\0wip                  счётчик WIP (uint64, big endian)
//	queue:{name}\0pending\0{seq}:{id}  ожидающий descriptor
//	queue:{name}\0claimed\0{id}        claimed descriptor
//	failure:{stage}\0{seq}:{id}        запись failed-set
//	stage:{name}                       статус стадии
//	meta:active_stage                  активная стадия
//	meta:environment                   снимок окружения
package kvstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/environment"
	"github.com/shaiso/Conveyor/internal/queue"
)

const seqBandwidth = 1000

var (
	keyActiveStage = []byte("meta:active_stage")
	keyEnvironment = []byte("meta:environment")
	keySequence    = []byte("meta:sequence")
)

// Store — queue.Store, состояние стадий и окружение в одном Badger.
type Store struct {
	db     *badger.DB
	seq    *badger.Sequence
	logger *slog.Logger
	now    func() time.Time
}

var (
	_ queue.Store       = (*Store)(nil)
	_ environment.Store = (*Store)(nil)
)

// record — descriptor вместе с его позицией в очереди.
// При возврате истёкшего claim позиция сохраняется, и descriptor
// снова оказывается в начале очереди.
type record struct {
	Seq        uint64                `json:"seq"`
	Descriptor domain.TaskDescriptor `json:"descriptor"`
}

// Open открывает хранилище в каталоге path. Пустой path — in-memory.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(path).WithLogger(badgerLogger{logger})
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	seq, err := db.GetSequence(keySequence, seqBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("get sequence: %w", err)
	}

	logger.Info("badger store opened", "path", path, "in_memory", path == "")
	return &Store{db: db, seq: seq, logger: logger, now: time.Now}, nil
}

// Close освобождает sequence и закрывает БД.
func (s *Store) Close() error {
	return errors.Join(s.seq.Release(), s.db.Close())
}

// --- queue.Store ---

func (s *Store) Push(_ context.Context, d *domain.TaskDescriptor) error {
	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	rec := record{Seq: n, Descriptor: *d}
	rec.Descriptor.ResetClaim()

	return s.update(func(txn *badger.Txn) error {
		return setJSON(txn, pendingKey(d.Queue, n, d.ID), rec)
	})
}

func (s *Store) PopIfAvailable(_ context.Context, q string, maxWIP int, lease time.Duration) (*domain.TaskDescriptor, error) {
	var claimed *domain.TaskDescriptor

	err := s.update(func(txn *badger.Txn) error {
		// WIP читается и пишется в каждой транзакции claim, поэтому
		// параллельные claim'ы одной очереди конфликтуют при commit.
		wip, err := getCounter(txn, wipKey(q))
		if err != nil {
			return err
		}

		now := s.now()
		reclaimed, err := s.reclaimExpired(txn, q, now)
		if err != nil {
			return err
		}
		wip = max(wip-reclaimed, 0)

		if wip < maxWIP {
			claimed, err = s.claimOldest(txn, q, now, lease)
			if err != nil {
				return err
			}
			if claimed != nil {
				wip++
			}
		}
		return setCounter(txn, wipKey(q), wip)
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *Store) reclaimExpired(txn *badger.Txn, q string, now time.Time) (int, error) {
	var expired []record

	err := iterate(txn, claimedPrefix(q), func(item *badger.Item) error {
		var rec record
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}
		if rec.Descriptor.LeaseExpired(now) {
			expired = append(expired, rec)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, rec := range expired {
		d := rec.Descriptor
		if err := txn.Delete(claimedKey(q, d.ID)); err != nil {
			return 0, err
		}
		rec.Descriptor.ResetClaim()
		if err := setJSON(txn, pendingKey(q, rec.Seq, d.ID), rec); err != nil {
			return 0, err
		}
		s.logger.Warn("claim lease expired, descriptor returned to queue",
			"queue", q,
			"stage", d.Stage,
			"chunk", d.Chunk.String(),
		)
	}
	return len(expired), nil
}

func (s *Store) claimOldest(txn *badger.Txn, q string, now time.Time, lease time.Duration) (*domain.TaskDescriptor, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = pendingPrefix(q)
	it := txn.NewIterator(opts)
	defer it.Close()

	it.Rewind()
	if !it.Valid() {
		return nil, nil
	}

	item := it.Item()
	key := item.KeyCopy(nil)

	var rec record
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, err
	}

	if err := txn.Delete(key); err != nil {
		return nil, err
	}
	rec.Descriptor.MarkClaimed(now, lease)
	if err := setJSON(txn, claimedKey(q, rec.Descriptor.ID), rec); err != nil {
		return nil, err
	}

	d := rec.Descriptor
	return &d, nil
}

func (s *Store) AckRemove(_ context.Context, q string, id uuid.UUID) error {
	return s.update(func(txn *badger.Txn) error {
		if _, err := s.takeClaimed(txn, q, id); err != nil {
			return err
		}
		return nil
	})
}

func (s *Store) AppendFailure(_ context.Context, q string, f domain.Failure) error {
	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	return s.update(func(txn *badger.Txn) error {
		if _, err := s.takeClaimed(txn, q, f.Descriptor.ID); err != nil {
			return err
		}
		return setJSON(txn, failureKey(f.Descriptor.Stage, n, f.Descriptor.ID), f)
	})
}

// takeClaimed удаляет claimed descriptor и освобождает слот WIP.
func (s *Store) takeClaimed(txn *badger.Txn, q string, id uuid.UUID) (*record, error) {
	key := claimedKey(q, id)

	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec record
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, err
	}

	if err := txn.Delete(key); err != nil {
		return nil, err
	}

	wip, err := getCounter(txn, wipKey(q))
	if err != nil {
		return nil, err
	}
	if err := setCounter(txn, wipKey(q), max(wip-1, 0)); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) ListFailures(_ context.Context, stage string) ([]domain.Failure, error) {
	var failures []domain.Failure

	err := s.db.View(func(txn *badger.Txn) error {
		return iterate(txn, failurePrefix(stage), func(item *badger.Item) error {
			var f domain.Failure
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &f)
			}); err != nil {
				return err
			}
			failures = append(failures, f)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	return failures, nil
}

func (s *Store) ClearFailures(_ context.Context, stage string, ids []uuid.UUID) error {
	drop := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	return s.update(func(txn *badger.Txn) error {
		var keys [][]byte
		err := iterate(txn, failurePrefix(stage), func(item *badger.Item) error {
			var f domain.Failure
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &f)
			}); err != nil {
				return err
			}
			if drop[f.Descriptor.ID] {
				keys = append(keys, item.KeyCopy(nil))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Depth(_ context.Context, q string) (queue.Depth, error) {
	var depth queue.Depth

	err := s.db.View(func(txn *badger.Txn) error {
		wip, err := getCounter(txn, wipKey(q))
		if err != nil {
			return err
		}
		depth.InFlight = wip

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = pendingPrefix(q)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			depth.Pending++
		}
		return nil
	})
	if err != nil {
		return queue.Depth{}, fmt.Errorf("queue depth: %w", err)
	}
	return depth, nil
}

func (s *Store) ResetWIP(_ context.Context) error {
	return s.update(func(txn *badger.Txn) error {
		var keys [][]byte

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte("queue:")
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if isWIPKey(key) || isClaimedKey(key) {
				keys = append(keys, key)
			}
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) FlushAll(_ context.Context) error {
	if err := s.db.DropPrefix([]byte("queue:"), []byte("failure:")); err != nil {
		return fmt.Errorf("flush queues: %w", err)
	}
	return nil
}

// --- Helpers ---

// update выполняет read-write транзакцию. Конфликт при commit
// превращается в domain.ErrClaimConflict.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	err := s.db.Update(fn)
	if errors.Is(err, badger.ErrConflict) {
		return domain.ErrClaimConflict
	}
	return err
}

func iterate(txn *badger.Txn, prefix []byte, fn func(item *badger.Item) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		if err := fn(it.Item()); err != nil {
			return err
		}
	}
	return nil
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, dst any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, dst)
	})
}

func getCounter(txn *badger.Txn, key []byte) (int, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var n uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt counter %s", key)
		}
		n = binary.BigEndian.Uint64(val)
		return nil
	})
	return int(n), err
}

func setCounter(txn *badger.Txn, key []byte, n int) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return txn.Set(key, buf)
}
