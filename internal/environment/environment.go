// Package environment реализует WorkerEnvironment: снимок конфигурации
// процесса, который scheduler публикует один раз за запуск, а каждый
// worker читает один раз при старте.
package environment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
)

// DefaultPrefixes — префиксы переменных окружения, попадающих в снимок.
var DefaultPrefixes = []string{"CONVEYOR_", "DB_", "RABBITMQ_"}

// Snapshot — конфигурация, общая для всех workers одного запуска.
// После публикации снимок только читается.
type Snapshot struct {
	// RunID — запуск, опубликовавший снимок.
	RunID uuid.UUID `json:"run_id"`

	// PushedAt — время публикации.
	PushedAt time.Time `json:"pushed_at"`

	// Values — пары ключ-значение. Конкретные ключи принадлежат task bodies.
	Values map[string]string `json:"values"`
}

// Store — хранилище снимка окружения.
type Store interface {
	// PutEnvironment перезаписывает снимок целиком.
	PutEnvironment(ctx context.Context, snap *Snapshot) error

	// GetEnvironment возвращает снимок или domain.ErrNotFound.
	GetEnvironment(ctx context.Context) (*Snapshot, error)
}

// Capture собирает снимок из окружения процесса.
// Берутся только переменные с одним из префиксов; extra перекрывает их.
func Capture(runID uuid.UUID, prefixes []string, extra map[string]string) *Snapshot {
	values := make(map[string]string)

	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !hasPrefix(key, prefixes) {
			continue
		}
		values[key] = value
	}
	for k, v := range extra {
		values[k] = v
	}

	return &Snapshot{RunID: runID, Values: values}
}

func hasPrefix(key string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// Push публикует снимок. Вызывается scheduler'ом до старта workers.
func Push(ctx context.Context, store Store, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", domain.ErrInvalidArgument)
	}
	if snap.Values == nil {
		snap.Values = make(map[string]string)
	}
	snap.PushedAt = time.Now().UTC()

	if err := store.PutEnvironment(ctx, snap); err != nil {
		return fmt.Errorf("push environment: %w", err)
	}
	return nil
}

// Pull читает снимок. Если scheduler ещё ничего не опубликовал,
// возвращает domain.ErrConfigurationMissing: worker не должен
// продолжать со значениями по умолчанию.
func Pull(ctx context.Context, store Store) (*Snapshot, error) {
	snap, err := store.GetEnvironment(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrConfigurationMissing
	}
	if err != nil {
		return nil, fmt.Errorf("pull environment: %w", err)
	}
	return snap, nil
}

// Get возвращает значение по ключу.
func (s *Snapshot) Get(key string) string {
	if s == nil {
		return ""
	}
	return s.Values[key]
}

// Environ возвращает снимок в формате KEY=VALUE, отсортированный по ключу.
func (s *Snapshot) Environ() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.Values))
	for k := range s.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, len(keys))
	for i, k := range keys {
		env[i] = k + "=" + s.Values[k]
	}
	return env
}
