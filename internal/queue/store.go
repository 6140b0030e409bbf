package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
)

// Store — хранилище очередей, WIP-счётчиков и failed-set.
//
// PopIfAvailable, AckRemove и AppendFailure должны быть атомарными
// относительно всех процессов, работающих с тем же хранилищем.
type Store interface {
	// Push добавляет descriptor в конец очереди d.Queue.
	Push(ctx context.Context, d *domain.TaskDescriptor) error

	// PopIfAvailable атомарно забирает самый старый descriptor очереди
	// и увеличивает её WIP. Возвращает nil, nil, если очередь пуста или
	// WIP ≥ maxWIP. Перед проверкой лимита claim'ы с истёкшим lease
	// возвращаются в очередь, а их WIP освобождается.
	PopIfAvailable(ctx context.Context, queue string, maxWIP int, lease time.Duration) (*domain.TaskDescriptor, error)

	// AckRemove удаляет claimed descriptor и уменьшает WIP.
	// Для уже удалённого descriptor возвращает domain.ErrNotFound,
	// WIP не меняется.
	AckRemove(ctx context.Context, queue string, id uuid.UUID) error

	// AppendFailure удаляет claimed descriptor, уменьшает WIP и добавляет
	// запись в failed-set стадии одной операцией.
	// Для неизвестного claim возвращает domain.ErrNotFound.
	AppendFailure(ctx context.Context, queue string, f domain.Failure) error

	// ListFailures возвращает failed-set стадии в порядке записи.
	ListFailures(ctx context.Context, stage string) ([]domain.Failure, error)

	// ClearFailures удаляет из failed-set стадии записи с указанными ID.
	ClearFailures(ctx context.Context, stage string, ids []uuid.UUID) error

	// Depth возвращает число ожидающих и claimed descriptors очереди.
	Depth(ctx context.Context, queue string) (Depth, error)

	// ResetWIP обнуляет WIP-счётчики всех очередей. Незавершённые
	// claims прошлых запусков забываются: их Ack вернёт domain.ErrNotFound.
	ResetWIP(ctx context.Context) error

	// FlushAll удаляет все очереди, счётчики и failed-set.
	FlushAll(ctx context.Context) error
}

// Depth — состояние очереди.
type Depth struct {
	// Pending — descriptors, ожидающие claim.
	Pending int `json:"pending"`

	// InFlight — claimed, но ещё не подтверждённые (WIP).
	InFlight int `json:"in_flight"`
}

// Empty возвращает true, если очередь пуста и WIP равен нулю.
func (d Depth) Empty() bool {
	return d.Pending == 0 && d.InFlight == 0
}

// Add суммирует состояния двух очередей.
func (d Depth) Add(other Depth) Depth {
	return Depth{
		Pending:  d.Pending + other.Pending,
		InFlight: d.InFlight + other.InFlight,
	}
}
