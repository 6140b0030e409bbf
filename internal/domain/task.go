package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskDescriptor — отдельная единица работы: один chunk одной стадии.
//
// Descriptor создаётся StageController'ом при постановке стадии в очередь
// (Attempt = 1) или при restart (Attempt предыдущей попытки + 1).
//
// Пока descriptor в очереди, им владеет store. После claim им владеет ровно
// один worker — до Ack (descriptor удаляется) или Fail (descriptor переезжает
// в failed-set стадии).
type TaskDescriptor struct {
	// ID — уникальный идентификатор descriptor.
	ID uuid.UUID `json:"id"`

	// Stage — имя стадии.
	Stage string `json:"stage"`

	// Queue — очередь, в которую descriptor был поставлен.
	Queue string `json:"queue"`

	// Chunk — диапазон записей.
	Chunk Chunk `json:"chunk"`

	// Attempt — номер попытки (начиная с 1).
	Attempt int `json:"attempt"`

	// EnqueuedAt — время постановки в очередь.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// ClaimedAt — время claim воркером.
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	// LeaseUntil — до какого момента claim считается живым.
	// После истечения store возвращает descriptor в очередь.
	LeaseUntil *time.Time `json:"lease_until,omitempty"`
}

// NewTaskDescriptor создаёт descriptor для chunk.
func NewTaskDescriptor(stage, queue string, chunk Chunk, attempt int) *TaskDescriptor {
	if attempt < 1 {
		attempt = 1
	}
	return &TaskDescriptor{
		ID:         uuid.New(),
		Stage:      stage,
		Queue:      queue,
		Chunk:      chunk,
		Attempt:    attempt,
		EnqueuedAt: time.Now(),
	}
}

// MarkClaimed фиксирует claim с lease на указанный срок.
func (d *TaskDescriptor) MarkClaimed(now time.Time, lease time.Duration) {
	until := now.Add(lease)
	d.ClaimedAt = &now
	d.LeaseUntil = &until
}

// LeaseExpired проверяет, истёк ли lease на момент now.
func (d *TaskDescriptor) LeaseExpired(now time.Time) bool {
	return d.LeaseUntil != nil && now.After(*d.LeaseUntil)
}

// ResetClaim возвращает descriptor в состояние "в очереди".
func (d *TaskDescriptor) ResetClaim() {
	d.ClaimedAt = nil
	d.LeaseUntil = nil
}

// Failure — запись failed-set: descriptor, который завершился ошибкой.
type Failure struct {
	// Descriptor — упавший descriptor (в состоянии на момент Fail).
	Descriptor TaskDescriptor `json:"descriptor"`

	// Error — текст ошибки task body.
	Error string `json:"error"`

	// FailedAt — время записи в failed-set.
	FailedAt time.Time `json:"failed_at"`
}

// Retry создаёт новый descriptor для повторной попытки того же chunk.
func (f *Failure) Retry() *TaskDescriptor {
	return NewTaskDescriptor(f.Descriptor.Stage, f.Descriptor.Queue, f.Descriptor.Chunk, f.Descriptor.Attempt+1)
}
