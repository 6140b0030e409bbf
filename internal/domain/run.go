package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunMode — режим запуска pipeline.
type RunMode string

const (
	// RunModeFresh — запуск с чистого состояния очередей.
	RunModeFresh RunMode = "fresh"

	// RunModeRestart — повторный прогон только упавших chunks активной стадии.
	RunModeRestart RunMode = "restart"
)

// Run — один запуск pipeline.
//
// Run создаётся scheduler entry point'ом и возвращается StageController'ом
// как итог: какие стадии пройдены и сколько chunks упало в каждой.
type Run struct {
	// ID — уникальный идентификатор запуска.
	ID uuid.UUID `json:"id"`

	// Mode — fresh или restart.
	Mode RunMode `json:"mode"`

	// Status — итоговый статус.
	Status RunStatus `json:"status"`

	// Stages — стадии, которые прошёл запуск, в порядке выполнения.
	Stages []StageState `json:"stages"`

	// Failures — количество записей failed-set по стадиям.
	Failures map[string]int `json:"failures,omitempty"`

	// StartedAt — время начала.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки, если запуск упал.
	Error string `json:"error,omitempty"`
}

// NewRun создаёт запуск в статусе RUNNING.
func NewRun(mode RunMode) *Run {
	return &Run{
		ID:        uuid.New(),
		Mode:      mode,
		Status:    RunStatusRunning,
		Failures:  make(map[string]int),
		StartedAt: time.Now(),
	}
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если запуск ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// TotalFailures возвращает суммарное число упавших chunks.
func (r *Run) TotalFailures() int {
	total := 0
	for _, n := range r.Failures {
		total += n
	}
	return total
}

// Finish завершает запуск: SUCCEEDED или COMPLETED_WITH_FAILURES.
func (r *Run) Finish() {
	now := time.Now()
	r.FinishedAt = &now
	if r.TotalFailures() > 0 {
		r.Status = RunStatusCompletedWithFailures
		return
	}
	r.Status = RunStatusSucceeded
}

// MarkFailed завершает запуск с ошибкой.
func (r *Run) MarkFailed(err string) {
	now := time.Now()
	r.FinishedAt = &now
	r.Status = RunStatusFailed
	r.Error = err
}

// StageState — состояние одной стадии.
type StageState struct {
	// Name — имя стадии.
	Name string `json:"name"`

	// Position — порядковый номер в pipeline (с нуля).
	Position int `json:"position"`

	// Status — текущий статус.
	Status StageStatus `json:"status"`

	// UpdatedAt — время последнего перехода.
	UpdatedAt time.Time `json:"updated_at"`
}
