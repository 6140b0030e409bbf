package engine

import (
	"errors"
	"fmt"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Ошибки валидации pipeline.
// Все они оборачивают domain.ErrInvalidArgument.
var (
	// ErrEmptyStages — pipeline не содержит стадий.
	ErrEmptyStages = fmt.Errorf("%w: pipeline has no stages", domain.ErrInvalidArgument)

	// ErrEmptyStageName — стадия без имени.
	ErrEmptyStageName = fmt.Errorf("%w: stage has empty name", domain.ErrInvalidArgument)

	// ErrEmptyQueueName — очередь без имени.
	ErrEmptyQueueName = fmt.Errorf("%w: queue has empty name", domain.ErrInvalidArgument)

	// ErrInvalidName — имя стадии или очереди с управляющими символами.
	ErrInvalidName = fmt.Errorf("%w: name contains control characters", domain.ErrInvalidArgument)

	// ErrDuplicateStage — несколько стадий с одинаковым именем.
	ErrDuplicateStage = fmt.Errorf("%w: duplicate stage name", domain.ErrInvalidArgument)

	// ErrDuplicateQueue — одна очередь объявлена у нескольких стадий.
	ErrDuplicateQueue = fmt.Errorf("%w: queue assigned to more than one stage", domain.ErrInvalidArgument)

	// ErrInvalidChunkSize — chunk_size < 1.
	ErrInvalidChunkSize = fmt.Errorf("%w: chunk size must be at least 1", domain.ErrInvalidArgument)

	// ErrInvalidRecords — отрицательное количество записей.
	ErrInvalidRecords = fmt.Errorf("%w: record count must not be negative", domain.ErrInvalidArgument)

	// ErrInvalidMaxWIP — max_wip < 1.
	ErrInvalidMaxWIP = fmt.Errorf("%w: max_wip must be at least 1", domain.ErrInvalidArgument)

	// ErrUnknownExecutor — неизвестный тип executor.
	ErrUnknownExecutor = fmt.Errorf("%w: unknown executor type", domain.ErrInvalidArgument)

	// ErrUnknownPolicy — неизвестная политика очередей.
	ErrUnknownPolicy = fmt.Errorf("%w: unknown queue policy", domain.ErrInvalidArgument)

	// ErrUnknownStage — стадия не найдена в pipeline.
	ErrUnknownStage = fmt.Errorf("%w: unknown stage", domain.ErrInvalidArgument)
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	Stage   string // стадия, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.Stage != "" {
		return "stage " + e.Stage + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(stage, field, message string, err error) *ValidationError {
	return &ValidationError{
		Stage:   stage,
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// IsValidationError проверяет, является ли err ошибкой валидации pipeline.
func IsValidationError(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}
