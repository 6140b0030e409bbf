package domain

import "errors"

// Ошибки, общие для всех компонентов.
var (
	// ErrInvalidArgument — некорректный размер chunk, неизвестная стадия и т.п.
	// Фатальна на этапе планирования: частичная работа в очередь не ставится.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConfigurationMissing — worker запрашивает окружение до того,
	// как scheduler его опубликовал.
	ErrConfigurationMissing = errors.New("environment snapshot has not been pushed")

	// ErrClaimConflict — store не смог атомарно выполнить claim (проигранная гонка).
	// Мягкое условие: worker просто повторяет claim.
	ErrClaimConflict = errors.New("claim conflict")

	// ErrTaskExecution — task body вернул ошибку.
	ErrTaskExecution = errors.New("task execution failed")

	// ErrPipelineExhausted — после стадии нет следующей.
	// Нормальное завершение pipeline, а не ошибка (как io.EOF).
	ErrPipelineExhausted = errors.New("pipeline exhausted")

	// ErrNotFound — descriptor уже подтверждён или не существует.
	ErrNotFound = errors.New("not found")
)
