package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrNoActiveStage — restart без предыдущего запуска.
	ErrNoActiveStage = errors.New("no active stage")

	// ErrCounterMissing — стадия с count_sql, но источник записей не настроен.
	ErrCounterMissing = errors.New("record counter is not configured")
)
