package domain

// StageStatus — статус стадии pipeline.
//
// Жизненный цикл:
//
//	PENDING → ENQUEUING → IN_PROGRESS → COMPLETED
//	        ↘ FAILED (только если планирование или постановка в очередь упали)
//
// Ошибки отдельных chunks не переводят стадию в FAILED — они копятся
// в failed-set стадии и обрабатываются только явным restart.
type StageStatus string

const (
	// StageStatusPending — стадия ещё не начата.
	StageStatusPending StageStatus = "PENDING"

	// StageStatusEnqueuing — chunks стадии планируются и ставятся в очередь.
	StageStatusEnqueuing StageStatus = "ENQUEUING"

	// StageStatusInProgress — все chunks в очереди, workers их разбирают.
	StageStatusInProgress StageStatus = "IN_PROGRESS"

	// StageStatusCompleted — очередь стадии пуста и WIP равен нулю.
	StageStatusCompleted StageStatus = "COMPLETED"

	// StageStatusFailed — стадию не удалось спланировать или поставить в очередь.
	StageStatusFailed StageStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный.
func (s StageStatus) IsTerminal() bool {
	switch s {
	case StageStatusCompleted, StageStatusFailed:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление StageStatus.
func (s StageStatus) String() string {
	return string(s)
}

// ParseStageStatus парсит строку в StageStatus.
func ParseStageStatus(s string) StageStatus {
	switch s {
	case "ENQUEUING":
		return StageStatusEnqueuing
	case "IN_PROGRESS":
		return StageStatusInProgress
	case "COMPLETED":
		return StageStatusCompleted
	case "FAILED":
		return StageStatusFailed
	default:
		return StageStatusPending
	}
}

// RunStatus — итоговый статус запуска pipeline.
type RunStatus string

const (
	// RunStatusRunning — запуск в процессе.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — все стадии завершены, failed-set пуст.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusCompletedWithFailures — все стадии завершены, но есть упавшие chunks.
	RunStatusCompletedWithFailures RunStatus = "COMPLETED_WITH_FAILURES"

	// RunStatusFailed — запуск прерван ошибкой планирования.
	RunStatusFailed RunStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный.
func (s RunStatus) IsTerminal() bool {
	return s != RunStatusRunning
}
