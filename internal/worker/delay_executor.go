package worker

import (
	"context"
	"time"
)

// DelayExecutor — executor для стадий типа "delay".
//
// Ожидает указанное время и ничего не делает с chunk.
// Используется в smoke-тестах pipeline.
//
// Config:
//   - duration_sec (number): длительность задержки в секундах (default: 1)
type DelayExecutor struct{}

// Execute выполняет задержку.
func (e *DelayExecutor) Execute(ctx context.Context, tc TaskContext) error {
	durationSec, ok := getSeconds(tc.Config, "duration_sec")
	if !ok || durationSec < 0 {
		durationSec = 1
	}

	timer := time.NewTimer(time.Duration(durationSec * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
