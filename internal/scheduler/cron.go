package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser — парсер cron-выражений (5 полей и @descriptors).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(cronExpr string) error {
	_, err := cronParser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return nil
}

// NextRun возвращает время следующего запуска после from (в UTC).
func NextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from).UTC(), nil
}

// RunCron выполняет fresh-запуски по расписанию до отмены ctx.
//
// Запуск, совпавший с ещё идущим, пропускается. После отмены ctx
// RunCron ждёт завершения текущего запуска.
func (s *Scheduler) RunCron(ctx context.Context, cronExpr, after string) error {
	logger := cronLogger{s.logger}

	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if _, err := c.AddFunc(cronExpr, func() { s.Tick(ctx, after) }); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	next, _ := NextRun(cronExpr, time.Now())
	s.logger.Info("cron scheduler started", "cron", cronExpr, "next_run", next)

	c.Start()
	<-ctx.Done()

	s.logger.Info("stopping cron scheduler...")
	<-c.Stop().Done()
	s.logger.Info("cron scheduler stopped")
	return nil
}

// cronLogger направляет логи cron в slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
