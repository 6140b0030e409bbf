// Conveyor Scheduler — запускает pipeline.
//
// Использование:
//
//	conveyor-scheduler [STAGE|restart] [--config PATH] [--cron EXPR] [--workers N]
//
// Без аргумента — fresh-запуск с первой стадии. STAGE — fresh-запуск
// со стадии, следующей за STAGE. restart — повтор упавших chunks
// активной стадии без сброса очередей.
//
// Одновременно работает один scheduler: файловая блокировка на машине
// и pg_advisory_lock для PostgreSQL. С --workers N workers работают
// внутри процесса (обязательно для Badger).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/app"
	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/scheduler"
	"github.com/shaiso/Conveyor/internal/telemetry"
	"github.com/shaiso/Conveyor/internal/worker"
)

// restartArg — аргумент режима restart.
const restartArg = "restart"

// version задаётся через ldflags при сборке.
var version = "dev"

type options struct {
	configPath string
	cronExpr   string
	workers    int
}

func main() {
	var opts options

	rootCmd := &cobra.Command{
		Use:           "conveyor-scheduler [STAGE|restart]",
		Short:         "Start or restart a Conveyor pipeline run",
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			arg := ""
			if len(args) == 1 {
				arg = args[0]
			}
			return run(opts, arg)
		},
	}

	rootCmd.Flags().StringVar(&opts.configPath, "config", "", "Path to conveyor.toml")
	rootCmd.Flags().StringVar(&opts.cronExpr, "cron", "", "Repeat fresh runs on a cron schedule (default: scheduler.cron)")
	rootCmd.Flags().IntVar(&opts.workers, "workers", -1, "Workers embedded in the scheduler process (default: scheduler.workers)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(opts options, arg string) error {
	logger := telemetry.SetupLogger()

	cfg, path, exists, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.cronExpr != "" {
		cfg.Scheduler.Cron = opts.cronExpr
	}
	if opts.workers >= 0 {
		cfg.Scheduler.Workers = opts.workers
	}
	if err := cfg.ValidateScheduler(); err != nil {
		return err
	}
	if cfg.Scheduler.Cron != "" {
		if arg == restartArg {
			return fmt.Errorf("%w: restart cannot be scheduled", domain.ErrInvalidArgument)
		}
		if err := scheduler.ValidateCronExpr(cfg.Scheduler.Cron); err != nil {
			return err
		}
	}
	if exists {
		logger.Info("config loaded", "path", path)
	}

	lock, err := scheduler.AcquireInstanceLock(cfg.Scheduler.LockPath)
	if err != nil {
		return err
	}
	defer lock.Release()

	logger.Info("starting conveyor-scheduler", "version", version, "store", cfg.Store.Backend)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := app.Open(ctx, cfg, "conveyor-scheduler", logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.Backend.Pool != nil {
		leader, err := repo.AcquireAdvisoryLock(ctx, rt.Backend.Pool, cfg.Scheduler.AdvisoryLockID)
		if err != nil {
			return err
		}
		defer leader.Release(context.WithoutCancel(ctx))
		logger.Info("scheduler lock acquired", "key", cfg.Scheduler.AdvisoryLockID)
	}

	rt.Events.Start(ctx)

	var embedded *worker.Pool
	if cfg.Scheduler.Workers > 0 {
		embedded, err = rt.WorkerPool(cfg.Scheduler.Workers)
		if err != nil {
			return err
		}
		// Отдельного процесса workers нет: API статуса отдаёт scheduler
		rt.ServeHTTP(ctx, cfg.HTTP.Addr, cancel)
	}

	sched := rt.Scheduler(embedded)

	if cfg.Scheduler.Cron != "" {
		return sched.RunCron(ctx, cfg.Scheduler.Cron, arg)
	}

	var result *domain.Run
	if arg == restartArg {
		result, err = sched.Restart(ctx)
	} else {
		result, err = sched.Fresh(ctx, arg)
	}
	if result != nil {
		fmt.Println(statusLine(result))
	}
	return err
}

// statusLine — итоговая строка запуска.
func statusLine(run *domain.Run) string {
	line := fmt.Sprintf("run %s %s %s: %d stage(s), %d failed chunk(s), %s",
		run.ID, run.Mode, run.Status,
		len(run.Stages), run.TotalFailures(),
		run.Duration().Round(time.Millisecond),
	)
	if run.Error != "" {
		line += ": " + run.Error
	}
	return line
}
