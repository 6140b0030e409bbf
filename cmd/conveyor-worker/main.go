// Conveyor Worker — выполняет chunks активной стадии.
//
// Worker:
//   - Читает snapshot окружения, опубликованный scheduler
//   - Забирает descriptors из очередей активной стадии с учётом max_wip
//   - Выполняет task body стадии (http, command, delay)
//   - Подтверждает chunk или записывает его в failed-set
//
// Процессы workers масштабируются горизонтально (только с PostgreSQL).
// При остановке текущие chunks дорабатываются, затем печатается
// статистика по workers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/app"
	"github.com/shaiso/Conveyor/internal/cli"
	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/telemetry"
	"github.com/shaiso/Conveyor/internal/worker"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var configPath string
	var concurrency int

	rootCmd := &cobra.Command{
		Use:           "conveyor-worker",
		Short:         "Run a pool of Conveyor workers",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, concurrency)
		},
	}

	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to conveyor.toml")
	rootCmd.Flags().IntVar(&concurrency, "concurrency", 0, "Number of workers (default: workers.concurrency)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(configPath string, concurrency int) error {
	logger := telemetry.SetupLogger()

	cfg, path, exists, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ValidateWorker(); err != nil {
		return err
	}
	if concurrency > 0 {
		cfg.Workers.Concurrency = concurrency
	}
	if exists {
		logger.Info("config loaded", "path", path)
	}

	logger.Info("starting conveyor-worker", "version", version, "concurrency", cfg.Workers.Concurrency)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := app.Open(ctx, cfg, "conveyor-worker", logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.Events.Start(ctx)
	rt.ServeHTTP(ctx, cfg.HTTP.Addr, cancel)

	pool, err := rt.WorkerPool(cfg.Workers.Concurrency)
	if err != nil {
		return err
	}

	stats, err := pool.Run(ctx)
	printStats(stats)
	if err != nil {
		return err
	}

	logger.Info("conveyor-worker stopped")
	return nil
}

// printStats печатает итог по workers в stdout.
func printStats(stats []worker.Stats) {
	if len(stats) == 0 {
		return
	}

	headers := []string{"WORKER", "SUCCEEDED", "FAILED", "ACTIVE"}
	aligns := []cli.Align{cli.AlignRight, cli.AlignRight, cli.AlignRight, cli.AlignRight}
	rows := make([][]string, 0, len(stats)+1)
	for _, s := range stats {
		rows = append(rows, statsRow(strconv.Itoa(s.WorkerID), s))
	}
	rows = append(rows, statsRow("total", worker.Totals(stats)))

	tty := isatty.IsTerminal(os.Stdout.Fd())
	fmt.Println(cli.RenderTable(headers, rows, aligns, tty))
}

func statsRow(id string, s worker.Stats) []string {
	return []string{
		id,
		strconv.Itoa(s.Succeeded),
		strconv.Itoa(s.Failed),
		s.Active.Round(time.Millisecond).String(),
	}
}
