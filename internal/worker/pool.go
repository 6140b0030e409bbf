package worker

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency — число workers в пуле по умолчанию.
const DefaultConcurrency = 4

// Pool запускает несколько Worker в одном процессе.
//
// Workers делят Router, Registry и Store; счётчики WIP живут в Store,
// поэтому пулы разных процессов можно запускать одновременно.
type Pool struct {
	concurrency int
	template    Config
	logger      *slog.Logger
}

// PoolConfig — конфигурация Pool.
type PoolConfig struct {
	// Concurrency — число workers (default: 4).
	Concurrency int

	// Worker — общая конфигурация workers; ID назначается пулом.
	Worker Config
}

// NewPool создаёт новый Pool.
func NewPool(cfg PoolConfig) *Pool {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	logger := cfg.Worker.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		concurrency: concurrency,
		template:    cfg.Worker,
		logger:      logger,
	}
}

// Concurrency возвращает число workers.
func (p *Pool) Concurrency() int {
	return p.concurrency
}

// Run запускает workers и ждёт, пока все они остановятся.
//
// Если один worker не смог стартовать, остальные останавливаются,
// а ошибка возвращается вызывающему. Статистика возвращается всегда,
// по одной записи на worker.
func (p *Pool) Run(ctx context.Context) ([]Stats, error) {
	p.logger.Info("starting worker pool", "concurrency", p.concurrency)

	stats := make([]Stats, p.concurrency)
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < p.concurrency; i++ {
		cfg := p.template
		cfg.ID = i + 1
		w := New(cfg)

		g.Go(func() error {
			s, err := w.Run(gctx)
			stats[i] = s
			return err
		})
	}

	err := g.Wait()
	p.logger.Info("worker pool stopped", "concurrency", p.concurrency)
	return stats, err
}

// Totals суммирует статистику workers.
func Totals(stats []Stats) Stats {
	var total Stats
	for _, s := range stats {
		total.Succeeded += s.Succeeded
		total.Failed += s.Failed
		total.Active += s.Active
	}
	return total
}
