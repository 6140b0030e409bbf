package config

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

// ErrSingleProcess — Badger открыт одним процессом, отдельные
// процессы workers с ним работать не могут.
var ErrSingleProcess = errors.New("badger store is single-process")

// Validate проверяет, что конфигурацией можно пользоваться.
func (c *Config) Validate() error {
	if c.Pipeline == "" {
		return errors.New("pipeline path is required")
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if c.RabbitMQ.Enabled && c.RabbitMQ.URL == "" {
		return errors.New("rabbitmq.url is required when rabbitmq is enabled")
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case BackendPostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for postgres backend")
		}
		if c.Store.MaxConns < 0 {
			return fmt.Errorf("store.max_conns must not be negative, got %d", c.Store.MaxConns)
		}
	case BackendBadger:
		// Пустой путь — Badger в памяти
	default:
		return fmt.Errorf("store.backend must be postgres or badger, got %q", c.Store.Backend)
	}
	return nil
}

func (c *Config) validateWorkers() error {
	if c.Workers.Concurrency < 1 {
		return fmt.Errorf("workers.concurrency must be at least 1, got %d", c.Workers.Concurrency)
	}
	if c.Workers.IdleWait.Duration <= 0 {
		return errors.New("workers.idle_wait must be positive")
	}
	if c.Workers.LeaseTimeout.Duration <= 0 {
		return errors.New("workers.lease_timeout must be positive")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.PollInterval.Duration <= 0 {
		return errors.New("scheduler.poll_interval must be positive")
	}
	if c.Scheduler.Workers < 0 {
		return fmt.Errorf("scheduler.workers must not be negative, got %d", c.Scheduler.Workers)
	}
	if c.Scheduler.Cron != "" {
		if _, err := cron.ParseStandard(c.Scheduler.Cron); err != nil {
			return fmt.Errorf("scheduler.cron: %w", err)
		}
	}
	return nil
}

// ValidateScheduler проверяет конфигурацию процесса scheduler.
// С Badger workers должны работать внутри scheduler.
func (c *Config) ValidateScheduler() error {
	if c.Store.Backend == BackendBadger && c.Scheduler.Workers == 0 {
		return fmt.Errorf("%w: set scheduler.workers or --workers", ErrSingleProcess)
	}
	return nil
}

// ValidateWorker проверяет конфигурацию отдельного процесса workers.
func (c *Config) ValidateWorker() error {
	if c.Store.Backend == BackendBadger {
		return fmt.Errorf("%w: run workers inside conveyor-scheduler --workers N", ErrSingleProcess)
	}
	return nil
}
