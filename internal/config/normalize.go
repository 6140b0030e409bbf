package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// applyEnv перекрывает значения файла переменными окружения.
func (c *Config) applyEnv() error {
	if v := os.Getenv("CONVEYOR_PIPELINE"); v != "" {
		c.Pipeline = v
	}
	if v := os.Getenv("CONVEYOR_STORE"); v != "" {
		c.Store.Backend = Backend(v)
	}
	if v := os.Getenv("DB_URL"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("CONVEYOR_BADGER_PATH"); v != "" {
		c.Store.BadgerPath = v
	}
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		c.RabbitMQ.URL = v
	}
	if v := os.Getenv("CONVEYOR_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CONVEYOR_CONCURRENCY: %w", err)
		}
		c.Workers.Concurrency = n
	}
	if v := os.Getenv("CONVEYOR_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("CONVEYOR_API_URL"); v != "" {
		c.HTTP.APIURL = v
	}
	return nil
}

func (c *Config) normalize() error {
	var err error

	c.Store.Backend = Backend(strings.ToLower(strings.TrimSpace(string(c.Store.Backend))))
	c.Store.DSN = strings.TrimSpace(c.Store.DSN)
	c.RabbitMQ.URL = strings.TrimSpace(c.RabbitMQ.URL)
	c.Scheduler.Cron = strings.TrimSpace(c.Scheduler.Cron)
	c.HTTP.APIURL = strings.TrimRight(strings.TrimSpace(c.HTTP.APIURL), "/")

	if c.Pipeline, err = expandPath(c.Pipeline); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if c.Store.BadgerPath, err = expandPath(c.Store.BadgerPath); err != nil {
		return fmt.Errorf("store.badger_path: %w", err)
	}
	if c.Scheduler.LockPath, err = expandPath(c.Scheduler.LockPath); err != nil {
		return fmt.Errorf("scheduler.lock_path: %w", err)
	}

	prefixes := c.Environment.Prefixes[:0]
	for _, p := range c.Environment.Prefixes {
		if p = strings.TrimSpace(p); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	c.Environment.Prefixes = prefixes
	return nil
}
