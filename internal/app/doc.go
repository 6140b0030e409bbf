// Package app собирает компоненты Conveyor по конфигурации: хранилище
// (PostgreSQL или Badger), брокер событий, Router, Controller, Scheduler
// и пул workers. Используется командами conveyor-scheduler и
// conveyor-worker.
package app
