// Package config загружает, нормализует и валидирует конфигурацию Conveyor.
//
// Порядок: значения по умолчанию, затем TOML-файл, затем переменные
// окружения (DB_URL, RABBITMQ_URL, CONVEYOR_*). Пути с ~ раскрываются.
// Определение pipeline хранится отдельно, в YAML (см. engine.LoadPipeline).
package config
