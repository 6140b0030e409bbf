// Package cli реализует инструмент командной строки conveyor.
//
// # Обзор
//
// CLI читает состояние запуска через HTTP API процесса
// conveyor-worker или conveyor-scheduler. Запуски CLI не выполняет:
// для этого есть conveyor-scheduler.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для API статуса. Разбирает DataResponse/ListResponse
// и ErrorResponse.
//
//	client := cli.NewClient("http://localhost:8082")
//	stages, err := client.ListStages(ctx)
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (go-pretty) — по умолчанию; рамки и цвета только в терминале
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: conveyor queues --json | jq .
//
// ## Commands
//
//   - status: статусы стадий
//   - queues: глубина очередей и WIP
//   - failures STAGE: failed-set стадии
//   - pipeline: стадии и очереди
//   - env: опубликованный snapshot окружения
//   - config sample|show: пример и действующая конфигурация
//
// Каждая команда создаётся фабричной функцией (NewStatusCmd и т.д.),
// принимающей clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
