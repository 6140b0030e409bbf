// Package api содержит HTTP API статуса Conveyor.
//
// Структура:
//   - handler.go        — Handler с зависимостями (pipeline, очереди, стадии, окружение)
//   - routes.go         — регистрация маршрутов
//   - middleware.go     — middleware (logging, recovery)
//   - response.go       — унифицированные JSON-ответы и обработка ошибок
//   - dto.go            — ответы API
//   - status_handler.go — обработчики
//
// API только читает состояние: запуски выполняет conveyor-scheduler.
package api
