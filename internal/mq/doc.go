// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchange и очередей
//   - publisher.go  — публикация событий pipeline
//   - consumer.go   — потребление сообщений из очередей
//   - wakeup.go     — пробуждение простаивающих workers
//
// RabbitMQ здесь не хранит задачи: очереди descriptors и WIP живут
// в queue.Store. Через брокер идут только события, поэтому без него
// система работает в режиме polling.
//
// Типы сообщений (routing key совпадает с типом):
//   - chunks.ready     — chunks стадии поставлены в очередь
//   - stage.started    — стадия перешла в IN_PROGRESS
//   - stage.completed  — стадия завершена
//   - task.failed      — descriptor записан в failed-set
//   - run.finished     — запуск завершён
//
// Exchanges:
//   - conveyor.events  — все события (topic)
package mq
