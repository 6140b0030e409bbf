package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeEvents Exchange = "conveyor.events"
)

// Queues — имена очередей.
const (
	// QueueAudit — журнал всех событий для внешних потребителей.
	QueueAudit Queue = "conveyor.audit"
)

// Routing keys.
const (
	RoutingKeyChunksReady    RoutingKey = "chunks.ready"
	RoutingKeyStageStarted   RoutingKey = "stage.started"
	RoutingKeyStageCompleted RoutingKey = "stage.completed"
	RoutingKeyTaskFailed     RoutingKey = "task.failed"
	RoutingKeyRunFinished    RoutingKey = "run.finished"
	RoutingKeyAll            RoutingKey = "#"
)

// auditMaxLength — сколько последних событий держит журнал.
const auditMaxLength = 100000

// SetupTopology объявляет exchange и журнал событий.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.ExchangeDeclare(
			string(ExchangeEvents), // name
			"topic",                // type
			true,                   // durable
			false,                  // auto-deleted
			false,                  // internal
			false,                  // no-wait
			nil,                    // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ExchangeEvents, err)
		}

		_, err = ch.QueueDeclare(
			string(QueueAudit), // name
			true,               // durable
			false,              // delete when unused
			false,              // exclusive
			false,              // no-wait
			amqp.Table{
				"x-max-length": auditMaxLength,
				"x-overflow":   "drop-head",
			},
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", QueueAudit, err)
		}

		if err := ch.QueueBind(string(QueueAudit), string(RoutingKeyAll), string(ExchangeEvents), false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", QueueAudit, ExchangeEvents, err)
		}
		return nil
	})
}

// DeclareWakeupQueue объявляет эксклюзивную очередь процесса для
// событий chunks.ready. Имя выбирает сервер; очередь удаляется вместе
// с соединением, поэтому после reconnect её нужно объявить заново.
func DeclareWakeupQueue(ch *amqp.Channel) (string, error) {
	q, err := ch.QueueDeclare(
		"",    // name (server-named)
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("declare wakeup queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, string(RoutingKeyChunksReady), string(ExchangeEvents), false, nil); err != nil {
		return "", fmt.Errorf("bind wakeup queue: %w", err)
	}
	return q.Name, nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Conveyor RabbitMQ Topology:

    conveyor.events (topic)
    ├── conveyor.audit [routing: #]
    │       Consumer: external (max 100000 messages)
    └── amq.gen-* [routing: chunks.ready]
            Consumer: Worker (one exclusive queue per process)
  `
}
