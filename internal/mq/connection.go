package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNoChannel — канал не открыт (соединение ещё не установлено или разорвано).
var ErrNoChannel = errors.New("no channel available")

const (
	minRedialDelay = time.Second
	maxRedialDelay = 30 * time.Second
	heartbeat      = 10 * time.Second
)

// Connection держит одно AMQP-соединение с одним каналом и
// восстанавливает его после разрыва. Публикации во время разрыва
// возвращают ErrNoChannel; события не критичны, workers продолжают
// опрашивать хранилище.
type Connection struct {
	url    string
	name   string
	logger *slog.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel

	done        chan struct{}
	closeOnce   sync.Once
	reconnected chan struct{}
}

// NewConnection подключается к RabbitMQ.
// name показывается в management UI брокера (например, "conveyor-worker").
func NewConnection(url, name string, logger *slog.Logger) (*Connection, error) {
	c := &Connection{
		url:         url,
		name:        name,
		logger:      logger,
		done:        make(chan struct{}),
		reconnected: make(chan struct{}, 1),
	}

	if err := c.dial(); err != nil {
		return nil, err
	}

	go c.supervise()
	return c, nil
}

func (c *Connection) dial() error {
	props := amqp.NewConnectionProperties()
	if c.name != "" {
		props.SetClientConnectionName(c.name)
	}

	conn, err := amqp.DialConfig(c.url, amqp.Config{
		Heartbeat:  heartbeat,
		Locale:     "en_US",
		Properties: props,
	})
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		conn.Close()
		return net.ErrClosed
	default:
	}
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	c.logger.Info("connected to RabbitMQ", "connection_name", c.name)
	return nil
}

// supervise ждёт разрыва соединения и переподключается, пока
// Connection не закрыт.
func (c *Connection) supervise() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		lost := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-c.done:
			return
		case err := <-lost:
			if err != nil {
				c.logger.Warn("RabbitMQ connection lost", "error", err)
			}
		}

		c.mu.Lock()
		c.channel = nil
		c.mu.Unlock()

		if !c.redial() {
			return
		}
	}
}

// redial повторяет dial с растущей паузой.
// false — Connection закрыли во время ожидания.
func (c *Connection) redial() bool {
	for attempt := 0; ; attempt++ {
		delay := redialDelay(attempt)
		c.logger.Info("reconnecting to RabbitMQ", "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-c.done:
			timer.Stop()
			return false
		case <-timer.C:
		}

		if err := c.dial(); err != nil {
			c.logger.Warn("reconnect failed", "error", err)
			continue
		}

		select {
		case c.reconnected <- struct{}{}:
		default:
		}
		return true
	}
}

// redialDelay — пауза перед попыткой attempt: 1s, 2s, 4s ... не больше 30s.
func redialDelay(attempt int) time.Duration {
	delay := minRedialDelay
	for i := 0; i < attempt && delay < maxRedialDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRedialDelay)
}

// Channel возвращает текущий канал или nil во время разрыва.
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// Reconnected сигналит после каждого восстановленного соединения.
func (c *Connection) Reconnected() <-chan struct{} {
	return c.reconnected
}

// WithChannel выполняет fn с текущим каналом.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ch := c.Channel()
	if ch == nil {
		return ErrNoChannel
	}
	return fn(ch)
}

// Close закрывает канал и соединение. Повторный вызов ничего не делает.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		defer c.mu.Unlock()

		var errs []error
		if c.channel != nil {
			if cerr := c.channel.Close(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
				errs = append(errs, fmt.Errorf("close channel: %w", cerr))
			}
		}
		if c.conn != nil {
			if cerr := c.conn.Close(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
				errs = append(errs, fmt.Errorf("close connection: %w", cerr))
			}
		}
		err = errors.Join(errs...)
	})
	return err
}
