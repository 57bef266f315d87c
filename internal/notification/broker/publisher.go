// Package broker publishes notification messages to an AMQP exchange for the
// external notification dispatcher.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wacrm_backend/platform/config"
	"wacrm_backend/platform/logger"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	maxDialAttempts  = 5
	maxPublishTries  = 3
	initialBackoff   = time.Second
	maxBackoff       = 15 * time.Second
	publishRetryWait = 100 * time.Millisecond
)

// Publisher sends an encoded message under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
	Close() error
}

// FromConfig dials the configured broker. Without AMQP_URL, or when the broker is
// unreachable, notifications fall back to the log.
func FromConfig(ctx context.Context, cfg config.BrokerConfig, log *logger.Logger) Publisher {
	if !cfg.IsBrokerEnabled() {
		log.Warn("AMQP_URL not configured; notifications are logged only")
		return NewLogPublisher(log)
	}

	publisher, err := Dial(ctx, cfg.GetAMQPURL(), cfg.GetAMQPExchange(), log)
	if err != nil {
		log.Error("failed to connect to message broker; notifications are logged only", "error", err)
		return NewLogPublisher(log)
	}
	return publisher
}

// AMQPPublisher publishes persistent JSON messages to a topic exchange and
// reconnects lazily when the connection or channel has been closed.
type AMQPPublisher struct {
	url      string
	exchange string
	log      *logger.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// Dial connects to the broker, retrying with exponential backoff, and declares
// the exchange.
func Dial(ctx context.Context, url, exchange string, log *logger.Logger) (*AMQPPublisher, error) {
	p := &AMQPPublisher{url: url, exchange: exchange, log: log}

	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		err := p.connect()
		if err == nil {
			log.Info("connected to AMQP broker", "exchange", exchange, "attempt", attempt)
			return p, nil
		}
		if attempt >= maxDialAttempts {
			return nil, fmt.Errorf("connect to AMQP broker after %d attempts: %w", attempt, err)
		}

		log.Warn("AMQP connection failed, retrying", "error", err, "attempt", attempt, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (p *AMQPPublisher) connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectLocked()
}

func (p *AMQPPublisher) connectLocked() error {
	p.closeLocked()

	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Properties: amqp.Table{
			"connection_name": "wacrm-notifications",
		},
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(p.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}

	p.conn, p.channel = conn, ch
	return nil
}

func (p *AMQPPublisher) healthyLocked() bool {
	return p.conn != nil && !p.conn.IsClosed() && p.channel != nil && !p.channel.IsClosed()
}

// Publish sends body to the exchange. A closed connection is re-established
// before each retry.
func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	var lastErr error
	wait := publishRetryWait

	for attempt := 1; attempt <= maxPublishTries; attempt++ {
		p.mu.Lock()
		if !p.healthyLocked() {
			if err := p.connectLocked(); err != nil {
				p.mu.Unlock()
				lastErr = err
				p.log.Warn("AMQP channel unavailable for publish", "error", err, "attempt", attempt)
				if !sleep(ctx, wait) {
					return ctx.Err()
				}
				wait *= 2
				continue
			}
		}
		ch := p.channel
		p.mu.Unlock()

		err := ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if !ch.IsClosed() {
			break
		}
		if !sleep(ctx, wait) {
			return ctx.Err()
		}
		wait *= 2
	}

	return fmt.Errorf("publish %s: %w", routingKey, lastErr)
}

// IsHealthy reports whether the connection and channel are open.
func (p *AMQPPublisher) IsHealthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthyLocked()
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}

func (p *AMQPPublisher) closeLocked() {
	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// LogPublisher only logs messages. Used when no broker is configured.
type LogPublisher struct {
	log *logger.Logger
}

// NewLogPublisher creates a publisher that writes to the log.
func NewLogPublisher(log *logger.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

// Publish logs the routing key and message size.
func (p *LogPublisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	p.log.WithContext(ctx).Info("notification (broker disabled)", "routing_key", routingKey, "bytes", len(body))
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error { return nil }
