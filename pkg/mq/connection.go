package mq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	ExchangeName = "events"
	// DLXName 死信交换机，主队列 nack(requeue=false) 的消息进入这里
	DLXName = "events.dlx"
)

// NewConnection creates a new RabbitMQ connection.
func NewConnection(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// DialWithRetry 启动时 broker 可能还没就绪，按指数退避重试，用尽后返回最后一次错误
func DialWithRetry(ctx context.Context, url string, attempts int, delay time.Duration, logger *zap.Logger) (*amqp.Connection, error) {
	if attempts <= 0 {
		attempts = 1
	}
	if delay <= 0 {
		delay = time.Second
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := NewConnection(url)
		if err == nil {
			if i > 1 {
				logger.Info("Connected to RabbitMQ", zap.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err
		if i == attempts {
			break
		}

		logger.Warn("RabbitMQ not reachable, retrying",
			zap.Int("attempt", i),
			zap.Int("max_attempts", attempts),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}

// DeclareExchange declares the events exchange.
func DeclareExchange(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(ExchangeName, amqp.ExchangeTopic, true, false, false, false, nil)
}
