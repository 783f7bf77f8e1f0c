package mq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"socialnotify/pkg/metrics"
	"socialnotify/pkg/otel"
	"socialnotify/pkg/util"
)

// Handler 返回 nil → ack；Permanent(err) → 死信；其它错误 → 按重试计数 requeue 或死信
type Handler func(ctx context.Context, d amqp.Delivery) error

// RetryCounter 由 util.RetryCounter 实现
type RetryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type ConsumerConfig struct {
	Queue           string
	RoutingKeys     []string
	Tag             string
	Prefetch        int
	MaxRedeliveries int64
}

// Outcome 单条消息的处理结果
type Outcome string

const (
	OutcomeAck        Outcome = "ack"
	OutcomeRequeue    Outcome = "requeue"
	OutcomeDeadLetter Outcome = "dead_letter"
)

type Consumer struct {
	channel *amqp.Channel
	cfg     ConsumerConfig
	handler Handler
	retries RetryCounter
	logger  *zap.Logger
}

// NewConsumer opens a channel on conn, applies QoS and declares the queue topology.
func NewConsumer(conn *amqp.Connection, cfg ConsumerConfig, retries RetryCounter, logger *zap.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("failed to set qos: %w", err)
		}
	}

	if _, err := DeclareTopology(ch, cfg.Queue, cfg.RoutingKeys); err != nil {
		_ = ch.Close()
		return nil, err
	}

	logger.Info("Consumer initialized",
		zap.String("queue", cfg.Queue),
		zap.Strings("routing_keys", cfg.RoutingKeys),
		zap.String("exchange", ExchangeName),
		zap.String("dlq", DLQName(cfg.Queue)),
	)

	return newConsumer(ch, cfg, retries, logger), nil
}

func newConsumer(ch *amqp.Channel, cfg ConsumerConfig, retries RetryCounter, logger *zap.Logger) *Consumer {
	if cfg.Tag == "" {
		cfg.Tag = cfg.Queue + ".consumer"
	}
	return &Consumer{
		channel: ch,
		cfg:     cfg,
		retries: retries,
		logger:  logger,
	}
}

func (c *Consumer) SetHandler(h Handler) {
	c.handler = h
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
}

// Start consumes until ctx is cancelled or the delivery channel closes.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.channel.Consume(
		c.cfg.Queue,
		c.cfg.Tag,
		false, // 手动ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages", zap.String("queue", c.cfg.Queue))

	for {
		select {
		case <-ctx.Done():
			// 停止投递；未 ack 的消息由 broker 重新投递
			_ = c.channel.Cancel(c.cfg.Tag, false)
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("delivery channel for %s closed", c.cfg.Queue)
			}
			c.process(ctx, d)
		}
	}
}

// process 保证每条消息都会被 ack 或 nack
func (c *Consumer) process(ctx context.Context, d amqp.Delivery) Outcome {
	start := time.Now()
	ctx, span := otel.MQConsumeSpan(ctx, d, c.cfg.Queue)
	defer span.End()

	err := c.invoke(ctx, d)
	outcome := c.decide(ctx, d, err)

	logFields := []zap.Field{
		zap.String("queue", c.cfg.Queue),
		zap.String("routing_key", d.RoutingKey),
		zap.String("outcome", string(outcome)),
	}

	switch outcome {
	case OutcomeAck:
		if ackErr := d.Ack(false); ackErr != nil {
			c.logger.Error("Failed to ack message", append(logFields, zap.Error(ackErr))...)
		}
	case OutcomeRequeue:
		c.logger.Warn("Handler failed, message requeued", append(logFields, zap.Error(err))...)
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.logger.Error("Failed to nack message", append(logFields, zap.Error(nackErr))...)
		}
	case OutcomeDeadLetter:
		c.logger.Error("Message dead-lettered", append(logFields,
			zap.String("dlq", DLQName(c.cfg.Queue)),
			zap.Error(err),
		)...)
		if nackErr := d.Nack(false, false); nackErr != nil {
			c.logger.Error("Failed to nack message", append(logFields, zap.Error(nackErr))...)
		}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.RecordMQConsumeLatency(c.cfg.Queue, string(outcome), time.Since(start))
	return outcome
}

// invoke runs the handler, converting a panic into an ordinary retryable error.
func (c *Consumer) invoke(ctx context.Context, d amqp.Delivery) (err error) {
	if c.handler == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Handler panic recovered",
				zap.String("queue", c.cfg.Queue),
				zap.Any("panic", r),
			)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, d)
}

func (c *Consumer) decide(ctx context.Context, d amqp.Delivery, err error) Outcome {
	retryKey := util.FormatRetryKey(c.cfg.Queue, util.MessageKey(d.Body))

	if err == nil {
		if d.Redelivered && c.retries != nil {
			_ = c.retries.Reset(ctx, retryKey)
		}
		return OutcomeAck
	}
	if IsPermanent(err) {
		return OutcomeDeadLetter
	}

	count := int64(1)
	if c.retries != nil {
		n, cerr := c.retries.IncrementAndGet(ctx, retryKey)
		if cerr != nil {
			// 计数不可用时按第一次失败处理
			c.logger.Warn("Retry counter unavailable", zap.Error(cerr))
		} else {
			count = n
		}
	}

	if util.ShouldRetry(count, c.cfg.MaxRedeliveries, true) {
		return OutcomeRequeue
	}
	if c.retries != nil {
		_ = c.retries.Reset(ctx, retryKey)
	}
	return OutcomeDeadLetter
}
