package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	contracts "socialnotify/contracts/mq"
	"socialnotify/internal/service/notifier"
	"socialnotify/pkg/logger"
	"socialnotify/pkg/metrics"
	"socialnotify/pkg/mq"
	"socialnotify/pkg/trace"
	"socialnotify/pkg/util"
)

const handlerName = "notification"

// EventNotifier 由 notifier.Notifier 实现
type EventNotifier interface {
	HandleEvent(ctx context.Context, event string, data json.RawMessage) error
}

// Deduper 由 util.Deduper 实现
type Deduper interface {
	AcquireOnce(ctx context.Context, handler, key string, redelivered bool) bool
	Complete(ctx context.Context, handler, key string)
	Release(ctx context.Context, handler, key string)
}

type EventHandler struct {
	router  *mq.Router
	deduper Deduper
	logger  *zap.Logger
}

func NewEventHandler(n EventNotifier, deduper Deduper, logger *zap.Logger) *EventHandler {
	router := mq.NewRouter(logger)
	for _, event := range contracts.KnownEvents {
		router.Register(event, func(ctx context.Context, data json.RawMessage) error {
			return n.HandleEvent(ctx, event, data)
		})
	}
	return &EventHandler{router: router, deduper: deduper, logger: logger}
}

// Events 队列需要绑定的 routing key
func (h *EventHandler) Events() []string {
	return h.router.Events()
}

// Handle is the consumer callback for one delivery.
func (h *EventHandler) Handle(ctx context.Context, d amqp.Delivery) error {
	traceID := d.MessageId
	if traceID == "" {
		traceID = trace.GenerateTraceID()
	}
	ctx = trace.WithContext(ctx, traceID)
	log := logger.WithTrace(ctx, h.logger)

	env, err := contracts.DecodeEnvelope(d.Body)
	if err != nil {
		metrics.IncrementEventConsumed("malformed", "dead_letter")
		return mq.Permanent(err)
	}
	log = log.With(zap.String("event", env.Event), zap.String("version", env.Version))

	if !contracts.IsKnown(env.Event) {
		log.Info("Ignoring unknown event")
		metrics.IncrementEventConsumed(env.Event, "ignored")
		return nil
	}

	key := util.MessageKey(d.Body)
	if h.deduper != nil && !h.deduper.AcquireOnce(ctx, handlerName, key, d.Redelivered) {
		metrics.IncrementEventConsumed(env.Event, "duplicate")
		return nil
	}

	err = h.router.Handle(ctx, env.Event, env.Data)
	if err == nil {
		if h.deduper != nil {
			h.deduper.Complete(context.WithoutCancel(ctx), handlerName, key)
		}
		metrics.IncrementEventConsumed(env.Event, "ok")
		return nil
	}

	// 失败的消息不留去重标记：重投或从 DLQ 重放时都要重新处理
	if h.deduper != nil {
		h.deduper.Release(context.WithoutCancel(ctx), handlerName, key)
	}

	if errors.Is(err, notifier.ErrInvalidPayload) {
		metrics.IncrementEventConsumed(env.Event, "invalid")
		return mq.Permanent(err)
	}

	// 关闭过程中被取消：交还 broker 重投
	if ctx.Err() == nil {
		if retryable, kind := util.IsRetryableError(err); !retryable {
			metrics.IncrementEventConsumed(env.Event, kind)
			return mq.Permanent(err)
		}
	}

	metrics.IncrementEventConsumed(env.Event, "retry")
	return fmt.Errorf("handle %s: %w", env.Event, err)
}
