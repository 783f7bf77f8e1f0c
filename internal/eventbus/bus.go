package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	contracts "socialnotify/contracts/mq"
	"socialnotify/pkg/logger"
	"socialnotify/pkg/metrics"
)

// Publisher 由 mq.Publisher 实现
type Publisher interface {
	PublishRaw(ctx context.Context, routingKey string, body []byte) error
}

// Bus 生产者侧入口。发布失败只记录，不影响触发它的业务请求。
type Bus struct {
	pub     Publisher
	timeout time.Duration
	logger  *zap.Logger
}

func New(pub Publisher, timeout time.Duration, logger *zap.Logger) *Bus {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Bus{pub: pub, timeout: timeout, logger: logger}
}

// Emit publishes env with its event name as routing key. Returns whether the broker accepted it.
func (b *Bus) Emit(ctx context.Context, env contracts.Envelope) bool {
	log := logger.WithTrace(ctx, b.logger).With(zap.String("event", env.Event))

	body, err := json.Marshal(env)
	if err != nil {
		log.Error("Failed to encode event", zap.Error(err))
		metrics.IncrementEventPublished(env.Event, "encode_error")
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := b.pub.PublishRaw(ctx, env.Event, body); err != nil {
		log.Error("Failed to publish event", zap.Error(err))
		metrics.IncrementEventPublished(env.Event, "error")
		return false
	}

	metrics.IncrementEventPublished(env.Event, "ok")
	log.Debug("Event published")
	return true
}

// EmitEvent wraps payload in a fresh envelope and emits it.
func (b *Bus) EmitEvent(ctx context.Context, event string, payload any) bool {
	env, err := contracts.NewEnvelope(event, payload)
	if err != nil {
		logger.WithTrace(ctx, b.logger).Error("Failed to build envelope", zap.String("event", event), zap.Error(err))
		metrics.IncrementEventPublished(event, "encode_error")
		return false
	}
	return b.Emit(ctx, env)
}
