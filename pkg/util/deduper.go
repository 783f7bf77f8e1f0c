package util

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	stateProcessing = "processing"
	stateDone       = "done"
)

// Deduper 两阶段去重：处理中的标记只有短租约，处理成功后才写入长期的 done 标记
type Deduper struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	lease  time.Duration
	logger *zap.Logger
}

// NewDeduper ttl 是 done 标记的保留时间，lease 是处理中标记的租约
func NewDeduper(rdb redis.Cmdable, ttl, lease time.Duration, logger *zap.Logger) *Deduper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		lease:  lease,
		logger: logger,
	}
}

// AcquireOnce claims handler + key for processing.
// returns true if the message should be processed
// returns false if it was already processed, or is being processed by a live delivery
//
// A redelivered message whose claim is still "processing" belongs to a consumer
// that died before acking, so the claim is taken over.
func (d *Deduper) AcquireOnce(ctx context.Context, handler, key string, redelivered bool) bool {
	dedupKey := FormatDedupKey(handler, key)
	log := d.logger.With(zap.String("handler", handler), zap.String("dedup_key", dedupKey))

	ok, err := d.rdb.SetNX(ctx, dedupKey, stateProcessing, d.lease).Result()
	if err != nil {
		// Redis 挂了？为了安全：当 redis 不可用时，不阻止处理，返回 true
		log.Warn("Redis dedup check failed, allowing processing", zap.Error(err))
		return true
	}
	if ok {
		return true
	}

	state, err := d.rdb.Get(ctx, dedupKey).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// 租约刚好过期
		return d.takeOver(ctx, log, dedupKey)
	case err != nil:
		log.Warn("Redis dedup check failed, allowing processing", zap.Error(err))
		return true
	case state == stateProcessing && redelivered:
		log.Warn("Taking over claim left by an unacked delivery")
		return d.takeOver(ctx, log, dedupKey)
	}

	log.Info("Skipped duplicated event", zap.String("state", state))
	return false
}

func (d *Deduper) takeOver(ctx context.Context, log *zap.Logger, dedupKey string) bool {
	if err := d.rdb.Set(ctx, dedupKey, stateProcessing, d.lease).Err(); err != nil {
		log.Warn("Failed to refresh dedup claim", zap.Error(err))
	}
	return true
}

// Complete marks the message as processed for ttl.
func (d *Deduper) Complete(ctx context.Context, handler, key string) {
	dedupKey := FormatDedupKey(handler, key)
	if err := d.rdb.Set(ctx, dedupKey, stateDone, d.ttl).Err(); err != nil {
		d.logger.Warn("Failed to mark dedup key done",
			zap.String("dedup_key", dedupKey),
			zap.Error(err),
		)
	}
}

// Release drops the claim so a redelivery of a failed message is processed again.
func (d *Deduper) Release(ctx context.Context, handler, key string) {
	dedupKey := FormatDedupKey(handler, key)
	if err := d.rdb.Del(ctx, dedupKey).Err(); err != nil {
		d.logger.Warn("Failed to release dedup key",
			zap.String("dedup_key", dedupKey),
			zap.Error(err),
		)
	}
}

func FormatDedupKey(handler, key string) string {
	return "dedup:" + handler + ":" + key
}

// MessageKey fingerprints a message body. Broker redeliveries carry identical bytes.
func MessageKey(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
