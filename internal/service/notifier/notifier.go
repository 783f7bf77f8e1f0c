package notifier

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	contracts "socialnotify/contracts/mq"
	"socialnotify/internal/model"
	"socialnotify/internal/repository"
	"socialnotify/pkg/logger"
	"socialnotify/pkg/metrics"
)

type PreferenceResolver interface {
	Resolve(ctx context.Context, userID string) (model.Preference, error)
}

type NotificationStore interface {
	Create(ctx context.Context, n *model.Notification) error
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, job contracts.NotificationJob) error
}

type UserDirectory interface {
	EmailOf(ctx context.Context, userID string) (string, error)
}

// Outcome Notify 的结果
type Outcome string

const (
	OutcomePersisted       Outcome = "persisted"
	OutcomeSkippedByPref   Outcome = "skipped_preference"
	OutcomeSkippedDangling Outcome = "skipped_dangling_reference"
)

type Config struct {
	ContentMaxLength int
	EmailPolicy      EmailPolicy
}

type Notifier struct {
	prefs  PreferenceResolver
	store  NotificationStore
	jobs   JobEnqueuer
	users  UserDirectory
	cfg    Config
	logger *zap.Logger
}

func New(prefs PreferenceResolver, store NotificationStore, jobs JobEnqueuer, users UserDirectory, cfg Config, logger *zap.Logger) *Notifier {
	if cfg.ContentMaxLength <= 0 {
		cfg.ContentMaxLength = model.DefaultContentMaxLength
	}
	if cfg.EmailPolicy == nil {
		cfg.EmailPolicy = DefaultEmailPolicy()
	}
	return &Notifier{
		prefs:  prefs,
		store:  store,
		jobs:   jobs,
		users:  users,
		cfg:    cfg,
		logger: logger,
	}
}

// HandleEvent materializes every intent of one event. The first retryable error
// stops processing and is returned so the message is redelivered.
func (n *Notifier) HandleEvent(ctx context.Context, event string, data json.RawMessage) error {
	intents, err := IntentsFor(event, data, n.cfg.ContentMaxLength)
	if err != nil {
		return err
	}
	if len(intents) == 0 {
		logger.WithTrace(ctx, n.logger).Debug("Event produces no notifications", zap.String("event", event))
		return nil
	}

	for _, in := range intents {
		if _, err := n.Notify(ctx, in); err != nil {
			return err
		}
	}
	return nil
}

// Notify runs one intent through preference gating, persistence and email gating.
func (n *Notifier) Notify(ctx context.Context, in Intent) (Outcome, error) {
	log := logger.WithTrace(ctx, n.logger).With(
		zap.String("receiver_id", in.ReceiverID),
		zap.String("type", string(in.Type)),
		zap.String("entity_id", in.EntityID),
	)

	pref, err := n.prefs.Resolve(ctx, in.ReceiverID)
	if errors.Is(err, repository.ErrDanglingReference) {
		log.Warn("Receiver does not exist, skipping notification")
		metrics.IncrementNotificationSkipped(string(in.Type), "dangling_reference")
		return OutcomeSkippedDangling, nil
	}
	if err != nil {
		return "", err
	}

	if !pref.Allows(in.Type) {
		log.Debug("Notification disabled by preference")
		metrics.IncrementNotificationSkipped(string(in.Type), "preference")
		return OutcomeSkippedByPref, nil
	}

	row := &model.Notification{
		ReceiverID: in.ReceiverID,
		SenderID:   in.SenderID,
		Type:       in.Type,
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		Content:    in.Content,
	}
	if err := n.store.Create(ctx, row); err != nil {
		if errors.Is(err, repository.ErrDanglingReference) {
			log.Warn("Notification references a missing user, skipping", zap.Error(err))
			metrics.IncrementNotificationSkipped(string(in.Type), "dangling_reference")
			return OutcomeSkippedDangling, nil
		}
		return "", err
	}
	metrics.IncrementNotificationCreated(string(in.Type))
	log.Info("Notification created", zap.String("notification_id", row.ID))

	n.maybeEnqueueEmail(ctx, log, in, pref)
	return OutcomePersisted, nil
}

// maybeEnqueueEmail 失败只记日志：通知已经落库，不能因为邮件让事件重投
func (n *Notifier) maybeEnqueueEmail(ctx context.Context, log *zap.Logger, in Intent, pref model.Preference) {
	jobType, ok := JobTypeFor(in.Type)
	if !ok || !n.cfg.EmailPolicy.Allows(in.Type, pref) {
		return
	}

	email, err := n.users.EmailOf(ctx, in.ReceiverID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		log.Error("Failed to look up receiver email", zap.Error(err))
		return
	}

	job := contracts.NotificationJob{
		UserEmail: email,
		JobType:   jobType,
		Payload:   in.JobPayload,
	}
	if err := n.jobs.Enqueue(ctx, job); err != nil {
		log.Error("Failed to enqueue email job", zap.String("job_type", string(jobType)), zap.Error(err))
	}
}
