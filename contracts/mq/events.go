package mq

import (
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion 信封格式版本，生产者和消费者共享
const SchemaVersion = "1.0.0"

// 事件名即 routing key
const (
	EventPostCreated    = "post_created"
	EventUserFollowed   = "user_followed"
	EventUserUnfollowed = "user_unfollowed"
	EventMessageSent    = "message_sent"
)

// KnownEvents 消费者绑定的全部 routing key
var KnownEvents = []string{
	EventPostCreated,
	EventUserFollowed,
	EventUserUnfollowed,
	EventMessageSent,
}

// IsKnown reports whether name is one of the events this system understands.
func IsKnown(name string) bool {
	for _, e := range KnownEvents {
		if e == name {
			return true
		}
	}
	return false
}

// Envelope 所有事件在总线上的统一外壳
type Envelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Version   string          `json:"version"`
}

// NewEnvelope marshals payload and stamps timestamp and version once.
func NewEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Envelope{
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
		Version:   SchemaVersion,
	}, nil
}

// DecodeEnvelope parses a message body. Unknown event names decode fine; callers check IsKnown.
func DecodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing event name")
	}
	return env, nil
}

// DecodeData unmarshals the envelope payload into out.
func (e Envelope) DecodeData(out any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return fmt.Errorf("%s: empty data", e.Event)
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("%s: decode data: %w", e.Event, err)
	}
	return nil
}

// PostCreatedPayload 由帖子服务发布
type PostCreatedPayload struct {
	PostID      string    `json:"postId"`
	UserID      string    `json:"userId"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
	AuthorName  string    `json:"authorName,omitempty"`
	FollowerIDs []string  `json:"followerIds,omitempty"`
}

// FollowPayload 用于 user_followed 和 user_unfollowed
type FollowPayload struct {
	FollowerID   string `json:"followerId"`
	FollowedID   string `json:"followedId"`
	FollowerName string `json:"followerName,omitempty"`
}

// MessageSentPayload 由聊天服务发布
type MessageSentPayload struct {
	MessageID  string    `json:"messageId"`
	ChatID     string    `json:"chatId"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}
