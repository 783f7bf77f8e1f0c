package notifier

import (
	"encoding/json"
	"errors"
	"fmt"

	contracts "socialnotify/contracts/mq"
	"socialnotify/internal/model"
)

// ErrInvalidPayload 事件数据无法解析或缺少必填字段，重投也不会成功
var ErrInvalidPayload = errors.New("invalid event payload")

// Intent 一条待落库的通知
type Intent struct {
	ReceiverID string
	SenderID   *string
	Type       model.NotificationType
	EntityType model.EntityType
	EntityID   string
	Content    string
	// JobPayload 邮件模板使用的数据
	JobPayload map[string]any
}

// IntentsFor extracts the notifications an event implies. Recognized events
// without in-app notifications (user_unfollowed, message_sent) yield none.
func IntentsFor(event string, data json.RawMessage, contentMax int) ([]Intent, error) {
	env := contracts.Envelope{Event: event, Data: data}

	switch event {
	case contracts.EventPostCreated:
		var p contracts.PostCreatedPayload
		if err := env.DecodeData(&p); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		if p.PostID == "" || p.UserID == "" {
			return nil, fmt.Errorf("%w: post_created requires postId and userId", ErrInvalidPayload)
		}
		return postCreatedIntents(p, contentMax), nil

	case contracts.EventUserFollowed:
		var p contracts.FollowPayload
		if err := env.DecodeData(&p); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		if p.FollowerID == "" || p.FollowedID == "" {
			return nil, fmt.Errorf("%w: user_followed requires followerId and followedId", ErrInvalidPayload)
		}
		return []Intent{followIntent(p, contentMax)}, nil

	case contracts.EventUserUnfollowed, contracts.EventMessageSent:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: unknown event %q", ErrInvalidPayload, event)
}

func postCreatedIntents(p contracts.PostCreatedPayload, contentMax int) []Intent {
	content := model.Truncate(p.Content, contentMax)
	jobPayload := map[string]any{
		"postId":     p.PostID,
		"authorId":   p.UserID,
		"authorName": p.AuthorName,
		"content":    content,
	}

	// 没有粉丝列表时通知作者本人（发布确认）
	if len(p.FollowerIDs) == 0 {
		return []Intent{{
			ReceiverID: p.UserID,
			Type:       model.TypePost,
			EntityType: model.EntityPost,
			EntityID:   p.PostID,
			Content:    content,
			JobPayload: jobPayload,
		}}
	}

	author := p.UserID
	intents := make([]Intent, 0, len(p.FollowerIDs))
	seen := make(map[string]struct{}, len(p.FollowerIDs))
	for _, follower := range p.FollowerIDs {
		if follower == "" || follower == p.UserID {
			continue
		}
		if _, dup := seen[follower]; dup {
			continue
		}
		seen[follower] = struct{}{}
		intents = append(intents, Intent{
			ReceiverID: follower,
			SenderID:   &author,
			Type:       model.TypePost,
			EntityType: model.EntityPost,
			EntityID:   p.PostID,
			Content:    content,
			JobPayload: jobPayload,
		})
	}
	return intents
}

func followIntent(p contracts.FollowPayload, contentMax int) Intent {
	name := p.FollowerName
	if name == "" {
		name = "Someone"
	}
	follower := p.FollowerID
	return Intent{
		ReceiverID: p.FollowedID,
		SenderID:   &follower,
		Type:       model.TypeFollow,
		EntityType: model.EntityUser,
		EntityID:   p.FollowerID,
		Content:    model.Truncate(name+" started following you", contentMax),
		JobPayload: map[string]any{
			"followerId":   p.FollowerID,
			"followerName": name,
		},
	}
}
