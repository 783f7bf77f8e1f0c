package model

import (
	"time"
	"unicode/utf8"
)

type NotificationType string

const (
	TypeFollow  NotificationType = "FOLLOW"
	TypeLike    NotificationType = "LIKE"
	TypeComment NotificationType = "COMMENT"
	TypeMention NotificationType = "MENTION"
	TypeSystem  NotificationType = "SYSTEM"
	TypePost    NotificationType = "POST"
)

var NotificationTypes = []NotificationType{TypeFollow, TypeLike, TypeComment, TypeMention, TypeSystem, TypePost}

func (t NotificationType) Valid() bool {
	for _, v := range NotificationTypes {
		if v == t {
			return true
		}
	}
	return false
}

type EntityType string

const (
	EntityPost    EntityType = "POST"
	EntityComment EntityType = "COMMENT"
	EntityUser    EntityType = "USER"
	EntitySystem  EntityType = "SYSTEM"
)

var EntityTypes = []EntityType{EntityPost, EntityComment, EntityUser, EntitySystem}

func (e EntityType) Valid() bool {
	for _, v := range EntityTypes {
		if v == e {
			return true
		}
	}
	return false
}

type Notification struct {
	ID         string           `json:"id"`
	ReceiverID string           `json:"receiverId"`
	SenderID   *string          `json:"senderId"`
	Type       NotificationType `json:"type"`
	EntityType EntityType       `json:"entityType"`
	EntityID   string           `json:"entityId"`
	Content    string           `json:"content"`
	IsRead     bool             `json:"isRead"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// DefaultContentMaxLength 通知正文最多保留的字符数
const DefaultContentMaxLength = 50

// Truncate 超过 max 个字符时截断并追加 "..."
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}
