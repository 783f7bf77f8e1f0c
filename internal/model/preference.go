package model

import "time"

// Preference 每个用户一行，按通知类型开关
type Preference struct {
	UserID    string    `json:"userId"`
	Follow    bool      `json:"follow"`
	Like      bool      `json:"like"`
	Comment   bool      `json:"comment"`
	Mention   bool      `json:"mention"`
	System    bool      `json:"system"`
	Post      bool      `json:"post"`
	Email     bool      `json:"email"`
	Push      bool      `json:"push"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DefaultPreference 站内通知全开，邮件和推送关闭
func DefaultPreference(userID string) Preference {
	return Preference{
		UserID:  userID,
		Follow:  true,
		Like:    true,
		Comment: true,
		Mention: true,
		System:  true,
		Post:    true,
	}
}

// Allows reports whether the in-app flag for t is on.
func (p Preference) Allows(t NotificationType) bool {
	switch t {
	case TypeFollow:
		return p.Follow
	case TypeLike:
		return p.Like
	case TypeComment:
		return p.Comment
	case TypeMention:
		return p.Mention
	case TypeSystem:
		return p.System
	case TypePost:
		return p.Post
	}
	return false
}
