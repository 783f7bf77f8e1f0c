package notifier

import (
	"fmt"
	"strings"

	contracts "socialnotify/contracts/mq"
	"socialnotify/internal/model"
)

// EmailMode 某类通知是否发邮件
type EmailMode string

const (
	// EmailByPreference 跟随用户的 email 开关
	EmailByPreference EmailMode = "preference"
	EmailAlways       EmailMode = "always"
	EmailNever        EmailMode = "never"
)

// EmailPolicy 按通知类型配置；未配置的类型按 EmailByPreference 处理
type EmailPolicy map[model.NotificationType]EmailMode

func DefaultEmailPolicy() EmailPolicy {
	return EmailPolicy{}
}

// ParseEmailPolicy builds a policy from config, e.g. {"FOLLOW": "never"}.
func ParseEmailPolicy(raw map[string]string) (EmailPolicy, error) {
	p := DefaultEmailPolicy()
	for k, v := range raw {
		t := model.NotificationType(strings.ToUpper(k))
		if !t.Valid() {
			return nil, fmt.Errorf("email policy: unknown notification type %q", k)
		}
		mode := EmailMode(strings.ToLower(v))
		switch mode {
		case EmailByPreference, EmailAlways, EmailNever:
			p[t] = mode
		default:
			return nil, fmt.Errorf("email policy: unknown mode %q for %s", v, t)
		}
	}
	return p, nil
}

func (p EmailPolicy) Allows(t model.NotificationType, pref model.Preference) bool {
	switch p[t] {
	case EmailAlways:
		return true
	case EmailNever:
		return false
	}
	return pref.Email
}

var jobTypes = map[model.NotificationType]contracts.JobType{
	model.TypePost:    contracts.JobPostCreated,
	model.TypeFollow:  contracts.JobUserFollowed,
	model.TypeComment: contracts.JobCommentAdded,
	model.TypeLike:    contracts.JobLikeAdded,
}

// JobTypeFor 没有邮件模板的类型返回 false
func JobTypeFor(t model.NotificationType) (contracts.JobType, bool) {
	jt, ok := jobTypes[t]
	return jt, ok
}
