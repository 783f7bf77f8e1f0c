package mq

// JobType 邮件任务类型
type JobType string

const (
	JobPostCreated  JobType = "POST_CREATED"
	JobUserFollowed JobType = "USER_FOLLOWED"
	JobCommentAdded JobType = "COMMENT_ADDED"
	JobLikeAdded    JobType = "LIKE_ADDED"
)

// NotificationJob 邮件通知任务。UserEmail 为空时不入队。
type NotificationJob struct {
	UserEmail string         `json:"userEmail"`
	JobType   JobType        `json:"jobType"`
	Payload   map[string]any `json:"payload"`
}
