package email

import (
	"fmt"
	"html"

	contracts "socialnotify/contracts/mq"
)

// Message 渲染后的邮件
type Message struct {
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}

const genericSubject = "You have a new notification"

// Render picks the template for jobType. Unknown types get a generic message.
func Render(jobType contracts.JobType, payload map[string]any) Message {
	switch jobType {
	case contracts.JobPostCreated:
		author := str(payload, "authorName", "Someone you follow")
		content := str(payload, "content", "")
		return build(
			author+" published a new post",
			fmt.Sprintf("%s published a new post:\n\n%s", author, content),
			fmt.Sprintf("<p><strong>%s</strong> published a new post:</p><blockquote>%s</blockquote>",
				html.EscapeString(author), html.EscapeString(content)),
		)

	case contracts.JobUserFollowed:
		follower := str(payload, "followerName", "Someone")
		return build(
			"You have a new follower",
			follower+" started following you.",
			fmt.Sprintf("<p><strong>%s</strong> started following you.</p>", html.EscapeString(follower)),
		)

	case contracts.JobCommentAdded:
		commenter := str(payload, "commenterName", "Someone")
		comment := str(payload, "content", "")
		return build(
			commenter+" commented on your post",
			fmt.Sprintf("%s commented on your post:\n\n%s", commenter, comment),
			fmt.Sprintf("<p><strong>%s</strong> commented on your post:</p><blockquote>%s</blockquote>",
				html.EscapeString(commenter), html.EscapeString(comment)),
		)

	case contracts.JobLikeAdded:
		liker := str(payload, "likerName", "Someone")
		return build(
			liker+" liked your post",
			liker+" liked your post.",
			fmt.Sprintf("<p><strong>%s</strong> liked your post.</p>", html.EscapeString(liker)),
		)
	}

	return build(genericSubject, genericSubject+".", "<p>"+genericSubject+".</p>")
}

func build(subject, text, body string) Message {
	return Message{
		Subject: subject,
		Text:    text,
		HTML:    "<!DOCTYPE html><html><body>" + body + "</body></html>",
	}
}

func str(payload map[string]any, key, fallback string) string {
	if v, ok := payload[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
