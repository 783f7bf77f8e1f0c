package api

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	"socialnotify/internal/model"
	"socialnotify/internal/service/notification"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ParseListQuery validates GET /notifications parameters. Enum filters accept
// a single value, repeated parameters or a comma-separated list.
func ParseListQuery(q url.Values) (notification.ListQuery, *ValidationError) {
	out := notification.ListQuery{Page: notification.DefaultPage, Limit: notification.DefaultLimit}

	if raw := q.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return out, &ValidationError{Field: "page", Message: "must be an integer >= 1"}
		}
		out.Page = page
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > notification.MaxLimit {
			return out, &ValidationError{Field: "limit", Message: "must be an integer between 1 and " + strconv.Itoa(notification.MaxLimit)}
		}
		out.Limit = limit
	}
	// OFFSET = (page-1)*limit 必须留在 int32 内
	if maxPage := math.MaxInt32 / out.Limit; out.Page > maxPage {
		return out, &ValidationError{Field: "page", Message: "must be an integer between 1 and " + strconv.Itoa(maxPage)}
	}

	if raw := q.Get("isRead"); raw != "" {
		isRead, err := strconv.ParseBool(raw)
		if err != nil {
			return out, &ValidationError{Field: "isRead", Message: "must be true or false"}
		}
		out.Filter.IsRead = &isRead
	}

	for _, v := range splitValues(q["types"]) {
		t := model.NotificationType(strings.ToUpper(v))
		if !t.Valid() {
			return out, &ValidationError{Field: "types", Message: "unknown notification type " + v}
		}
		out.Filter.Types = append(out.Filter.Types, t)
	}
	for _, v := range splitValues(q["entityTypes"]) {
		e := model.EntityType(strings.ToUpper(v))
		if !e.Valid() {
			return out, &ValidationError{Field: "entityTypes", Message: "unknown entity type " + v}
		}
		out.Filter.EntityTypes = append(out.Filter.EntityTypes, e)
	}
	return out, nil
}

func splitValues(raw []string) []string {
	var out []string
	for _, r := range raw {
		for _, v := range strings.Split(r, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}
