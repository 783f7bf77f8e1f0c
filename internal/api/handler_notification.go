package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"socialnotify/internal/model"
	"socialnotify/internal/repository"
	"socialnotify/internal/service/notification"
	"socialnotify/pkg/logger"
	"socialnotify/pkg/rbac"
)

// NotificationService 由 notification.Service 实现
type NotificationService interface {
	List(ctx context.Context, receiverID string, q notification.ListQuery) (notification.Page, error)
	MarkRead(ctx context.Context, receiverID, id string, isRead bool) (model.Notification, error)
}

// PreferenceService 由 preference.Service 实现
type PreferenceService interface {
	Resolve(ctx context.Context, userID string) (model.Preference, error)
	EnsureDefaults(ctx context.Context, userID string) error
}

type NotificationHandler struct {
	notifications NotificationService
	preferences   PreferenceService
	logger        *zap.Logger
}

func NewNotificationHandler(notifications NotificationService, preferences PreferenceService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		notifications: notifications,
		preferences:   preferences,
		logger:        logger,
	}
}

// List handles GET /notifications
func (h *NotificationHandler) List(c *gin.Context) {
	q, verr := ParseListQuery(c.Request.URL.Query())
	if verr != nil {
		abortWithError(c, http.StatusBadRequest, verr.Error())
		return
	}

	userID, _ := identityFrom(c)
	page, err := h.notifications.List(c.Request.Context(), userID, q)
	if err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to list notifications",
			zap.String("user_id", userID), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "failed to list notifications")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    page.Data,
		"meta":    page.Meta,
	})
}

// MarkRead handles PUT /notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	var req struct {
		IsRead *bool `json:"isRead"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.IsRead == nil {
		abortWithError(c, http.StatusBadRequest, "isRead: must be a boolean")
		return
	}

	// 普通用户只能改自己的通知，别人的按不存在处理
	owner, role := identityFrom(c)
	if rbac.HasPermission(role, rbac.PermissionUpdateAnyNotification) {
		owner = ""
	}

	id := c.Param("id")
	n, err := h.notifications.MarkRead(c.Request.Context(), owner, id, *req.IsRead)
	if errors.Is(err, notification.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, "notification not found")
		return
	}
	if err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to update notification",
			zap.String("notification_id", id), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "failed to update notification")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": n})
}

// ProvisionPreferences handles POST /notifications/preferences
func (h *NotificationHandler) ProvisionPreferences(c *gin.Context) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		abortWithError(c, http.StatusBadRequest, "userId: required")
		return
	}

	tokenUserID, role := identityFrom(c)
	if err := rbac.ValidateUserIDInPayload(tokenUserID, role, req.UserID); err != nil {
		abortWithError(c, http.StatusForbidden, err.Error())
		return
	}

	err := h.preferences.EnsureDefaults(c.Request.Context(), req.UserID)
	if errors.Is(err, repository.ErrDanglingReference) {
		abortWithError(c, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to provision preferences",
			zap.String("user_id", req.UserID), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "failed to create preferences")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetPreferences handles GET /notifications/preferences
func (h *NotificationHandler) GetPreferences(c *gin.Context) {
	userID, _ := identityFrom(c)
	pref, err := h.preferences.Resolve(c.Request.Context(), userID)
	if errors.Is(err, repository.ErrDanglingReference) {
		abortWithError(c, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to load preferences",
			zap.String("user_id", userID), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "failed to load preferences")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": pref})
}

// Health handles GET /notifications/health
func (h *NotificationHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    "ok",
		"message": "Notification service is healthy",
	})
}
