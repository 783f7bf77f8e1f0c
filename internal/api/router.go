package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"socialnotify/pkg/otel"
	"socialnotify/pkg/rbac"
)

// ReadinessCheck 返回 nil 表示依赖可用
type ReadinessCheck func(ctx context.Context) error

type RouterConfig struct {
	JWTSecret           string
	TrustGatewayHeaders bool
	AllowOrigins        []string
	// 按名字展示在 /readyz 的结果里
	ReadinessChecks map[string]ReadinessCheck
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	notificationHandler *NotificationHandler,
	jobHandler *JobHandler,
	cfg RouterConfig,
	logger *zap.Logger,
) *Router {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otel.GinMiddleware())
	r.Use(TraceMiddleware())
	r.Use(RequestLogger(logger))
	r.Use(MetricsMiddleware())
	r.Use(SecureHeaders())
	r.Use(corsMiddleware(cfg.AllowOrigins))

	// Public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", readinessHandler(cfg.ReadinessChecks))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/notifications/health", notificationHandler.Health)

	// Protected
	auth := r.Group("/notifications")
	auth.Use(Identity(cfg.JWTSecret, cfg.TrustGatewayHeaders))
	{
		auth.GET("", RequirePermission(rbac.PermissionReadNotification), notificationHandler.List)
		auth.PUT("/:id/read", RequirePermission(rbac.PermissionUpdateNotification), notificationHandler.MarkRead)
		auth.GET("/preferences", RequirePermission(rbac.PermissionReadNotification), notificationHandler.GetPreferences)
		auth.POST("/preferences", RequirePermission(rbac.PermissionWritePreference), notificationHandler.ProvisionPreferences)

		jobs := auth.Group("/jobs")
		jobs.Use(RequirePermission(rbac.PermissionManageJobs))
		{
			jobs.GET("/dead", jobHandler.ListDead)
			jobs.POST("/replay", jobHandler.ReplayAll)
			jobs.POST("/:id/replay", jobHandler.Replay)
		}
	}

	return &Router{Engine: r}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		return cors.Default()
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", HeaderUserID, HeaderUserRole},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func readinessHandler(checks map[string]ReadinessCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		c.JSON(status, gin.H{"success": status == http.StatusOK, "checks": results})
	}
}
