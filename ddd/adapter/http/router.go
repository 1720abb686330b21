package http

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"outreach-service/ddd/application/app"
	"outreach-service/pkg/config"
	"outreach-service/pkg/middleware"
)

// Router 路由配置
type Router struct {
	jobApp     app.JobApp
	accountApp app.AccountApp
	jwt        config.JWTConfig
	metrics    bool
	checks     map[string]HealthCheck
	details    map[string]HealthDetail
}

// HealthCheck checks one backing resource.
type HealthCheck func(ctx context.Context) error

// HealthDetail reports the state of one component for /health.
type HealthDetail func(ctx context.Context) (interface{}, error)

func NewRouter(jobApp app.JobApp, jwt config.JWTConfig) *Router {
	return &Router{jobApp: jobApp, jwt: jwt}
}

// WithHealthChecks makes /health report 503 when any named check fails.
func (r *Router) WithHealthChecks(checks map[string]HealthCheck) *Router {
	r.checks = checks
	return r
}

// WithHealthDetails adds each detail to the /health body. A failing detail degrades the status.
func (r *Router) WithHealthDetails(details map[string]HealthDetail) *Router {
	r.details = details
	return r
}

// WithAccountApp mounts the account, profile and stats routes.
func (r *Router) WithAccountApp(accountApp app.AccountApp) *Router {
	r.accountApp = accountApp
	return r
}

// WithMetrics exposes the prometheus registry on /metrics.
func (r *Router) WithMetrics(enabled bool) *Router {
	r.metrics = enabled
	return r
}

// SetupRoutes 设置路由
func (r *Router) SetupRoutes(engine *gin.Engine) {
	jobController := NewJobController(r.jobApp)

	v1 := engine.Group("/api/v1", middleware.JWTAuthMiddleware(r.jwt))
	{
		staging := v1.Group("/staging")
		{
			staging.POST("", jobController.CreateStaging)
			staging.POST("/:token/spreadsheet", jobController.UploadSpreadsheet)
			staging.POST("/:token/overlay", jobController.UploadOverlay)
		}

		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobController.SubmitJob)
			jobs.GET("/:job_id", jobController.GetJob)
		}

		v1.POST("/terminate", jobController.Terminate)
		v1.GET("/videos", jobController.ListVideos)

		if r.accountApp != nil {
			accountController := NewAccountController(r.accountApp)
			v1.GET("/accounts", accountController.ListAccounts)
			v1.POST("/accounts", accountController.ConnectAccount)
			v1.PUT("/profile/camera", accountController.UpdateCamera)
			v1.GET("/stats", accountController.Stats)
		}
	}

	engine.GET("/health", r.health)
	if r.metrics {
		engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
}

// SetupMiddleware 设置中间件
func (r *Router) SetupMiddleware(engine *gin.Engine) {
	engine.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})
	engine.Use(middleware.RequestContextMiddleware())
	engine.Use(gin.Recovery())
}

func (r *Router) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	failed := map[string]string{}
	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := r.checks[name](ctx); err != nil {
			failed[name] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	body := gin.H{
		"status":    "ok",
		"service":   "outreach-service",
		"timestamp": time.Now().Unix(),
	}
	for name, detail := range r.details {
		v, err := detail(ctx)
		if err != nil {
			failed[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		body[name] = v
	}
	if len(failed) > 0 {
		body["status"] = "degraded"
		body["failed"] = failed
	}
	c.JSON(status, body)
}
