package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Ozonelabrada/resqhub-sub000/internal/infra/config"
	"github.com/Ozonelabrada/resqhub-sub000/internal/transport/http/handlers"
	"github.com/Ozonelabrada/resqhub-sub000/internal/transport/http/middleware"
)

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	HTTPMetrics *middleware.HTTPMetrics
	Workflow    handlers.MatchWorkflow
	Tokens      middleware.TokenParser
	Database    DatabaseChecker
	Cache       CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(deps.Config.App.CORSOrigins))
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	if deps.HTTPMetrics != nil {
		r.Use(deps.HTTPMetrics.Handler())
	}

	healthOptions := make([]handlers.HealthOption, 0, 2)

	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}

	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}

	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if deps.Workflow == nil || deps.Tokens == nil {
		return r
	}

	api := r.Group("/api/v1")
	api.Use(middleware.RequireAuth(deps.Tokens))
	{
		matchHandler := handlers.NewMatchHandler(deps.Workflow)

		api.GET("/reports/:report_id/matches", matchHandler.ListReportMatches)

		matches := api.Group("/matches")
		matches.POST("", matchHandler.ProposeMatch)
		matches.GET("/:match_id", matchHandler.GetMatch)
		matches.GET("/:match_id/verification/question", matchHandler.NextQuestion)

		answerHandlers := append(buildAnswerMiddlewares(deps), matchHandler.SubmitAnswer)
		matches.POST("/:match_id/verification/answers", answerHandlers...)

		matches.PUT("/:match_id/handover/:flag", matchHandler.SetHandoverFlag)
		matches.POST("/:match_id/confirm", matchHandler.ConfirmMatch)
		matches.POST("/:match_id/reject", matchHandler.RejectMatch)
		matches.POST("/:match_id/dismiss", middleware.RequireRole(systemRole(deps)), matchHandler.DismissMatch)
	}

	return r
}

func systemRole(deps Dependencies) string {
	if deps.Config.Auth.SystemRole == "" {
		return "system"
	}
	return deps.Config.Auth.SystemRole
}

func buildAnswerMiddlewares(deps Dependencies) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil {
		return nil
	}

	limit := deps.Config.RateLimit.AnswerMaxAttempts
	if limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = 15 * time.Minute
	}

	rule := middleware.RateLimitRule{
		Name:       "match_answer",
		Limit:      limit,
		Window:     window,
		Identifier: middleware.MatchAnswerIdentifier("match_id"),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
