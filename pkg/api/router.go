// Package api wires the http routes of the service.
package api

import (
	"context"

	"github.com/LambdaTest/flakewatch/config"
	"github.com/LambdaTest/flakewatch/pkg/api/health"
	"github.com/LambdaTest/flakewatch/pkg/api/job"
	"github.com/LambdaTest/flakewatch/pkg/constants"
	"github.com/LambdaTest/flakewatch/pkg/core"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Router represents the routes for the http server.
type Router struct {
	cfg        *config.Config
	signalCtx  context.Context
	jobService core.JobService
	checks     map[string]health.Check
	logger     lumber.Logger
}

// NewRouter returns instance of Router
func NewRouter(cfg *config.Config,
	signalCtx context.Context,
	jobService core.JobService,
	checks map[string]health.Check,
	logger lumber.Logger) Router {
	return Router{
		cfg:        cfg,
		signalCtx:  signalCtx,
		jobService: jobService,
		checks:     checks,
		logger:     logger,
	}
}

// Handler function will perform all route operations
func (r *Router) Handler() *gin.Engine {
	r.logger.Infof("Setting up routes")
	router := gin.New()
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		r.logger.Fatalf("unexpected validator engine %T", binding.Validator.Engine())
	}
	trans, err := configureValidator(v)
	if err != nil {
		r.logger.Fatalf("failed to configure validator %v", err)
	}
	// skip probes from logs
	router.Use(gin.LoggerWithWriter(gin.DefaultWriter, "/health", "/ready"))
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(constants.ServiceName))
	if r.cfg.Env != constants.Prod {
		pprof.Register(router)
	}

	router.GET("/health", health.Handler(r.signalCtx))
	router.GET("/ready", health.ReadyHandler(r.signalCtx, r.checks, r.logger))

	jobRoutes := router.Group("/internal/v1/jobs")
	{
		jobRoutes.POST("", job.HandleSubmit(r.jobService, trans, r.logger))
		jobRoutes.GET("/:org/:id", job.HandleStatus(r.jobService, r.logger))
		jobRoutes.DELETE("/:org/:id", job.HandleCancel(r.jobService, r.logger))
	}
	return router
}
