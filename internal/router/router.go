package router

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/booking-engine/internal/handler/appointment"
	"github.com/jwalitptl/booking-engine/internal/handler/audit"
	"github.com/jwalitptl/booking-engine/internal/handler/health"
	"github.com/jwalitptl/booking-engine/internal/handler/slot"
	"github.com/jwalitptl/booking-engine/internal/handler/template"
	"github.com/jwalitptl/booking-engine/internal/handler/timezone"
	"github.com/jwalitptl/booking-engine/internal/middleware"
	"github.com/jwalitptl/booking-engine/internal/service/authz"
	"github.com/jwalitptl/booking-engine/pkg/logger"
	"github.com/jwalitptl/booking-engine/pkg/metrics"
	"github.com/jwalitptl/booking-engine/pkg/ratelimit"
	"github.com/jwalitptl/booking-engine/pkg/validator"
)

type Handlers struct {
	Health      *health.Handler
	Template    *template.Handler
	Slot        *slot.Handler
	Appointment *appointment.Handler
	Timezone    *timezone.Handler
	Audit       *audit.Handler
}

type RouterConfig struct {
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	Mode           string
}

type Router struct {
	engine   *gin.Engine
	auth     *middleware.AuthMiddleware
	limiter  *ratelimit.KeyedLimiter
	metrics  *metrics.Metrics
	handlers Handlers
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	limiter *ratelimit.KeyedLimiter,
	m *metrics.Metrics,
	log *logger.Logger,
	handlers Handlers,
	config RouterConfig,
) *Router {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = middleware.DefaultRequestTimeout
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = middleware.DefaultMaxBodySize
	}
	validator.RegisterGinBinding()

	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(log),
		middleware.Logger(log),
		middleware.ErrorHandler(log),
		middleware.Metrics(m),
		middleware.Timeout(config.RequestTimeout),
		middleware.SizeLimit(config.MaxBodyBytes),
	)

	return &Router{
		engine:   engine,
		auth:     auth,
		limiter:  limiter,
		metrics:  m,
		handlers: handlers,
	}
}

func (r *Router) Setup() {
	r.handlers.Health.RegisterRoutes(r.engine)

	api := r.engine.Group("/api/v1")
	r.handlers.Timezone.RegisterRoutes(api)

	protected := api.Group("")
	protected.Use(
		r.auth.Authenticate(),
		middleware.RateLimit(r.limiter, r.metrics),
	)
	r.setupProtectedRoutes(protected)
}

func (r *Router) setupProtectedRoutes(rg *gin.RouterGroup) {
	can := r.auth.RequirePermission

	r.handlers.Template.RegisterRoutes(rg, can(authz.ActionTemplatesWrite))
	r.handlers.Slot.RegisterRoutes(rg, slot.Guards{
		Generate: can(authz.ActionSlotsGenerate),
		Write:    can(authz.ActionSlotsWrite),
		Stats:    can(authz.ActionStatsRead),
	})
	r.handlers.Appointment.RegisterRoutes(rg, appointment.Guards{
		Create: can(authz.ActionBookingsCreate),
		Update: can(authz.ActionBookingsUpdate),
		Cancel: can(authz.ActionBookingsCancel),
	})
	r.handlers.Audit.RegisterRoutes(rg, can(authz.ActionAuditRead))
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
