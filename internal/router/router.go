package router

import (
	"github.com/gin-gonic/gin"

	"github.com/careslot/scheduling-api/internal/handler/appointment"
	"github.com/careslot/scheduling-api/internal/handler/health"
	promhandler "github.com/careslot/scheduling-api/internal/handler/prometheus"
	"github.com/careslot/scheduling-api/internal/handler/session"
	"github.com/careslot/scheduling-api/internal/middleware"
)

type Router struct {
	engine         *gin.Engine
	auth           *middleware.AuthMiddleware
	appointmentH   *appointment.Handler
	sessionH       *session.Handler
	healthH        *health.Handler
	promH          *promhandler.Handler
	requestTimeout middleware.TimeoutConfig
}

type Config struct {
	RequestTimeout   middleware.TimeoutConfig
	CORS             middleware.CORSConfig
	RateLimitEnabled bool
	RateLimit        middleware.RateLimiterConfig
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	appointmentH *appointment.Handler,
	sessionH *session.Handler,
	healthH *health.Handler,
	promH *promhandler.Handler,
	config Config,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	r := &Router{
		engine:         engine,
		auth:           auth,
		appointmentH:   appointmentH,
		sessionH:       sessionH,
		healthH:        healthH,
		promH:          promH,
		requestTimeout: config.RequestTimeout,
	}

	engine.Use(
		gin.Recovery(),
		middleware.Logger(),
		middleware.ErrorHandler(),
		promH.Middleware(),
		middleware.RequestID(),
		middleware.CORS(config.CORS),
	)

	if config.RateLimitEnabled {
		rateLimiter := middleware.NewRateLimiter(config.RateLimit)
		engine.Use(rateLimiter.RateLimit())
	}

	return r
}

// Setup mounts the API surface. The request timeout wraps the REST routes
// only: websocket upgrades must outlive any per-request deadline.
func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")

	r.healthH.RegisterRoutes(api)
	api.GET("/metrics", r.promH.Handler())

	// Public routes
	public := api.Group("")
	public.Use(middleware.Timeout(r.requestTimeout))
	r.appointmentH.RegisterPublicRoutes(public)

	// Protected REST routes
	protected := api.Group("")
	protected.Use(
		middleware.Timeout(r.requestTimeout),
		r.auth.Authenticate(),
	)
	r.appointmentH.RegisterRoutes(protected)

	// The consultation channel authenticates but skips the timeout.
	ws := api.Group("")
	ws.Use(r.auth.Authenticate())
	r.sessionH.RegisterRoutes(ws)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
