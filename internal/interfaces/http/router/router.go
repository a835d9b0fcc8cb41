package router

import (
	"github.com/gin-gonic/gin"
	appbilling "github.com/rentbill/backend/internal/application/billing"
	"github.com/rentbill/backend/internal/infrastructure/auth"
	"github.com/rentbill/backend/internal/infrastructure/logger"
	"github.com/rentbill/backend/internal/interfaces/http/handler"
	"github.com/rentbill/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a RouteRegistrar to be registered later
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup registers all routes with the engine
func (r *Router) Setup() {
	api := r.engine.Group("/api/" + r.apiVersion)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// DomainGroup creates a route group for a specific domain
type DomainGroup struct {
	prefix     string
	routes     []routeDefinition
	middleware []gin.HandlerFunc
}

type routeDefinition struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// NewDomainGroup creates a new domain-specific route group
func NewDomainGroup(prefix string) *DomainGroup {
	return &DomainGroup{prefix: prefix}
}

// Use adds middleware to this group
func (dg *DomainGroup) Use(middleware ...gin.HandlerFunc) *DomainGroup {
	dg.middleware = append(dg.middleware, middleware...)
	return dg
}

// GET registers a GET route
func (dg *DomainGroup) GET(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{method: "GET", path: path, handlers: handlers})
	return dg
}

// POST registers a POST route
func (dg *DomainGroup) POST(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{method: "POST", path: path, handlers: handlers})
	return dg
}

// RegisterRoutes implements RouteRegistrar interface
func (dg *DomainGroup) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group(dg.prefix)
	if len(dg.middleware) > 0 {
		group.Use(dg.middleware...)
	}
	for _, route := range dg.routes {
		group.Handle(route.method, route.path, route.handlers...)
	}
}

// Config holds everything the billing API needs
type Config struct {
	Logger      *zap.Logger
	JWTService  *auth.JWTService
	Billing     *handler.BillingHandler
	Webhooks    *handler.PaymentWebhookHandler
	Health      *handler.HealthHandler
	MaxBodySize int64
	Tracing     middleware.TracingConfig
	Mode        string
}

// New builds the gin engine with middleware and every billing route
func New(cfg Config) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		logger.GinMiddleware(log),
		logger.Recovery(log),
		middleware.Tracing(cfg.Tracing),
		middleware.TraceID(),
		middleware.BodyLimit(cfg.MaxBodySize),
	)

	engine.GET("/health", cfg.Health.Health)

	authenticated := []gin.HandlerFunc{
		middleware.JWTAuthMiddlewareWithConfig(middleware.JWTMiddlewareConfig{
			JWTService: cfg.JWTService,
			Logger:     log,
		}),
		middleware.SpanAttributes(),
	}
	managers := middleware.RequireRoles(appbilling.RoleAdmin, appbilling.RoleLandlord)

	b := cfg.Billing
	billingGroup := NewDomainGroup("/billing").
		Use(authenticated...).
		POST("/invoices/generate", managers, b.GenerateInvoices).
		GET("/invoices", b.ListInvoices).
		GET("/invoices/:id", b.GetInvoice).
		POST("/invoices/:id/recalculate", managers, b.RecalculateInvoice).
		POST("/invoices/:id/issue", managers, b.IssueInvoice).
		POST("/invoices/:id/void", managers, b.VoidInvoice).
		POST("/payments", managers, b.RecordPayment).
		GET("/payments/:id", b.GetPayment).
		POST("/payments/:id/status", managers, b.UpdatePaymentStatus).
		GET("/due-dates", b.ResolveDueDate)

	webhookGroup := NewDomainGroup("/webhooks").
		POST("/payments/stripe", cfg.Webhooks.HandleStripeWebhook)

	NewRouter(engine).
		Register(billingGroup).
		Register(webhookGroup).
		Setup()

	return engine
}
