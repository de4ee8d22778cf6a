// Package router assembles the ledger's HTTP API.
package router

import (
	"net/http"

	"github.com/erp/stockledger/docs"
	"github.com/erp/stockledger/internal/infrastructure/auth"
	"github.com/erp/stockledger/internal/infrastructure/config"
	"github.com/erp/stockledger/internal/infrastructure/logger"
	"github.com/erp/stockledger/internal/interfaces/http/dto"
	"github.com/erp/stockledger/internal/interfaces/http/handler"
	"github.com/erp/stockledger/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Handlers are the endpoints of the API. Outbox may be nil.
type Handlers struct {
	System      *handler.SystemHandler
	Products    *handler.ProductHandler
	Documents   *handler.DocumentHandler
	Valuation   *handler.ValuationHandler
	Reports     *handler.ReportHandler
	Maintenance *handler.MaintenanceHandler
	Outbox      *handler.OutboxHandler
}

// Options configure the engine's middleware
type Options struct {
	HTTP           config.HTTPConfig
	ServiceName    string
	TracingEnabled bool
	// Meter records HTTP metrics; nil disables them
	Meter metric.Meter
	// Tokens guards mutating routes; nil or secret-less leaves them open
	Tokens *auth.TokenService
	// Limiter throttles clients; nil disables throttling
	Limiter *middleware.RateLimiter
	// Production turns on HTTPS redirects and HSTS
	Production bool
	Logger     *zap.Logger
}

// New builds the gin engine with every route under /api/v1. Reads are open;
// writes need the ledger:write scope and rebuilds or outbox retries ledger:admin.
func New(opts Options, h Handlers) *gin.Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	middleware.SetupValidator()

	engine := gin.New()
	if len(opts.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(opts.HTTP.TrustedProxies); err != nil {
			log.Warn("Ignoring invalid trusted proxies", zap.Error(err))
		}
	}
	engine.Use(
		logger.Recovery(log),
		middleware.RequestID(),
		logger.GinMiddleware(log),
		middleware.Tracing(opts.ServiceName, opts.TracingEnabled),
		middleware.SpanErrorMarker(),
		middleware.HTTPMetrics(opts.Meter, log),
		middleware.CORS(opts.HTTP),
		middleware.SecureHeaders(opts.Production),
		middleware.BodyLimit(opts.HTTP.MaxBodySize),
		middleware.Timeout(opts.HTTP.RequestTimeout),
	)
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, dto.NewErrorResponse(dto.ErrCodeNotFound, "Route not found"))
	})

	engine.GET("/health", h.System.Health)
	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// the limiter runs after authentication so tokens are throttled per subject
	limit := middleware.RateLimit(opts.Limiter)
	write := middleware.RequireScope(opts.Tokens, auth.ScopeWrite, log)
	admin := middleware.RequireScope(opts.Tokens, auth.ScopeAdmin, log)

	var routerOpts []RouterOption
	if opts.HTTP.APIVersion != "" {
		routerOpts = append(routerOpts, WithAPIVersion(opts.HTTP.APIVersion))
		docs.SwaggerInfo.BasePath = "/api/" + opts.HTTP.APIVersion
	}
	r := NewRouter(engine, routerOpts...)
	for _, g := range []*DomainGroup{
		readRoutes(h).Use(limit),
		writeRoutes(h).Use(write, limit),
		adminRoutes(h).Use(admin, limit),
	} {
		log.Debug("Registering route group", zap.String("group", g.Name()), zap.Strings("routes", g.Routes()))
		r.Register(g)
	}
	r.Setup()
	return engine
}

func readRoutes(h Handlers) *DomainGroup {
	g := NewDomainGroup("read", "")
	g.GET("/system/info", h.System.Info)

	g.GET("/products", h.Products.List).
		GET("/products/:id", h.Products.GetByID).
		GET("/products/:id/quantity", h.Valuation.ProductQuantity).
		GET("/products/:id/stock-value", h.Valuation.StockValue).
		GET("/products/:id/batches", h.Valuation.Batches).
		GET("/products/:id/cogs", h.Valuation.CostOfGoodsSold).
		GET("/products/:id/flow", h.Valuation.Flow).
		GET("/products/:id/summary", h.Valuation.Summary).
		GET("/batches/:id/remaining", h.Valuation.BatchRemaining)

	g.GET("/documents/:kind/:id", h.Documents.GetByRef)

	g.GET("/cash", h.Reports.Cash).
		GET("/reports/period", h.Reports.Period).
		GET("/reports/period/archive", h.Reports.ArchivedPeriod)

	g.GET("/maintenance/orphans", h.Maintenance.Orphans).
		GET("/maintenance/products/:id/check", h.Maintenance.CheckProduct).
		GET("/maintenance/consistency", h.Maintenance.Consistency)

	if h.Outbox != nil {
		g.GET("/maintenance/outbox/stats", h.Outbox.Stats).
			GET("/maintenance/outbox/dead", h.Outbox.DeadLetters).
			GET("/maintenance/outbox/:id", h.Outbox.Entry)
	}
	return g
}

func writeRoutes(h Handlers) *DomainGroup {
	g := NewDomainGroup("write", "")
	g.POST("/products", h.Products.Create).
		PUT("/products/:id", h.Products.Update)

	g.POST("/documents", h.Documents.Record).
		POST("/documents/import", h.Documents.Import).
		DELETE("/documents/:kind/:id", h.Documents.Delete)

	g.POST("/reports/period/archive", h.Reports.ArchivePeriod)
	return g
}

func adminRoutes(h Handlers) *DomainGroup {
	g := NewDomainGroup("admin", "/maintenance")
	g.POST("/rebuild", h.Maintenance.Rebuild)
	if h.Outbox != nil {
		g.POST("/outbox/dead/retry-all", h.Outbox.RetryAllDead).
			POST("/outbox/:id/retry", h.Outbox.RetryDead)
	}
	return g
}
