// Package httpapi assembles the proposal API on a Gin engine: middleware
// chain, operational endpoints (/health, /metrics, /swagger, /ws) and the
// versioned /proposals routes backed by ProposalService.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"github.com/tbourn/go-proposal-backend/docs"
	"github.com/tbourn/go-proposal-backend/internal/broker"
	"github.com/tbourn/go-proposal-backend/internal/config"
	"github.com/tbourn/go-proposal-backend/internal/domain"
	"github.com/tbourn/go-proposal-backend/internal/http/handlers"
	"github.com/tbourn/go-proposal-backend/internal/http/middleware"
	"github.com/tbourn/go-proposal-backend/internal/notify"
	"github.com/tbourn/go-proposal-backend/internal/repo"
	"github.com/tbourn/go-proposal-backend/internal/services"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"
)

// proposalRepoShim adapts the repository free functions to the
// services.ProposalRepo interface expected by the ProposalService.
type proposalRepoShim struct{}

// CreateProposal proxies repo.CreateProposal.
func (proposalRepoShim) CreateProposal(ctx context.Context, db *gorm.DB, user domain.User, value float64, term int) (*domain.Proposal, error) {
	return repo.CreateProposal(ctx, db, user, value, term)
}

// GetProposal proxies repo.GetProposal.
func (proposalRepoShim) GetProposal(ctx context.Context, db *gorm.DB, id uint64) (*domain.Proposal, error) {
	return repo.GetProposal(ctx, db, id)
}

// ListProposals proxies repo.ListProposals.
func (proposalRepoShim) ListProposals(ctx context.Context, db *gorm.DB, integrated *bool) ([]domain.Proposal, error) {
	return repo.ListProposals(ctx, db, integrated)
}

// CountProposals proxies repo.CountProposals (pagination support).
func (proposalRepoShim) CountProposals(ctx context.Context, db *gorm.DB, integrated *bool) (int64, error) {
	return repo.CountProposals(ctx, db, integrated)
}

// ListProposalsPage proxies repo.ListProposalsPage (pagination support).
func (proposalRepoShim) ListProposalsPage(ctx context.Context, db *gorm.DB, integrated *bool, offset, limit int) ([]domain.Proposal, error) {
	return repo.ListProposalsPage(ctx, db, integrated, offset, limit)
}

// UpdateIntegrationStatus proxies repo.UpdateIntegrationStatus.
func (proposalRepoShim) UpdateIntegrationStatus(ctx context.Context, db *gorm.DB, id uint64, integrated bool, cause error) error {
	return repo.UpdateIntegrationStatus(ctx, db, id, integrated, cause)
}

// NewProposalService builds the intake service used by the REST boundary.
func NewProposalService(db *gorm.DB, pub broker.Publisher, cfg config.Config) *services.ProposalService {
	svc := services.NewProposalService(db, proposalRepoShim{}, pub, cfg.Broker.PendingExchange)
	svc.HighIncomeThreshold = cfg.Pipeline.HighIncomeThreshold
	svc.IdempotencyTTL = cfg.IdempotencyTTL
	return svc
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, and then
// mounts the proposal API under cfg.APIBasePath (default /v1).
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per user/IP, bypass on replay)
//  9. CORS and Security headers
//  10. Gzip for API responses
//
// hub may be nil, in which case /ws is not mounted.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, pub broker.Publisher, hub *notify.Hub, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key",
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics("/metrics"))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, clientID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, clientID, key, now)
			if errors.Is(err, repo.ErrNotFound) {
				return false, nil
			}
			return rec != nil, err
		},
	))

	// 8) Token-bucket rate limiter per client, operational endpoints exempt
	rl := middleware.NewRateLimiter(middleware.RateLimitOptions{
		RPS:    cfg.RateRPS,
		Burst:  cfg.RateBurst,
		Exempt: []string{"/health", "/metrics", "/ws"},
	})
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Location", "ETag", "X-Total-Count", handlers.HeaderReplayed},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Location", "ETag", "X-Total-Count", handlers.HeaderReplayed},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers; proposal responses carry PII and are never cached
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:      cfg.Security.EnableHSTS,
		HSTSMaxAge:      cfg.Security.HSTSMaxAge,
		NoStorePrefixes: []string{apiPrefix(cfg.APIBasePath)},
		EnablePolicy:    true,
		Expose:          []string{"X-Request-ID"},
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// API docs
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Real-time notifications
	if hub != nil {
		r.GET("/ws", gin.WrapH(hub))
	}

	// Dependency injection: services ← repo/db/broker
	h := handlers.New(NewProposalService(db, pub, cfg))

	// Public API (gzip is scoped here so the WebSocket upgrade is untouched)
	apiBase := cfg.APIBasePath // e.g. "/v1"
	api := groupWithPrefix(r, apiBase)
	api.Use(gzip.Gzip(gzip.DefaultCompression))
	{
		api.POST("/proposals", h.CreateProposal)
		api.GET("/proposals", h.ListProposals)
		api.GET("/proposals/:id", h.GetProposal)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// apiPrefix normalizes the API base path, mapping "" to "/".
func apiPrefix(base string) string {
	if base == "" {
		return "/"
	}
	return base
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
