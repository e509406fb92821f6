// Package httpapi wires the HTTP transport (Gin) to the haiku service,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, authentication and rate limiting.
//
// Middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. Logger (credentials redacted)
//  4. Recovery
//  5. Body size limit
//  6. Metrics
//  7. Security headers
//  8. gzip
//
// Per-route: the read routes run CORS; POST /haikus runs the rate limiter,
// then BasicAuth, and is never exposed cross-origin.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-haiku-backend/docs"
	"github.com/tbourn/go-haiku-backend/internal/config"
	"github.com/tbourn/go-haiku-backend/internal/domain"
	"github.com/tbourn/go-haiku-backend/internal/http/handlers"
	"github.com/tbourn/go-haiku-backend/internal/http/middleware"
	"github.com/tbourn/go-haiku-backend/internal/repo"
	"github.com/tbourn/go-haiku-backend/internal/services"
)

// maxBodyBytes caps request bodies; a haiku is a few hundred bytes.
const maxBodyBytes = 64 << 10

// haikuRepoShim adapts the repository free functions to the
// services.HaikuRepo interface expected by HaikuService.
type haikuRepoShim struct{}

func (haikuRepoShim) ListHaikusPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Haiku, error) {
	return repo.ListHaikusPage(ctx, db, offset, limit)
}

func (haikuRepoShim) GetHaiku(ctx context.Context, db *gorm.DB, id string) (*domain.Haiku, error) {
	return repo.GetHaiku(ctx, db, id)
}

func (haikuRepoShim) CreateHaiku(ctx context.Context, db *gorm.DB, h *domain.Haiku) error {
	return repo.CreateHaiku(ctx, db, h)
}

func (haikuRepoShim) HaikusStats(ctx context.Context, db *gorm.DB) (int64, *time.Time, error) {
	return repo.HaikusStats(ctx, db)
}

func (haikuRepoShim) IsNotFound(err error) bool  { return errors.Is(err, repo.ErrNotFound) }
func (haikuRepoShim) IsDuplicate(err error) bool { return errors.Is(err, repo.ErrDuplicate) }

// NewHandler builds the complete HTTP handler: a Gin engine with every route
// registered, wrapped so trailing slashes are stripped before routing.
func NewHandler(conns services.ConnProvider, cfg config.Config) (http.Handler, error) {
	r := gin.New()
	if err := RegisterRoutes(r, conns, cfg); err != nil {
		return nil, err
	}
	return StripTrailingSlash(r), nil
}

// RegisterRoutes attaches all middleware and endpoints to r. It fails with
// config.ErrMissingCredentials when the database URL or the write password
// is not configured.
func RegisterRoutes(r *gin.Engine, conns services.ConnProvider, cfg config.Config) error {
	if err := cfg.Credentials.Validate(); err != nil {
		return err
	}

	r.HandleMethodNotAllowed = true
	// Trailing slashes are stripped by StripTrailingSlash; never redirect.
	r.RedirectTrailingSlash = false

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(middleware.LogOptions{}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:    cfg.Security.EnableHSTS,
		HSTSMaxAge:    cfg.Security.HSTSMaxAge,
		NoStoreWrites: true,
		EnablePolicy:  true,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	svc := services.NewHaikuService(conns, cfg.Credentials.DatabaseURL, haikuRepoShim{})
	if cfg.Location != nil {
		svc.Location = cfg.Location
	}
	h := handlers.New(svc)

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP())

	api := groupWithPrefix(r, cfg.APIBasePath)
	reads := api.Group("", corsMiddleware(cfg.CORS.AllowedOrigins))
	{
		reads.GET("/haikus", h.ListHaikus)
		reads.GET("/haikus/:id", h.GetHaiku)
		reads.OPTIONS("/haikus", allowMethods("GET, POST, OPTIONS"))
		reads.OPTIONS("/haikus/:id", allowMethods("GET, OPTIONS"))
	}
	api.POST("/haikus", rl.Handler(), middleware.BasicAuth(cfg.Credentials.AuthPassword), h.CreateHaiku)
	return nil
}

// StripTrailingSlash removes trailing slashes from the request path before
// next sees it, so "/haikus/" routes exactly like "/haikus". The root path
// is left alone.
func StripTrailingSlash(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if p := req.URL.Path; len(p) > 1 && strings.HasSuffix(p, "/") {
			trimmed := strings.TrimRight(p, "/")
			if trimmed == "" {
				trimmed = "/"
			}
			u := *req.URL
			u.Path = trimmed
			if u.RawPath != "" {
				u.RawPath = strings.TrimRight(u.RawPath, "/")
				if u.RawPath == "" {
					u.RawPath = "/"
				}
			}
			r2 := req.Clone(req.Context())
			r2.URL = &u
			req = r2
		}
		next.ServeHTTP(w, req)
	})
}

// corsMiddleware allows any origin when none are configured, else only the
// listed ones, for reads only. Preflights asking for another method get no
// CORS headers.
func corsMiddleware(origins []string) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Accept", "If-None-Match", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID", "ETag", "Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
	}
	handle := cors.New(cc)
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			if m := c.GetHeader("Access-Control-Request-Method"); m != "" && m != http.MethodGet {
				c.Next()
				return
			}
		}
		handle(c)
	}
}

// allowMethods answers OPTIONS requests that are not CORS read preflights.
func allowMethods(allow string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Allow", allow)
		c.Status(http.StatusNoContent)
	}
}

// limitBody caps the request body at maxBytes; reading past it fails.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
