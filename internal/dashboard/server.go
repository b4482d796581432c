// Package dashboard serves a read-only JSON API over units, their history and
// the XML export.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	DB              *gorm.DB
	Port            int
	RateLimitPerSec int
	Out             io.Writer
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("dashboard: db is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: NewRouter(opts.DB, opts.RateLimitPerSec),
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// NewRouter builds the Gin engine with every dashboard route. rps <= 0
// disables rate limiting.
func NewRouter(db *gorm.DB, rps int) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	// Stats are recomputed at most every few seconds.
	stats := cache.New(5*time.Second, time.Minute)

	router.GET("/healthz", handleHealth(db))

	api := router.Group("/api")
	if rps > 0 {
		api.Use(RateLimiter(rate.Limit(rps), rps))
	}
	registerRoutes(api, db, stats)
	return router
}
