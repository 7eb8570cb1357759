// Package web serves the read-only status surface.
package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"discord-guild-bot/internal/config"
	"discord-guild-bot/internal/model"
	"discord-guild-bot/internal/repository"
)

// StatusReader returns the last persisted snapshot.
type StatusReader interface {
	Get(ctx context.Context) (*model.StatsSnapshot, error)
}

// HealthChecker pings the datastore.
type HealthChecker interface {
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

// CountFunc counts persisted entities.
type CountFunc func(ctx context.Context) (int, error)

// Sources are the read-only dependencies of the router.
type Sources struct {
	Status StatusReader
	Health HealthChecker
	// Guilds counts stored guilds, Users distinct tracked members.
	Guilds CountFunc
	Users  CountFunc
}

type poolStatser interface {
	Stats() *pgxpool.Stat
}

// RouterOptions configures the routes.
type RouterOptions struct {
	// ReadTimeout bounds a single datastore read.
	ReadTimeout time.Duration
	// StatusToken, when non-empty, is required as a bearer token on /status.
	StatusToken string
	Version     string
}

// NewRouter builds the gin engine.
func NewRouter(src Sources, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Guild bot %s is running.", opts.Version)
	})

	r.GET("/healthz", func(c *gin.Context) {
		if err := src.Health.HealthCheck(c.Request.Context(), opts.ReadTimeout); err != nil {
			log.Warn().Err(err).Msg("Health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		body := gin.H{"status": "ok"}
		if ps, ok := src.Health.(poolStatser); ok {
			st := ps.Stats()
			body["pool"] = gin.H{
				"total_conns":    st.TotalConns(),
				"idle_conns":     st.IdleConns(),
				"acquired_conns": st.AcquiredConns(),
			}
		}
		c.JSON(http.StatusOK, body)
	})

	r.GET("/status", bearerAuth(opts.StatusToken), func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), opts.ReadTimeout)
		defer cancel()

		snap, err := src.Status.Get(ctx)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "no status reported yet"})
		case err != nil:
			log.Error().Err(err).Str("op", "get_status").Msg("Failed to read status")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "status unavailable"})
		default:
			c.JSON(http.StatusOK, snap)
		}
	})

	r.GET("/status/tracked", bearerAuth(opts.StatusToken), func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), opts.ReadTimeout)
		defer cancel()

		guilds, err := src.Guilds(ctx)
		if err != nil {
			log.Error().Err(err).Str("op", "count_guilds").Msg("Failed to count guilds")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "counts unavailable"})
			return
		}
		users, err := src.Users(ctx)
		if err != nil {
			log.Error().Err(err).Str("op", "count_users").Msg("Failed to count users")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "counts unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"guilds": guilds, "users": users})
	})

	return r
}

// bearerAuth rejects requests without the token. An empty token disables
// the check.
func bearerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}

// Server runs the router until its context is done.
type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
}

// NewServer creates a Server for handler on cfg.Addr.
func NewServer(cfg config.HTTPConfig, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadTimeout,
			ReadTimeout:       cfg.ReadTimeout,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.srv.Addr).Msg("Status server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	log.Info().Msg("Status server stopped")
	return nil
}
