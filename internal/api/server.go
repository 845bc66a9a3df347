// Package api exposes sync triggers and cursor status over HTTP.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Martian-dev/inbox-sync/internal/app"
	"github.com/Martian-dev/inbox-sync/internal/auth"
	"github.com/Martian-dev/inbox-sync/internal/sync"
)

// Verifier authenticates API callers.
type Verifier interface {
	UserFromRequest(r *http.Request) (*auth.User, error)
}

// Server holds the handler dependencies.
type Server struct {
	Service *app.Service
	// Verifier is optional; without it the API is open.
	Verifier Verifier
}

// Routes builds the gin engine.
func (s *Server) Routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", s.health)

	v1 := r.Group("/v1")
	if s.Verifier != nil {
		v1.Use(requireUser(s.Verifier))
	}
	v1.GET("/accounts", s.listAccounts)
	v1.GET("/accounts/:account/sync", s.listCursors)
	v1.POST("/accounts/:account/sync/:resource", s.triggerSync)
	return r
}

func (s *Server) health(c *gin.Context) {
	if err := s.Service.Store.DB.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "running": s.Service.Manager.Running()})
}

func (s *Server) listAccounts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accounts": s.Service.Accounts()})
}

func (s *Server) listCursors(c *gin.Context) {
	account := c.Param("account")
	if _, err := s.Service.Resources(account); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	cursors, err := s.Service.Store.ListCursors(c.Request.Context(), account)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accountId": account, "cursors": cursors})
}

func (s *Server) triggerSync(c *gin.Context) {
	full := false
	if v := c.Query("full"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "full must be a boolean"})
			return
		}
		full = b
	}

	report, err := s.Service.Sync(c.Request.Context(), c.Param("account"), c.Param("resource"), full)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, app.ErrUnknownResource):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrUnknownAccount):
		return http.StatusNotFound
	case errors.Is(err, sync.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, sync.ErrUnsupported):
		return http.StatusUnprocessableEntity
	case errors.Is(err, auth.ErrNotConnected):
		return http.StatusFailedDependency
	default:
		return http.StatusInternalServerError
	}
}

func requireUser(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := v.UserFromRequest(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}
		c.Set("user", user)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ev := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = log.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}
