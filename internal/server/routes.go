package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/spellctl/internal/app"
	"github.com/danmuck/spellctl/internal/auth"
	"github.com/danmuck/spellctl/internal/runner"
	"github.com/danmuck/spellctl/internal/spells"
	"github.com/danmuck/spellctl/internal/target"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": s.opts.Name,
			"version": Version,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.GET("/spells", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"spells": s.app.Registry.List()})
	})
	v1.GET("/targets", func(c *gin.Context) {
		targets, err := s.app.Targets(c.Query("filter"), c.QueryArray("controller"))
		if err != nil && !errors.Is(err, app.ErrNoTargets) {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		if targets == nil {
			targets = []target.Target{}
		}
		c.JSON(http.StatusOK, gin.H{"targets": targets})
	})
	v1.POST("/spells/:name", auth.Middleware(s.opts.Validator), s.castSpell)
}

func (s *Server) castSpell(c *gin.Context) {
	var req app.Request
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	req.Spell = c.Param("name")
	results, err := s.app.Cast(c.Request.Context(), req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"spell": req.Spell, "results": results})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, spells.ErrUnknownSpell), errors.Is(err, app.ErrNoTargets):
		return http.StatusNotFound
	case errors.Is(err, spells.ErrMissingParam),
		errors.Is(err, target.ErrInvalidFilter),
		errors.Is(err, runner.ErrUnknownPolicy),
		errors.Is(err, runner.ErrInvalidBatchSize):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
