// Package web serves the dashboard API: run history, reports, review
// resumption and a live progress stream bridged from the event bus.
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ppiankov/evident/internal/config"
	"github.com/ppiankov/evident/internal/events"
	"github.com/ppiankov/evident/internal/run"
	"github.com/ppiankov/evident/internal/store"
)

// Resumer continues a paused run after claim review
type Resumer interface {
	Resume(ctx context.Context, runID string, dropIDs []string) (*run.Result, error)
}

// Server is the dashboard HTTP server
type Server struct {
	cfg     *config.Config
	history *store.Store
	bus     *events.Bus
	resumer Resumer
	log     *slog.Logger
	engine  *gin.Engine
}

// NewServer wires the gin engine with all routes configured
func NewServer(cfg *config.Config, history *store.Store, bus *events.Bus, resumer Resumer, log *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:     cfg,
		history: history,
		bus:     bus,
		resumer: resumer,
		log:     log.With("component", "web"),
	}

	r := gin.New()
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %d %s\" %s\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.StatusCode,
				param.Latency,
				param.ErrorMessage,
			)
		},
	}))
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	r.GET("/healthz", s.health)

	api := r.Group("/api")
	{
		api.GET("/runs", s.listRuns)
		api.GET("/runs/:id", s.getRun)
		api.GET("/runs/:id/report", s.getReport)
		api.POST("/runs/:id/resume", s.resumeRun)
		api.GET("/runs/:id/events", s.streamEvents)
	}

	s.engine = r
	return s
}

// Handler exposes the engine for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully. Write
// timeouts stay unset so SSE streams and long resumes are not cut off.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.cfg.Web.Addr,
		Handler:     s.engine,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("dashboard listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("dashboard server: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("dashboard shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("dashboard shutdown: %w", err)
	}
	return nil
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) health(c *gin.Context) {
	health := gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := s.history.List(c.Request.Context(), 1); err == nil {
		health["store"] = "ok"
	} else {
		health["store"] = "unavailable"
	}
	c.JSON(http.StatusOK, health)
}

func (s *Server) listRuns(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	runs, err := s.history.List(c.Request.Context(), limit)
	if err != nil {
		s.log.Error("run listing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "run listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "total": len(runs)})
}

func (s *Server) getRun(c *gin.Context) {
	id := c.Param("id")
	row, err := s.history.Get(c.Request.Context(), id)
	if err != nil {
		s.log.Error("run lookup failed", "run", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "run lookup failed"})
		return
	}
	if row == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, row)
}

// runIDPattern matches generated run ids; anything else never touches disk
var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

func (s *Server) getReport(c *gin.Context) {
	id := c.Param("id")
	if !runIDPattern.MatchString(id) || strings.Contains(id, "..") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	data, err := os.ReadFile(filepath.Join(s.cfg.RunsDir(), id, "report.json"))
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
			return
		}
		s.log.Error("report read failed", "run", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "report read failed"})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

// resumeRequest carries review decisions: claim ids to drop before the run
// continues
type resumeRequest struct {
	Drop []string `json:"drop"`
}

func (s *Server) resumeRun(c *gin.Context) {
	id := c.Param("id")

	var req resumeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	res, err := s.resumer.Resume(c.Request.Context(), id, req.Drop)
	if err != nil {
		switch {
		case strings.Contains(err.Error(), "no checkpoint"):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case strings.Contains(err.Error(), "unknown claim id"):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			s.log.Error("resume failed", "run", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "resume failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":      res.RunID,
		"report_json": res.ReportJSON,
		"report_md":   res.ReportMD,
		"ratings":     res.Manifest.Ratings,
	})
}

// streamEvents bridges the event bus onto an SSE stream, filtered to one
// run. Slow consumers lose events rather than stalling publishers.
func (s *Server) streamEvents(c *gin.Context) {
	id := c.Param("id")

	ch, cancel := s.bus.Subscribe(256)
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			if ev.RunID != id {
				return true
			}
			c.SSEvent("progress", ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
