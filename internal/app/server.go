package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/specialistvlad/burstflow/internal/registry"
	"github.com/specialistvlad/burstflow/internal/telemetry"
	"github.com/specialistvlad/burstflow/internal/workflow"
	"golang.org/x/sync/errgroup"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// newRouter builds the control API for the loaded workflow.
func (a *App) newRouter(tel *telemetry.Telemetry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), a.requestLogger())

	r.GET("/health", a.handleHealth)
	r.GET("/metrics", gin.WrapH(tel.MetricsHandler()))

	v1 := r.Group("/workflow")
	{
		v1.GET("/status", a.handleStatus)
		v1.GET("/result", a.handleResult)
		v1.GET("/tasks", a.handleTasks)
		v1.POST("/pause", a.handleControl("pause", a.wf.Pause))
		v1.POST("/resume", a.handleControl("resume", a.wf.Resume))
		v1.POST("/cancel", a.handleControl("cancel", a.wf.Cancel))
	}
	return r
}

func (a *App) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.logger.Debug("Control request served.",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"remote_addr", c.ClientIP(),
			"duration", time.Since(start),
		)
	}
}

func (a *App) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": Version})
}

func (a *App) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, a.wf.Status(c.Request.Context()))
}

func (a *App) handleResult(c *gin.Context) {
	c.JSON(http.StatusOK, a.wf.Result(c.Request.Context()))
}

// taskView is how /workflow/tasks renders one task definition.
type taskView struct {
	ID           string        `json:"id"`
	Runner       string        `json:"runner,omitempty"`
	Dependencies []string      `json:"dependencies"`
	Priority     int           `json:"priority"`
	MaxAttempts  int           `json:"max_attempts,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"`
	Description  string        `json:"description,omitempty"`
}

func (a *App) handleTasks(c *gin.Context) {
	defs := a.wf.Definitions()
	views := make([]taskView, len(defs))
	for i, d := range defs {
		views[i] = taskView{
			ID:           d.ID,
			Dependencies: d.Dependencies,
			Priority:     d.Priority,
			MaxAttempts:  d.MaxAttempts,
			Timeout:      d.Timeout,
			Description:  d.Description,
		}
		if views[i].Dependencies == nil {
			views[i].Dependencies = []string{}
		}
		if inv, ok := d.Payload.(registry.Invocation); ok {
			views[i].Runner = inv.Runner
		}
	}
	c.JSON(http.StatusOK, views)
}

// handleControl maps a control operation onto a POST endpoint. A request
// the run's status does not allow gets 409 Conflict.
func (a *App) handleControl(op string, fn func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Resume may start a new dispatch loop; it must outlive the request.
		ctx := context.WithoutCancel(a.context(c.Request.Context()))
		if err := fn(ctx); err != nil {
			var transition *workflow.InvalidStateTransitionError
			if errors.As(err, &transition) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "status": transition.From})
				return
			}
			a.logger.Error("Control operation failed.", "op", op, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		a.logger.Info("Control operation applied.", "op", op)
		c.JSON(http.StatusOK, a.wf.Status(c.Request.Context()))
	}
}

// startServer runs the control server in g until ctx is done, then shuts
// it down gracefully.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, tel *telemetry.Telemetry) {
	addr := fmt.Sprintf(":%d", a.config.HealthcheckPort)
	a.httpServer = &http.Server{
		Addr:              addr,
		Handler:           a.newRouter(tel),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g.Go(func() error {
		a.logger.Info("🩺 Control server starting", "address", fmt.Sprintf("http://localhost%s/health", addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return a.httpServer.Shutdown(sctx)
	})
}
