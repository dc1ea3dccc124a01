// HTTP/JSON API served with gin
package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// RequestIDHeader carries the request id in and out
	RequestIDHeader = "X-Request-ID"

	maxBodyBytes = 1 << 20
	requestIDKey = "request_id"
	versionIDKey = "debugtimeline.version_id"
)

// RouterConfig controls the HTTP API
type RouterConfig struct {
	AllowedOrigins []string
	Tracing        bool
	ServiceName    string
}

type stepRequest struct {
	CodeText  string `json:"codeText"`
	Note      string `json:"note"`
	ErrorType string `json:"errorType"`
}

// Router builds the HTTP API
func (s *Server) Router(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true

	if cfg.Tracing {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(
		gin.Recovery(),
		requestID(),
		s.accessLog(),
		s.httpMetrics(),
		cors.New(corsConfig(cfg.AllowedOrigins)),
	)

	r.POST("/step", s.handleStep)
	r.GET("/timeline", s.handleTimeline)
	r.POST("/markBugFree", s.handleMarkBugFree)
	r.POST("/undo", s.handleUndo)
	r.POST("/jumpBugFree", s.handleJumpBugFree)
	r.GET("/analytics", s.handleAnalytics)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "route not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}

// requestID propagates or generates X-Request-ID
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.LogHTTPRequest(c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start), c.GetString(requestIDKey))
	}
}

func (s *Server) httpMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		s.metrics.HTTPRequestsInFlight.Inc()
		defer s.metrics.HTTPRequestsInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(httpStatus(err), errorResponse{Error: errorMessage(err)})
}

func annotate(c *gin.Context, id int64) {
	trace.SpanFromContext(c.Request.Context()).SetAttributes(attribute.Int64(versionIDKey, id))
}

func (s *Server) handleStep(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	// An empty body records a version with every field empty
	var req stepRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		abortWithError(c, badRequest("invalid request body"))
		return
	}

	v, err := s.step(req.CodeText, req.Note, req.ErrorType)
	if err != nil {
		abortWithError(c, err)
		return
	}
	annotate(c, v.VersionID)
	c.JSON(http.StatusCreated, v)
}

func (s *Server) handleTimeline(c *gin.Context) {
	c.JSON(http.StatusOK, s.timeline())
}

func (s *Server) handleMarkBugFree(c *gin.Context) {
	raw, ok := c.GetQuery("id")
	if !ok || raw == "" {
		abortWithError(c, badRequest("missing id parameter"))
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		abortWithError(c, badRequest("invalid id parameter"))
		return
	}
	annotate(c, id)

	v, err := s.markBugFree(id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, currentResponse{Current: v})
}

func (s *Server) handleUndo(c *gin.Context) {
	v, err := s.undo()
	if err != nil {
		abortWithError(c, err)
		return
	}
	if v != nil {
		annotate(c, v.VersionID)
	}
	c.JSON(http.StatusOK, currentResponse{Current: v})
}

func (s *Server) handleJumpBugFree(c *gin.Context) {
	v, err := s.jumpBugFree()
	if err != nil {
		abortWithError(c, err)
		return
	}
	annotate(c, v.VersionID)
	c.JSON(http.StatusOK, currentResponse{Current: v})
}

func (s *Server) handleAnalytics(c *gin.Context) {
	c.JSON(http.StatusOK, s.analytics())
}
