// Package server exposes a Decoder over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	"github.com/happyhackingspace/werger"
	"github.com/happyhackingspace/werger/internal/config"
	"github.com/happyhackingspace/werger/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

// Translator decodes a batch of inputs, emitting results in input order.
type Translator interface {
	TranslateAll(ctx context.Context, inputs []string, emit func(*werger.Translation) error) error
}

// TranslateRequest is the body of POST /v1/translate. A request carries at
// most 256 sentences.
type TranslateRequest struct {
	Sentences []string `json:"sentences" binding:"required,min=1,max=256"`
}

// TranslateResponse is the reply to POST /v1/translate.
type TranslateResponse struct {
	RequestID    string                `json:"request_id"`
	Translations []*werger.Translation `json:"translations"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error"`
}

// Server routes HTTP requests to a Translator.
type Server struct {
	translator Translator
	cfg        config.Server
	limiter    *rate.Limiter
	engine     *gin.Engine
	logger     *slog.Logger
}

// New builds the routes. A zero rate disables request limiting.
func New(t Translator, cfg config.Server, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	s := &Server{
		translator: t,
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestID)
	engine.GET("/health", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.POST("/v1/translate", s.observe, s.rateLimit, s.handleTranslate)
	s.engine = engine
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe listens on the configured address until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully. At most MaxConns connections are served at once.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	s.logger.Info("Server listening", "addr", ln.Addr().String(), "max_conns", s.cfg.MaxConns)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleTranslate(c *gin.Context) {
	id := c.GetString(requestIDHeader)
	var req TranslateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{RequestID: id, Error: err.Error()})
		return
	}

	start := time.Now()
	resp := TranslateResponse{RequestID: id, Translations: make([]*werger.Translation, 0, len(req.Sentences))}
	err := s.translator.TranslateAll(c.Request.Context(), req.Sentences, func(t *werger.Translation) error {
		resp.Translations = append(resp.Translations, t)
		return nil
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Warn("Translate request failed", "request_id", id, "error", err)
		c.JSON(status, ErrorResponse{RequestID: id, Error: err.Error()})
		return
	}

	s.logger.Info("Translate request",
		"request_id", id,
		"sentences", len(req.Sentences),
		"elapsed", time.Since(start),
	)
	c.JSON(http.StatusOK, resp)
}

// rateLimit rejects requests beyond the configured rate.
func (s *Server) rateLimit(c *gin.Context) {
	if !s.limiter.Allow() {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
			RequestID: c.GetString(requestIDHeader),
			Error:     "rate limit exceeded",
		})
		return
	}
	c.Next()
}

// observe counts translate requests by final status.
func (s *Server) observe(c *gin.Context) {
	c.Next()
	metrics.ObserveRequest(c.Writer.Status())
}

// requestID reuses the caller's X-Request-ID or creates one.
func requestID(c *gin.Context) {
	id := c.GetHeader(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(requestIDHeader, id)
	c.Header(requestIDHeader, id)
	c.Next()
}
