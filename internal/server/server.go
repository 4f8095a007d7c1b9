// Package server provides the thin HTTP service layer over the trigger
// engine. It only translates requests into engine calls; persistence and
// retrieval are invoked by callers based on the returned decision.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triggerd/internal/trigger"
)

// Engine is the decision-engine surface the server exposes over HTTP.
type Engine interface {
	Evaluate(ctx context.Context, msg trigger.Message, conv trigger.ConversationContext, userID string) (trigger.Decision, error)
	Feedback(decisionID string, actual trigger.Action) error
	Inspect() trigger.EngineStats
	Rollback() error
}

// Server exposes the trigger engine over HTTP.
type Server struct {
	echo   *echo.Echo
	engine Engine
	logger *zap.Logger
	addr   string
}

// New creates the HTTP server. gatherer serves /metrics; pass the registry
// the engine metrics were registered on.
func New(engine Engine, gatherer prometheus.Gatherer, logger *zap.Logger, addr string) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:   e,
		engine: engine,
		logger: logger.Named("http"),
		addr:   addr,
	}

	e.GET("/health", s.handleHealth)
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := e.Group("/api/v1")
	v1.POST("/evaluate", s.handleEvaluate)
	v1.POST("/feedback", s.handleFeedback)
	v1.GET("/inspect", s.handleInspect)
	v1.POST("/rollback", s.handleRollback)

	return s, nil
}

// Start begins serving and blocks until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.addr))
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler returns the underlying HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// TurnPayload is one prior conversation turn in an evaluate request.
type TurnPayload struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// EvaluateRequest is the request body for POST /api/v1/evaluate.
type EvaluateRequest struct {
	UserID    string        `json:"user_id"`
	Text      string        `json:"text"`
	Platform  string        `json:"platform,omitempty"`
	Timestamp time.Time     `json:"timestamp,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	History   []TurnPayload `json:"history,omitempty"`
}

// FeedbackRequest is the request body for POST /api/v1/feedback.
type FeedbackRequest struct {
	DecisionID string `json:"decision_id"`
	Action     string `json:"action"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleEvaluate(c echo.Context) error {
	var req EvaluateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	msg := trigger.Message{
		Text:      req.Text,
		Timestamp: req.Timestamp,
		Platform:  req.Platform,
	}
	conv := trigger.ConversationContext{SessionID: req.SessionID}
	for _, turn := range req.History {
		conv.Messages = append(conv.Messages, trigger.Message{
			Text:      turn.Text,
			Timestamp: turn.Timestamp,
		})
	}

	decision, err := s.engine.Evaluate(c.Request().Context(), msg, conv, req.UserID)
	if err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusOK, decision)
}

func (s *Server) handleFeedback(c echo.Context) error {
	var req FeedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.DecisionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "decision_id field is required")
	}
	action, err := trigger.ParseAction(req.Action)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.engine.Feedback(req.DecisionID, action); err != nil {
		return mapEngineError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleInspect(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Inspect())
}

func (s *Server) handleRollback(c echo.Context) error {
	if err := s.engine.Rollback(); err != nil {
		return mapEngineError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// mapEngineError translates engine sentinels into HTTP errors. Degraded
// decisions never reach here; they return 200 with the decision body.
func mapEngineError(err error) error {
	switch {
	case errors.Is(err, trigger.ErrEmptyUserID),
		errors.Is(err, trigger.ErrEmptyMessage),
		errors.Is(err, trigger.ErrInvalidAction):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, trigger.ErrDecisionNotFound),
		errors.Is(err, trigger.ErrNoRetiredModel):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusRequestTimeout, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
