package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
	"github.com/zapdesk/inbox-bridge/internal/biz/usecase"
	"github.com/zapdesk/inbox-bridge/internal/service"
)

// processPassTimeout bounds a processor pass started over HTTP
const processPassTimeout = 5 * time.Minute

// Server exposes the webhook, processor trigger and inbox API over HTTP
type Server struct {
	inbound   *service.InboundService
	processor *usecase.ProcessorUsecase
	bufferUC  *usecase.BufferUsecase
	events    *service.EventService

	jwtSecret string
	addr      string
	echo      *echo.Echo
}

// NewServer creates a new API server. An empty jwtSecret disables service auth.
func NewServer(
	inbound *service.InboundService,
	processor *usecase.ProcessorUsecase,
	bufferUC *usecase.BufferUsecase,
	events *service.EventService,
	jwtSecret string,
	addr string,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{
		inbound:   inbound,
		processor: processor,
		bufferUC:  bufferUC,
		events:    events,
		jwtSecret: jwtSecret,
		addr:      addr,
		echo:      e,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Gateway webhook
	s.echo.POST("/webhook/whatsapp", s.handleWebhook)

	auth := RequireServiceRole(s.jwtSecret)

	// Processor trigger
	s.echo.POST("/buffer/process", s.handleProcess, auth)

	api := s.echo.Group("/api", auth)
	api.POST("/automation/events", s.handleAutomationEvent)
	api.GET("/buffers/summary", s.handleBufferSummary)
	api.GET("/buffers/:conversationId", s.handleConversationBuffers)
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	log.Info().Str("component", "api").Str("addr", s.addr).Msg("Starting HTTP server")
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleWebhook(c echo.Context) error {
	var msg service.InboundMessage
	if err := c.Bind(&msg); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid JSON body")
	}

	result, err := s.inbound.HandleInbound(c.Request().Context(), &msg)
	if err != nil {
		return s.writeErr(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":        true,
		"conversationId": result.ConversationID,
		"messageId":      result.MessageID,
		"duplicate":      result.Duplicate,
	})
}

func (s *Server) handleProcess(c echo.Context) error {
	// A caller hanging up must not strand claimed buffers mid-reply
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), processPassTimeout)
	defer cancel()
	summary, err := s.processor.RunOnce(ctx)
	if err != nil {
		return s.writeErr(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":     true,
		"processed":   summary.Processed,
		"errors":      summary.Failed,
		"skipped":     summary.Skipped,
		"duration_ms": summary.Duration.Milliseconds(),
	})
}

func (s *Server) handleAutomationEvent(c echo.Context) error {
	var ev service.AutomationEvent
	if err := c.Bind(&ev); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid JSON body")
	}

	result, err := s.events.FireEvent(c.Request().Context(), &ev)
	if err != nil {
		return s.writeErr(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleBufferSummary(c echo.Context) error {
	summary, err := s.bufferUC.GetBufferSummary(c.Request().Context())
	if err != nil {
		return s.writeErr(c, err)
	}
	if summary == nil {
		summary = []*domain.BufferSummary{}
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) handleConversationBuffers(c echo.Context) error {
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return writeError(c, http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	buffers, err := s.bufferUC.GetConversationBuffers(c.Request().Context(), c.Param("conversationId"), limit)
	if err != nil {
		return s.writeErr(c, err)
	}
	if buffers == nil {
		buffers = []*domain.MessageBuffer{}
	}
	return c.JSON(http.StatusOK, buffers)
}

// writeErr maps domain errors onto status codes
func (s *Server) writeErr(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidInbound), errors.Is(err, service.ErrInvalidEvent):
		return writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return writeError(c, http.StatusNotFound, err.Error())
	default:
		log.Error().Err(err).Str("component", "api").Str("path", c.Path()).Msg("request failed")
		return writeError(c, http.StatusInternalServerError, err.Error())
	}
}

func writeError(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			log.Debug().Str("component", "api").
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Msg("request")
			return nil
		}
	}
}
