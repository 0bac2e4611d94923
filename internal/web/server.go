// Package web serves the upload, chat and export pages.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"docchat/internal/config"
	"docchat/internal/export"
	"docchat/internal/helper"
	"docchat/internal/metrics"
	"docchat/internal/rag"
	"docchat/internal/session"
)

const workspaceKey = "workspace"

// Deps are the long-lived components the handlers share.
type Deps struct {
	Holder   *rag.Holder
	Builder  *rag.Builder
	Sessions *session.Manager
	DB       *bun.DB
	Exports  *export.Workflow
}

type Server struct {
	echo *echo.Echo
	cfg  *config.Config
	Deps
}

func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if deps.Holder == nil || deps.Builder == nil || deps.Sessions == nil || deps.DB == nil || deps.Exports == nil {
		return nil, errors.New("holder, builder, sessions, db and exports are required")
	}
	if err := helper.CreateFolder(cfg.Server.UploadDir); err != nil {
		return nil, fmt.Errorf("upload dir: %w", err)
	}

	renderer, err := NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = renderer

	s := &Server{echo: e, cfg: cfg, Deps: deps}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil {
				ev = log.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))
	if cfg.Server.MaxUploadMB > 0 {
		e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", cfg.Server.MaxUploadMB)))
	}
	e.Use(s.withWorkspace)

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	s.echo.Static("/uploads", s.cfg.Server.UploadDir)

	s.echo.GET("/", s.handleIndex)
	s.echo.POST("/", s.handleUpload)

	s.echo.GET("/chat", s.handleChatPage)
	s.echo.POST("/chat", s.handleChat)

	s.echo.GET("/export", s.handleExport)
	s.echo.GET("/export/:id", s.handleExportForm)
	s.echo.POST("/export/:id/send", s.handleExportSend)
}

// withWorkspace pins the current workspace for the whole request, so an
// upload finishing mid-request cannot change which index answers it.
func (s *Server) withWorkspace(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Set(workspaceKey, s.Holder.Load())
		return next(c)
	}
}

func workspaceFrom(c echo.Context) *rag.Workspace {
	ws, _ := c.Get(workspaceKey).(*rag.Workspace)
	return ws
}

// handleError answers with plain text instead of echo's JSON body.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.String(code, msg)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to write error response")
	}
}

// ServeHTTP lets the server be driven by httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	log.Info().Str("addr", s.cfg.Server.Addr).Msg("Starting http server")
	return s.echo.Start(s.cfg.Server.Addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down http server")
	return s.echo.Shutdown(ctx)
}
