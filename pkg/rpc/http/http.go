// Package http serves the request/response protocol (pkg/rpc) over
// HTTP: a single POST /rpc endpoint carrying one rpc.Request per call,
// plus /health and /metrics for operational visibility.
package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/memerr"
	"github.com/fyrsmithlabs/memoryd/pkg/rpc"
)

// clientHostnameHeader is the well-known header a transport-aware
// client may set to supply spec §4.C10's protocol-layer hostname hint.
const clientHostnameHeader = "X-Client-Hostname"

// Server is the HTTP front end for a Dispatcher.
type Server struct {
	cfg         config.ServerConfig
	serviceName string
	dispatcher  *rpc.Dispatcher
	echo        *echo.Echo
}

// HealthResponse is the JSON body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// NewServer builds an HTTP server fronting dispatcher. Middleware and
// shutdown behavior mirror the rest of the service's ambient HTTP
// conventions: request logging, panic recovery, a request id on every
// response.
func NewServer(cfg config.ServerConfig, serviceName string, dispatcher *rpc.Dispatcher) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{cfg: cfg, serviceName: serviceName, dispatcher: dispatcher, echo: e}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.POST("/rpc", s.handleRPC)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Service: s.serviceName})
}

func (s *Server) handleRPC(c echo.Context) error {
	var req rpc.Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, rpc.Response{
			Error: &rpc.ErrorObject{Kind: memerr.Invalid, Message: "malformed request body: " + err.Error()},
		})
	}

	ctx := rpc.WithProtocolHint(c.Request().Context(), c.Request().Header.Get(clientHostnameHeader))
	resp := s.dispatcher.Handle(ctx, req)
	return c.JSON(http.StatusOK, resp)
}

// Start listens on cfg.HTTPAddr and blocks until ctx is cancelled, at
// which point it shuts down gracefully within cfg.ShutdownTimeout.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		if err := s.echo.Start(s.cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Echo returns the underlying Echo instance, for tests that need to
// drive requests without a live listener.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
