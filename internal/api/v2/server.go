// Package api serves the alarmpipe operations API: health, Prometheus
// metrics, the expression catalog, the live registry and a websocket feed
// of alarm events.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/alarmpipe/alarmpipe/internal/alerting"
	"github.com/alarmpipe/alarmpipe/internal/conf"
	"github.com/alarmpipe/alarmpipe/internal/logger"
	"github.com/alarmpipe/alarmpipe/internal/observability"
)

const (
	apiPrefix         = "/api/v2"
	readHeaderTimeout = 10 * time.Second
)

// EngineView is the read-only part of the engine the API exposes.
type EngineView interface {
	Snapshot() []alerting.DefinitionStatus
	Stats() alerting.Stats
}

// Controller holds the handlers mounted under /api/v2.
type Controller struct {
	Group  *echo.Group
	engine EngineView
	stream *AlarmStream
	log    logger.Logger
}

// Server owns the echo instance and its HTTP listener.
type Server struct {
	echo       *echo.Echo
	controller *Controller
	stream     *AlarmStream
	listen     string
	log        logger.Logger
}

// NewServer builds the router. metrics may be nil, in which case /metrics
// is not mounted.
func NewServer(settings conf.HTTPSettings, engine EngineView, metrics *observability.Metrics, log logger.Logger) *Server {
	log = log.With(logger.String("component", "api"))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	stream := NewAlarmStream(log)
	s := &Server{
		echo:   e,
		stream: stream,
		listen: settings.Listen,
		log:    log,
	}

	e.GET("/healthz", s.health)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	}

	s.controller = &Controller{
		Group:  e.Group(apiPrefix),
		engine: engine,
		stream: stream,
		log:    log,
	}
	s.controller.initAlarmRoutes()
	return s
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// HandleAlarm forwards an alarm event to websocket subscribers. It has the
// alerting.AlarmEventHandler signature.
func (s *Server) HandleAlarm(ev *alerting.AlarmEvent) {
	s.stream.Broadcast(ev)
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.echo.Server.ReadHeaderTimeout = readHeaderTimeout
	s.log.Info("http server listening", logger.String("listen", s.listen))
	if err := s.echo.Start(s.listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes websocket subscribers and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stream.Close()
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":             "ok",
		"active_definitions": s.controller.engine.Stats().ActiveDefinitions,
	})
}
