package http

import (
	"context"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tolgaunal/openday-relay/internal/metrics"
	"github.com/tolgaunal/openday-relay/internal/relay"
)

type Server struct{ e *echo.Echo }

func NewServer(svc *relay.Service) *Server {
	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger(), echoMid.BodyLimit("1M"))

	// Own registry so a process can build more than one server without
	// collector collisions.
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// routes
	v1 := e.Group("/v1")
	v1.POST("/records", submitRecordHandler(svc))
	v1.GET("/status", statusHandler(svc))
	v1.GET("/queue", listQueueHandler(svc))
	v1.GET("/queue/count", queueCountHandler(svc))
	v1.DELETE("/queue", clearQueueHandler(svc))
	v1.POST("/sync", syncHandler(svc))
	v1.POST("/connectivity/hint", connectivityHintHandler(svc))
	v1.GET("/events", eventsHandler(svc))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	log.Printf("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
