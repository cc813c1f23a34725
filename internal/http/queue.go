package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/tolgaunal/openday-relay/internal/relay"
)

func listQueueHandler(svc *relay.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		recs, err := svc.PendingRecords(c.Request().Context())
		if err != nil {
			c.Logger().Errorf("queue list failed: %v", err)

			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "queue storage unavailable"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"count":   len(recs),
			"results": recs,
		})
	}
}

func queueCountHandler(svc *relay.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		n, err := svc.PendingCount(c.Request().Context())
		if err != nil {
			c.Logger().Errorf("queue count failed: %v", err)

			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "queue storage unavailable"})
		}

		return c.JSON(http.StatusOK, map[string]int{"count": n})
	}
}

func clearQueueHandler(svc *relay.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.QueryParam("confirm") != "true" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "pass confirm=true to drop all queued records"})
		}

		if err := svc.ClearQueue(c.Request().Context()); err != nil {
			c.Logger().Errorf("queue clear failed: %v", err)

			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "queue storage unavailable"})
		}

		return c.NoContent(http.StatusNoContent)
	}
}
