package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/tolgaunal/openday-relay/internal/relay"
)

func statusHandler(svc *relay.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		st := svc.ConnectivityState()

		pending, err := svc.PendingCount(c.Request().Context())
		if err != nil {
			c.Logger().Errorf("queue count failed: %v", err)

			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "queue storage unavailable"})
		}

		resp := map[string]any{
			"online":               st.Online,
			"consecutive_failures": st.ConsecutiveFailures,
			"pending":              pending,
		}
		if report, ok := svc.LastDrain(); ok {
			resp["last_drain"] = report
		}

		return c.JSON(http.StatusOK, resp)
	}
}

func syncHandler(svc *relay.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		res, err := svc.TriggerSync(c.Request().Context())
		if err != nil {
			c.Logger().Errorf("manual sync failed: %v", err)

			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "queue storage unavailable"})
		}

		return c.JSON(http.StatusOK, res)
	}
}

type connectivityHintReq struct {
	Online *bool `json:"online"`
}

// connectivityHintHandler lets the UI forward the browser's own online and
// offline events so the relay reacts faster than the probe interval.
func connectivityHintHandler(svc *relay.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req connectivityHintReq
		if err := c.Bind(&req); err != nil || req.Online == nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		if *req.Online {
			svc.HintOnline()
		} else {
			svc.HintOffline()
		}

		return c.NoContent(http.StatusNoContent)
	}
}
