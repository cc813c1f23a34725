package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tolgaunal/openday-relay/internal/relay"
	"github.com/tolgaunal/openday-relay/internal/status"
)

// eventsHandler streams status events over SSE. New readers get the sticky
// connectivity event first, so the UI pill is correct from the first frame.
func eventsHandler(svc *relay.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		res := c.Response()
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set(echo.HeaderCacheControl, "no-cache")
		res.Header().Set(echo.HeaderConnection, "keep-alive")
		res.WriteHeader(http.StatusOK)
		res.Flush()

		events := make(chan status.Event, 32)
		unsub := svc.Subscribe(func(ev status.Event) {
			select {
			case events <- ev:
			default: // slow reader, drop
			}
		})
		defer unsub()

		ctx := c.Request().Context()
		ping := time.NewTicker(15 * time.Second)
		defer ping.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-events:
				b, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(res, "data: %s\n\n", b); err != nil {
					return nil
				}
				res.Flush()
			case <-ping.C:
				if _, err := fmt.Fprint(res, ": ping\n\n"); err != nil {
					return nil
				}
				res.Flush()
			}
		}
	}
}
