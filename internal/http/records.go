package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/tolgaunal/openday-relay/internal/queue"
	"github.com/tolgaunal/openday-relay/internal/relay"
	"github.com/tolgaunal/openday-relay/internal/upstream"
)

func submitRecordHandler(svc *relay.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if !json.Valid(body) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "body must be a JSON document"})
		}

		out, err := svc.Submit(c.Request().Context(), body)
		if err != nil {
			// The backend said no; relay its verdict untouched so the UI can
			// show field errors exactly as a direct call would.
			var apiErr *upstream.APIError
			if errors.As(err, &apiErr) {
				if len(apiErr.Body) > 0 {
					return c.JSONBlob(apiErr.StatusCode, apiErr.Body)
				}

				return c.JSON(apiErr.StatusCode, map[string]string{"error": http.StatusText(apiErr.StatusCode)})
			}

			if errors.Is(err, queue.ErrStorageUnavailable) {
				log.Errorf("record dropped, queue storage down: %v", err)

				return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "queue storage unavailable"})
			}

			log.Errorf("submit failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "submit failed"})
		}

		if out.Offline {
			return c.JSON(http.StatusAccepted, map[string]any{
				"offline":        true,
				"id":             out.ID,
				"submission_key": out.SubmissionKey,
			})
		}

		if len(out.Result.Body) > 0 {
			return c.JSONBlob(out.Result.StatusCode, out.Result.Body)
		}

		return c.NoContent(out.Result.StatusCode)
	}
}
