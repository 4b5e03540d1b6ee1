package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/relaycove/signalrelay/pkg/source"
)

// pushHandler handles POST /ingest/push, spec.md §6's push-notification
// intake: HMAC-verified, flexible-shaped body, 202/429/403/400/401 per the
// outcome. The payload shape varies by upstream provider, so the body is
// read raw and handed to source.ExtractUsername rather than bound to a
// single fixed struct.
func (s *Server) pushHandler(c *echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read request body")
	}

	if !source.VerifySignature(s.pushSecret, body, c.Request().Header.Get("X-Signature")) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	account, err := source.ExtractUsername(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not extract account from payload")
	}

	var hintPostID string
	var payload source.PushPayload
	if jsonErr := json.Unmarshal(body, &payload); jsonErr == nil {
		hintPostID = payload.PostID
	}

	if err := s.coordinator.HandlePush(account, hintPostID); err != nil {
		switch {
		case errors.Is(err, source.ErrUnknownAccount):
			return echo.NewHTTPError(http.StatusForbidden, "account not monitored")
		case errors.Is(err, source.ErrQueueFull):
			return echo.NewHTTPError(http.StatusTooManyRequests, "trigger queue saturated")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	return c.JSON(http.StatusAccepted, &pushAcceptedResponse{Account: account, Status: "queued"})
}

// forcePollHandler handles POST /ingest/poll/force?account=..., the admin
// trigger that bypasses push coalescing (spec.md §6).
func (s *Server) forcePollHandler(c *echo.Context) error {
	account := c.QueryParam("account")
	if account == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "account query parameter is required")
	}

	if err := s.coordinator.ForcePoll(account); err != nil {
		switch {
		case errors.Is(err, source.ErrUnknownAccount):
			return echo.NewHTTPError(http.StatusForbidden, "account not monitored")
		case errors.Is(err, source.ErrQueueFull):
			return echo.NewHTTPError(http.StatusTooManyRequests, "trigger queue saturated")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	return c.JSON(http.StatusAccepted, &forcePollResponse{Account: account, Status: "queued"})
}
