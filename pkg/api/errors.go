package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/relaycove/signalrelay/pkg/relayerr"
)

// mapStoreError maps Store-layer errors (classified via pkg/relayerr) to
// HTTP error responses.
func mapStoreError(err error) *echo.HTTPError {
	if errors.Is(err, relayerr.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if relayerr.KindOf(err) == relayerr.InputInvalid {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	slog.Error("unexpected store error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
