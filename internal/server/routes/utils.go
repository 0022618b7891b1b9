package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/admesh/admesh/internal/platform"
	"github.com/admesh/admesh/internal/ports"
)

// pathPlatform parses the :platform route segment.
func pathPlatform(c echo.Context) (platform.Platform, error) {
	p, err := platform.Parse(c.Param("platform"))
	if err != nil {
		return "", echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return p, nil
}

// storeError translates store sentinels into HTTP errors.
func storeError(err error) error {
	if errors.Is(err, ports.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "integration not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
