package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns an Echo handler serving the process's registered collectors,
// the rework of the teacher's tracing.MetricsHandler.
func Handler() echo.HandlerFunc {
	h := promhttp.Handler()
	return func(c echo.Context) error {
		h.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}

// Register mounts Handler at path on e, defaulting to "/metrics" the way
// tracing.RegisterMetricsEndpoint does.
func Register(e *echo.Echo, path string) {
	if path == "" {
		path = "/metrics"
	}
	e.GET(path, Handler())
}
