package middleware

import (
	"strings"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the HTTP request collector and the registry it writes to.
type Metrics struct {
	Prom     *fiberprometheus.FiberPrometheus
	registry *prometheus.Registry
}

// InitMetrics creates the HTTP metrics collector for serviceName. Each call
// gets its own registry so several servers can live in one process.
func InitMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	return &Metrics{
		Prom:     fiberprometheus.NewWithRegistry(reg, serviceName, "http", "", nil),
		registry: reg,
	}
}

// MetricsMiddleware records request metrics, skipping the scrape endpoint,
// health probes and websocket upgrades.
func MetricsMiddleware(m *Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()
		if path == "/metrics" || path == "/ws" || strings.HasPrefix(path, "/health") {
			return c.Next()
		}
		return m.Prom.Middleware(c)
	}
}

// Handler serves the HTTP metrics together with the process-wide ones.
func (m *Metrics) Handler() fiber.Handler {
	gatherers := prometheus.Gatherers{m.registry, prometheus.DefaultGatherer}
	return adaptor.HTTPHandler(promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))
}
