// Package middleware provides the fiber middleware shared by the API server
package middleware

import (
	"strconv"
	"time"

	fiber "github.com/gofiber/fiber/v2"

	log "github.com/Kensan196948G/ServiceGrid-sub004/internal/logger"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/observability"
)

// Logger returns a middleware that logs HTTP requests and records their latency
func Logger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()
		// the error handler has not run yet, so map a returned error to its status here
		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				status = e.Code
			}
		}

		stop := time.Now()
		latency := stop.Sub(start)

		route := c.Route().Name
		if route == "" {
			route = "unnamed"
		}
		observability.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Observe(latency.Seconds())

		log.InfoWithFields("Request", map[string]interface{}{
			"timestamp": stop.Format("2006/01/02 - 15:04:05"),
			"status":    status,
			"latency":   latency,
			"ip":        c.IP(),
			"method":    c.Method(),
			"path":      c.Path(),
			"handler":   route,
		})

		return err
	}
}
