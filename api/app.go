// Package api wires every endpoint onto a Fiber app: one handler struct
// per surface, an Init function per surface registering its routes, and a
// single error handler translating the apperr taxonomy.
package api

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/loomwire/loomwire/actions"
	"github.com/loomwire/loomwire/apperr"
	"github.com/loomwire/loomwire/config"
	"github.com/loomwire/loomwire/ingestion"
	"github.com/loomwire/loomwire/observability"
	"github.com/loomwire/loomwire/orchestrator"
	"github.com/loomwire/loomwire/retrieval"
	"github.com/loomwire/loomwire/router"
	"github.com/loomwire/loomwire/scheduler"
)

// Version is stamped by the build; /health reports it.
var Version = "dev"

// Deps bundles the constructed components the handlers dispatch into.
type Deps struct {
	Cfg       *config.Config
	Metrics   *observability.Metrics
	Router    *router.Router
	Orch      *orchestrator.Engine
	Guard     *orchestrator.RateGuard
	Retrieval *retrieval.Engine
	Actions   *actions.Executor
	Pipeline  *ingestion.Pipeline
	JobsAdmin *scheduler.Admin
	OCRStats  *ingestion.OCRStats
}

// BuildApp assembles the Fiber app with shared middleware and every route
// group mounted.
func BuildApp(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit:    256 * 1024, // payload cap
		ErrorHandler: errorHandler,
	})

	app.Use(cors.New(cors.Config{AllowOrigins: joinOrigins(d.Cfg.App.CORSAllowOrigins)}))
	app.Use(requestID())
	app.Use(httpMetrics(d.Metrics))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"service":   "loomwire",
			"version":   Version,
		})
	})
	app.Get("/metrics", d.Metrics.Handler(d.Cfg.Security.MetricsKey))

	InitWebhook(app, d)
	InitOrchestrator(app, d)
	InitSearch(app, d)
	InitFiles(app, d)
	InitActions(app, d)
	InitAdmin(app, d)

	return app
}

// errorHandler maps the taxonomy onto HTTP once, so handlers just return
// typed errors.
func errorHandler(c *fiber.Ctx, err error) error {
	var typed apperr.Typed
	if errors.As(err, &typed) {
		body := fiber.Map{"code": typed.ErrCode(), "message": typed.Error()}
		var verr *apperr.ValidationError
		if errors.As(err, &verr) && len(verr.Fields) > 0 {
			body["fields"] = verr.Fields
		}
		var rerr *apperr.RateLimitedError
		if errors.As(err, &rerr) && rerr.RetryAfter > 0 {
			c.Set("Retry-After", strconv.Itoa(rerr.RetryAfter))
		}
		var ierr *apperr.InternalError
		if errors.As(err, &ierr) {
			body["request_id"] = ierr.RequestID
			body["message"] = "internal error"
		}
		return c.Status(typed.StatusCode()).JSON(body)
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(fiber.Map{"code": "ERROR", "message": fiberErr.Message})
	}

	requestID, _ := c.Locals("request_id").(string)
	logrus.WithError(err).WithFields(observability.Fields{
		"request_id": requestID, "path": c.Path(),
	}).Error("unhandled error")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"code": "INTERNAL", "message": "internal error", "request_id": requestID,
	})
}

func requestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals("request_id", id)
		c.Set("X-Request-Id", id)
		return c.Next()
	}
}

func httpMetrics(m *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		code := c.Response().StatusCode()
		if err != nil {
			var typed apperr.Typed
			if errors.As(err, &typed) {
				code = typed.StatusCode()
			}
		}
		m.HTTPDuration.WithLabelValues(c.Route().Path, strconv.Itoa(code)).
			Observe(time.Since(start).Seconds())
		return err
	}
}

func joinOrigins(origins []string) string {
	if len(origins) == 0 {
		return "*"
	}
	out := origins[0]
	for _, o := range origins[1:] {
		out += "," + o
	}
	return out
}

// workspaceFromHeader parses the mandatory X-Workspace-Id header.
func workspaceFromHeader(c *fiber.Ctx) (uuid.UUID, error) {
	raw := c.Get("X-Workspace-Id")
	if raw == "" {
		return uuid.Nil, apperr.NewValidation("X-Workspace-Id header is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.NewValidation("X-Workspace-Id must be a UUID")
	}
	return id, nil
}
