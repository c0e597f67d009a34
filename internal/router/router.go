package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/edugrade-api/internal/config"
	"github.com/noah-isme/edugrade-api/internal/handler"
	"github.com/noah-isme/edugrade-api/internal/middleware"
	"github.com/noah-isme/edugrade-api/internal/observability"
	"github.com/noah-isme/edugrade-api/internal/service"
)

// FilesRoute is where locally stored submission files are served.
const FilesRoute = "/files"

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	Resolver            service.IdentityResolver
	SubmissionHandler   *handler.SubmissionHandler
	DashboardHandler    *handler.DashboardHandler
	NotificationHandler *handler.NotificationHandler
	ProfileHandler      *handler.ProfileHandler
	ActivityHandler     *handler.ActivityHandler
	// FilesDir is served under FilesRoute, to the owning student or a teacher,
	// when submissions are stored on local disk.
	FilesDir string
	// FilesBase is the prefix local storage writes into file_url. Defaults to FilesRoute.
	FilesBase string
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	app.Get("/metrics", observability.MetricsHandler())

	authenticate := func(c *fiber.Ctx) error { return c.Next() }
	if deps.Resolver != nil {
		authenticate = middleware.Authenticate(deps.Resolver)
	}

	if deps.FilesDir != "" && deps.SubmissionHandler != nil {
		base := deps.FilesBase
		if base == "" {
			base = FilesRoute
		}
		app.Get(FilesRoute+"/:name", authenticate, middleware.RequireIdentity(), deps.SubmissionHandler.ServeFile(base, deps.FilesDir))
	}

	v2 := app.Group("/api/v2", authenticate, middleware.RequireIdentity())

	if deps.ProfileHandler != nil {
		deps.ProfileHandler.Register(v2)
	}

	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.Register(v2.Group("/submissions"))
	}

	if deps.DashboardHandler != nil {
		deps.DashboardHandler.Register(v2.Group("/dashboard"))
	}

	if deps.NotificationHandler != nil {
		deps.NotificationHandler.Register(v2.Group("/notifications"))
	}

	if deps.ActivityHandler != nil {
		deps.ActivityHandler.Register(v2.Group("/activity"))
	}
}
