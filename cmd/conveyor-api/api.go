// Package main provides the Conveyor API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/conveyor-ci/conveyor/pkg/artifacts"
	"github.com/conveyor-ci/conveyor/pkg/eventbus"
	"github.com/conveyor-ci/conveyor/pkg/persistence"
	"github.com/conveyor-ci/conveyor/pkg/registry"
	"github.com/conveyor-ci/conveyor/pkg/services"
	"github.com/conveyor-ci/conveyor/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger        *slog.Logger
	persistence   persistence.Persistence
	registry      *registry.Registry
	eventBus      eventbus.EventBus
	artifactStore *artifacts.Store
	validate      *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
	artifactStore *artifacts.Store,
) *API {
	return &API{
		logger:        logger,
		persistence:   persistence,
		registry:      registry,
		eventBus:      eventBus,
		artifactStore: artifactStore,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	workflowService := services.NewWorkflow(a.persistence)
	publishingService := services.NewPublishing(a.persistence)
	runService := services.NewRun(a.persistence)
	dispatchService := services.NewDispatchService(a.persistence, a.eventBus, a.logger)

	handlers := web.NewAPIHandlers(
		workflowService,
		publishingService,
		runService,
		dispatchService,
		a.artifactStore,
		a.validate,
		a.registry,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Conveyor API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/publish", handlers.PublishWorkflow)
	w.Post("/:id/unpublish", handlers.UnpublishWorkflow)
	w.Post("/:id/dispatch", handlers.DispatchWorkflow)

	r := app.Group("/runs")
	r.Get("/", handlers.GetRuns)
	r.Get("/:id", handlers.GetRun)
	r.Get("/:id/instances", handlers.GetRunInstances)
	r.Post("/:id/redispatch", handlers.RedispatchRun)
	r.Get("/:id/artifacts", handlers.GetRunArtifacts)
	r.Get("/:id/artifacts/:name", handlers.GetRunArtifact)
	r.Get("/:id/artifacts/:name/files/*", handlers.DownloadArtifactFile)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
