// Package main provides the Approvia API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/approvia/approvia/pkg/directory"
	"github.com/approvia/approvia/pkg/engine"
	"github.com/approvia/approvia/pkg/eventbus"
	"github.com/approvia/approvia/pkg/flow"
	"github.com/approvia/approvia/pkg/persistence"
	"github.com/approvia/approvia/pkg/persistence/postgresql"
	"github.com/approvia/approvia/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	locker      engine.Locker
	tracer      trace.Tracer
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	locker engine.Locker,
	tracer trace.Tracer,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		eventBus:    eventBus,
		locker:      locker,
		tracer:      tracer,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// dir picks the org directory backing assignee resolution. The SQL store
// shares its connection with the platform's org tables; the file store falls
// back to passthrough user ids.
func (a *API) dir() directory.Directory {
	if pg, ok := a.persistence.(*postgresql.Persistence); ok {
		return directory.NewPostgres(pg.DB())
	}

	return directory.NewStatic()
}

func (a *API) App() *fiber.App {
	dir := a.dir()
	scheduler := engine.NewScheduler(a.persistence, dir, a.eventBus, a.logger)
	flowService := flow.NewService(a.persistence, a.eventBus, a.logger)
	instanceService := engine.NewInstanceService(a.persistence, scheduler, a.locker, a.eventBus, a.tracer, a.logger)
	processor := engine.NewProcessor(a.persistence, dir, scheduler, a.locker, a.eventBus, a.tracer, a.logger)
	inbox := engine.NewInbox(a.persistence)

	handlers := web.NewAPIHandlers(flowService, instanceService, processor, inbox, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Approvia API")
	})

	v1 := app.Group("/v1/approval")

	flows := v1.Group("/flows")
	flows.Get("/", handlers.ListFlows)
	flows.Post("/", handlers.CreateFlow)
	flows.Get("/:id", handlers.GetFlow)
	flows.Put("/:id", handlers.UpdateFlow)
	flows.Delete("/:id", handlers.DeleteFlow)
	flows.Post("/:id/publish", handlers.PublishFlow)
	flows.Post("/:id/unpublish", handlers.UnpublishFlow)

	instances := v1.Group("/instances")
	instances.Get("/", handlers.ListInstances)
	instances.Post("/", handlers.StartInstance)
	instances.Get("/:id", handlers.GetInstance)
	instances.Post("/:id/cancel", handlers.CancelInstance)
	instances.Delete("/:id", handlers.DeleteInstance)

	steps := v1.Group("/steps")
	steps.Post("/:id/process", handlers.ProcessStep)
	steps.Post("/:id/read", handlers.MarkStepRead)

	my := v1.Group("/my")
	my.Get("/todo", handlers.MyTodo)
	my.Get("/done", handlers.MyDone)
	my.Get("/initiated", handlers.MyInitiated)
	my.Get("/cc", handlers.MyCc)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
