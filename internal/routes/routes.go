package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BatFabn/WarehouseContainerManager/internal/handlers"
	"github.com/BatFabn/WarehouseContainerManager/internal/service"
)

// SetupRoutes configures all application routes with dependencies
func SetupRoutes(app *fiber.App, svc *service.Service) {
	healthHandler := handlers.NewHealthHandler(svc.DB, svc.RMQ, svc.Logger)
	ingestHandler := handlers.NewIngestHandler(svc.Engine, svc.Images, svc.Publisher, svc.Metrics, svc.Logger)

	historyHandler := handlers.NewHistoryHandler(svc.Store, svc.Config.Server.HistoryLimit, svc.Logger)
	subscribeHandler := handlers.NewSubscribeHandler(svc.Registry, svc.Config.Distributor.SubscriberWriteTimeout, svc.Logger)

	app.Get("/health", healthHandler.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(svc.Gatherer, promhttp.HandlerOpts{})))

	// Real-time feed of distributed sensor messages
	app.Get("/subscribe", subscribeHandler.RequireUpgrade, subscribeHandler.Handler())

	api := app.Group("/api/v1")
	{
		api.Get("/", func(c *fiber.Ctx) error {
			return c.JSON(fiber.Map{
				"message": "Spoilage Service API v1",
				"status":  "running",
			})
		})

		api.Post("/predict", ingestHandler.Predict)
		api.Post("/sensor", ingestHandler.Sensor)

		api.Get("/data", historyHandler.GetHistory)
		api.Get("/data/latest", historyHandler.GetLatest)
	}
}
