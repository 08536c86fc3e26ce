package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/BatFabn/WarehouseContainerManager/internal/config"
	"github.com/BatFabn/WarehouseContainerManager/internal/database"
	"github.com/BatFabn/WarehouseContainerManager/internal/distributor"
	"github.com/BatFabn/WarehouseContainerManager/internal/logger"
	"github.com/BatFabn/WarehouseContainerManager/internal/metrics"
	"github.com/BatFabn/WarehouseContainerManager/internal/rabbitmq"
	"github.com/BatFabn/WarehouseContainerManager/internal/registry"
	"github.com/BatFabn/WarehouseContainerManager/internal/retention"
	"github.com/BatFabn/WarehouseContainerManager/internal/routes"
	"github.com/BatFabn/WarehouseContainerManager/internal/service"
	"github.com/BatFabn/WarehouseContainerManager/internal/store"
)

const maxBodySize = 10 * 1024 * 1024

func main() {
	if err := logger.Init(os.Getenv("LOG_LEVEL")); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()
	log := logger.Logger

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	// PostgreSQL
	db, err := database.Connect(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := database.RunMigrations(database.DefaultMigrationsSource, &cfg.Database, log); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Event channel
	rmq := rabbitmq.NewConnection(&cfg.RabbitMQ, rabbitmq.NewTopology(cfg.Channel.Topic), log)
	if err := rmq.Connect(); err != nil {
		log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promRegistry)

	recordStore := store.NewPostgresStore(db)
	enforcer, err := retention.NewEnforcer(recordStore, cfg.Retention.PerKeyCap, cfg.Retention.GlobalCap, log)
	if err != nil {
		log.Fatal("Invalid retention settings", zap.Error(err))
	}

	subscribers := registry.New(log, m)

	notifier, err := service.NewNotifier(&cfg.SMTP, log)
	if err != nil {
		log.Fatal("Failed to configure alerts", zap.Error(err))
	}

	engine, images, err := service.NewEngine(&cfg.Classifier, log)
	if err != nil {
		log.Fatal("Failed to configure classifiers", zap.Error(err))
	}

	dist := distributor.NewDistributor(&cfg.Distributor, rmq, enforcer, subscribers, notifier, m, log)
	if err := dist.Start(); err != nil {
		log.Fatal("Failed to start distributor", zap.Error(err))
	}

	svc := &service.Service{
		Config:    cfg,
		DB:        db,
		Logger:    log,
		RMQ:       rmq,
		Store:     recordStore,
		Registry:  subscribers,
		Engine:    engine,
		Images:    images,
		Publisher: distributor.NewChannelPublisher(rmq),
		Metrics:   m,
		Gatherer:  promRegistry,
	}

	app := fiber.New(fiber.Config{
		AppName:      "Spoilage Service",
		ServerHeader: "Fiber",
		BodyLimit:    maxBodySize,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	routes.SetupRoutes(app, svc)

	go func() {
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		log.Info("Server starting",
			zap.String("address", addr),
			zap.String("topic", cfg.Channel.Topic),
		)
		if err := app.Listen(addr); err != nil {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		log.Error("Error during server shutdown", zap.Error(err))
	}

	if err := dist.Stop(); err != nil {
		log.Error("Error stopping distributor", zap.Error(err))
	}
	subscribers.Close()
	rmq.Close()

	if err := database.Close(db, log); err != nil {
		log.Error("Error closing database", zap.Error(err))
	}

	log.Info("Server stopped")
}
