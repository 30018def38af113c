package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"medicine-dispatch/internal/api"
	"medicine-dispatch/internal/api/middleware"
	"medicine-dispatch/internal/config"
	"medicine-dispatch/internal/events"
	"medicine-dispatch/internal/modules/device"
	"medicine-dispatch/internal/modules/inventory"
	"medicine-dispatch/internal/modules/logistics"
	"medicine-dispatch/internal/modules/medicines"
	"medicine-dispatch/internal/modules/orders"
	"medicine-dispatch/internal/modules/pickuppoints"
	"medicine-dispatch/internal/platform/db"
	"medicine-dispatch/internal/storage/memory"
	"medicine-dispatch/pkg/broker"
	"medicine-dispatch/pkg/email"
	"medicine-dispatch/pkg/kafka"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

// repositories is the storage every module reads and writes. Both drivers
// fill every field.
type repositories struct {
	orders       orders.RepositoryInterface
	machines     logistics.RepositoryInterface
	inventory    inventory.RepositoryInterface
	medicines    medicines.RepositoryInterface
	pickupPoints pickuppoints.RepositoryInterface
	pool         *pgxpool.Pool
}

func main() {
	// 1. --- Configuration ---
	// Settings come from app.env, .env and the environment: database, broker,
	// secrets, alerting.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	logger := newLogger(cfg)

	// 2. --- Storage ---
	ctx := context.Background()
	repos, err := openRepositories(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to open storage")
	}
	if repos.pool != nil {
		defer repos.pool.Close()
	}

	// 3. --- Dependency Injection (Wiring everything up) ---
	hub := events.NewHub(logger.WithField("component", "events"))

	mqttClient := broker.New(broker.Config{
		URL:      cfg.MQTTBrokerURL,
		ClientID: cfg.MQTTClientID,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
		QoS:      cfg.MQTTQoS,
		LaneKey:  device.MessageLane,
	}, logger)
	notifier := device.NewNotifier(mqttClient, repos.machines, logger.WithField("component", "notifier"))

	// --- Catalog and schedule ---
	medicineHandler := medicines.NewHandler(medicines.NewService(repos.medicines))
	pickupPointHandler := pickuppoints.NewHandler(pickuppoints.NewService(repos.pickupPoints))

	// --- Inventory Module ---
	ledger := inventory.NewLedger(repos.inventory, logger.WithField("component", "ledger"))
	inventoryService := inventory.NewService(repos.inventory, hub, logger)
	inventoryHandler := inventory.NewHandler(inventoryService)

	// --- Logistics Module ---
	assignService := logistics.NewAssignService(repos.machines, repos.inventory, repos.pickupPoints, logger.WithField("component", "assign"))
	routeService := logistics.NewRouteService(repos.machines, repos.pickupPoints, logger.WithField("component", "routes"))
	trackingService := logistics.NewTrackingService(repos.machines, repos.orders, logger.WithField("component", "tracking"))
	logisticsService := logistics.NewService(repos.machines, assignService, hub, logger)
	logisticsHandler := logistics.NewHandler(logisticsService, routeService, trackingService)

	// --- Orders Module ---
	orderService := orders.NewService(repos.orders, orders.Dependencies{
		Medicines: repos.medicines,
		Machines:  repos.machines,
		Ledger:    ledger,
		Notifier:  notifier,
		Assigner:  assignService,
		Payment:   orders.DelayedPayment{Delay: cfg.PaymentDelay},
	}, hub, logger.WithField("component", "orders"))
	orderHandler := orders.NewHandler(orderService)

	// --- Device gateway ---
	gateway := device.NewGateway(repos.machines, ledger, orderService, notifier, logger.WithField("component", "gateway"))
	deviceHandler := device.NewHandler(gateway)

	// --- Event subscribers ---
	hub.Subscribe("notifier", notifier.HandleEvent, events.NameSlotChanged, events.NameSlotRemoved, events.NameMachineDeleted)
	hub.Subscribe("tracking", trackingService.OnOrderStatusChanged, events.NameOrderStatusChanged)

	var producer *kafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer, err = kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			logger.WithError(err).Fatal("failed to create kafka producer")
		}
		hub.Subscribe("kafka", producer.HandleEvent, events.NameOrderStatusChanged)
	}

	var alerter *email.Alerter
	if recipients := splitRecipients(cfg.EmailAlertTo); cfg.EmailRegion != "" && cfg.EmailFrom != "" && len(recipients) > 0 {
		alerter, err = newAlerter(ctx, cfg, recipients, logger)
		if err != nil {
			logger.WithError(err).Fatal("failed to set up email alerts")
		}
		hub.Subscribe("email", alerter.HandleEvent, events.NameOrderStatusChanged, events.NameDeviceAnomaly)
	}

	// 4. --- Broker ---
	mqttClient.Subscribe(device.InboundFilters, gateway.Handle)
	if cfg.MQTTBrokerURL == "" {
		logger.Warn("MQTT_BROKER_URL not set, machines can only be reached through the HTTP bridge")
	} else if err := mqttClient.Connect(ctx); err != nil {
		// paho keeps retrying in the background.
		logger.WithError(err).Warn("mqtt broker not reachable yet")
	}

	// 5. --- HTTP server ---
	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{cfg.ClientOrigin},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, middleware.APIKeyHeader},
	}))
	e.Use(middleware.RequestLogger(logger))

	api.SetupRoutes(e, api.Handlers{
		Orders:       orderHandler,
		Logistics:    logisticsHandler,
		Assign:       logistics.NewAssignHandler(assignService),
		Inventory:    inventoryHandler,
		Medicines:    medicineHandler,
		PickupPoints: pickupPointHandler,
		Device:       deviceHandler,
	}, cfg.JWTSecret, cfg.APIKeyHash)

	// 6. --- Start Server with graceful shutdown logic ---
	go func() {
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("shutting down the server, an error occurred")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server forced to shutdown")
	}
	trackingService.Close()
	mqttClient.Close()
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.WithError(err).Warn("kafka producer close failed")
		}
	}
	if alerter != nil {
		alerter.Close()
	}
	logger.Info("server exiting")
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if cfg.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithField("log_level", cfg.LogLevel).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func openRepositories(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (repositories, error) {
	if cfg.DatabaseDriver == config.DriverMemory {
		logger.Warn("using the in-memory store, data is lost on exit")
		store := memory.NewStore()
		return repositories{
			orders:       store,
			machines:     store,
			inventory:    store,
			medicines:    store,
			pickupPoints: store,
		}, nil
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return repositories{}, err
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return repositories{}, err
	}
	logger.Info("successfully connected to the database")

	return repositories{
		orders:       orders.NewRepository(pool),
		machines:     logistics.NewRepository(pool),
		inventory:    inventory.NewRepository(pool),
		medicines:    medicines.NewRepository(pool),
		pickupPoints: pickuppoints.NewRepository(pool),
		pool:         pool,
	}, nil
}

func newAlerter(ctx context.Context, cfg *config.Config, to []string, logger logrus.FieldLogger) (*email.Alerter, error) {
	sender, err := email.NewSESV2Sender(ctx, cfg.EmailRegion, cfg.EmailFrom, logger)
	if err != nil {
		return nil, err
	}
	templates, err := email.NewTemplateManager()
	if err != nil {
		return nil, err
	}
	return email.NewAlerter(sender, templates, to, logger.WithField("component", "alerts")), nil
}

func splitRecipients(s string) []string {
	var out []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
