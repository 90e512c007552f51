// Pixelgrid Core - pixel display fleet controller
//
// This is the main entry point for the Pixelgrid Core application.
// Pixelgrid drives a fleet of small pixel displays (LED matrices, e-ink
// tiles, simulators) from one controller:
//   - Per-device render loops with crash isolation
//   - Scene switching over MQTT and HTTP with stale-frame gating
//   - Hot-swappable display drivers
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/pixelgrid-core/migrations"

	"github.com/nerrad567/pixelgrid-core/internal/api"
	"github.com/nerrad567/pixelgrid-core/internal/device"
	"github.com/nerrad567/pixelgrid-core/internal/dispatch"
	"github.com/nerrad567/pixelgrid-core/internal/driver"
	"github.com/nerrad567/pixelgrid-core/internal/infrastructure/config"
	"github.com/nerrad567/pixelgrid-core/internal/infrastructure/database"
	"github.com/nerrad567/pixelgrid-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/pixelgrid-core/internal/infrastructure/logging"
	"github.com/nerrad567/pixelgrid-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/pixelgrid-core/internal/scene"
	"github.com/nerrad567/pixelgrid-core/internal/scheduler"
	"github.com/nerrad567/pixelgrid-core/internal/watchdog"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Pixelgrid Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Connect to MQTT broker
	topics := mqtt.NewTopics(cfg.Fleet.Namespace)
	mqttClient, err := mqtt.Connect(cfg.MQTT, topics)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"namespace", cfg.Fleet.Namespace,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional, frame metrics)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Driver factory: built-ins plus the protocol drivers that need runtime
	// collaborators.
	factory := driver.NewFactory()
	if err := factory.RegisterBuiltins(); err != nil {
		return fmt.Errorf("registering builtin drivers: %w", err)
	}
	if err := factory.Register(driver.KindHTTPMatrix, driver.NewHTTPMatrix); err != nil {
		return fmt.Errorf("registering httpmatrix driver: %w", err)
	}
	if err := factory.Register(driver.KindMQTTMatrix, driver.NewMQTTMatrixConstructor(mqttClient)); err != nil {
		return fmt.Errorf("registering mqttmatrix driver: %w", err)
	}
	log.Info("driver factory ready", "kinds", factory.Kinds())

	// Scene table
	scenes := scene.NewRegistry()
	if err := scene.RegisterBuiltins(scenes); err != nil {
		return fmt.Errorf("registering builtin scenes: %w", err)
	}
	log.Info("scene table ready", "scenes", scenes.Count())

	// Device registry
	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB), factory, device.Defaults{
		Width:        32,
		Height:       8,
		DefaultScene: cfg.Scheduler.FallbackScene,
	})
	registry.SetLogger(log.With("component", "device"))
	defer registry.Close()

	if err := seedDevices(ctx, cfg, registry, log); err != nil {
		return fmt.Errorf("seeding devices: %w", err)
	}

	resume, err := registry.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconciling device registry: %w", err)
	}
	log.Info("device registry initialised", "devices", registry.Count())

	// Status fanout: scene states and errors to the bus, metrics to the bus
	// and InfluxDB, everything mirrored to WebSocket clients.
	publisher := dispatch.NewStatusPublisher(mqttClient, topics)
	publisher.SetLogger(log.With("component", "publisher"))
	if influxClient != nil {
		publisher.SetFrameWriter(influxClient)
	}

	// Scheduler: one render loop per device
	sched := scheduler.New(registry, scenes, cfg.Scheduler)
	sched.SetNotifier(publisher)
	sched.SetMetrics(publisher)
	sched.SetLogger(log.With("component", "scheduler"))
	defer func() {
		log.Info("stopping scheduler")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.RenderTimeout)
		defer cancel()
		if err := sched.Shutdown(shutdownCtx); err != nil {
			log.Warn("scheduler shutdown incomplete", "error", err)
		}
	}()

	// Resume scenes that were playing when the process last stopped
	for i := range resume {
		rec := &resume[i]
		if _, err := sched.SwitchScene(ctx, rec.ID, rec.ActiveScene, scheduler.SourceAutomated); err != nil {
			log.Warn("resuming scene failed",
				"device_id", rec.ID, "scene", rec.ActiveScene, "error", err)
		}
	}
	if len(resume) > 0 {
		log.Info("resumed scenes", "devices", len(resume))
	}

	// Command dispatcher, shared by the MQTT consumer and the HTTP API
	dispatcher := dispatch.NewDispatcher(sched, registry, scenes, publisher)
	dispatcher.SetLogger(log.With("component", "dispatch"))

	if err := dispatch.BindConsumer(mqttClient, topics, dispatcher); err != nil {
		return fmt.Errorf("binding command consumer: %w", err)
	}
	log.Info("command consumer bound", "topic", topics.AllDeviceCommands())

	// HTTP API + WebSocket relay
	apiServer, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log.With("component", "api"),
		Registry:   registry,
		Scenes:     scenes,
		Drivers:    factory,
		Dispatcher: dispatcher,
		States:     sched,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	publisher.SetBroadcaster(apiServer.Hub())

	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Watchdog: recover devices with dead or stalled render loops
	wd := watchdog.New(cfg.Watchdog, registry, sched, scenes)
	wd.SetLogger(log.With("component", "watchdog"))
	wd.Start(ctx)
	defer wd.Close()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// watchdog, API, scheduler, registry, InfluxDB, MQTT, database.

	log.Info("Pixelgrid Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses PIXELGRID_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("PIXELGRID_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// seedDevices creates the devices declared in configuration. Devices that
// already exist are left untouched; seeding only declares, never overwrites.
func seedDevices(ctx context.Context, cfg *config.Config, registry *device.Registry, log *logging.Logger) error {
	for _, seed := range cfg.Devices {
		rec := &device.Record{
			ID:                 seed.ID,
			Name:               seed.Name,
			DriverKind:         seed.Driver,
			Address:            seed.Address,
			Width:              seed.Width,
			Height:             seed.Height,
			SupportsBrightness: seed.Brightness,
			SupportsPower:      seed.Power,
			Brightness:         100,
			DefaultScene:       seed.Scene,
		}
		if rec.DriverKind == "" {
			rec.DriverKind = driver.KindNoop
		}

		err := registry.Create(ctx, rec)
		switch {
		case err == nil:
			log.Info("seeded device", "device_id", seed.ID, "driver", rec.DriverKind)
		case errors.Is(err, device.ErrDeviceExists):
			// Already known; runtime state wins over config.
		default:
			return fmt.Errorf("seeding device %q: %w", seed.ID, err)
		}
	}
	return nil
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
