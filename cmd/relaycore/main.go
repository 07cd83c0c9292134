// Relay Core - device command dispatch and state synchronisation.
//
// This is the main entry point. It wires the device registry, the command
// dispatcher, the conflict resolver, the schedule executor and the
// broadcast fanout to the device transports and the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/relay-core/internal/api"
	"github.com/nerrad567/relay-core/internal/broadcast"
	"github.com/nerrad567/relay-core/internal/command"
	"github.com/nerrad567/relay-core/internal/device"
	"github.com/nerrad567/relay-core/internal/infrastructure/config"
	"github.com/nerrad567/relay-core/internal/infrastructure/database"
	"github.com/nerrad567/relay-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/relay-core/internal/infrastructure/logging"
	"github.com/nerrad567/relay-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/relay-core/internal/infrastructure/natsbus"
	"github.com/nerrad567/relay-core/internal/schedule"
	"github.com/nerrad567/relay-core/internal/transport"
	"github.com/nerrad567/relay-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// busClient is what run needs from either pub/sub driver.
type busClient interface {
	transport.Bus
	api.HealthChecker
	Close() error
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Deferred cleanup runs in reverse start order once ctx is cancelled.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Relay Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"site", cfg.Site.ID,
		"timezone", cfg.Site.Timezone,
	)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Core components
	deviceRepo := device.NewSQLiteRepository(db.DB)
	registry := device.NewRegistry(deviceRepo)
	registry.SetLogger(log)
	registry.SetHeartbeatTimeout(cfg.Registry.HeartbeatTimeout)
	if loadErr := registry.LoadAll(ctx); loadErr != nil {
		return fmt.Errorf("loading device registry: %w", loadErr)
	}
	log.Info("device registry loaded", "devices", registry.Count())

	fanout := broadcast.New(registry, 0)
	fanout.SetLogger(log)
	defer fanout.Close()
	registry.SetConnectivitySink(fanout)

	syncer := device.NewSynchronizer(registry, deviceRepo, fanout)
	syncer.SetLogger(log)

	commandRepo := command.NewSQLiteRepository(db.DB)
	dispatcher := command.NewDispatcher(registry, syncer, commandRepo, command.Options{
		AckTimeout:   cfg.Dispatch.AckTimeout,
		CommandGrace: cfg.Dispatch.CommandGrace,
		QueueTTL:     cfg.Queue.TTL,
		QueueCleanup: cfg.Queue.CleanupInterval,
	})
	dispatcher.SetLogger(log)
	dispatcher.SetNotifier(fanout)

	resolver := command.NewResolver(dispatcher, commandRepo, cfg.Conflict.Window)
	resolver.SetLogger(log)

	go registry.Run(ctx, cfg.Registry.SweepInterval)
	go dispatcher.Run(ctx)

	executor := schedule.NewExecutor(schedule.NewSQLiteRepository(db.DB), dispatcher, registry, schedule.Options{
		Tick:      cfg.Schedule.Tick,
		Tolerance: cfg.Schedule.Tolerance,
		Location:  cfg.Location(),
	})
	executor.SetLogger(log)
	if loadErr := executor.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading schedules: %w", loadErr)
	}
	if startErr := executor.Start(ctx); startErr != nil {
		return fmt.Errorf("starting schedule executor: %w", startErr)
	}
	defer func() {
		log.Info("stopping schedule executor")
		executor.Stop()
	}()

	checks := map[string]api.HealthChecker{"database": db}

	// Device transports
	handler := transport.NewHandler(registry, dispatcher, resolver)
	handler.SetLogger(log)

	push := transport.NewPush(handler, registry, cfg.WebSocket)
	push.SetLogger(log)
	defer push.Close()

	topics := mqtt.Topics{Prefix: cfg.Bus.TopicPrefix}
	bus, err := connectBus(cfg, topics, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("disconnecting from bus", "driver", cfg.Bus.Driver)
		if closeErr := bus.Close(); closeErr != nil {
			log.Error("error closing bus", "error", closeErr)
		}
	}()
	checks[cfg.Bus.Driver] = bus

	qos := byte(cfg.MQTT.QoS)
	busTransport := transport.NewBusTransport(bus, topics, handler, registry, qos)
	busTransport.SetLogger(log)
	if startErr := busTransport.Start(ctx); startErr != nil {
		return fmt.Errorf("starting bus transport: %w", startErr)
	}
	defer busTransport.Stop()

	publisher := transport.NewStatePublisher(bus, topics, qos)
	publisher.SetLogger(log)
	defer fanout.Subscribe("bus-publisher", publisher).Unsubscribe()

	// Telemetry (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		checks["influxdb"] = influxClient
		defer fanout.Subscribe("telemetry", broadcast.NewTelemetry(influxClient)).Unsubscribe()
		log.Info("InfluxDB telemetry enabled", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// HTTP API
	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log,
		Registry:   registry,
		Dispatcher: dispatcher,
		Resolver:   resolver,
		Schedules:  executor,
		Fanout:     fanout,
		DevicePush: push,
		Checks:     checks,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// connectBus connects the configured pub/sub driver.
func connectBus(cfg *config.Config, topics mqtt.Topics, log *logging.Logger) (busClient, error) {
	switch cfg.Bus.Driver {
	case config.BusDriverNATS:
		client, err := natsbus.Connect(cfg.NATS)
		if err != nil {
			return nil, fmt.Errorf("connecting to NATS: %w", err)
		}
		client.SetLogger(log)
		log.Info("NATS connected", "url", cfg.NATS.URL)
		return client, nil
	default:
		client, err := mqtt.Connect(cfg.MQTT, topics)
		if err != nil {
			return nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		client.SetLogger(log)
		client.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		client.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		return client, nil
	}
}

// getConfigPath returns the configuration file path.
// Uses RELAYCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("RELAYCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck runs every dependency check once and returns the first failure.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
