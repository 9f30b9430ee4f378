// DeviceHub - MQTT device control hub
//
// This is the main entry point for the device hub. It loads the device
// declarations from configuration, binds each device to its adapter, wires
// the devices to the MQTT bus and serves the HTTP/WebSocket API.
//
// Commands arrive either as bus messages on /devices/{id}/controls/{command}
// or as API calls, and both run through the same dispatch pipeline.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/devicehub/internal/adapters/virtual"
	"github.com/nerrad567/devicehub/internal/api"
	"github.com/nerrad567/devicehub/internal/audit"
	"github.com/nerrad567/devicehub/internal/device"
	"github.com/nerrad567/devicehub/internal/infrastructure/config"
	"github.com/nerrad567/devicehub/internal/infrastructure/database"
	"github.com/nerrad567/devicehub/internal/infrastructure/influxdb"
	"github.com/nerrad567/devicehub/internal/infrastructure/logging"
	"github.com/nerrad567/devicehub/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicehub/migrations"
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

// shutdownTimeout bounds adapter shutdown and offline marker publishing.
const shutdownTimeout = 10 * time.Second

// errUnknownAdapter is returned for a device whose adapter name is not built in.
var errUnknownAdapter = errors.New("unknown adapter")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		err = runMigrate(ctx, os.Args[2:], os.Stdout)
	} else {
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // startup sequence reads top to bottom
	log := logging.Default()
	log.Info("starting DeviceHub",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Database
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	applied, _, statusErr := db.GetMigrationStatus(ctx, migrations.FS)
	if statusErr != nil {
		return fmt.Errorf("reading migration status: %w", statusErr)
	}
	log.Info("database migrations complete", "schema_version", schemaVersion(applied))

	// Devices
	registry, err := buildRegistry(cfg.Devices, cfg.MQTT.QoS, log.Component("device"))
	if err != nil {
		return fmt.Errorf("building device registry: %w", err)
	}

	commandLog := audit.NewSQLiteRepository(db.DB)
	registry.SetCommandRecorder(commandLog)

	var stateHistory device.StateHistoryRepository
	if cfg.History.Enabled {
		repo := device.NewSQLiteStateHistoryRepository(db.DB)
		stateHistory = repo
		registry.AddObserver(device.NewHistoryObserver(repo, registry, log.Component("history")))
		go device.RunPruner(ctx, repo, cfg.GetHistoryRetention(), cfg.GetPruneInterval(), log.Component("history"))
		log.Info("state history enabled", "retention_days", cfg.History.RetentionDays)
	}

	// InfluxDB (optional)
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		registry.AddObserver(influxObserver(registry, influxClient))
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Adapters seed their state before the bus can deliver commands.
	if startErr := registry.Start(ctx); startErr != nil {
		log.Warn("some devices failed to start", "error", startErr)
	}
	log.Info("device registry started", "devices", registry.Stats().Devices)

	// MQTT
	bus := mqtt.New(cfg.MQTT)
	bus.SetLogger(log.Component("mqtt"))
	bus.SetOnConnect(registry.Announce)
	bus.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	bus.SetOnFatal(func(err error) {
		log.Error("MQTT reconnect attempts exhausted", "error", err)
	})

	if wireErr := registry.WireAll(bus); wireErr != nil {
		return fmt.Errorf("wiring devices: %w", wireErr)
	}
	// Registered before Connect: an interrupted Connect leaves the
	// reconnect loop running in the background.
	defer func() {
		log.Info("disconnecting from MQTT")
		bus.Disconnect()
	}()
	if connErr := bus.Connect(ctx, nil); connErr != nil {
		return fmt.Errorf("connecting to MQTT: %w", connErr)
	}

	// API
	server, err := api.New(api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Logger:       log.Component("api"),
		Registry:     registry,
		Bus:          bus,
		StateHistory: stateHistory,
		CommandLog:   commandLog,
		DB:           db,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	registry.AddObserver(server)
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, bus, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Devices go offline while the bus is still connected.
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if stopErr := registry.Stop(stopCtx); stopErr != nil {
		log.Error("error stopping devices", "error", stopErr)
	}

	log.Info("DeviceHub stopped")
	return nil
}

// getConfigPath returns the configuration file path from environment or default.
func getConfigPath() string {
	if path := os.Getenv("DEVICEHUB_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openDatabase opens the configured SQLite database.
func openDatabase(cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// buildRegistry creates one device per declaration, in declaration order.
func buildRegistry(decls []config.DeviceConfig, qos int, logger device.Logger) (*device.Registry, error) {
	registry := device.NewRegistry()
	registry.SetLogger(logger)

	for _, dc := range decls {
		d, err := buildDevice(dc, byte(qos))
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", dc.ID, err)
		}
		if err := registry.Add(d); err != nil {
			return nil, fmt.Errorf("device %s: %w", dc.ID, err)
		}
	}
	return registry, nil
}

// buildDevice converts a device declaration and binds it to its adapter.
// A virtual device that declares no commands gets the virtual defaults.
func buildDevice(dc config.DeviceConfig, qos byte) (*device.Device, error) {
	def := device.Definition{
		ID:        dc.ID,
		Name:      dc.Name,
		Emulation: dc.Emulation,
		Commands:  commandDefs(dc.Commands),
	}

	var adapter device.Adapter
	switch dc.Adapter {
	case "", virtual.Name:
		adapter = virtual.New()
		if len(def.Commands) == 0 {
			def.Commands = virtual.DefaultCommands()
		}
	default:
		return nil, fmt.Errorf("%w %q", errUnknownAdapter, dc.Adapter)
	}

	return device.New(def, adapter, device.WithQoS(qos))
}

// commandDefs converts configured commands, keeping declaration order.
func commandDefs(cmds []config.CommandConfig) []device.CommandDef {
	if len(cmds) == 0 {
		return nil
	}
	defs := make([]device.CommandDef, 0, len(cmds))
	for _, c := range cmds {
		def := device.CommandDef{
			Name:        c.Name,
			Action:      c.Action,
			Topic:       c.Topic,
			Group:       c.Group,
			Description: c.Description,
		}
		for _, p := range c.Params {
			def.Params = append(def.Params, device.ParamDef{
				Name:     p.Name,
				Type:     device.ParamType(p.Type),
				Required: p.Required,
				Default:  p.Default,
				Min:      p.Min,
				Max:      p.Max,
			})
		}
		defs = append(defs, def)
	}
	return defs
}

// influxObserver writes every changed device state to InfluxDB.
func influxObserver(states device.StateReader, client *influxdb.Client) device.Observer {
	return device.ObserverFunc(func(deviceID string) {
		state, err := states.DeviceState(deviceID)
		if err != nil {
			return
		}
		client.WriteDeviceState(deviceID, state)
	})
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, bus *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := bus.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
