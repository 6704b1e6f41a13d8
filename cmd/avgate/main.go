// avgate - AV Device Command Gateway
//
// This is the main entry point for the avgate service. It serialises
// commands to rack AV devices (matrix switchers, DSPs, IR blasters) over
// TCP and UDP, streams their telemetry, and exposes the lot over HTTP,
// WebSocket and MQTT.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/silverlink-av/avgate-core/migrations"

	"github.com/silverlink-av/avgate-core/internal/api"
	"github.com/silverlink-av/avgate-core/internal/codec"
	"github.com/silverlink-av/avgate-core/internal/device"
	"github.com/silverlink-av/avgate-core/internal/gateway"
	"github.com/silverlink-av/avgate-core/internal/infrastructure/config"
	"github.com/silverlink-av/avgate-core/internal/infrastructure/database"
	"github.com/silverlink-av/avgate-core/internal/infrastructure/influxdb"
	"github.com/silverlink-av/avgate-core/internal/infrastructure/logging"
	"github.com/silverlink-av/avgate-core/internal/infrastructure/mqtt"
	"github.com/silverlink-av/avgate-core/internal/ircode"
	"github.com/silverlink-av/avgate-core/internal/power"
	"github.com/silverlink-av/avgate-core/internal/telemetry"
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
	log.Info("starting avgate",
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
	log.Info("configuration loaded", "path", configPath, "devices", len(cfg.Devices))

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database (IR code library)
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

	codeStore := ircode.NewSQLiteStore(db)

	// Build the device registry from config
	registry, err := device.NewRegistry(cfg.Devices)
	if err != nil {
		return fmt.Errorf("building device registry: %w", err)
	}

	// Telemetry hub: UDP listeners start lazily as subscribers arrive
	hub := telemetry.NewHub(telemetry.Options{
		Registry:   registry,
		BufferSize: cfg.Gateway.TelemetryBuffer,
		Logger:     log,
	})
	defer func() {
		log.Info("closing telemetry hub")
		if closeErr := hub.Close(); closeErr != nil {
			log.Error("error closing telemetry hub", "error", closeErr)
		}
	}()

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
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
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
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

	// Command gateway: one worker per device
	gw, err := gateway.New(gateway.Options{
		Config:   cfg,
		Registry: registry,
		Hub:      hub,
		OnResult: resultPublisher(mqttClient, cfg.MQTT.QoS, log),
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}
	defer func() {
		log.Info("closing gateway")
		if closeErr := gw.Close(); closeErr != nil {
			log.Error("error closing gateway", "error", closeErr)
		}
	}()

	// Fan telemetry out to the broker and the time-series store
	if mqttClient != nil {
		hub.AddSink(gateway.NewMQTTSink(mqttClient, byte(cfg.MQTT.QoS)))
	}
	if influxClient != nil {
		hub.AddSink(gateway.NewInfluxSink(influxClient))
	}

	// Rack power meter poller (optional)
	if cfg.Power.Enabled {
		poller, pollerErr := power.NewPoller(power.Deps{
			Config:  cfg.Power,
			Publish: hub.Publish,
			Logger:  log,
		})
		if pollerErr != nil {
			return fmt.Errorf("building power poller: %w", pollerErr)
		}
		go func() {
			if runErr := poller.Run(ctx); runErr != nil {
				log.Error("power poller stopped", "error", runErr)
			}
		}()
		log.Info("power poller started",
			"meter", fmt.Sprintf("%s:%d", cfg.Power.Host, cfg.Power.Port),
			"interval_s", cfg.Power.IntervalSeconds,
		)
	}

	// Periodic health snapshots to MQTT
	if mqttClient != nil {
		healthPub := gateway.NewHealthPublisher(gw, mqttClient, 0, log)
		go healthPub.Run()
		defer healthPub.Close()
	}

	// HTTP API and WebSocket telemetry
	server, err := api.New(api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log,
		Gateway: gw,
		Codes:   codeStore,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("closing API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Hot-reload the device inventory on config file changes
	watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		if reloadErr := gw.ReloadDevices(newCfg.Devices); reloadErr != nil {
			log.Error("device reload rejected, keeping previous inventory", "error", reloadErr)
			return
		}
		log.Info("device inventory reloaded", "devices", len(newCfg.Devices))
	}, log)
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	go watcher.Run(ctx)

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
	// API server, health publisher, gateway, InfluxDB, MQTT, hub, database.

	log.Info("avgate stopped")
	return nil
}

// resultPublisher builds the gateway's OnResult callback: each completed
// command result is published to avgate/result/{device}. Nil when MQTT
// is disabled.
func resultPublisher(client *mqtt.Client, qos int, log *logging.Logger) gateway.ResultFunc {
	if client == nil {
		return nil
	}
	topics := mqtt.Topics{}
	return func(r codec.Result) {
		payload, err := json.Marshal(r)
		if err != nil {
			log.Error("encoding command result", "error", err)
			return
		}
		if err := client.Publish(topics.CommandResult(r.DeviceID), payload, byte(qos), false); err != nil {
			log.Warn("publishing command result",
				"device", r.DeviceID,
				"correlation_id", r.CorrelationID,
				"error", err,
			)
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses AVGATE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("AVGATE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// MQTT and InfluxDB are skipped when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
