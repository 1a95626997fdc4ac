// domoprov - IoT fleet provisioning orchestrator
//
// domoprov reads the device inventory maintained by the admin backend,
// resolves each device's address from the MAC/IP cache, and pushes the
// full configuration for every enabled device: Tasmota and WLED over
// their HTTP APIs, Zigbee through the zigbee2mqtt bridge.
//
// The run is batch-shaped: one pass over the inventory, per-device
// outcomes logged and optionally recorded to InfluxDB, exit code 1 when
// any device failed.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/in-res/domoprov/internal/addrcache"
	"github.com/in-res/domoprov/internal/infrastructure/config"
	"github.com/in-res/domoprov/internal/infrastructure/database"
	"github.com/in-res/domoprov/internal/infrastructure/influxdb"
	"github.com/in-res/domoprov/internal/infrastructure/logging"
	"github.com/in-res/domoprov/internal/infrastructure/mqtt"
	"github.com/in-res/domoprov/internal/inventory"
	"github.com/in-res/domoprov/internal/probe"
	"github.com/in-res/domoprov/internal/provision"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration and secrets file paths
const (
	defaultConfigPath = "configs/config.yaml"
	defaultEnvPath    = ".env"
)

func main() {
	// Cancel the run on interrupt signals (Ctrl+C, SIGTERM). Cancellation
	// takes effect between devices; a device mid-provisioning finishes.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil when every enabled device provisioned cleanly
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting domoprov",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath, getEnvPath())
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

	// Open the inventory store (read-only: the admin backend owns it)
	db, err := database.Open(database.Config{
		Path:        cfg.Inventory.Path,
		BusyTimeout: cfg.Inventory.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening inventory: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing inventory", "error", closeErr)
		}
	}()
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("checking inventory: %w", err)
	}
	log.Info("inventory opened", "path", db.Path())

	// Load the MAC/IP cache and refresh it from the network. A failed
	// refresh is not fatal: the stale cache still resolves most devices.
	cache := addrcache.New(addrcache.Config{
		Path:        cfg.Cache.Path,
		ScanScript:  cfg.Cache.ScanScript,
		ScanTimeout: cfg.ScanTimeout(),
		IPPrefix:    cfg.Network.IPPrefix,
	})
	cache.SetLogger(log)
	if err := cache.Load(); err != nil {
		return fmt.Errorf("loading address cache: %w", err)
	}
	if err := cache.Refresh(ctx); err != nil {
		if errors.Is(err, addrcache.ErrScanNotConfigured) {
			log.Debug("no scan script configured, using cached entries only")
		} else {
			log.Warn("address cache refresh failed, using cached entries", "error", err)
		}
	}
	log.Info("address cache ready", "entries", cache.Len())

	// Connect to the broker only when a firmware family needs it
	var bus provision.Bus
	var mqttClient *mqtt.Client
	if needsMQTT(cfg) {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Debug("MQTT session established")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("MQTT not ready: %w", err)
		}
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		bus = mqttClient
	}

	// Connect to InfluxDB (optional provisioning-history recorder)
	var recorder provision.Recorder
	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"bucket", cfg.InfluxDB.Bucket,
		)
		recorder = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	// Build the firmware handlers and run the batch
	handlers, err := provision.NewHandlers(cfg, provision.Dependencies{
		Resolver: cache,
		Prober:   probe.NewICMPProber(0),
		Bus:      bus,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("building handlers: %w", err)
	}
	log.Info("handlers ready", "firmwares", cfg.Provision.Firmwares)

	repo := inventory.NewSQLiteRepository(db.DB)
	runner := provision.NewRunner(repo, handlers, log, recorder)

	result, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("provisioning run: %w", err)
	}

	log.Info("run complete",
		"run_id", result.RunID,
		"processed", result.Processed,
		"succeeded", result.Succeeded,
		"errored", result.Errored,
		"skipped", result.Skipped,
	)

	// Announce the run result on the system topic for anything watching
	// the broker (dashboards, the admin backend).
	if mqttClient != nil {
		summary := fmt.Sprintf(
			`{"run_id":%q,"processed":%d,"succeeded":%d,"errored":%d,"skipped":%d}`,
			result.RunID, result.Processed, result.Succeeded, result.Errored, result.Skipped,
		)
		if err := mqttClient.PublishString(mqtt.Topics{}.SystemRuns(), summary, 1, false); err != nil {
			log.Warn("run summary not published", "error", err)
		}
	}

	if result.Errored > 0 {
		return fmt.Errorf("%d of %d devices failed", result.Errored, result.Processed)
	}
	return nil
}

// needsMQTT reports whether any enabled firmware family talks to the
// broker. Only Zigbee does; HTTP families configure MQTT on the device
// without using it themselves.
func needsMQTT(cfg *config.Config) bool {
	for _, firmware := range cfg.Provision.Firmwares {
		if firmware == inventory.FirmwareZigbee {
			return true
		}
	}
	return false
}

// getConfigPath returns the configuration file path.
// Uses DOMOPROV_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DOMOPROV_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// getEnvPath returns the dotenv secrets file path.
// Uses DOMOPROV_ENV environment variable if set, otherwise default.
// A missing file is fine; credentials then come from the environment.
func getEnvPath() string {
	if path := os.Getenv("DOMOPROV_ENV"); path != "" {
		return path
	}
	return defaultEnvPath
}
