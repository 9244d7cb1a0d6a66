// TiVo Remote Bridge
//
// tivoremote discovers TiVo DVRs on the local network and bridges their
// remote-control protocol onto an MQTT bus. Each DVR gets its own broker
// connection whose last will marks it offline, status topics fed from the
// DVR's responses and command topics forwarded back to it.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/tivoremote-bridge/internal/api"
	"github.com/nerrad567/tivoremote-bridge/internal/audit"
	"github.com/nerrad567/tivoremote-bridge/internal/bridge"
	"github.com/nerrad567/tivoremote-bridge/internal/discovery"
	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/config"
	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/database"
	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/tivoremote-bridge/internal/telemetry"
	"github.com/nerrad567/tivoremote-bridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// shutdownTimeout bounds the final offline publishes and flushes.
const shutdownTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application, separated from main for testability.
// It returns nil on a clean shutdown after ctx is cancelled.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags, err := config.ParseFlags("tivoremote", args)
	if err != nil {
		return err
	}
	if flags.ShowHelp {
		flags.Usage(stdout, "Bridge TiVo DVRs to MQTT")
		return nil
	}
	if flags.ShowVersion {
		fmt.Fprintf(stdout, "tivoremote %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, version)
	log.Info("starting tivoremote",
		"version", version,
		"commit", commit,
		"build_date", date,
		"name", cfg.Bridge.Name,
		"broker", cfg.MQTT.Broker,
	)

	metrics := telemetry.New()
	observers := bridge.Observers{metrics}
	checks := map[string]api.HealthChecker{}

	// Lifecycle audit log (optional)
	var auditRepo audit.Repository
	if cfg.Database.Enabled {
		db, dbErr := database.Open(ctx, cfg.Database)
		if dbErr != nil {
			return fmt.Errorf("opening database: %w", dbErr)
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
		log.Info("database ready", "path", db.Path())

		repo := audit.NewSQLiteRepository(db.DB)
		recorder := audit.NewRecorder(repo, log)
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if closeErr := recorder.Close(closeCtx); closeErr != nil {
				log.Error("error flushing audit log", "error", closeErr)
			}
			if dropped := recorder.Dropped(); dropped > 0 {
				log.Warn("audit events dropped", "count", dropped)
			}
		}()
		auditRepo = repo
		observers = append(observers, recorder)
		checks["database"] = db
	} else {
		log.Info("audit log disabled")
	}

	// Status history (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		observers = append(observers, influxdb.NewHistory(influxClient))
		checks["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	sources, err := buildSources(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := sources.Close(); closeErr != nil {
			log.Error("error closing DVR connections", "error", closeErr)
		}
	}()

	topics := mqtt.Topics{Bridge: cfg.Bridge.Name}
	pool := bridge.NewPool(topics, byte(cfg.MQTT.QoS), bridge.MQTTDialer(cfg.MQTT, cfg.Bridge.Name, log))
	manager := bridge.NewManager(bridge.ManagerOptions{
		Topics:   topics,
		QoS:      byte(cfg.MQTT.QoS),
		Pool:     pool,
		Observer: observers,
		Logger:   log,
	})
	defer func() {
		log.Info("stopping bridge")
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if stopErr := manager.Stop(stopCtx); stopErr != nil {
			log.Error("error publishing offline status", "error", stopErr)
		}
	}()
	checks["mqtt"] = pool

	// Status endpoint (optional)
	if cfg.Metrics.Enabled {
		server, apiErr := api.New(api.Deps{
			Addr:    cfg.MetricsAddr(),
			Logger:  log,
			Version: version,
			Devices: manager,
			Audit:   auditRepo,
			Metrics: metrics,
			Checks:  checks,
		})
		if apiErr != nil {
			return fmt.Errorf("creating status server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting status server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing status server", "error", closeErr)
			}
		}()
	}

	log.Info("tivoremote running, waiting for DVRs")

	err = sources.Run(ctx, func(ev discovery.Event) {
		switch ev.Kind {
		case discovery.Found:
			manager.Found(ev.Device)
		case discovery.Lost:
			manager.Lost(ev.DeviceID)
		}
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("discovery: %w", err)
	}

	log.Info("shutdown signal received")
	return nil
}

// buildSources assembles the configured discovery sources.
func buildSources(cfg *config.Config, log *logging.Logger) (discovery.Multi, error) {
	var sources discovery.Multi
	dial := discovery.TiVoDialer(log)

	if cfg.Discovery.MDNS.Enabled {
		sources = append(sources, discovery.NewMDNSSource(discovery.MDNSConfig{
			Service:        cfg.Discovery.MDNS.Service,
			Domain:         cfg.Discovery.MDNS.Domain,
			Interface:      cfg.Discovery.MDNS.Interface,
			ConnectTimeout: cfg.GetTiVoConnectTimeout(),
			Dial:           dial,
			Logger:         log,
		}))
	}
	if len(cfg.Discovery.Static) > 0 {
		sources = append(sources, discovery.NewStaticSource(discovery.StaticConfig{
			Devices:        cfg.Discovery.Static,
			DefaultPort:    cfg.TiVo.Port,
			ConnectTimeout: cfg.GetTiVoConnectTimeout(),
			Dial:           dial,
			Logger:         log,
		}))
	}

	if len(sources) == 0 {
		return nil, errors.New("no discovery source: enable discovery.mdns or list discovery.static devices")
	}
	return sources, nil
}
