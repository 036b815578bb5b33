// Cloudlink Core - IoT cloud connectivity gateway
//
// This is the main entry point for the Cloudlink Core application.
// It logs in to the cloud platform, keeps the live broker connection up,
// and exposes grounds, devices, assets and live values to local clients
// over HTTP and WebSocket.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/cloudlink-core/internal/api"
	"github.com/nerrad567/cloudlink-core/internal/cloudapi"
	"github.com/nerrad567/cloudlink-core/internal/infrastructure/config"
	"github.com/nerrad567/cloudlink-core/internal/infrastructure/database"
	"github.com/nerrad567/cloudlink-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/cloudlink-core/internal/infrastructure/logging"
	"github.com/nerrad567/cloudlink-core/internal/link"
	"github.com/nerrad567/cloudlink-core/internal/vault"
	"github.com/nerrad567/cloudlink-core/migrations"
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

// shutdownTimeout bounds the final disconnect and session save.
const shutdownTimeout = 10 * time.Second

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
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // startup sequence: each optional component adds a branch
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Cloudlink Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database (optional, required by the vault)
	var db *database.DB
	if cfg.Database.Enabled {
		db, err = database.Open(cfg.Database)
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

		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")
	}

	var sessions vault.Repository
	if cfg.Vault.Enabled && db != nil {
		repo, repoErr := vault.NewSQLiteRepository(db.DB, cfg.Vault.Passphrase)
		if repoErr != nil {
			return fmt.Errorf("opening session vault: %w", repoErr)
		}
		sessions = repo
		log.Info("session vault enabled", "profile", cfg.Vault.Profile)
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

	if healthErr := healthCheck(ctx, db, influxClient); healthErr != nil {
		log.Warn("startup health check failed", "error", healthErr)
	}

	// Bring up the cloud link
	cloud := link.NewFromConfig(cfg, log.With("component", "link"))
	cloud.OnStateChange(func(from, to link.State) {
		log.Info("link state changed", "from", from, "to", to)
	})

	if establishErr := establish(ctx, cloud, sessions, cfg, log); establishErr != nil {
		if !cfg.API.Enabled {
			return fmt.Errorf("connecting: %w", establishErr)
		}
		log.Warn("initial connect failed; waiting for a connect through the API", "error", establishErr)
	}

	// Start the local gateway
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log.With("component", "api"),
			Link:    cloud,
			Version: version,
			Profile: cfg.Vault.Profile,
		}
		if influxClient != nil {
			deps.History = influxClient
		}
		if sessions != nil {
			deps.Sessions = sessions
		}

		server, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("Cloudlink Core started")

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdown(shutdownCtx, cloud, sessions, cfg.Vault.Profile, log)

	return nil
}

// establish resumes the stored session when there is one, and otherwise logs
// in with the configured credentials. With neither available the link stays
// disconnected until a client connects it through the API.
func establish(ctx context.Context, cloud *link.Link, sessions vault.Repository, cfg *config.Config, log *logging.Logger) error {
	if sessions != nil {
		saved, err := sessions.Load(ctx, cfg.Vault.Profile)
		switch {
		case err == nil:
			resumeErr := cloud.Resume(ctx, saved, "", "")
			if resumeErr == nil {
				log.Info("stored session resumed", "client_id", saved.Session.ClientID)
				return nil
			}
			log.Warn("stored session could not be resumed", "error", resumeErr)
			if errors.Is(resumeErr, cloudapi.ErrAuthentication) {
				// The cloud revoked it; keeping it would only fail again.
				if delErr := sessions.Delete(ctx, cfg.Vault.Profile); delErr != nil {
					log.Warn("removing stored session failed", "error", delErr)
				}
			}
			if cloud.State() != link.StateDisconnected {
				// Logged in; only the broker is missing.
				return resumeErr
			}
		case errors.Is(err, vault.ErrNotFound):
			log.Debug("no stored session", "profile", cfg.Vault.Profile)
		default:
			log.Warn("stored session unreadable", "error", err)
		}
	}

	if cfg.Cloud.Username == "" || cfg.Cloud.Password == "" {
		log.Info("no cloud credentials configured; link left disconnected")
		return nil
	}

	if err := cloud.Connect(ctx, cfg.Cloud.Username, cfg.Cloud.Password, "", ""); err != nil {
		return err
	}
	log.Info("connected", "client_id", cloud.Status().ClientID)
	return nil
}

// shutdown disconnects the link and persists it for the next start. Without
// a vault the session is dropped entirely. After a logout the stored copy is
// removed; a session that simply never came up leaves it for the next start.
func shutdown(ctx context.Context, cloud *link.Link, sessions vault.Repository, profile string, log *logging.Logger) {
	resumable := sessions != nil
	cloud.Disconnect(ctx, resumable)
	if !resumable {
		return
	}

	if cloud.LoggedOut() {
		if err := sessions.Delete(ctx, profile); err != nil {
			log.Error("removing stored session failed", "error", err)
			return
		}
		log.Info("stored session removed after logout", "profile", profile)
		return
	}

	snap := cloud.Snapshot()
	if !snap.Valid() {
		log.Debug("nothing to persist")
		return
	}
	if err := sessions.Save(ctx, profile, snap); err != nil {
		log.Error("saving session failed", "error", err)
		return
	}
	log.Info("session saved", "profile", profile)
}

// loadConfig reads path. A missing file at the default location falls back
// to the built-in defaults; an explicitly configured path must exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == defaultConfigPath {
		return config.Default(), nil
	}
	return config.Load(path)
}

// getConfigPath returns the configuration file path.
// Uses CLOUDLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CLOUDLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the optional infrastructure connections.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
