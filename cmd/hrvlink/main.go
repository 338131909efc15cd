package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/beatbalance/hrvlink/internal/api"
	"github.com/beatbalance/hrvlink/internal/ble"
	"github.com/beatbalance/hrvlink/internal/hrvdata"
	"github.com/beatbalance/hrvlink/internal/lockfile"
	"github.com/beatbalance/hrvlink/internal/models"
	"github.com/beatbalance/hrvlink/internal/processing"
	"github.com/beatbalance/hrvlink/internal/recorder"
	"github.com/beatbalance/hrvlink/internal/store"
	"github.com/beatbalance/hrvlink/internal/stream"
	"github.com/beatbalance/hrvlink/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for hrvlink state data
	DefaultStateDir = "/var/lib/hrvlink"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "hrvlink.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping hrvlink with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "mock_ble", *flags.mockBLE)
	if err := run(flags); err != nil {
		slog.Error("hrvlink failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("hrvlink exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL   string
	StateDir      string
	UserID        string
	ProcessingURL string
	NATSURL       string
	APIAddr       string
	MockBLE       bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir      *string
	dbDSN         *string
	userID        *string
	processingURL *string
	natsURL       *string
	apiAddr       *string
	mockBLE       *bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StateDir:      os.Getenv("HRVLINK_STATE_DIR"),
		UserID:        os.Getenv("HRVLINK_USER_ID"),
		ProcessingURL: os.Getenv("PROCESSING_URL"),
		NATSURL:       os.Getenv("NATS_URL"),
		APIAddr:       os.Getenv("API_ADDR"),
		MockBLE:       util.ParseBoolEnv("HRVLINK_MOCK_BLE", false),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No HRVLINK_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"HRVLINK_STATE_DIR", config.StateDir,
		"HRVLINK_USER_ID_SET", config.UserID != "",
		"PROCESSING_URL_SET", config.ProcessingURL != "",
		"NATS_URL_SET", config.NATSURL != "",
		"API_ADDR", config.APIAddr,
		"HRVLINK_MOCK_BLE", config.MockBLE)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for hrvlink data (overrides $HRVLINK_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "database DSN for the session store (overrides $DATABASE_URL)"),
		userID:        flag.String("user-id", config.UserID, "user ID sessions are recorded under (overrides $HRVLINK_USER_ID)"),
		processingURL: flag.String("processing-url", config.ProcessingURL, "HRV processing service endpoint (overrides $PROCESSING_URL)"),
		natsURL:       flag.String("nats-url", config.NATSURL, "NATS server URL for live streaming (overrides $NATS_URL)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		mockBLE:       flag.Bool("mock-ble", config.MockBLE, "use a simulated sensor instead of the BLE adapter (overrides $HRVLINK_MOCK_BLE)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"userID_set", *flags.userID != "",
		"processingURL_set", *flags.processingURL != "",
		"natsURL_set", *flags.natsURL != "",
		"apiAddr", *flags.apiAddr,
		"mockBLE", *flags.mockBLE)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// openStore opens the configured store backend.
func openStore(flags Flags) (store.Store, error) {
	if *flags.dbDSN == "" {
		slog.Warn("No database DSN provided, sessions will not survive restarts")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithSQLiteDSN(*flags.dbDSN))
}

// run wires the modules together and serves until interrupted.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// One daemon per state directory; the BLE adapter cannot be shared.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := openStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	var proc *processing.Client
	if *flags.processingURL != "" {
		proc, err = processing.NewClient(processing.WithEndpoint(*flags.processingURL))
		if err != nil {
			return err
		}
	} else {
		slog.Warn("No processing endpoint configured, sessions will not be summarized")
	}

	var pub *stream.Publisher
	if *flags.natsURL != "" {
		pub, err = stream.NewPublisher(stream.WithURL(*flags.natsURL))
		if err != nil {
			return err
		}
		defer pub.Close()
	}

	var radio ble.Radio
	if *flags.mockBLE {
		sim := ble.NewSimulator()
		go sim.Run(ctx)
		radio = sim.Radio
		slog.Info("Using simulated sensor")
	} else {
		radio = ble.NewHardwareRadio()
	}

	userID := *flags.userID
	if userID == "" {
		userID = util.GenerateUserID()
		slog.Warn("No user ID configured, generated one for this run; set HRVLINK_USER_ID to keep history stable", "user_id", userID)
	}

	link := ble.New(radio, st)
	if err := link.Enable(); err != nil {
		return err
	}

	data := hrvdata.New(st, proc)
	rec := recorder.New(st, link, data, userID)

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(link, rec, data, pub, userID, apiOpts...)

	// Reconnect to the saved sensor in the background; a missing or
	// unreachable device is not fatal.
	go func() {
		if err := link.ReconnectSaved(); err != nil && !errors.Is(err, models.ErrNoDeviceSaved) {
			slog.Warn("Startup reconnect failed", "error", err)
		}
	}()

	err = server.Run(ctx)
	if derr := link.Disconnect(); derr != nil {
		slog.Error("Shutdown disconnect failed", "error", derr)
	}
	return err
}
