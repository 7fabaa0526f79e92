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
	"github.com/nutrilog/nutrilog/internal/estimator"
	"github.com/nutrilog/nutrilog/internal/flow"
	"github.com/nutrilog/nutrilog/internal/lockfile"
	"github.com/nutrilog/nutrilog/internal/messaging"
	"github.com/nutrilog/nutrilog/internal/session"
	"github.com/nutrilog/nutrilog/internal/store"
	"github.com/nutrilog/nutrilog/internal/util"
	"github.com/nutrilog/nutrilog/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for nutrilog state data
	DefaultStateDir = "/var/lib/nutrilog"
	// DefaultDBFileName is the default SQLite database filename for meal data
	DefaultDBFileName = "nutrilog.db"
	// DefaultWhatsmeowDBFileName is the default SQLite database filename for the WhatsApp session
	DefaultWhatsmeowDBFileName = "whatsmeow.db"
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

	slog.Info("Bootstrapping nutrilog with configured modules")
	slog.Debug("Final configuration",
		"state_dir", *flags.stateDir,
		"db_dsn_set", *flags.dbDSN != "",
		"whatsapp_db_dsn_set", *flags.waDSN != "",
		"openai_key_set", *flags.openaiKey != "")
	if err := run(flags); err != nil {
		slog.Error("nutrilog failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("nutrilog exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL      string
	WhatsAppDSN      string
	StateDir         string
	OpenAIKey        string
	OpenAIModel      string
	RegistrationHint string
	NumericCode      bool
}

// Flags holds command line flag values
type Flags struct {
	qrOutput    *string
	numeric     *bool
	stateDir    *string
	dbDSN       *string
	waDSN       *string
	openaiKey   *string
	openaiModel *string
	regHint     *string
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
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		WhatsAppDSN:      os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:         os.Getenv("NUTRILOG_STATE_DIR"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      os.Getenv("OPENAI_MODEL"),
		RegistrationHint: os.Getenv("REGISTRATION_HINT"),
		NumericCode:      util.ParseBoolEnv("NUMERIC_CODE", false),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No NUTRILOG_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("NUTRILOG_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	// The WhatsApp session store can share a Postgres server with the meal
	// data, but two SQLite files must stay separate.
	if config.WhatsAppDSN == "" {
		if store.DetectDSNType(config.DatabaseURL) == "postgres" {
			config.WhatsAppDSN = config.DatabaseURL
			slog.Debug("Using DATABASE_URL as WHATSAPP_DB_DSN", "dsn_set", true)
		} else {
			config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultWhatsmeowDBFileName)
			slog.Debug("No WhatsApp DSN provided, defaulting to SQLite", "sqlite_path", config.WhatsAppDSN)
		}
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"NUTRILOG_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"REGISTRATION_HINT_SET", config.RegistrationHint != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:    flag.String("qr-output", "", "path to write login QR code"),
		numeric:     flag.Bool("numeric-code", config.NumericCode, "use numeric login code instead of QR code (overrides $NUMERIC_CODE)"),
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for nutrilog data (overrides $NUTRILOG_STATE_DIR)"),
		dbDSN:       flag.String("db-dsn", config.DatabaseURL, "database DSN for meal data (overrides $DATABASE_URL)"),
		waDSN:       flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "database DSN for the WhatsApp session store (overrides $WHATSAPP_DB_DSN)"),
		openaiKey:   flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel: flag.String("openai-model", config.OpenAIModel, "OpenAI chat model for estimation (overrides $OPENAI_MODEL)"),
		regHint:     flag.String("registration-hint", config.RegistrationHint, "text shown to users asked to register or update their profile (overrides $REGISTRATION_HINT)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"waDSN_set", *flags.waDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"openaiModel", *flags.openaiModel)

	// Update file-backed DSN defaults if the state directory was overridden
	if *flags.stateDir != config.StateDir {
		if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) {
			*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
			slog.Debug("Updated db-dsn based on state directory", "db_dsn", *flags.dbDSN)
		}
		if *flags.waDSN == filepath.Join(config.StateDir, DefaultWhatsmeowDBFileName) {
			*flags.waDSN = filepath.Join(*flags.stateDir, DefaultWhatsmeowDBFileName)
			slog.Debug("Updated whatsapp-db-dsn based on state directory", "whatsapp_db_dsn", *flags.waDSN)
		}
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	for _, dsn := range []string{*flags.dbDSN, *flags.waDSN} {
		if store.DetectDSNType(dsn) == "postgres" {
			continue
		}
		stateDir := filepath.Dir(dsn)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStore opens the meal data store matching the configured DSN type.
func buildStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
}

// buildWhatsAppOptions constructs WhatsApp client configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.waDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.waDSN))
	}
	return waOpts
}

// buildEstimatorOptions constructs estimation client configuration options
func buildEstimatorOptions(flags Flags) []estimator.Option {
	var estOpts []estimator.Option
	if *flags.openaiKey != "" {
		estOpts = append(estOpts, estimator.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		estOpts = append(estOpts, estimator.WithModel(*flags.openaiModel))
	}
	return estOpts
}

// run wires the modules together and serves the dialog engine until the
// process receives an interrupt or termination signal.
func run(flags Flags) error {
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	est, err := estimator.NewOpenAIClient(buildEstimatorOptions(flags)...)
	if err != nil {
		return err
	}

	waClient, err := whatsapp.NewClient(buildWhatsAppOptions(flags)...)
	if err != nil {
		return err
	}
	msgSvc := messaging.NewWhatsAppService(waClient)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := msgSvc.Start(ctx); err != nil {
		return err
	}
	defer msgSvc.Stop()

	router := flow.NewRouter(&flow.Deps{
		Store:     st,
		Estimator: est,
		Messenger: msgSvc,
		Sessions:  session.NewStore(),
		Links:     session.NewParentLinker(),
		Registrar: flow.StaticRegistrar{Hint: *flags.regHint},
	})

	slog.Info("nutrilog serving dialog engine")
	if err := router.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
