package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fallacysheriff/fallacysheriff/internal/api"
	"github.com/fallacysheriff/fallacysheriff/internal/genai"
	"github.com/fallacysheriff/fallacysheriff/internal/lockfile"
	"github.com/fallacysheriff/fallacysheriff/internal/models"
	"github.com/fallacysheriff/fallacysheriff/internal/pipeline"
	"github.com/fallacysheriff/fallacysheriff/internal/rss"
	"github.com/fallacysheriff/fallacysheriff/internal/store"
	"github.com/fallacysheriff/fallacysheriff/internal/twitter"
	"github.com/fallacysheriff/fallacysheriff/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for FallacySheriff state data
	DefaultStateDir = "/var/lib/fallacysheriff"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "fallacysheriff.db"
	// DefaultBotUsername is the X account whose mentions are polled
	DefaultBotUsername = "FallacySheriff"
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

	// Hold an exclusive lock so two instances never poll the same account
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire instance lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	// Build module options
	storeOpts := buildStoreOptions(flags)
	rssOpts := buildRSSOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	twitterOpts := buildTwitterOptions(flags)
	pipelineOpts := buildPipelineOptions(flags)
	apiOpts := buildAPIOptions(flags)

	// Start the service
	slog.Info("Bootstrapping FallacySheriff with configured modules")
	slog.Debug("Module options counts",
		"store", len(storeOpts), "rss", len(rssOpts), "genai", len(genaiOpts),
		"twitter", len(twitterOpts), "pipeline", len(pipelineOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "schedule", *flags.schedule)
	if err := api.Run(storeOpts, rssOpts, genaiOpts, twitterOpts, pipelineOpts, apiOpts); err != nil {
		slog.Error("FallacySheriff failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("FallacySheriff exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir            string
	DatabaseDSN         string
	GrokAPIKey          string
	GrokModel           string
	RSSHubURL           string
	RSSHubAccessKey     string
	BotUsername         string
	TriggerPhrase       string
	ConsumerKey         string
	ConsumerSecret      string
	AccessToken         string
	AccessSecret        string
	APIAddr             string
	Schedule            string
	ConfidenceThreshold int
	PollOnStart         bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir            *string
	dbDSN               *string
	grokAPIKey          *string
	grokModel           *string
	rsshubURL           *string
	rsshubAccessKey     *string
	botUsername         *string
	triggerPhrase       *string
	apiAddr             *string
	schedule            *string
	confidenceThreshold *int
	pollOnStart         *bool

	// OAuth credentials come from the environment only; secrets on the
	// command line leak through process listings.
	consumerKey    string
	consumerSecret string
	accessToken    string
	accessSecret   string
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
		StateDir:            os.Getenv("FALLACYSHERIFF_STATE_DIR"),
		DatabaseDSN:         os.Getenv("DATABASE_URL"),
		GrokAPIKey:          os.Getenv("GROK_API_KEY"),
		GrokModel:           os.Getenv("GROK_MODEL"),
		RSSHubURL:           os.Getenv("RSSHUB_URL"),
		RSSHubAccessKey:     os.Getenv("RSSHUB_ACCESS_KEY"),
		BotUsername:         os.Getenv("BOT_USERNAME"),
		TriggerPhrase:       os.Getenv("TRIGGER_PHRASE"),
		ConsumerKey:         os.Getenv("TWITTER_CONSUMER_KEY"),
		ConsumerSecret:      os.Getenv("TWITTER_CONSUMER_SECRET"),
		AccessToken:         os.Getenv("TWITTER_ACCESS_TOKEN"),
		AccessSecret:        os.Getenv("TWITTER_ACCESS_SECRET"),
		APIAddr:             os.Getenv("API_ADDR"),
		Schedule:            os.Getenv("POLL_SCHEDULE"),
		ConfidenceThreshold: util.ParseIntEnv("CONFIDENCE_THRESHOLD", pipeline.DefaultConfidenceThreshold),
		PollOnStart:         util.ParseBoolEnv("POLL_ON_START", true),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No FALLACYSHERIFF_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("FALLACYSHERIFF_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseDSN)
	}

	if config.BotUsername == "" {
		config.BotUsername = DefaultBotUsername
	}

	slog.Debug("environment variables loaded",
		"FALLACYSHERIFF_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseDSN != "",
		"GROK_API_KEY_SET", config.GrokAPIKey != "",
		"RSSHUB_URL", config.RSSHubURL,
		"RSSHUB_ACCESS_KEY_SET", config.RSSHubAccessKey != "",
		"BOT_USERNAME", config.BotUsername,
		"TWITTER_CREDENTIALS_SET", config.ConsumerKey != "" && config.AccessToken != "",
		"API_ADDR", config.APIAddr,
		"POLL_SCHEDULE", config.Schedule,
		"CONFIDENCE_THRESHOLD", config.ConfidenceThreshold,
		"POLL_ON_START", config.PollOnStart)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:            flag.String("state-dir", config.StateDir, "state directory for FallacySheriff data (overrides $FALLACYSHERIFF_STATE_DIR)"),
		dbDSN:               flag.String("db-dsn", config.DatabaseDSN, "database DSN for the processed-mention store (overrides $DATABASE_URL)"),
		grokAPIKey:          flag.String("grok-api-key", config.GrokAPIKey, "Grok API key (overrides $GROK_API_KEY)"),
		grokModel:           flag.String("grok-model", config.GrokModel, "Grok model for fallacy analysis (overrides $GROK_MODEL)"),
		rsshubURL:           flag.String("rsshub-url", config.RSSHubURL, "RSSHub base URL (overrides $RSSHUB_URL)"),
		rsshubAccessKey:     flag.String("rsshub-access-key", config.RSSHubAccessKey, "RSSHub access key (overrides $RSSHUB_ACCESS_KEY)"),
		botUsername:         flag.String("bot-username", config.BotUsername, "bot account whose mentions are polled (overrides $BOT_USERNAME)"),
		triggerPhrase:       flag.String("trigger-phrase", config.TriggerPhrase, "phrase that summons the bot (overrides $TRIGGER_PHRASE)"),
		apiAddr:             flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		schedule:            flag.String("poll-schedule", config.Schedule, "poll schedule, cron or @every descriptor (overrides $POLL_SCHEDULE)"),
		confidenceThreshold: flag.Int("confidence-threshold", config.ConfidenceThreshold, "minimum analysis confidence to post a reply (overrides $CONFIDENCE_THRESHOLD)"),
		pollOnStart:         flag.Bool("poll-on-start", config.PollOnStart, "run a poll cycle immediately at startup (overrides $POLL_ON_START)"),

		consumerKey:    config.ConsumerKey,
		consumerSecret: config.ConsumerSecret,
		accessToken:    config.AccessToken,
		accessSecret:   config.AccessSecret,
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"grokAPIKeySet", *flags.grokAPIKey != "",
		"rsshubURL", *flags.rsshubURL,
		"botUsername", *flags.botUsername,
		"apiAddr", *flags.apiAddr,
		"schedule", *flags.schedule,
		"confidenceThreshold", *flags.confidenceThreshold,
		"pollOnStart", *flags.pollOnStart)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseDSN && config.DatabaseDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "dsn_updated", true, "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", *flags.stateDir)
		return err
	}
	// Ensure the DB directory exists when using a file-based DSN
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		dbDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating directory for file-based database", "db_dir", dbDir)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			slog.Error("Failed to create database directory", "error", err, "db_dir", dbDir)
			return err
		}
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildRSSOptions constructs RSS source configuration options
func buildRSSOptions(flags Flags) []rss.Option {
	var rssOpts []rss.Option
	if *flags.rsshubURL != "" {
		rssOpts = append(rssOpts, rss.WithRSSHubURL(*flags.rsshubURL))
	}
	if *flags.rsshubAccessKey != "" {
		rssOpts = append(rssOpts, rss.WithAccessKey(*flags.rsshubAccessKey))
	}
	if *flags.botUsername != "" {
		rssOpts = append(rssOpts, rss.WithBotUsername(*flags.botUsername))
	}
	return rssOpts
}

// buildGenAIOptions constructs analysis client configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.grokAPIKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.grokAPIKey))
	}
	if *flags.grokModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.grokModel))
	}
	return genaiOpts
}

// buildTwitterOptions constructs reply publisher configuration options
func buildTwitterOptions(flags Flags) []twitter.Option {
	var twitterOpts []twitter.Option
	if flags.consumerKey != "" || flags.accessToken != "" {
		twitterOpts = append(twitterOpts, twitter.WithCredentials(flags.consumerKey, flags.consumerSecret, flags.accessToken, flags.accessSecret))
	}
	return twitterOpts
}

// buildPipelineOptions constructs orchestrator configuration options
func buildPipelineOptions(flags Flags) []pipeline.Option {
	var pipelineOpts []pipeline.Option
	if *flags.triggerPhrase != "" && *flags.triggerPhrase != models.DefaultTriggerPhrase {
		pipelineOpts = append(pipelineOpts, pipeline.WithTriggerPhrase(*flags.triggerPhrase))
	}
	if *flags.confidenceThreshold != pipeline.DefaultConfidenceThreshold {
		pipelineOpts = append(pipelineOpts, pipeline.WithConfidenceThreshold(*flags.confidenceThreshold))
	}
	return pipelineOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.schedule != "" {
		apiOpts = append(apiOpts, api.WithSchedule(*flags.schedule))
	}
	if !*flags.pollOnStart {
		apiOpts = append(apiOpts, api.WithoutStartupPoll())
	}
	return apiOpts
}
