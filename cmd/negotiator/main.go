// Command negotiator runs the negotiation orchestration engine as a
// long-lived service: it wires the model oracle, the conversation state
// store with its durable mirror, the round manager, and the background
// maintenance sweep. Transport and routing live in other services; they
// consume this engine through its library API.
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/haggleworks/dealgent/internal/convstate"
	"github.com/haggleworks/dealgent/internal/engine"
	"github.com/haggleworks/dealgent/internal/genai"
	"github.com/haggleworks/dealgent/internal/models"
	"github.com/haggleworks/dealgent/internal/rounds"
	"github.com/haggleworks/dealgent/internal/scheduler"
	"github.com/haggleworks/dealgent/internal/store"
	"github.com/haggleworks/dealgent/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for negotiator state data
	DefaultStateDir = "/var/lib/negotiator"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "negotiator.db"
)

// Config holds environment configuration.
type Config struct {
	DBDriver        string
	DBDSN           string
	StateDir        string
	OpenAIKey       string
	Model           string
	StateTTL        time.Duration
	ModelTimeout    time.Duration
	SweepCron       string
	RecoverIDs      string
	SummaryMessages int
	MaxMessages     int
	Weights         convstate.AnalyticsWeights
	Debug           bool
}

func main() {
	cfg := loadEnvironmentConfig()
	parseCommandLineFlags(&cfg)
	initializeLogger(cfg.Debug)

	st, err := buildStore(cfg)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	oracle, err := genai.NewClientWithKey(cfg.OpenAIKey, genai.WithModel(cfg.Model))
	if err != nil {
		slog.Error("Failed to initialize GenAI client", "error", err)
		os.Exit(1)
	}

	states := convstate.New(convstate.Config{
		TTL:         cfg.StateTTL,
		MaxMessages: cfg.MaxMessages,
		Weights:     cfg.Weights,
		Mirror:      st,
	})
	roundsMgr := rounds.NewManager(st)
	eng := engine.New(oracle, states, roundsMgr, engine.Config{
		ModelTimeout:    cfg.ModelTimeout,
		SummaryMessages: cfg.SummaryMessages,
	})

	// Resume mirrored negotiations from a previous run. Turn traffic itself
	// arrives through the transport service, which consumes the engine's
	// library API.
	for _, id := range splitIDs(cfg.RecoverIDs) {
		if err := eng.Recover(id); err != nil {
			slog.Warn("Failed to recover negotiation", "id", id, "error", err)
		}
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.ScheduleMaintenance(cfg.SweepCron, states); err != nil {
		slog.Error("Failed to schedule maintenance sweep", "error", err)
		os.Exit(1)
	}

	slog.Info("Negotiator engine running",
		"driver", cfg.DBDriver, "model", cfg.Model, "stateTTL", cfg.StateTTL, "sweep", cfg.SweepCron)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	slog.Info("Negotiator shutting down")
}

// loadEnvironmentConfig reads .env (if present) and the environment.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}
	return Config{
		DBDriver:        os.Getenv("NEGOTIATOR_DB_DRIVER"),
		DBDSN:           os.Getenv("NEGOTIATOR_DB_DSN"),
		StateDir:        envOrDefault("NEGOTIATOR_STATE_DIR", DefaultStateDir),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		Model:           envOrDefault("NEGOTIATOR_MODEL", genai.DefaultModel),
		StateTTL:        util.ParseDurationEnv("NEGOTIATOR_STATE_TTL", convstate.DefaultTTL),
		ModelTimeout:    util.ParseDurationEnv("NEGOTIATOR_MODEL_TIMEOUT", engine.DefaultModelTimeout),
		SweepCron:       envOrDefault("NEGOTIATOR_SWEEP_CRON", scheduler.DefaultSweepSpec),
		RecoverIDs:      os.Getenv("NEGOTIATOR_RECOVER_IDS"),
		SummaryMessages: util.ParseIntEnv("NEGOTIATOR_SUMMARY_MESSAGES", engine.DefaultSummaryMessages),
		MaxMessages:     util.ParseIntEnv("NEGOTIATOR_MAX_MESSAGES", models.MaxRetainedMessages),
		Weights: convstate.AnalyticsWeights{
			Sentiment:    util.ParseFloatEnv("NEGOTIATOR_WEIGHT_SENTIMENT", convstate.DefaultAnalyticsWeights.Sentiment),
			Convergence:  util.ParseFloatEnv("NEGOTIATOR_WEIGHT_CONVERGENCE", convstate.DefaultAnalyticsWeights.Convergence),
			ResponseTime: util.ParseFloatEnv("NEGOTIATOR_WEIGHT_RESPONSE_TIME", convstate.DefaultAnalyticsWeights.ResponseTime),
		},
		Debug: util.ParseBoolEnv("NEGOTIATOR_DEBUG", false),
	}
}

// parseCommandLineFlags applies flag overrides on top of the environment.
func parseCommandLineFlags(cfg *Config) {
	flag.StringVar(&cfg.DBDriver, "db-driver", cfg.DBDriver, "database driver: sqlite3 or postgres (empty for in-memory)")
	flag.StringVar(&cfg.DBDSN, "db-dsn", cfg.DBDSN, "database DSN (file path for sqlite3, URL for postgres)")
	flag.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "directory for negotiator state data")
	flag.StringVar(&cfg.OpenAIKey, "openai-key", cfg.OpenAIKey, "OpenAI API key")
	flag.StringVar(&cfg.Model, "model", cfg.Model, "completion model identifier")
	flag.DurationVar(&cfg.StateTTL, "state-ttl", cfg.StateTTL, "inactivity TTL before a negotiation is evicted")
	flag.DurationVar(&cfg.ModelTimeout, "model-timeout", cfg.ModelTimeout, "timeout for a single model call")
	flag.StringVar(&cfg.SweepCron, "sweep-cron", cfg.SweepCron, "cron expression for the maintenance sweep")
	flag.StringVar(&cfg.RecoverIDs, "recover", cfg.RecoverIDs, "comma-separated negotiation IDs to recover from the durable mirror at startup")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")
	flag.Parse()
}

// buildStore selects the persistence backend from configuration. With no
// driver configured the engine runs purely in memory.
func buildStore(cfg Config) (store.Store, error) {
	switch cfg.DBDriver {
	case "postgres":
		return store.NewPostgresStore(store.WithDSN(cfg.DBDSN))
	case "sqlite3":
		dsn := cfg.DBDSN
		if dsn == "" {
			dsn = cfg.StateDir + "/" + DefaultDBFileName
		}
		return store.NewSQLiteStore(store.WithDSN(dsn))
	default:
		slog.Info("No database driver configured, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
}

func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// splitIDs parses a comma-separated ID list, dropping empty entries.
func splitIDs(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	return ids
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
