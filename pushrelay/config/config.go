package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

// DefaultDedupWindow applies when no dedup window is configured.
const DefaultDedupWindow = 1200 * time.Millisecond

// Backend kinds.
const (
	BackendFCM     = "fcm"
	BackendRTDB    = "rtdb"
	BackendWebPush = "webpush"
	BackendAPNS    = "apns"
	BackendLog     = "log"
)

// Bus kinds.
const (
	BusNATS   = "nats"
	BusPubsub = "pubsub"
)

// Store kinds.
const (
	StoreMemory    = "memory"
	StoreRedis     = "redis"
	StoreFirestore = "firestore"
)

// Registry initialization policies.
const (
	InitSnapshot = "snapshot"
	InitRescan   = "rescan"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

type APNSConfig struct {
	KeyID     string
	TeamID    string
	BundleID  string
	P8KeyFile string
	Sandbox   bool
}

type BackendConfig struct {
	Kind            string
	CredentialsFile string
	DatabaseURL     string
	AccountEmail    string
	SendTimeout     time.Duration
	Vapid           VapidConfig
	APNS            APNSConfig
}

type BusConfig struct {
	Kind                   string
	NatsURL                string
	SubjectPrefix          string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	TopicID                string
	ReplyTopicID           string
	NumPipelineWorkers     int
}

type StoreConfig struct {
	Kind  string
	Redis RedisConfig
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	// Namespace is <adapter>.<instance>, e.g. "iogo.0".
	Namespace    string
	ProjectID    string
	ListenAddr   string
	IdentityURL  string
	InitPolicy   string
	DefaultTitle string
	// DedupWindow is nil when unset; zero turns duplicate suppression off.
	DedupWindow *time.Duration

	CorsConfig middleware.CorsConfig
	Backend    BackendConfig
	Bus        BusConfig
	Store      StoreConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	override := func(key string, apply func(string)) {
		if val := os.Getenv(key); val != "" {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			apply(val)
		}
	}

	// 1. Apply Environment Overrides
	override("NAMESPACE", func(v string) { cfg.Namespace = v })
	override("PROJECT_ID", func(v string) { cfg.ProjectID = v })
	override("PORT", func(v string) { cfg.ListenAddr = ":" + v })
	override("IDENTITY_SERVICE_URL", func(v string) { cfg.IdentityURL = v })
	override("INIT_POLICY", func(v string) { cfg.InitPolicy = v })
	override("DEFAULT_TITLE", func(v string) { cfg.DefaultTitle = v })
	override("DEDUP_WINDOW_MS", func(v string) {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			window := time.Duration(ms) * time.Millisecond
			cfg.DedupWindow = &window
		}
	})

	// Backend Overrides
	override("BACKEND_KIND", func(v string) { cfg.Backend.Kind = v })
	override("FIREBASE_CREDENTIALS_FILE", func(v string) { cfg.Backend.CredentialsFile = v })
	override("FIREBASE_DATABASE_URL", func(v string) { cfg.Backend.DatabaseURL = v })
	override("FIREBASE_ACCOUNT_EMAIL", func(v string) { cfg.Backend.AccountEmail = v })
	override("VAPID_PUBLIC_KEY", func(v string) { cfg.Backend.Vapid.PublicKey = v })
	override("VAPID_PRIVATE_KEY", func(v string) { cfg.Backend.Vapid.PrivateKey = v })
	override("VAPID_SUB_EMAIL", func(v string) { cfg.Backend.Vapid.SubscriberEmail = v })
	override("APNS_KEY_ID", func(v string) { cfg.Backend.APNS.KeyID = v })
	override("APNS_TEAM_ID", func(v string) { cfg.Backend.APNS.TeamID = v })
	override("APNS_BUNDLE_ID", func(v string) { cfg.Backend.APNS.BundleID = v })
	override("APNS_P8_KEY_FILE", func(v string) { cfg.Backend.APNS.P8KeyFile = v })
	override("APNS_SANDBOX", func(v string) {
		sandbox, _ := strconv.ParseBool(v)
		cfg.Backend.APNS.Sandbox = sandbox
	})

	// Bus Overrides
	override("BUS_KIND", func(v string) { cfg.Bus.Kind = v })
	override("NATS_URL", func(v string) { cfg.Bus.NatsURL = v })
	override("SUBSCRIPTION_ID", func(v string) { cfg.Bus.SubscriptionID = v })
	override("SUBSCRIPTION_DLQ_TOPIC_ID", func(v string) { cfg.Bus.SubscriptionDLQTopicID = v })
	override("REPLY_TOPIC_ID", func(v string) { cfg.Bus.ReplyTopicID = v })
	override("NUM_PIPELINE_WORKERS", func(v string) {
		if workers, err := strconv.Atoi(v); err == nil && workers > 0 {
			cfg.Bus.NumPipelineWorkers = workers
		}
	})

	// Store Overrides
	override("STORE_KIND", func(v string) { cfg.Store.Kind = v })
	override("REDIS_ADDR", func(v string) {
		cfg.Store.Redis.Addr = v
		cfg.Store.Redis.Enabled = true
	})
	override("REDIS_PASSWORD", func(v string) { cfg.Store.Redis.Password = v })
	override("REDIS_DB", func(v string) {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Store.Redis.DB = db
		}
	})
	override("REDIS_ENABLED", func(v string) {
		enabled, _ := strconv.ParseBool(v)
		cfg.Store.Redis.Enabled = enabled
	})

	// CORS Overrides
	override("CORS_ALLOWED_ORIGINS", func(v string) {
		var cleanOrigins []string
		for _, o := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	})

	// 2. Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.InitPolicy == "" {
		cfg.InitPolicy = InitSnapshot
	}
	if cfg.DedupWindow == nil {
		window := DefaultDedupWindow
		cfg.DedupWindow = &window
	}
	if cfg.Backend.Kind == "" {
		cfg.Backend.Kind = BackendFCM
	}
	if cfg.Backend.SendTimeout <= 0 {
		cfg.Backend.SendTimeout = 10 * time.Second
	}
	if cfg.Bus.Kind == "" {
		cfg.Bus.Kind = BusNATS
	}
	if cfg.Bus.SubjectPrefix == "" {
		cfg.Bus.SubjectPrefix = "host"
	}
	if cfg.Bus.NumPipelineWorkers <= 0 {
		cfg.Bus.NumPipelineWorkers = 1
	}
	if cfg.Store.Kind == "" {
		cfg.Store.Kind = StoreMemory
	}
	if cfg.Store.Redis.CacheTTL <= 0 {
		cfg.Store.Redis.CacheTTL = 24 * time.Hour
	}

	// 3. Final Validation
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("namespace is required (set via YAML or NAMESPACE env var)")
	}
	if err := oneOf("backend.kind", cfg.Backend.Kind, BackendFCM, BackendRTDB, BackendWebPush, BackendAPNS, BackendLog); err != nil {
		return nil, err
	}
	if err := oneOf("bus.kind", cfg.Bus.Kind, BusNATS, BusPubsub); err != nil {
		return nil, err
	}
	if err := oneOf("store.kind", cfg.Store.Kind, StoreMemory, StoreRedis, StoreFirestore); err != nil {
		return nil, err
	}
	if err := oneOf("init_policy", cfg.InitPolicy, InitSnapshot, InitRescan); err != nil {
		return nil, err
	}
	if cfg.Bus.Kind == BusPubsub && (cfg.ProjectID == "" || cfg.Bus.SubscriptionID == "") {
		return nil, fmt.Errorf("project_id and subscription_id are required for the pubsub bus")
	}
	if cfg.Store.Kind == StoreFirestore && cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required for the firestore store")
	}
	if cfg.Store.Kind == StoreRedis && cfg.Store.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required for the redis store (set via YAML or REDIS_ADDR env var)")
	}
	// Push credentials are not validated here; a bad key surfaces as a
	// backend authentication failure at startup.

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func oneOf(key, val string, allowed ...string) error {
	for _, a := range allowed {
		if val == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, "|"), val)
}
