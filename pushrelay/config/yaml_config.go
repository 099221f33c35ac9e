package config

import (
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	Enabled    bool   `yaml:"enabled"`
	CacheTTLMs int    `yaml:"cache_ttl_ms"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

type YamlAPNSConfig struct {
	KeyID     string `yaml:"key_id"`
	TeamID    string `yaml:"team_id"`
	BundleID  string `yaml:"bundle_id"`
	P8KeyFile string `yaml:"p8_key_file"`
	Sandbox   bool   `yaml:"sandbox"`
}

type YamlBackendConfig struct {
	Kind            string          `yaml:"kind"`
	CredentialsFile string          `yaml:"credentials_file"`
	DatabaseURL     string          `yaml:"database_url"`
	AccountEmail    string          `yaml:"account_email"`
	SendTimeoutMs   int             `yaml:"send_timeout_ms"`
	VapidConfig     YamlVapidConfig `yaml:"vapid"`
	APNSConfig      YamlAPNSConfig  `yaml:"apns"`
}

type YamlBusConfig struct {
	Kind                   string `yaml:"kind"`
	NatsURL                string `yaml:"nats_url"`
	SubjectPrefix          string `yaml:"subject_prefix"`
	TopicID                string `yaml:"topic_id"`
	SubscriptionID         string `yaml:"subscription_id"`
	SubscriptionDLQTopicID string `yaml:"subscription_dlq_topic_id"`
	ReplyTopicID           string `yaml:"reply_topic_id"`
	NumPipelineWorkers     int    `yaml:"num_pipeline_workers"`
}

type YamlStoreConfig struct {
	Kind        string          `yaml:"kind"`
	RedisConfig YamlRedisConfig `yaml:"redis"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	Namespace     string            `yaml:"namespace"`
	ProjectID     string            `yaml:"project_id"`
	ListenAddr    string            `yaml:"listen_addr"`
	IdentityURL   string            `yaml:"identity_url"`
	InitPolicy    string            `yaml:"init_policy"`
	DefaultTitle  string            `yaml:"default_title"`
	DedupWindowMs *int              `yaml:"dedup_window_ms"`
	CorsConfig    YamlCorsConfig    `yaml:"cors"`
	BackendConfig YamlBackendConfig `yaml:"backend"`
	BusConfig     YamlBusConfig     `yaml:"bus"`
	StoreConfig   YamlStoreConfig   `yaml:"store"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		Namespace:    baseCfg.Namespace,
		ProjectID:    baseCfg.ProjectID,
		ListenAddr:   baseCfg.ListenAddr,
		IdentityURL:  baseCfg.IdentityURL,
		InitPolicy:   baseCfg.InitPolicy,
		DefaultTitle: baseCfg.DefaultTitle,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Backend: BackendConfig{
			Kind:            baseCfg.BackendConfig.Kind,
			CredentialsFile: baseCfg.BackendConfig.CredentialsFile,
			DatabaseURL:     baseCfg.BackendConfig.DatabaseURL,
			AccountEmail:    baseCfg.BackendConfig.AccountEmail,
			SendTimeout:     time.Duration(baseCfg.BackendConfig.SendTimeoutMs) * time.Millisecond,
			Vapid: VapidConfig{
				PublicKey:       baseCfg.BackendConfig.VapidConfig.PublicKey,
				PrivateKey:      baseCfg.BackendConfig.VapidConfig.PrivateKey,
				SubscriberEmail: baseCfg.BackendConfig.VapidConfig.SubscriberEmail,
			},
			APNS: APNSConfig{
				KeyID:     baseCfg.BackendConfig.APNSConfig.KeyID,
				TeamID:    baseCfg.BackendConfig.APNSConfig.TeamID,
				BundleID:  baseCfg.BackendConfig.APNSConfig.BundleID,
				P8KeyFile: baseCfg.BackendConfig.APNSConfig.P8KeyFile,
				Sandbox:   baseCfg.BackendConfig.APNSConfig.Sandbox,
			},
		},
		Bus: BusConfig{
			Kind:                   baseCfg.BusConfig.Kind,
			NatsURL:                baseCfg.BusConfig.NatsURL,
			SubjectPrefix:          baseCfg.BusConfig.SubjectPrefix,
			TopicID:                baseCfg.BusConfig.TopicID,
			SubscriptionID:         baseCfg.BusConfig.SubscriptionID,
			SubscriptionDLQTopicID: baseCfg.BusConfig.SubscriptionDLQTopicID,
			ReplyTopicID:           baseCfg.BusConfig.ReplyTopicID,
			NumPipelineWorkers:     baseCfg.BusConfig.NumPipelineWorkers,
		},
		Store: StoreConfig{
			Kind: baseCfg.StoreConfig.Kind,
			Redis: RedisConfig{
				Addr:     baseCfg.StoreConfig.RedisConfig.Addr,
				Password: baseCfg.StoreConfig.RedisConfig.Password,
				DB:       baseCfg.StoreConfig.RedisConfig.DB,
				Enabled:  baseCfg.StoreConfig.RedisConfig.Enabled,
				CacheTTL: time.Duration(baseCfg.StoreConfig.RedisConfig.CacheTTLMs) * time.Millisecond,
			},
		},
	}

	if baseCfg.DedupWindowMs != nil {
		window := time.Duration(*baseCfg.DedupWindowMs) * time.Millisecond
		cfg.DedupWindow = &window
	}

	logger.Debug("YAML config mapping complete",
		"namespace", cfg.Namespace,
		"listen_addr", cfg.ListenAddr,
		"backend", cfg.Backend.Kind,
		"bus", cfg.Bus.Kind,
		"store", cfg.Store.Kind,
	)

	return cfg, nil
}
