package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	firebase "firebase.google.com/go/v4"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-relay/internal/adapter"
	"github.com/tinywideclouds/go-push-relay/internal/bus/natsbus"
	"github.com/tinywideclouds/go-push-relay/internal/delivery"
	"github.com/tinywideclouds/go-push-relay/internal/fanout"
	"github.com/tinywideclouds/go-push-relay/internal/pipeline"
	"github.com/tinywideclouds/go-push-relay/internal/platform/apns"
	"github.com/tinywideclouds/go-push-relay/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-relay/internal/platform/rtdb"
	"github.com/tinywideclouds/go-push-relay/internal/platform/web"
	"github.com/tinywideclouds/go-push-relay/internal/registry"

	"github.com/tinywideclouds/go-push-relay/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-push-relay/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-relay/internal/storage/memory"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"

	"github.com/tinywideclouds/go-push-relay/pushrelay"
	"github.com/tinywideclouds/go-push-relay/pushrelay/config"

	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-relay")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- State Store ---
	store, closeStore, err := newStateStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("State store failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	// --- Delivery Backend ---
	sender := newSender(ctx, cfg, logger)
	submitter := delivery.NewAsync(sender, cfg.Backend.SendTimeout, logger)

	// --- Relay Core ---
	reg := registry.New()
	dispatcher := fanout.NewDispatcher(reg, submitter, logger,
		fanout.WithWindow(*cfg.DedupWindow),
		fanout.WithDefaultTitle(cfg.DefaultTitle),
	)
	relay := adapter.New(adapter.Config{
		Namespace:  cfg.Namespace,
		InitPolicy: cfg.InitPolicy,
		Drain:      submitter.Close,
	}, reg, dispatcher, store, logger)

	// --- Host Bus ---
	bus, closeBus, err := newBus(ctx, cfg, relay, logger)
	if err != nil {
		logger.Error("Host bus failed", "err", err)
		os.Exit(1)
	}
	defer closeBus()

	// --- Auth ---
	authMiddleware := newAuthMiddleware(cfg, logger)

	service := pushrelay.New(cfg, relay, bus, authMiddleware, logger)

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := service.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown failed", "err", err)
		}
	}()

	logger.Info("Starting service...", "namespace", cfg.Namespace, "backend", cfg.Backend.Kind, "bus", cfg.Bus.Kind)
	if err := service.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
	<-shutdownDone
}

func newStateStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dispatch.StateStore, func(), error) {
	var (
		store   dispatch.StateStore
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var redisClient *cache.RedisClient
	if cfg.Store.Kind == config.StoreRedis || cfg.Store.Redis.Enabled {
		logger.Info("Connecting to Redis...", "addr", cfg.Store.Redis.Addr)
		client, err := cache.NewRedisClient(cfg.Store.Redis.Addr, cfg.Store.Redis.Password, cfg.Store.Redis.DB)
		if err != nil {
			return nil, closeAll, fmt.Errorf("failed to connect to redis: %w", err)
		}
		redisClient = client
		closers = append(closers, func() { _ = client.Close() })
	}

	switch cfg.Store.Kind {
	case config.StoreRedis:
		store = cache.NewStateStore(redisClient)
	case config.StoreFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, closeAll, fmt.Errorf("firestore client failed: %w", err)
		}
		closers = append(closers, func() { _ = fsClient.Close() })
		store = fsStore.NewFirestoreStore(fsClient)
		if redisClient != nil {
			store = cache.NewCachedStateStore(store, redisClient, cfg.Store.Redis.CacheTTL)
			logger.Info("StateStore upgraded", "type", "redis_cached_firestore")
		}
	default:
		store = memory.NewStateStore()
	}
	logger.Info("StateStore initialized", "type", cfg.Store.Kind)
	return store, closeAll, nil
}

// newSender builds the configured backend. A backend that cannot sign in is
// replaced by one that fails every send, so the relay keeps running.
func newSender(ctx context.Context, cfg *config.Config, logger *slog.Logger) dispatch.Sender {
	unavailable := func(err error) dispatch.Sender {
		err = fmt.Errorf("%w: %v", dispatch.ErrBackendAuth, err)
		logger.Error("Push backend unavailable", "backend", cfg.Backend.Kind, "err", err)
		return delivery.Unavailable{Err: err}
	}

	switch cfg.Backend.Kind {
	case config.BackendFCM, config.BackendRTDB:
		fbApp, err := newFirebaseApp(ctx, cfg)
		if err != nil {
			return unavailable(err)
		}
		if cfg.Backend.Kind == config.BackendFCM {
			client, err := fbApp.Messaging(ctx)
			if err != nil {
				return unavailable(err)
			}
			return fcm.NewDispatcher(client, logger)
		}
		dbClient, err := fbApp.Database(ctx)
		if err != nil {
			return unavailable(err)
		}
		authClient, err := fbApp.Auth(ctx)
		if err != nil {
			return unavailable(err)
		}
		return rtdb.NewDispatcher(ctx, rtdb.DatabaseWriter{Client: dbClient}, authClient, cfg.Backend.AccountEmail, logger)

	case config.BackendWebPush:
		if cfg.Backend.Vapid.PrivateKey == "" || cfg.Backend.Vapid.PublicKey == "" {
			return unavailable(errors.New("VAPID keys missing in configuration"))
		}
		logger.Info("Web Dispatcher enabled", "public_key", cfg.Backend.Vapid.PublicKey)
		return web.NewDispatcher(cfg.Backend.Vapid, logger)

	case config.BackendAPNS:
		key, err := os.ReadFile(cfg.Backend.APNS.P8KeyFile)
		if err != nil {
			return unavailable(fmt.Errorf("read p8 key: %w", err))
		}
		d, err := apns.NewDispatcher(apns.Config{
			KeyID:        cfg.Backend.APNS.KeyID,
			TeamID:       cfg.Backend.APNS.TeamID,
			BundleID:     cfg.Backend.APNS.BundleID,
			P8KeyContent: string(key),
			Sandbox:      cfg.Backend.APNS.Sandbox,
		}, logger)
		if err != nil {
			return unavailable(err)
		}
		return d

	default:
		return delivery.LogSender{Logger: logger}
	}
}

func newFirebaseApp(ctx context.Context, cfg *config.Config) (*firebase.App, error) {
	var opts []option.ClientOption
	if cfg.Backend.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Backend.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:   cfg.ProjectID,
		DatabaseURL: cfg.Backend.DatabaseURL,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase App: %w", err)
	}
	return app, nil
}

func newBus(ctx context.Context, cfg *config.Config, relay *adapter.Adapter, logger *slog.Logger) (pushrelay.Bus, func(), error) {
	if cfg.Bus.Kind == config.BusNATS {
		b, err := natsbus.New(cfg.Bus.NatsURL, cfg.Bus.SubjectPrefix, relay, logger)
		if err != nil {
			return nil, func() {}, err
		}
		return b, func() {}, nil
	}

	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, func() {}, fmt.Errorf("pubsub client failed: %w", err)
	}
	closeAll := func() { _ = psClient.Close() }

	consumer, err := newIngestionConsumer(ctx, cfg, psClient, logger)
	if err != nil {
		return nil, closeAll, err
	}

	var replies pipeline.ReplyPublisher
	if cfg.Bus.ReplyTopicID != "" {
		publisher := pipeline.NewPubsubReplyPublisher(psClient, cfg.Bus.ReplyTopicID)
		replies = publisher
		closeAll = func() {
			publisher.Stop()
			_ = psClient.Close()
		}
	}

	service, err := pipeline.NewStreamingService(consumer, relay, replies, cfg.Bus.NumPipelineWorkers, logger)
	if err != nil {
		return nil, closeAll, fmt.Errorf("failed to create streaming service: %w", err)
	}
	return service, closeAll, nil
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.Bus.SubscriptionID, "subscriptions")
	subConfig := &pubsubpb.Subscription{
		Name:                  sub,
		Topic:                 convertPubsub(cfg.ProjectID, cfg.Bus.TopicID, "topics"),
		AckDeadlineSeconds:    10,
		EnableMessageOrdering: false,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: durationpb.New(time.Second),
			MaximumBackoff: durationpb.New(time.Minute),
		},
	}
	if cfg.Bus.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.Bus.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}

	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

// newAuthMiddleware uses the identity service's JWKS when one is configured.
// Without one every request is attributed to the local owner.
func newAuthMiddleware(cfg *config.Config, logger *slog.Logger) func(http.Handler) http.Handler {
	if cfg.IdentityURL == "" {
		logger.Warn("No identity service configured; API requests are not authenticated")
		return pushrelay.LocalAuth("local")
	}
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(cfg.IdentityURL, middleware.RSA256, logger)
	if err != nil {
		logger.Error("JWT discovery failed", "identity_url", cfg.IdentityURL, "err", err)
		os.Exit(1)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		logger.Error("JWKS middleware failed", "err", err)
		os.Exit(1)
	}
	return authMiddleware
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
