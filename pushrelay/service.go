package pushrelay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-push-relay/internal/adapter"
	"github.com/tinywideclouds/go-push-relay/internal/api"
	"github.com/tinywideclouds/go-push-relay/pushrelay/config"
)

// Bus delivers host events to the adapter until stopped.
type Bus interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type Wrapper struct {
	*microservice.BaseServer
	adapter *adapter.Adapter
	bus     Bus
	logger  *slog.Logger
}

// New assembles the service.
func New(
	cfg *config.Config,
	relay *adapter.Adapter,
	bus Bus,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) *Wrapper {

	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)
	relayAPI := api.NewRelayAPI(relay, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	handle("POST /api/v1/send", relayAPI.Send)
	handle("PUT /api/v1/tokens", relayAPI.PutToken)
	handle("DELETE /api/v1/tokens/{user}", relayAPI.DeleteToken)
	handle("GET /api/v1/recipients", relayAPI.ListRecipients)

	// CORS preflight for the API namespace
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	return &Wrapper{
		BaseServer: baseServer,
		adapter:    relay,
		bus:        bus,
		logger:     logger,
	}
}

// Start initializes the registry, subscribes to the host bus and serves HTTP.
// It blocks until the HTTP server stops.
func (w *Wrapper) Start(ctx context.Context) error {
	w.adapter.Ready(ctx)

	w.logger.Info("Host bus starting...")
	if err := w.bus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start host bus: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.bus.Stop(ctx); err != nil {
		w.logger.Error("Host bus shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.adapter.Unload(ctx); err != nil {
		w.logger.Error("Pending deliveries did not finish.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}

// LocalAuth marks every request as coming from user. It stands in for the
// JWKS middleware when no identity service is configured.
func LocalAuth(user string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.ContextWithUser(r.Context(), user, user, "")))
		})
	}
}
