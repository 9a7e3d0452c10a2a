// Command assistant runs the shopping assistant HTTP service: a /chat
// endpoint in front of the tiered orchestration engine, with session
// state in Redis or in-process memory.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/askcart/askcart/core"
	"github.com/askcart/askcart/internal/conversation"
	"github.com/askcart/askcart/orchestration"
	"github.com/askcart/askcart/providers"
	"github.com/askcart/askcart/resilience"
	"github.com/askcart/askcart/telemetry"
)

const serviceName = "askcart-assistant"

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := core.NewStdLogger(serviceName, cfg.LogLevel)

	otelProvider, err := telemetry.NewOTelProvider(serviceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("Telemetry disabled", map[string]interface{}{
			"operation": "startup",
			"error":     err.Error(),
		})
	}

	memory, redisStore := buildMemory(cfg, logger)

	flags := orchestration.DefaultFeatureFlags()
	for name, enabled := range cfg.FeatureFlags {
		flags[name] = enabled
	}
	regOpts := orchestration.RegistryOptions{
		FeatureFlags:   flags,
		DefaultTimeout: cfg.DefaultAPITimeout,
	}

	var registry *orchestration.Registry
	if cfg.CatalogFile != "" {
		registry, err = orchestration.LoadRegistryFile(cfg.CatalogFile, regOpts)
	} else {
		registry, err = orchestration.NewRegistry(orchestration.DefaultCatalog(), regOpts)
	}
	if err != nil {
		logger.Error("Catalog load failed", map[string]interface{}{"operation": "startup", "error": err.Error()})
		os.Exit(1)
	}

	var routing *orchestration.RoutingTable
	if cfg.RoutingFile != "" {
		routing, err = orchestration.LoadRoutingFile(cfg.RoutingFile, registry)
	} else {
		routing, err = orchestration.NewRoutingTable(orchestration.DefaultRoutes(), registry)
	}
	if err != nil {
		logger.Error("Routing table load failed", map[string]interface{}{"operation": "startup", "error": err.Error()})
		os.Exit(1)
	}

	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		FailureThreshold: cfg.CircuitFailureThreshold,
		ResetWindow:      cfg.CircuitResetWindow,
		Logger:           logger,
	})

	mux := buildAdapterMux(logger)

	usage := orchestration.NewAsyncUsageLogger(
		&orchestration.LoggerUsageSink{Logger: logger},
		cfg.UsageBufferSize, nil, logger,
	)

	haltStore := orchestration.NewHaltStore(memory, cfg.HaltTTL, logger)

	fetcher := orchestration.NewParallelFetcher(orchestration.FetcherConfig{
		Registry: registry,
		Breaker:  breaker,
		Mux:      mux,
		Usage:    usage,
		Logger:   logger,
	})

	orch := orchestration.NewOrchestrator(orchestration.OrchestratorConfig{
		Routing:   routing,
		Fetcher:   fetcher,
		Validator: orchestration.NewSufficiencyValidator(cfg.MaxAutoTier, logger),
		Breaker:   breaker,
		HaltStore: haltStore,
		Usage:     usage,
		Logger:    logger,
	})

	sessions := conversation.NewSessionManager(memory, 30*time.Minute, nil, logger)
	handler := conversation.NewHandler(sessions, orch, haltStore, logger)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           buildRoutes(handler, sessions, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Assistant listening", map[string]interface{}{
			"operation": "startup",
			"addr":      cfg.HTTPAddr,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", map[string]interface{}{"operation": "serve", "error": err.Error()})
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down", map[string]interface{}{"operation": "shutdown"})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", map[string]interface{}{"operation": "shutdown", "error": err.Error()})
	}
	usage.Close()
	if otelProvider != nil {
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown incomplete", map[string]interface{}{"operation": "shutdown", "error": err.Error()})
		}
	}
	if redisStore != nil {
		_ = redisStore.Close()
	}
}

// buildMemory picks the session/halt backend: Redis when configured and
// reachable, in-process memory otherwise
func buildMemory(cfg *core.Config, logger core.Logger) (core.Memory, *core.RedisStore) {
	if cfg.RedisURL == "" {
		logger.Info("Using in-process memory store", map[string]interface{}{"operation": "startup"})
		return core.NewMemoryStore(), nil
	}
	store, err := core.NewRedisStore(core.RedisStoreOptions{
		RedisURL:  cfg.RedisURL,
		Namespace: "askcart",
		Logger:    logger,
	})
	if err != nil {
		logger.Warn("Redis unavailable, falling back to in-process memory", map[string]interface{}{
			"operation": "startup",
			"error":     err.Error(),
		})
		return core.NewMemoryStore(), nil
	}
	return store, store
}

// buildAdapterMux registers one adapter per catalog adapter key.
// A key with a gateway URL in the environment gets the HTTP adapter;
// the rest run on canned static payloads.
func buildAdapterMux(logger core.Logger) *providers.Mux {
	mux := providers.NewMux()
	for _, key := range []string{"shopping", "reviews", "travel", "research"} {
		envKey := "ASKCART_GATEWAY_" + envSuffix(key)
		if baseURL := os.Getenv(envKey); baseURL != "" {
			adapter, err := providers.NewHTTPAdapter(providers.HTTPAdapterConfig{
				BaseURL: baseURL,
				Logger:  logger,
			})
			if err == nil {
				mux.Register(key, adapter)
				continue
			}
			logger.Warn("Gateway adapter rejected, using static fallback", map[string]interface{}{
				"operation": "startup",
				"adapter":   key,
				"error":     err.Error(),
			})
		}
		mux.Register(key, &providers.StaticAdapter{})
	}
	return mux
}

func envSuffix(key string) string {
	out := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

func buildRoutes(handler *conversation.Handler, sessions *conversation.SessionManager, logger core.Logger) http.Handler {
	routes := http.NewServeMux()

	routes.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST only")
			return
		}
		var req conversation.TurnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		resp, err := handler.HandleTurn(r.Context(), req)
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case core.IsRoutingError(err):
				status = http.StatusBadRequest
			case errors.Is(err, core.ErrContextCanceled):
				status = http.StatusServiceUnavailable
			}
			logger.Error("Turn failed", map[string]interface{}{
				"operation": "chat",
				"error":     err.Error(),
			})
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	routes.HandleFunc("/settings/extended-search", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST only")
			return
		}
		var req struct {
			SessionID string `json:"session_id"`
			Enabled   bool   `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
			writeError(w, http.StatusBadRequest, "session_id required")
			return
		}
		if err := sessions.SetAccountToggle(r.Context(), req.SessionID, req.Enabled); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
	})

	routes.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return otelhttp.NewHandler(routes, "http.server")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
