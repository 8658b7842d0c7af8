// ABOUTME: Gateway wiring store, LLM, orchestrator, and hub behind one HTTP server
// ABOUTME: Manages startup, the idle conversation reaper, and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harborview/concierge-gateway/internal/agent"
	"github.com/harborview/concierge-gateway/internal/config"
	"github.com/harborview/concierge-gateway/internal/conversation"
	"github.com/harborview/concierge-gateway/internal/dedupe"
	"github.com/harborview/concierge-gateway/internal/hub"
	"github.com/harborview/concierge-gateway/internal/intent"
	"github.com/harborview/concierge-gateway/internal/llm"
	"github.com/harborview/concierge-gateway/internal/store"
)

const (
	dedupeTTL     = 5 * time.Minute
	dedupeMaxSize = 100_000

	// reaperMinInterval bounds how often the idle reaper scans.
	reaperMinInterval = time.Minute
	reaperBatchSize   = 100
)

// Gateway is the concierge-gateway server: the SQLite store, the
// orchestration service, the connection hub, and the HTTP server exposing
// health endpoints and the WebSocket binding.
type Gateway struct {
	config       *config.Config
	store        store.Store
	conversation *conversation.Service
	hub          *hub.Hub
	dedupe       *dedupe.Cache
	httpServer   *http.Server
	logger       *slog.Logger
}

// New creates a gateway from configuration. The LLM collaborator is optional;
// when disabled every reply uses the canned per-agent fallbacks.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	var classifierLLM intent.Completer
	var generatorLLM agent.Completer
	if cfg.LLM.Enabled {
		client := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.Timeout, logger)
		classifierLLM = client
		generatorLLM = client
		logger.Info("text generation enabled", "base_url", cfg.LLM.BaseURL, "model", cfg.LLM.Model)
	} else {
		logger.Info("text generation disabled, using canned fallbacks")
	}

	profiles := agent.DefaultProfiles()
	if cfg.Agents.ProfilePack != "" {
		profiles, err = agent.LoadProfilePack(cfg.Agents.ProfilePack, logger)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("loading profile pack: %w", err)
		}
		logger.Info("profile pack loaded", "path", cfg.Agents.ProfilePack)
	}

	classifier := intent.NewClassifier(classifierLLM, logger)
	generator := agent.NewGenerator(profiles, generatorLLM, logger)
	contexts := conversation.NewContextBuilder(st, cfg.Agents.HistoryLimit, cfg.Agents.InteractionLimit, logger)
	convService := conversation.New(st, classifier, generator, contexts, logger)

	dedupeCache := dedupe.New(dedupeTTL, dedupeMaxSize)
	h := hub.New(convService, dedupeCache, newMarkdownRenderer(), logger)

	gw := &Gateway{
		config:       cfg,
		store:        st,
		conversation: convService,
		hub:          h,
		dedupe:       dedupeCache,
		logger:       logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)
	mux.HandleFunc("/ws", gw.handleWebSocket)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Run starts the HTTP server and the idle reaper, and blocks until the
// context is canceled or a server error occurs. Returns nil on graceful
// shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		g.runIdleReaper(groupCtx)
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return g.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// Shutdown stops the HTTP server, drains the hub workers, and closes the
// store. Safe to call once.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	g.hub.Close()
	g.dedupe.Close()

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// runIdleReaper periodically ends conversations with no activity past the
// configured idle timeout. Conversations with live connections are skipped.
// Disabled when the timeout is zero.
func (g *Gateway) runIdleReaper(ctx context.Context) {
	idleTimeout := g.config.Conversations.IdleTimeout
	if idleTimeout <= 0 {
		return
	}

	interval := idleTimeout / 4
	if interval < reaperMinInterval {
		interval = reaperMinInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	g.logger.Info("idle reaper running", "idle_timeout", idleTimeout, "interval", interval)
	for {
		select {
		case <-ticker.C:
			g.reapIdleConversations(ctx, idleTimeout)
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) reapIdleConversations(ctx context.Context, idleTimeout time.Duration) {
	cutoff := time.Now().Add(-idleTimeout)
	idle, err := g.store.ListIdleConversations(ctx, cutoff, reaperBatchSize)
	if err != nil {
		g.logger.Error("idle conversation scan failed", "error", err)
		return
	}

	for _, conv := range idle {
		if g.hub.ConnectionCount(conv.ID) > 0 {
			continue
		}
		if err := g.conversation.EndConversation(ctx, conv.ID); err != nil {
			g.logger.Error("ending idle conversation failed",
				"conversation_id", conv.ID,
				"error", err)
			continue
		}
		g.logger.Info("ended idle conversation",
			"conversation_id", conv.ID,
			"started_at", conv.StartedAt)
	}
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers queries.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.store.ListActiveConversations(r.Context(), 1); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
