// Command server is the llmcompare process entrypoint: it loads
// configuration, wires the model adapters, tool registry, session store,
// and orchestrator, then serves the HTTP surface until a shutdown signal
// arrives.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/llmcompare/core/internal/config"
	httpserver "github.com/llmcompare/core/internal/interfaces/http"
	"github.com/llmcompare/core/internal/logging"
	"github.com/llmcompare/core/internal/orchestrator"
	"github.com/llmcompare/core/internal/session"

	domaintool "github.com/llmcompare/core/internal/domain/tool"
	"github.com/llmcompare/core/internal/infrastructure/llm"
	infratool "github.com/llmcompare/core/internal/infrastructure/tool"

	// Vendor adapters self-register into the llm factory registry via init().
	_ "github.com/llmcompare/core/internal/infrastructure/llm/anthropic"
	_ "github.com/llmcompare/core/internal/infrastructure/llm/gemini"
)

const appName = "llmcompare"

func main() {
	log, err := logging.New(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}

	log.Info("starting "+appName,
		zap.Strings("configured_models", cfg.ConfiguredModels),
		zap.String("listen_addr", cfg.ListenAddr),
	)

	providers, err := buildProviders(cfg, log)
	if err != nil {
		log.Fatal("failed to build model providers", zap.Error(err))
	}

	tools := domaintool.NewInMemoryRegistry()
	registered := infratool.RegisterAll(infratool.Deps{
		Registry:        tools,
		Logger:          log,
		HTTPClient:      &http.Client{Timeout: 15 * time.Second},
		SearchQuranBase: envOr("SEARCH_QURAN_BASE_URL", "https://api.alquran.cloud/v1"),
	})
	log.Info("tool registry ready", zap.Int("tool_count", registered))

	store := session.New(log)
	defer store.Close()

	orch := orchestrator.New(providers, tools, store, cfg.StreamTimeout, log)

	srv := httpserver.New(cfg, store, orch, log)
	if err := srv.Start(); err != nil {
		log.Fatal("failed to start HTTP server", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("error during shutdown", zap.Error(err))
		os.Exit(1)
	}
	log.Info(appName + " stopped cleanly")
}

// buildProviders resolves one llm.Provider per configured model, reusing a
// single provider instance per vendor since each adapter already serves
// every model it supports.
func buildProviders(cfg *config.Config, log *zap.Logger) (map[string]llm.Provider, error) {
	var anthropicProvider, geminiProvider llm.Provider

	out := make(map[string]llm.Provider, len(cfg.ConfiguredModels))
	for _, m := range cfg.ConfiguredModels {
		switch {
		case strings.HasPrefix(m, "claude-"):
			if anthropicProvider == nil {
				p, err := llm.CreateProvider("anthropic", llm.Config{APIKey: cfg.AnthropicKey, Models: cfg.ConfiguredModels}, log)
				if err != nil {
					return nil, err
				}
				anthropicProvider = p
			}
			out[m] = anthropicProvider
		case strings.HasPrefix(m, "gemini-"):
			if geminiProvider == nil {
				p, err := llm.CreateProvider("gemini", llm.Config{APIKey: cfg.GeminiKey, Models: cfg.ConfiguredModels}, log)
				if err != nil {
					return nil, err
				}
				geminiProvider = p
			}
			out[m] = geminiProvider
		default:
			return nil, fmt.Errorf("model %q has no known vendor prefix", m)
		}
	}
	return out, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
