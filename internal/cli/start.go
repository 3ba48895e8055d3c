package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aditya/relaychat/internal/config"
	"github.com/aditya/relaychat/internal/logger"
	"github.com/aditya/relaychat/internal/metrics"
	"github.com/aditya/relaychat/pkg/completion"
	"github.com/aditya/relaychat/pkg/gateway"
	"github.com/aditya/relaychat/pkg/history"
	"github.com/aditya/relaychat/pkg/orchestrator"
	"github.com/aditya/relaychat/pkg/store"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the relay server",
	Long: `Start the relay server. It accepts WebSocket connections, relays
messages to the completion service and persists conversation history.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	lg, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: true,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer lg.Close()
	zl := lg.GetZerolog()

	m := metrics.New()

	sessionStore, err := store.NewSQLite(store.SQLiteConfig{
		Path:         cfg.Store.Path,
		QueryTimeout: time.Duration(cfg.Store.QueryTimeout) * time.Second,
		Logger:       zl.With().Str("component", "store").Logger(),
	})
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer sessionStore.Close()

	fallback := store.NewFallback(cfg.Store.FallbackCapacity)

	// A missing credential leaves the gateway unconfigured; the server
	// still runs and answers with the degraded not-configured reply.
	var caller completion.Caller
	if cfg.AI.APIKey == "" {
		zl.Error().Msg("GEMINI_API_KEY is not set, completion capability disabled")
	} else {
		gemini, err := completion.NewGeminiCaller(cmd.Context(), cfg.AI.APIKey, int32(cfg.AI.MaxOutputTokens))
		if err != nil {
			return fmt.Errorf("failed to create Gemini client: %w", err)
		}
		caller = gemini
	}

	completer := completion.New(completion.Config{
		Model:         cfg.AI.Model,
		FallbackModel: cfg.AI.FallbackModel,
		MaxRetries:    cfg.AI.MaxRetries,
		Caller:        caller,
		Logger:        zl.With().Str("component", "completion").Logger(),
	})

	orch, err := orchestrator.New(orchestrator.Config{
		Store:      sessionStore,
		Fallback:   fallback,
		Reconciler: history.New(cfg.AI.HistoryWindow),
		Completer:  completer,
		Metrics:    m,
		Logger:     zl.With().Str("component", "orchestrator").Logger(),
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	if cfg.Store.Retention.Enabled {
		sweeper, err := store.NewSweeper(
			sessionStore,
			time.Duration(cfg.Store.Retention.MaxAge)*24*time.Hour,
			cfg.Store.Retention.Schedule,
			zl.With().Str("component", "retention").Logger(),
		)
		if err != nil {
			return fmt.Errorf("failed to create retention sweeper: %w", err)
		}
		if err := sweeper.Start(); err != nil {
			return fmt.Errorf("failed to start retention sweeper: %w", err)
		}
		defer sweeper.Stop()
	}

	server, err := gateway.NewServer(gateway.Config{
		Port:         cfg.Server.Port,
		Host:         cfg.Server.Host,
		ClientOrigin: cfg.Server.ClientOrigin,
		Relay:        orch,
		Metrics:      m,
		Logger:       zl.With().Str("component", "gateway").Logger(),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	zl.Info().
		Int("port", cfg.Server.Port).
		Str("model", cfg.AI.Model).
		Msg("Relay server running")

	// Wait for shutdown signal
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	zl.Info().Msg("Shutdown signal received")

	return server.Stop()
}
