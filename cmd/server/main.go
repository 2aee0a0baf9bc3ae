package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/npezzotti/go-chatfanout/internal/admission"
	"github.com/npezzotti/go-chatfanout/internal/api"
	"github.com/npezzotti/go-chatfanout/internal/config"
	"github.com/npezzotti/go-chatfanout/internal/database"
	"github.com/npezzotti/go-chatfanout/internal/moderation"
	"github.com/npezzotti/go-chatfanout/internal/server"
	"github.com/npezzotti/go-chatfanout/internal/stats"
	"github.com/npezzotti/go-chatfanout/internal/store"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	addr    string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:          "go-chat",
	Short:        "Real-time chat fan-out server",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", "", "server address (overrides ADDR)")
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "file to load environment variables from")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	opts := []store.Option{
		store.WithPresenceTTL(cfg.PresenceTTL),
		store.WithTimeout(cfg.StoreTimeout),
	}

	switch cfg.PresenceBackend {
	case config.BackendBadger:
		return store.NewBadgerStore(cfg.BadgerPath, opts...)
	default:
		return store.NewRedisStore(cfg.RedisURL, opts...)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	logger := log.New(os.Stderr, "[go-chat] ", log.LstdFlags)

	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cmd.Flags().Changed("addr") {
		cfg.ServerAddr = addr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.PresenceBackend, err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Println("store close:", err)
		}
	}()

	var db database.UserRepository
	if cfg.DatabaseDSN != "" {
		repo, err := database.NewPgUserRepository(cfg.DatabaseDSN)
		if err != nil {
			return fmt.Errorf("db open: %w", err)
		}
		defer func() {
			if err := repo.Close(); err != nil {
				logger.Println("db close:", err)
			}
		}()
		db = repo
	}

	classifier, err := moderation.New(moderation.Settings{
		OpenAIAPIKey: cfg.OpenAIAPIKey,
		Model:        cfg.ModerationModel,
		BlockedWords: lo.Compact(cfg.BlockedWords),
		Timeout:      cfg.ModerationTimeout,
	})
	if err != nil {
		return fmt.Errorf("moderation: %w", err)
	}
	if _, ok := classifier.(moderation.Noop); ok {
		logger.Println("moderation not configured, all messages pass")
	}

	gate := admission.NewGate(logger, st, classifier, admission.Limits{
		MaxMessages: cfg.RateLimitMessages,
		Window:      cfg.RateLimitWindow,
	})

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, st, gate, statsUpdater, server.Options{
		SendBuffer:    cfg.SendBuffer,
		TouchPresence: cfg.PresenceTTL > 0,
	})
	if err != nil {
		return fmt.Errorf("new chat server: %w", err)
	}

	srv := api.NewGoChatApp(mux, logger, chatServer, st, db, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Println("shutting down...")

		shutDownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutDownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}

		logger.Println("shutting down chat server...")
		if err := chatServer.Shutdown(shutDownCtx); err != nil {
			return fmt.Errorf("chat server shutdown: %w", err)
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Println(err)
		return err
	}

	logger.Println("shutdown complete")
	return nil
}
