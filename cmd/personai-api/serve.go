package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/PabloGalante/personai/internal/adapters/auth"
	httpadapter "github.com/PabloGalante/personai/internal/adapters/http"
	"github.com/PabloGalante/personai/internal/adapters/llm"
	"github.com/PabloGalante/personai/internal/adapters/queue"
	firestorestore "github.com/PabloGalante/personai/internal/adapters/storage/firestore"
	memstore "github.com/PabloGalante/personai/internal/adapters/storage/memory"
	sqlitestore "github.com/PabloGalante/personai/internal/adapters/storage/sqlite"
	"github.com/PabloGalante/personai/internal/app/agentflow"
	"github.com/PabloGalante/personai/internal/app/conversation"
	"github.com/PabloGalante/personai/internal/app/fatigue"
	"github.com/PabloGalante/personai/internal/app/phase"
	"github.com/PabloGalante/personai/internal/app/repair"
	"github.com/PabloGalante/personai/internal/app/tasks"
	"github.com/PabloGalante/personai/internal/app/tools"
	"github.com/PabloGalante/personai/internal/config"
	"github.com/PabloGalante/personai/internal/domain"
	"github.com/PabloGalante/personai/internal/observability"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the mission repair worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			observability.SetLevel(cfg.Log.Level)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := observability.Logger()
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	store, closer, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		closers = append(closers, closer)
	}

	provider, err := newProvider(ctx, cfg)
	if err != nil {
		return err
	}

	authenticator, err := newAuthenticator(cfg)
	if err != nil {
		return err
	}

	repairQueue, closer, err := newRepairQueue(cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		closers = append(closers, closer)
	}

	machine := phase.NewMachine(nil, store, cfg.Phases.ForwardOnly)
	catalog, err := tools.NewCatalog(tools.Deps{Machine: machine, Store: store, Queue: repairQueue})
	if err != nil {
		return fmt.Errorf("build tool catalog: %w", err)
	}
	gate, err := tools.NewGate(ctx, "", cfg.Tools.EnforcePhases)
	if err != nil {
		return fmt.Errorf("prepare tool policy: %w", err)
	}
	dispatcher := tools.NewDispatcher(catalog, gate, machine)
	runner := agentflow.NewRunner(provider, dispatcher, cfg.LLM.Timeout)

	fatigueCtl := fatigue.NewController(fatigue.Config{
		SoftLimit:             cfg.Fatigue.SoftLimit,
		HardLimit:             cfg.Fatigue.HardLimit,
		Window:                cfg.Fatigue.Window,
		SoftCloseUsesProvider: cfg.Fatigue.SoftCloseUsesProvider,
		SoftCloseMaxTokens:    cfg.Fatigue.SoftCloseMaxTokens,
	})

	convSvc := conversation.NewService(store, machine, fatigueCtl, runner, dispatcher, conversation.Options{
		HistoryLimit: cfg.Turn.HistoryLimit,
		AuditWindow:  cfg.Turn.AuditWindow,
		MaxTokens:    cfg.LLM.MaxTokens,
	})
	taskSvc := tasks.NewService(store)

	worker := repair.NewWorker(store, repairQueue, repair.Options{
		RetryDelay: cfg.Repair.Interval,
		MaxRetry:   cfg.Repair.MaxRetry,
	})
	workerDone := make(chan error, 1)
	go func() { workerDone <- worker.Run(ctx) }()

	e := httpadapter.NewServer(convSvc, taskSvc, authenticator)
	serverErr := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Server.Port
		logger.Info("personai api listening",
			"addr", addr,
			"storage", cfg.Storage.Backend,
			"provider", cfg.LLM.Provider,
			"repair_queue", cfg.Repair.Backend,
		)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}

	select {
	case err := <-workerDone:
		if err != nil {
			logger.Error("repair worker failed", "error", err)
		}
	case <-shutdownCtx.Done():
		logger.Warn("repair worker did not stop in time")
	}
	return nil
}

func newStore(ctx context.Context, cfg *config.Config) (domain.Store, io.Closer, error) {
	logger := observability.Logger()

	switch cfg.Storage.Backend {
	case "firestore":
		logger.Info("using firestore storage", "project", cfg.GCP.Project)
		s, err := firestorestore.NewStore(ctx, cfg.GCP.Project)
		if err != nil {
			return nil, nil, fmt.Errorf("init firestore store: %w", err)
		}
		return s, s, nil
	case "sqlite":
		logger.Info("using sqlite storage", "dsn", cfg.Storage.SQLiteDSN)
		s, err := sqlitestore.NewStore(cfg.Storage.SQLiteDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("init sqlite store: %w", err)
		}
		return s, s, nil
	case "memory", "":
		logger.Info("using in-memory storage")
		return memstore.NewStore(), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

func newProvider(ctx context.Context, cfg *config.Config) (domain.CompletionProvider, error) {
	switch cfg.LLM.Provider {
	case "vertex":
		p, err := llm.NewVertexProvider(ctx, llm.VertexConfig{
			Project:   cfg.GCP.Project,
			Location:  cfg.GCP.Location,
			Model:     cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("init vertex provider: %w", err)
		}
		return p, nil
	case "openai":
		p, err := llm.NewOpenAIProvider(llm.OpenAIConfig{
			Endpoint:   cfg.LLM.Endpoint,
			APIKey:     cfg.LLM.APIKey,
			Model:      cfg.LLM.Model,
			Deployment: cfg.LLM.Deployment,
			APIVersion: cfg.LLM.APIVersion,
			Timeout:    cfg.LLM.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("init openai provider: %w", err)
		}
		return p, nil
	case "mock", "":
		observability.Logger().Warn("using mock completion provider")
		return llm.NewMockProvider(), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
}

func newAuthenticator(cfg *config.Config) (domain.Authenticator, error) {
	switch cfg.Auth.Mode {
	case "jwt":
		return auth.NewJWTVerifier(cfg.Auth.JWTSecret)
	case "static", "":
		return auth.NewStaticVerifier(cfg.Auth.StaticTokens)
	}
	return nil, fmt.Errorf("unknown auth mode %q", cfg.Auth.Mode)
}

func newRepairQueue(cfg *config.Config) (domain.RepairQueue, io.Closer, error) {
	switch cfg.Repair.Backend {
	case "redis":
		q, err := queue.NewRedisQueue(queue.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Stream:   cfg.Repair.Stream,
			Consumer: cfg.Repair.Consumer,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init redis repair queue: %w", err)
		}
		return q, q, nil
	case "memory", "":
		return queue.NewMemoryQueue(0), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown repair backend %q", cfg.Repair.Backend)
}
