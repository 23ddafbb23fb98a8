package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/voxdialer/engine/internal/agents"
	"github.com/voxdialer/engine/internal/api"
	"github.com/voxdialer/engine/internal/callengine"
	"github.com/voxdialer/engine/internal/config"
	"github.com/voxdialer/engine/internal/database"
	"github.com/voxdialer/engine/internal/ivr"
	"github.com/voxdialer/engine/internal/metrics"
	"github.com/voxdialer/engine/internal/push"
	"github.com/voxdialer/engine/internal/scheduler"
	"github.com/voxdialer/engine/internal/telephony"
	"github.com/voxdialer/engine/internal/tts"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting voxdialer",
		"port", cfg.Port,
		"ari_url", cfg.ARIURL,
		"trunks", cfg.Trunks,
	)

	db, err := database.Open(cfg.DSN())
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		slog.Error("failed to load jwt secret", "error", err)
		os.Exit(1)
	}

	users := database.NewUserRepository(db)
	budgets := database.NewChannelBudgetRepository(db)
	campaigns := database.NewCampaignRepository(db)
	contacts := database.NewContactRepository(db)
	menus := database.NewMenuRepository(db)
	commitments := database.NewCommitmentRepository(db)
	agentEvents := database.NewAgentEventRepository(db)

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	client := telephony.NewClient(cfg.ARIURL, cfg.ARIUsername, cfg.ARIPassword, "voxdialer", logger)
	events := telephony.NewEventStream(cfg.ARIURL, cfg.ARIUsername, cfg.ARIPassword, "voxdialer", cfg.ARIReconnectBackoff, logger)
	go events.Run(appCtx)

	audio := tts.NewCache(cfg.TTSURL, logger)

	hub := push.NewHub(logger)
	go hub.Run(appCtx)
	notifier := push.NewCallNotifier(hub, campaigns, logger)

	executor := callengine.NewExecutor(client, events, audio, contacts, cfg.Trunks, cfg.TrunkRingTimeout, cfg.CallHardTimeout, logger)
	executor.SetNotifier(notifier)

	ivrRunner := ivr.New(client, events, menus, commitments, cfg.MenuDTMFTimeout, cfg.StepDTMFTimeout, cfg.InterDigitTimeout, logger)
	executor.SetPostCallRunner(ivrRunner)

	dispatcher := agents.New(client, events, agentEvents, cfg.QueueTick, cfg.QueueTimeout, cfg.AgentFinishedDedup, logger)
	go dispatcher.Run(appCtx)
	ivrRunner.SetAgentTransferrer(dispatcher)

	sched := scheduler.New(campaigns, contacts, budgets, executor, cfg.SchedulerTick, cfg.BatchMax, cfg.StaleLockTimeout, cfg.LockSweepInterval, logger)
	if err := sched.RecoverOnStart(appCtx); err != nil {
		slog.Error("failed to recover orphaned contacts", "error", err)
		os.Exit(1)
	}
	go sched.Run(appCtx)

	collector := metrics.NewCollector(
		metrics.ActiveCallsAdapter{Contacts: contacts},
		metrics.CampaignStatusAdapter{Campaigns: campaigns},
		dispatcher,
		dispatcher,
		metrics.BudgetAdapter{Budgets: budgets},
		time.Now(),
	)
	prometheus.MustRegister(collector)

	handler := api.NewServer(cfg, users, campaigns, contacts, menus, commitments, budgets, agentEvents, dispatcher, hub, jwtSecret)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	appCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("voxdialer stopped")
}
