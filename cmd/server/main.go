package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	automationpersistence "github.com/covecrm/cove/internal/automation/persistence"
	automationrouter "github.com/covecrm/cove/internal/automation/router"
	automationservice "github.com/covecrm/cove/internal/automation/service"
	"github.com/covecrm/cove/internal/config"
	"github.com/covecrm/cove/internal/database"
	"github.com/covecrm/cove/internal/eventbus"
	pipelinepersistence "github.com/covecrm/cove/internal/pipeline/persistence"
	pipelinerouter "github.com/covecrm/cove/internal/pipeline/router"
	pipelineservice "github.com/covecrm/cove/internal/pipeline/service"
	"github.com/covecrm/cove/internal/telemetry"
	"github.com/covecrm/cove/internal/timeline"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := slog.Default()
	logger.Info("configuration loaded successfully",
		"db_host", cfg.Database.Host,
		"db_port", cfg.Database.Port,
		"db_name", cfg.Database.Name,
		"redis_addr", cfg.Redis.Addr,
		"server_port", cfg.Server.Port,
		"poller_interval", cfg.Poller.Interval,
	)

	// Initialize database connection
	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := database.Close(db); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	if err := database.HealthCheck(db); err != nil {
		log.Fatalf("database health check failed: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	// Domain event bus over redis
	redisClient, err := eventbus.NewClient(&cfg.Redis)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("failed to close redis client", "error", err)
		}
	}()
	bus := eventbus.NewRedisBus(redisClient, logger)

	// Pipeline area: blueprint gate + stage transition executor
	dealStore := pipelinepersistence.NewStore(db)
	recorder := timeline.NewStore(db, logger)
	executor := pipelineservice.NewTransitionExecutor(dealStore, dealStore, dealStore, recorder, bus, logger)
	pipelineHandlers := pipelinerouter.NewPipelineRouter(executor, dealStore, recorder, bus, logger)

	// Automation area: trigger matcher, run state machine, job queue
	definitionStore := automationpersistence.NewDefinitionStore(db)
	runStore := automationpersistence.NewRunStore(db)
	jobStore := automationpersistence.NewJobStore(db)

	collab := automationservice.Collaborators{
		Messages:      &automationservice.LogMessageSender{Logger: logger},
		Records:       &dealRecordAdapter{store: dealStore},
		Tags:          &dealRecordAdapter{store: dealStore},
		Notifications: &automationservice.LogNotifier{Logger: logger},
	}
	runner := automationservice.NewRunner(definitionStore, runStore, jobStore, collab, cfg.Poller.ActionTimeout, logger)
	matcher := automationservice.NewTriggerMatcher(definitionStore, runner, logger)
	listener := automationservice.NewListener(bus, matcher, logger)
	scheduler := automationservice.NewScheduler(jobStore, runner, cfg.Poller, logger)
	automationHandlers := automationrouter.NewAutomationRouter(definitionStore, runStore, runner, logger)

	// Background workers stop with this context on shutdown
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	if err := listener.Start(workerCtx); err != nil {
		log.Fatalf("failed to start automation listener: %v", err)
	}
	go scheduler.Start(workerCtx)

	// Set up HTTP routes
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/tenants/{tenantID}/deals", pipelineHandlers.HandleCreateDeal)
	mux.HandleFunc("GET /api/deals/{dealID}", pipelineHandlers.HandleGetDeal)
	mux.HandleFunc("POST /api/deals/{dealID}/stage-moves", pipelineHandlers.HandleStageMove)
	mux.HandleFunc("POST /api/tenants/{tenantID}/workflows", automationHandlers.HandleCreateWorkflow)
	mux.HandleFunc("POST /api/workflows/{workflowID}/trigger", automationHandlers.HandleManualTrigger)
	mux.HandleFunc("GET /api/workflows/{workflowID}/runs", automationHandlers.HandleListRuns)
	mux.HandleFunc("GET /api/runs/{runID}", automationHandlers.HandleGetRun)
	mux.HandleFunc("POST /api/runs/{runID}/cancel", automationHandlers.HandleCancelRun)
	mux.Handle("GET /metrics", telemetry.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.HealthCheck(db); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: mux,
	}

	// Channel to listen for interrupt signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Start server in a goroutine
	go func() {
		logger.Info("starting server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", "error", err)
			quit <- syscall.SIGTERM
		}
	}()

	// Wait for interrupt signal
	<-quit
	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	} else {
		logger.Info("server gracefully stopped")
	}

	// Stop the scheduler and the event listener
	stopWorkers()
	logger.Info("server stopped")
}

// dealRecordAdapter routes UPDATE_RECORD and ADD_TAG workflow actions
// to the deal store. Deals are the only mutable record type on this
// surface for now.
type dealRecordAdapter struct {
	store *pipelinepersistence.Store
}

func (a *dealRecordAdapter) MutateRecord(ctx context.Context, entityType string, entityID uuid.UUID, field string, value any) error {
	if entityType != "deal" {
		return fmt.Errorf("unsupported entity type %q", entityType)
	}
	return a.store.SetDealField(ctx, entityID, field, value)
}

func (a *dealRecordAdapter) TagEntity(ctx context.Context, entityType string, entityID uuid.UUID, tag string) error {
	if entityType != "deal" {
		return fmt.Errorf("unsupported entity type %q", entityType)
	}
	return a.store.AppendDealTag(ctx, entityID, tag)
}
