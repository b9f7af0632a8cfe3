package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/godilite/qa-workflow/internal/config"
	handler "github.com/godilite/qa-workflow/internal/grpc"
	"github.com/godilite/qa-workflow/internal/llm"
	"github.com/godilite/qa-workflow/internal/repository"
	"github.com/godilite/qa-workflow/internal/scheduler"
	"github.com/godilite/qa-workflow/internal/service"
	"github.com/godilite/qa-workflow/pkg/cache"
	dbbuilder "github.com/godilite/qa-workflow/pkg/database"
	grpcsrv "github.com/godilite/qa-workflow/pkg/grpc/server"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	logger     *zap.Logger
	dbPool     *sql.DB
	cache      *cache.Cache
	grpcServer *grpcsrv.Server
	scheduler  *scheduler.Scheduler
}

func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	dsn, err := dataSource(cfg)
	if err != nil {
		return nil, err
	}
	dbPool, err := dbbuilder.New(ctx,
		dbbuilder.WithDriver(cfg.DBDriver),
		dbbuilder.WithDataSource(dsn),
		dbbuilder.WithMaxOpenConns(4),
		dbbuilder.WithMaxIdleConns(4),
		dbbuilder.WithSchema(repository.Schema...),
		dbbuilder.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("database init failed: %w", err)
	}
	logger.Info("Database pool initialized", zap.String("path", cfg.DBPath))

	cacheClient, err := cache.New(ctx,
		cache.WithAddress(cfg.RedisAddr),
	)
	if err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("cache init failed: %w", err)
	}
	logger.Info("Cache client initialized", zap.String("addr", cfg.RedisAddr))

	var generator service.TextGenerator = llm.Disabled{}
	if cfg.LLMEnabled() {
		client := llm.NewClient(cfg.AnthropicAPIKey,
			llm.WithModel(cfg.LLMModel),
			llm.WithTimeout(cfg.LLMTimeout()),
			llm.WithLogger(logger),
		)
		generator = client
		logger.Info("Text generation enabled", zap.String("model", client.Model()))
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set; proposals, topics and predictions use fallbacks")
	}

	tickets := repository.NewTicketRepository(dbPool)
	auditStore := repository.NewAuditRepository(dbPool)
	specialists := repository.NewSpecialistRepository(dbPool)
	corpus := repository.NewCorpusRepository(dbPool)
	quality := repository.NewQualityRepository(dbPool)

	var similar service.SimilarityFinder = service.NoSimilarity{}
	if cfg.SimilarityKeywordSearch {
		similar = corpus
	}

	policy := service.DefaultPolicy
	auditLog := service.NewAuditLog(auditStore, logger, service.WithPepper([]byte(cfg.AuditPepper)))
	machine := service.NewReviewStateMachine(tickets, specialists, auditLog, logger)
	proposals := service.NewCorrectionProposalService(generator, policy.Proposal, logger)
	impact := service.NewImpactAnalyzer(similar, corpus, generator, policy.Impact, logger)
	matcher := service.NewSpecialistMatcher(specialists, generator, policy.Matching, logger)
	workflow := service.NewWorkflow(machine, proposals, impact, matcher, corpus, policy, logger)
	snapshots := handler.NewQualityCache(cacheClient, cfg.CacheTTL(), logger)
	scorer := service.NewQualityScorer(quality, policy, logger, snapshots.Store)

	grpcHandlers := handler.NewHandlers(workflow, scorer, snapshots, logger)

	grpcServer, err := grpcsrv.New(
		grpcsrv.WithPort(cfg.GRPCPort),
		grpcsrv.WithLogger(logger),
		grpcsrv.WithReflection(cfg.GRPCReflectionEnabled),
		grpcsrv.WithLogging(true),
		grpcsrv.WithUnaryInterceptors(handler.ActorInterceptor(logger)),
	)
	if err != nil {
		cacheClient.Close()
		dbPool.Close()
		return nil, fmt.Errorf("failed to create gRPC server: %w", err)
	}
	grpcServer.RegisterServiceWithHealth(&handler.ServiceDesc, grpcHandlers)

	sched, err := scheduler.New(scorer,
		scheduler.WithSchedule(cfg.QualitySchedule),
		scheduler.WithDomains(cfg.QualityDomains...),
		scheduler.WithPeriodDays(cfg.QualityPeriodDays),
		scheduler.WithLogger(logger),
	)
	if err != nil {
		cacheClient.Close()
		dbPool.Close()
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}

	return &App{
		logger:     logger,
		dbPool:     dbPool,
		cache:      cacheClient,
		grpcServer: grpcServer,
		scheduler:  sched,
	}, nil
}

// dataSource builds the driver DSN. For SQLite, writes take the lock at BEGIN
// so concurrent transitions and audit appends serialize.
func dataSource(cfg *config.Config) (string, error) {
	if cfg.DBDriver != "sqlite3" {
		return cfg.DBPath, nil
	}
	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create database directory: %w", err)
		}
	}
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate&_foreign_keys=on", cfg.DBPath), nil
}

// Run starts the application and blocks until a shutdown signal is received.
func (a *App) Run() error {
	a.logger.Info("application starting")

	a.grpcServer.Start()
	a.scheduler.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	a.logger.Info("application shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler shutdown: %w", err))
	}
	if err := a.grpcServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("gRPC shutdown: %w", err))
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Error("cache shutdown error", zap.Error(err))
	}
	if err := a.dbPool.Close(); err != nil {
		a.logger.Error("database shutdown error", zap.Error(err))
	}

	if len(errs) == 0 {
		a.logger.Info("graceful shutdown completed successfully")
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
