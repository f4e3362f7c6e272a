// Package app wires configuration, storage, the optional Redis layer and the
// use cases into one graph shared by the API server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/score-portal/score-portal/config"
	"github.com/score-portal/score-portal/internal/application/command"
	"github.com/score-portal/score-portal/internal/application/query"
	"github.com/score-portal/score-portal/internal/domain/importer"
	"github.com/score-portal/score-portal/internal/domain/ranking"
	"github.com/score-portal/score-portal/internal/infrastructure/persistence"
	"github.com/score-portal/score-portal/internal/infrastructure/persistence/redis"
	"github.com/score-portal/score-portal/internal/infrastructure/security"
	"github.com/score-portal/score-portal/pkg/circuitbreaker"
	"github.com/score-portal/score-portal/pkg/logger"
)

// App holds every use case of the portal.
type App struct {
	Config  *config.Config
	Backend *persistence.Backend
	// Cache is nil when Redis is disabled.
	Cache *redis.Cache

	ListTests     *query.ListTestsHandler
	TestRanking   *query.GetTestRankingHandler
	TestStats     *query.GetTestStatsHandler
	TotalRanking  *query.GetTotalRankingHandler
	StudentReport *query.GetStudentReportHandler
	Predict       *query.PredictOutcomeHandler

	ImportResults  *command.ImportTestResultsHandler
	ImportStudents *command.ImportStudentsHandler
	DeleteTest     *command.DeleteTestHandler
	AddScore       *command.AddScoreHandler
}

// New opens the store, connects Redis when enabled and builds the handlers.
// A Redis failure is fatal only when Redis is enabled; the in-process
// locker is used otherwise.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}

	backend, err := persistence.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		n, err := backend.Migrate(ctx)
		if err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if n > 0 {
			log.Info("migrations applied", logger.Count("applied", n))
		}
	}

	a := &App{Config: cfg, Backend: backend}

	var (
		locker      command.ImportLocker = command.NewLocalLocker()
		invalidator command.RankingInvalidator
		cache       query.RankingCache
	)
	if cfg.Redis.Enabled {
		rc := redis.DefaultConfig()
		rc.Host = cfg.Redis.Host
		rc.Port = cfg.Redis.Port
		rc.Password = cfg.Redis.Password
		rc.DB = cfg.Redis.DB
		if cfg.Redis.PoolSize > 0 {
			rc.PoolSize = cfg.Redis.PoolSize
		}

		a.Cache, err = redis.NewCache(ctx, rc)
		if err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		locker = redis.NewImportLock(a.Cache, cfg.Redis.LockTTL, cfg.Redis.LockAttempts, cfg.Redis.LockBackoff)
		rankings := redis.NewRankingCache(a.Cache, 0,
			circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
				log.Warn("circuit breaker state changed",
					logger.String("breaker", name),
					logger.String("from", from.String()),
					logger.String("to", to.String()))
			}))
		invalidator = rankings
		cache = rankings
		log.Info("redis enabled", logger.String("addr", rc.Addr()))
	}

	policy, err := ranking.ParsePolicy(cfg.Engine.AggregatePolicy)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	store := backend.Store
	reconciler := importer.NewReconciler(store, store, security.NewBcryptHasher(cfg.Engine.BcryptCost),
		importer.Config{StrictSections: cfg.Engine.StrictSections})

	a.ListTests = query.NewListTestsHandler(store)
	a.TestRanking = query.NewGetTestRankingHandler(store, store)
	a.TestStats = query.NewGetTestStatsHandler(store)
	a.TotalRanking = query.NewGetTotalRankingHandler(store, store, cache, policy, log)
	a.StudentReport = query.NewGetStudentReportHandler(store, store, policy)
	a.Predict = query.NewPredictOutcomeHandler(store, store, cfg.Engine.PredictConcurrency)

	a.ImportResults = command.NewImportTestResultsHandler(reconciler, locker, invalidator, log)
	a.ImportStudents = command.NewImportStudentsHandler(reconciler, invalidator, log)
	a.DeleteTest = command.NewDeleteTestHandler(store, locker, invalidator, log)
	a.AddScore = command.NewAddScoreHandler(store, locker, invalidator, cfg.Engine.StrictSections, log)

	return a, nil
}

// Close releases Redis and the store.
func (a *App) Close() error {
	var errs []error
	if a.Cache != nil {
		errs = append(errs, a.Cache.Close())
	}
	errs = append(errs, a.Backend.Close())
	return errors.Join(errs...)
}
