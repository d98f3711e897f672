package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantfold/confluence/internal/cache"
	"github.com/quantfold/confluence/internal/config"
	"github.com/quantfold/confluence/internal/datasource"
	"github.com/quantfold/confluence/internal/domain/confluence"
	"github.com/quantfold/confluence/internal/domain/features"
	"github.com/quantfold/confluence/internal/domain/forwardtest"
	"github.com/quantfold/confluence/internal/domain/ranker"
	"github.com/quantfold/confluence/internal/domain/risk"
	"github.com/quantfold/confluence/internal/domain/strategy"
	"github.com/quantfold/confluence/internal/engine"
	"github.com/quantfold/confluence/internal/metrics"
	"github.com/quantfold/confluence/internal/persistence"
	"github.com/quantfold/confluence/internal/persistence/postgres"
	"github.com/quantfold/confluence/internal/publish"
)

// runtime bundles everything a command needs after assembly.
type runtime struct {
	cfg      *config.Config
	eng      *engine.Engine
	registry *prometheus.Registry
	provider datasource.BarProvider
	closers  []func() error
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
}

// buildRuntime assembles the engine and its collaborators from config.
// Without a postgres DSN the in-memory repository backs everything, which
// is the normal backtest setup.
func buildRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	rt := &runtime{cfg: cfg, registry: prometheus.NewRegistry()}

	repo := persistence.NewMemoryRepository()
	if cfg.Postgres.DSN != "" {
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		rt.closers = append(rt.closers, db.Close)
		for _, stmt := range postgres.Schema() {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return nil, fmt.Errorf("apply schema: %w", err)
			}
		}
		repo = persistence.Repository{
			Signals:     postgres.NewSignalsRepo(db, cfg.Postgres.Timeout),
			Outcomes:    postgres.NewOutcomesRepo(db, cfg.Postgres.Timeout),
			Performance: postgres.NewPerformanceRepo(db, cfg.Postgres.Timeout),
		}
	}

	set := strategy.DefaultSet()
	fe := features.NewEngine(features.Config{
		MinLookback:  cfg.Features.MinLookback,
		HurstWindow:  cfg.Features.HurstWindow,
		VolWindow:    cfg.Features.VolWindow,
		VolHistory:   cfg.Features.VolHistory,
		EGARCHWindow: cfg.Features.EGARCHWindow,
	})
	agg := confluence.NewAggregator(confluence.Config{
		FireThreshold: cfg.Confluence.FireThreshold,
		MinConfidence: cfg.Confluence.MinConfidence,
		Weights:       cfg.Confluence.Weights,
	}, set.Classes())
	sizer := risk.NewSizer(risk.Config{
		MinTrades:   cfg.Risk.MinTrades,
		KellyScale:  cfg.Risk.KellyScale,
		MaxFraction: cfg.Risk.MaxFraction,
		StopVolMult: cfg.Risk.StopVolMult,
		RewardRisk:  cfg.Risk.RewardRisk,
		TargetVol:   cfg.Risk.TargetVol,
		MinStopPct:  cfg.Risk.MinStopPct,
	})
	resolver := forwardtest.NewResolver(cfg.ForwardTest.MaxHolding)
	rk := ranker.New(ranker.Config{
		MinTrades:     cfg.Ranker.MinTrades,
		PThreshold:    cfg.Ranker.PThreshold,
		CorrThreshold: cfg.Ranker.CorrThreshold,
	})

	opts := []engine.Option{
		engine.WithMetrics(metrics.New(rt.registry)),
	}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		rt.closers = append(rt.closers, client.Close)
		opts = append(opts, engine.WithGatingSink(cache.NewGatingStore(client, cfg.Redis.TTL)))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := publish.NewKafkaPublisher(publish.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			SignalTopic:  cfg.Kafka.SignalTopic,
			OutcomeTopic: cfg.Kafka.OutcomeTopic,
		})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, pub.Close)
		opts = append(opts, engine.WithPublisher(pub))
	}

	rt.eng = engine.New(engine.Config{
		MaxHistory:       cfg.Engine.MaxHistory,
		FallbackFraction: cfg.Engine.FallbackFraction,
		RankWindow:       cfg.Ranker.Window,
	}, fe, set, agg, sizer, resolver, rk, repo, opts...)

	if cfg.ClickHouse.DSN != "" {
		ch, err := datasource.NewClickHouseProvider(ctx, datasource.ClickHouseConfig{
			DSN:   cfg.ClickHouse.DSN,
			Table: cfg.ClickHouse.Table,
		})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, ch.Close)
		rt.provider = datasource.NewGuarded(ch, datasource.GuardConfig{BreakerName: "clickhouse"})
	}

	return rt, nil
}

// parseWindow reads the --from/--to flags, defaulting to the trailing
// year ending now.
func parseWindow(fromFlag, toFlag string) (time.Time, time.Time, error) {
	to := time.Now().UTC()
	from := to.AddDate(-1, 0, 0)
	var err error
	if toFlag != "" {
		if to, err = time.Parse(time.RFC3339, toFlag); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse --to: %w", err)
		}
	}
	if fromFlag != "" {
		if from, err = time.Parse(time.RFC3339, fromFlag); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse --from: %w", err)
		}
	}
	return from, to, nil
}
