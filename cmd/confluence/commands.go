package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantfold/confluence/internal/backtest"
	"github.com/quantfold/confluence/internal/datasource"
	"github.com/quantfold/confluence/internal/httpapi"
	"github.com/quantfold/confluence/internal/scheduler"
)

func runBacktest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()
	if rt.provider == nil {
		return fmt.Errorf("backtest requires a clickhouse bar source in config")
	}

	fromFlag, _ := cmd.Flags().GetString("from")
	toFlag, _ := cmd.Flags().GetString("to")
	from, to, err := parseWindow(fromFlag, toFlag)
	if err != nil {
		return err
	}

	runner := backtest.NewRunner(rt.eng, rt.provider, rt.cfg.Ranker.Cadence)
	for _, instrument := range rt.cfg.Instruments {
		summary, err := runner.Run(ctx, instrument, from, to)
		if err != nil {
			return fmt.Errorf("backtest %s: %w", instrument, err)
		}
		fmt.Printf("%-12s bars=%d signals=%d won=%d lost=%d expired=%d win_rate=%.3f return=%.4f\n",
			summary.Instrument, summary.BarsReplayed, summary.SignalsFired,
			summary.Won, summary.Lost, summary.Expired, summary.WinRate(), summary.TotalReturn)
	}
	return nil
}

func runRealtime(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()
	if rt.provider == nil && rt.cfg.Stream.URL == "" {
		return fmt.Errorf("realtime mode requires a stream url or clickhouse bar source in config")
	}

	srv := httpapi.New(rt.cfg.HTTP.Addr, rt.eng, rt.registry)
	srv.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	sched := scheduler.New(scheduler.Config{
		Instruments:   rt.cfg.Instruments,
		PollInterval:  rt.cfg.Poll.Interval,
		PollLookback:  rt.cfg.Poll.Lookback,
		RerankCadence: rt.cfg.Ranker.Cadence,
	}, rt.eng, rt.provider, nil)

	// A configured stream feed takes precedence over polling.
	if rt.cfg.Stream.URL != "" {
		stream, err := datasource.Dial(ctx, datasource.StreamConfig{
			URL:         rt.cfg.Stream.URL,
			ReadTimeout: rt.cfg.Stream.ReadTimeout,
		})
		if err != nil {
			return err
		}
		defer stream.Close()
		go func() {
			if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("stream terminated")
			}
		}()

		log.Info().
			Strs("instruments", rt.cfg.Instruments).
			Str("stream", rt.cfg.Stream.URL).
			Msg("realtime mode started")

		err = sched.RunStream(ctx, stream.Bars())
		if err == context.Canceled {
			return nil
		}
		return err
	}

	log.Info().
		Strs("instruments", rt.cfg.Instruments).
		Dur("poll_interval", rt.cfg.Poll.Interval).
		Msg("realtime mode started")

	err = sched.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}

func runRerank(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	res, err := rt.eng.Rerank(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("gating v%d: %d records, demoted=%v promoted=%v\n",
		res.Table.Version, len(res.Records), res.Demoted, res.Promoted)
	for _, rec := range res.Records {
		fmt.Printf("%-22s trades=%-4d win_rate=%.3f p=%.4f %s -> %s\n",
			rec.StrategyID, rec.TradeCount, rec.WinRate, rec.PValue, rec.Significance, rec.Verdict)
	}
	return nil
}
