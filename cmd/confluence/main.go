package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const (
	appName = "confluence"
	version = "v1.3.0"
)

var cfgPath string

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Confluence trade-signal engine",
		Version: version,
		Long: `Confluence ingests price bars and produces trade signals with
position sizing and TP/SL levels, forward-tests every signal against
subsequent bars, and continuously re-ranks the strategies behind them.`,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config/confluence.yaml", "path to config file")
	// Accept underscore spellings for all flags.
	rootCmd.SetGlobalNormalizationFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	backtestCmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay historical bars through the full loop",
		RunE:  runBacktest,
	}
	backtestCmd.Flags().String("from", "", "start of replay window (RFC3339)")
	backtestCmd.Flags().String("to", "", "end of replay window (RFC3339)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run realtime mode: poll, signal, resolve, rerank",
		RunE:  runRealtime,
	}

	rerankCmd := &cobra.Command{
		Use:   "rerank",
		Short: "Run one ranking pass and print the gating delta",
		RunE:  runRerank,
	}

	rootCmd.AddCommand(backtestCmd, runCmd, rerankCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
