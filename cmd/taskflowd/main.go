// Command taskflowd is the one demo CLI this repository ships: it loads a
// JSON task graph, runs it to completion under the engine, and exits
// non-zero if the run stalled or any task failed. It is ambient wiring, not
// part of the engine's core contract.
package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskflow/internal/cliapp"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TASKFLOW")
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "taskflowd",
		Short: "Run a DAG of tasks under a bounded, adaptively-retuned worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}

	flags := cmd.Flags()
	flags.String("graph", "", "path to a JSON task graph file (required)")
	flags.Int("concurrency", 4, "initial concurrency bound")
	flags.Bool("adaptive", false, "enable the adaptive concurrency controller")
	flags.Int("min-concurrency", 1, "adaptive controller lower bound")
	flags.Int("max-concurrency", 0, "adaptive controller upper bound (0 = host CPU count)")
	flags.Float64("target-cpu", 70, "adaptive controller target CPU utilization percent")
	flags.Float64("target-mem", 80, "adaptive controller target memory utilization percent")
	flags.Duration("check-interval", 5*time.Second, "adaptive controller sampling interval")
	flags.Int("adjustment-step", 1, "adaptive controller adjustment step")
	flags.Int("history-size", 3, "adaptive controller rolling window size")
	flags.String("log-level", "info", "zerolog level: debug, info, warn, error")

	if err := v.BindPFlags(flags); err != nil {
		panic(err) // programmer error: flag names must match what BindPFlags expects
	}

	return cmd
}

func run(v *viper.Viper) error {
	graphPath := v.GetString("graph")
	if graphPath == "" {
		return fmt.Errorf("taskflowd: --graph is required")
	}

	level, err := zerolog.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("taskflowd: invalid --log-level: %w", err)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()

	maxConcurrency := v.GetInt("max-concurrency")
	if maxConcurrency <= 0 {
		maxConcurrency = runtime.NumCPU()
	}

	cfg := cliapp.Config{
		GraphPath:            graphPath,
		Concurrency:          v.GetInt("concurrency"),
		Adaptive:             v.GetBool("adaptive"),
		MinConcurrency:       v.GetInt("min-concurrency"),
		MaxConcurrency:       maxConcurrency,
		TargetCPUUtilization: v.GetFloat64("target-cpu"),
		TargetMemUtilization: v.GetFloat64("target-mem"),
		CheckInterval:        v.GetDuration("check-interval"),
		AdjustmentStep:       v.GetInt("adjustment-step"),
		HistorySize:          v.GetInt("history-size"),
		Logger:               logger,
	}

	result, err := cliapp.Run(cfg)
	if err != nil {
		return fmt.Errorf("taskflowd: %w", err)
	}
	if result.Stalled || result.Stats.Failed > 0 {
		os.Exit(1)
	}
	return nil
}
