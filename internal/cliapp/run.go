package cliapp

import (
	"time"

	"github.com/rs/zerolog"

	"taskflow/internal/adaptive"
	"taskflow/internal/events"
	"taskflow/internal/graph"
	"taskflow/internal/scheduler"
)

// Config collects everything the demo CLI needs to run one graph to
// completion. It mirrors the Scheduler/Controller configuration options
// from the component design.
type Config struct {
	GraphPath string

	Concurrency int
	Adaptive    bool

	MinConcurrency       int
	MaxConcurrency       int
	TargetCPUUtilization float64
	TargetMemUtilization float64
	CheckInterval        time.Duration
	AdjustmentStep       int
	HistorySize          int

	Logger zerolog.Logger
}

// Result is what Run returns once the graph has gone quiescent.
type Result struct {
	Stats   events.Stats
	Stalled bool
}

// Run loads cfg.GraphPath, wires a scheduler (and, if requested, an adaptive
// controller), logs task and queue events (task start at Debug, the rest at
// Info/Error) plus the controller's updates and sampling errors, runs to
// completion, and returns the final stats.
func Run(cfg Config) (Result, error) {
	g, err := LoadGraphFromFile(cfg.GraphPath)
	if err != nil {
		return Result{}, err
	}
	return RunGraph(cfg, g)
}

// RunGraph is Run's graph-already-built counterpart, split out so callers
// (and tests) that build a graph.Graph programmatically don't need a file
// on disk.
func RunGraph(cfg Config, g *graph.Graph) (Result, error) {
	logger := cfg.Logger

	var advisor *adaptive.Controller
	schedOpts := []scheduler.Option{
		scheduler.WithConcurrency(cfg.Concurrency),
		scheduler.WithLogger(logger),
	}

	if cfg.Adaptive {
		advisor = adaptive.New(
			adaptive.WithBounds(cfg.MinConcurrency, cfg.MaxConcurrency),
			adaptive.WithTargets(cfg.TargetCPUUtilization, cfg.TargetMemUtilization),
			adaptive.WithCheckInterval(cfg.CheckInterval),
			adaptive.WithAdjustmentStep(cfg.AdjustmentStep),
			adaptive.WithHistorySize(cfg.HistorySize),
			adaptive.WithInitialConcurrency(cfg.Concurrency),
			adaptive.WithLogger(logger),
		)
		schedOpts = append(schedOpts, scheduler.WithAdvisor(advisor), scheduler.WithBus(advisor.Bus()))
	}

	s := scheduler.New(g, schedOpts...)
	attachLogging(s.Bus(), logger)

	done := make(chan events.Stats, 1)
	stalled := make(chan struct{}, 1)
	s.Bus().Subscribe(events.KindQueueComplete, func(p any) {
		done <- p.(events.QueueComplete).Stats
	})
	s.Bus().Subscribe(events.KindQueueStalled, func(p any) {
		stalled <- struct{}{}
		done <- p.(events.QueueStalled).Stats
	})

	if advisor != nil {
		advisor.Start()
		defer advisor.Stop()
	}
	s.Start()

	stats := <-done
	select {
	case <-stalled:
		return Result{Stats: stats, Stalled: true}, nil
	default:
		return Result{Stats: stats}, nil
	}
}

func attachLogging(bus *events.Bus, logger zerolog.Logger) {
	bus.Subscribe(events.KindTaskStart, func(p any) {
		e := p.(events.TaskStart)
		logger.Debug().Str("task_id", string(e.TaskID)).Msg("task start")
	})
	bus.Subscribe(events.KindTaskComplete, func(p any) {
		e := p.(events.TaskComplete)
		logger.Info().Str("task_id", string(e.TaskID)).Msg("task complete")
	})
	bus.Subscribe(events.KindTaskError, func(p any) {
		e := p.(events.TaskError)
		logger.Error().Str("task_id", string(e.TaskID)).Err(e.Err).Msg("task error")
	})
	bus.Subscribe(events.KindQueueComplete, func(p any) {
		e := p.(events.QueueComplete)
		logger.Info().
			Int("completed", e.Stats.Completed).
			Int("failed", e.Stats.Failed).
			Dur("duration", e.Stats.Duration(time.Now())).
			Msg("queue complete")
	})
	bus.Subscribe(events.KindQueueStalled, func(p any) {
		e := p.(events.QueueStalled)
		logger.Error().
			Int("completed", e.Stats.Completed).
			Int("failed", e.Stats.Failed).
			Msg("queue stalled: failures blocked the remainder")
	})
	bus.Subscribe(events.KindConcurrencyUpdate, func(p any) {
		logger.Info().Int("n", p.(events.ConcurrencyUpdate).N).Msg("adaptive controller: concurrency update")
	})
	bus.Subscribe(events.KindError, func(p any) {
		logger.Error().Err(p.(error)).Msg("adaptive controller: sampling error")
	})
}
