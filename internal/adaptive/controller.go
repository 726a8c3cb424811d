// Package adaptive implements the out-of-band concurrency advisor: it
// samples host CPU and memory utilization on a timer and proposes a new
// concurrency bound to whoever subscribes (normally a scheduler.Scheduler).
// It shares no state with its consumer — Subscribe/Publish is the only
// coupling, per the design notes' "one-way channel" requirement.
package adaptive

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"taskflow/internal/events"
)

const (
	defaultMinConcurrency = 1
	defaultTargetCPU      = 70.0
	defaultTargetMemory   = 80.0
	defaultCheckInterval  = 5 * time.Second
	defaultAdjustmentStep = 1
	defaultHistorySize    = 3
	targetBand            = 10.0
)

// Option configures a Controller at construction time.
type Option func(*Controller)

func WithBounds(min, max int) Option {
	return func(c *Controller) { c.min, c.max = min, max }
}

func WithTargets(cpuPct, memPct float64) Option {
	return func(c *Controller) { c.targetCPU, c.targetMem = cpuPct, memPct }
}

func WithCheckInterval(d time.Duration) Option {
	return func(c *Controller) { c.checkInterval = d }
}

func WithAdjustmentStep(step int) Option {
	return func(c *Controller) { c.step = step }
}

func WithHistorySize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.historySize = n
		}
	}
}

func WithSampler(s Sampler) Option {
	return func(c *Controller) { c.sampler = s }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

func WithBus(b *events.Bus) Option {
	return func(c *Controller) { c.bus = b }
}

// WithInitialConcurrency seeds the value the controller considers "current"
// before its first sample. A scheduler typically starts at the same value.
func WithInitialConcurrency(n int) Option {
	return func(c *Controller) { c.current = n }
}

// Controller is the adaptive concurrency advisor described in the component
// design. The zero value is not usable; construct with New.
type Controller struct {
	mu sync.Mutex

	min, max      int
	targetCPU     float64
	targetMem     float64
	checkInterval time.Duration
	step          int
	historySize   int

	sampler Sampler
	bus     *events.Bus
	logger  zerolog.Logger

	cpuHistory []float64
	memHistory []float64
	current    int

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a Controller. It does not begin sampling until Start.
func New(opts ...Option) *Controller {
	c := &Controller{
		min:           defaultMinConcurrency,
		max:           runtime.NumCPU(),
		targetCPU:     defaultTargetCPU,
		targetMem:     defaultTargetMemory,
		checkInterval: defaultCheckInterval,
		step:          defaultAdjustmentStep,
		historySize:   defaultHistorySize,
		sampler:       NewHostSampler(),
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.bus == nil {
		c.bus = events.New(c.logger)
	}
	if c.current == 0 {
		c.current = c.clamp(c.max)
	}
	return c
}

// Bus exposes the controller's event bus for subscribers such as a scheduler
// or a Monitor.
func (c *Controller) Bus() *events.Bus { return c.bus }

// Subscribe satisfies scheduler.Advisor: handler is invoked with the new
// concurrency value every time this controller emits concurrency-update.
func (c *Controller) Subscribe(handler func(n int)) (unsubscribe func()) {
	return c.bus.Subscribe(events.KindConcurrencyUpdate, func(p any) {
		handler(p.(events.ConcurrencyUpdate).N)
	})
}

// Start begins sampling at checkInterval. Idempotent.
func (c *Controller) Start() *Controller {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return c
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.loop(ctx)
	return c
}

// Stop halts sampling. Idempotent.
func (c *Controller) Stop() *Controller {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return c
	}
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	return c
}

func (c *Controller) loop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Controller) tick(ctx context.Context) {
	cpuPct, memPct, err := c.sampler.Sample(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("adaptive controller: sampling failed")
		c.bus.Publish(events.KindError, &SamplingError{Cause: err})
		return
	}
	c.observe(cpuPct, memPct, time.Now())
}

// observe applies the control law to one sample. Exported indirectly via
// Feed for tests (S6) that need to drive the controller with synthetic
// readings instead of a real Sampler.
func (c *Controller) observe(cpuPct, memPct float64, now time.Time) {
	c.mu.Lock()

	c.cpuHistory = pushWindow(c.cpuHistory, cpuPct, c.historySize)
	c.memHistory = pushWindow(c.memHistory, memPct, c.historySize)
	avgCPU := average(c.cpuHistory)
	avgMem := average(c.memHistory)

	proposed := c.current
	switch {
	case avgCPU > c.targetCPU+targetBand:
		proposed = c.current - c.step
	case avgCPU < c.targetCPU-targetBand && avgMem < c.targetMem:
		proposed = c.current + c.step
	}
	if avgMem > c.targetMem+targetBand {
		proposed = c.current - c.step
	}
	proposed = c.clamp(proposed)

	previous := c.current
	changed := proposed != previous
	if changed {
		c.current = proposed
	}
	c.mu.Unlock()

	if !changed {
		return
	}
	c.bus.Publish(events.KindConcurrencyUpdate, events.ConcurrencyUpdate{N: proposed})
	c.bus.Publish(events.KindMetrics, events.Metrics{
		Timestamp:           now,
		CPUUsage:            avgCPU,
		MemoryUsage:         avgMem,
		NewConcurrency:      proposed,
		PreviousConcurrency: previous,
	})
}

// Feed drives the control law with a synthetic sample, bypassing the
// Sampler and ticker. It is the hook scenario S6 (and tests) use to exercise
// the control law deterministically.
func (c *Controller) Feed(cpuPct, memPct float64) {
	c.observe(cpuPct, memPct, time.Now())
}

// SetConcurrency is a manual override, clamped to [min, max]. It always emits
// concurrency-update, and emits metrics only when the value actually changes.
func (c *Controller) SetConcurrency(n int) *Controller {
	c.mu.Lock()
	clamped := c.clamp(n)
	previous := c.current
	c.current = clamped
	c.mu.Unlock()

	c.bus.Publish(events.KindConcurrencyUpdate, events.ConcurrencyUpdate{N: clamped})
	if clamped != previous {
		c.bus.Publish(events.KindMetrics, events.Metrics{
			Timestamp:           time.Now(),
			NewConcurrency:      clamped,
			PreviousConcurrency: previous,
		})
	}
	return c
}

// Metrics returns the current recommended concurrency and rolling averages.
func (c *Controller) Metrics() events.Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return events.Metrics{
		CPUUsage:       average(c.cpuHistory),
		MemoryUsage:    average(c.memHistory),
		NewConcurrency: c.current,
	}
}

func (c *Controller) clamp(n int) int {
	if n < c.min {
		return c.min
	}
	if n > c.max {
		return c.max
	}
	return n
}

func pushWindow(window []float64, v float64, size int) []float64 {
	window = append(window, v)
	if len(window) > size {
		window = window[len(window)-size:]
	}
	return window
}

func average(window []float64) float64 {
	if len(window) == 0 {
		return 0
	}
	var sum float64
	for _, v := range window {
		sum += v
	}
	return sum / float64(len(window))
}
