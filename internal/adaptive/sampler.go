package adaptive

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"golang.org/x/sync/errgroup"
)

// Sampler reads whole-host CPU and memory utilization, each as a percentage
// in [0, 100]. Sampling failures are wrapped in SamplingError by callers.
type Sampler interface {
	Sample(ctx context.Context) (cpuPct, memPct float64, err error)
}

// gopsutilSampler is the default Sampler, backed by github.com/shirou/gopsutil/v4.
// CPU and memory are read concurrently via errgroup, since neither read
// depends on the other and both can block on syscalls.
type gopsutilSampler struct{}

// NewHostSampler returns the default, gopsutil-backed Sampler.
func NewHostSampler() Sampler { return gopsutilSampler{} }

func (gopsutilSampler) Sample(ctx context.Context) (float64, float64, error) {
	var cpuPct, memPct float64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		percentages, err := cpu.PercentWithContext(gctx, 0, false)
		if err != nil {
			return fmt.Errorf("sample cpu: %w", err)
		}
		if len(percentages) > 0 {
			cpuPct = percentages[0]
		}
		return nil
	})
	g.Go(func() error {
		vm, err := mem.VirtualMemoryWithContext(gctx)
		if err != nil {
			return fmt.Errorf("sample memory: %w", err)
		}
		memPct = vm.UsedPercent
		return nil
	})

	if err := g.Wait(); err != nil {
		return 0, 0, err
	}
	return cpuPct, memPct, nil
}
