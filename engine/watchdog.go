package engine

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
)

// Limits is the resource budget of a single run.
type Limits struct {
	Timeout        time.Duration // Wall clock budget (0 = no limit)
	MaxMemoryBytes int64         // Heap growth budget (0 = no limit)
	CheckInterval  time.Duration // How often the heap is sampled
}

// DefaultLimits returns the budget of a stock run.
func DefaultLimits() Limits {
	return Limits{
		Timeout:        10 * time.Second,
		MaxMemoryBytes: 1024 * 1024 * 1024, // 1GB
		CheckInterval:  50 * time.Millisecond,
	}
}

// Watchdog races the interpreter and interrupts it once the budget is
// spent. The interrupt value is ErrTimeout, ErrMemoryLimit or the error of
// the parent context, so the run fails with an *goja.InterruptedError
// wrapping it.
type Watchdog struct {
	startTime      time.Time
	limits         Limits
	memoryBaseline uint64
	interrupted    atomic.Bool
	reason         atomic.Value
	stop           chan struct{}
	done           chan struct{}
	stopOnce       sync.Once
}

// StartWatchdog captures the heap baseline and starts monitoring vm.
func StartWatchdog(ctx context.Context, vm *goja.Runtime, limits Limits) *Watchdog {
	var baseline uint64
	if limits.MaxMemoryBytes > 0 {
		runtime.GC()
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		baseline = m.Alloc
	}
	if limits.CheckInterval <= 0 {
		limits.CheckInterval = DefaultLimits().CheckInterval
	}

	w := &Watchdog{
		startTime:      time.Now(),
		limits:         limits,
		memoryBaseline: baseline,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	go w.monitor(ctx, vm)
	return w
}

func (w *Watchdog) monitor(ctx context.Context, vm *goja.Runtime) {
	defer close(w.done)

	var timeout <-chan time.Time
	if w.limits.Timeout > 0 {
		timer := time.NewTimer(w.limits.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}
	var sample <-chan time.Time
	if w.limits.MaxMemoryBytes > 0 {
		ticker := time.NewTicker(w.limits.CheckInterval)
		defer ticker.Stop()
		sample = ticker.C
	}

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			w.trip(vm, ctx.Err())
			return
		case <-timeout:
			w.trip(vm, ErrTimeout)
			return
		case <-sample:
			if w.memoryUsed() > w.limits.MaxMemoryBytes {
				w.trip(vm, ErrMemoryLimit)
				return
			}
		}
	}
}

func (w *Watchdog) trip(vm *goja.Runtime, reason error) {
	w.reason.Store(reason)
	w.interrupted.Store(true)
	vm.Interrupt(reason)
}

// memoryUsed is the heap growth of the whole process since the baseline.
// The budget is per run only when every run has its own process; runs
// sharing a process are charged for each other's allocations.
func (w *Watchdog) memoryUsed() int64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.Alloc < w.memoryBaseline {
		return 0
	}
	return int64(m.Alloc - w.memoryBaseline)
}

// Stop ends monitoring and waits for the monitor goroutine to exit. It is
// safe to call more than once.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

// Stats returns the usage observed so far.
func (w *Watchdog) Stats() WatchdogStats {
	stats := WatchdogStats{
		ElapsedTime: time.Since(w.startTime),
		Interrupted: w.interrupted.Load(),
	}
	if w.limits.MaxMemoryBytes > 0 {
		stats.MemoryUsed = w.memoryUsed()
	}
	if reason, ok := w.reason.Load().(error); ok {
		stats.Reason = reason
	}
	return stats
}

// WatchdogStats contains usage statistics of a run.
type WatchdogStats struct {
	ElapsedTime time.Duration
	MemoryUsed  int64
	Interrupted bool
	Reason      error
}
