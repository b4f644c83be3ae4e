package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dop251/goja"
)

func TestWatchdogTimeLimit(t *testing.T) {
	limits := Limits{Timeout: 100 * time.Millisecond}

	vm := goja.New()
	wd := StartWatchdog(context.Background(), vm, limits)
	defer wd.Stop()

	start := time.Now()
	_, err := vm.RunString(`var i = 0; while (true) { i++; }`)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("Expected timeout error, got nil")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got: %v", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Execution took too long: %v", elapsed)
	}

	stats := wd.Stats()
	if !stats.Interrupted {
		t.Error("Expected watchdog to be interrupted")
	}
	if !errors.Is(stats.Reason, ErrTimeout) {
		t.Errorf("Unexpected reason %v", stats.Reason)
	}
}

func TestWatchdogMemoryLimit(t *testing.T) {
	limits := Limits{
		Timeout:        10 * time.Second,
		MaxMemoryBytes: 16 * 1024 * 1024,
		CheckInterval:  5 * time.Millisecond,
	}

	vm := goja.New()
	wd := StartWatchdog(context.Background(), vm, limits)
	defer wd.Stop()

	_, err := vm.RunString(`
		var arr = [];
		while (true) {
			arr.push("This is a long string that will consume memory " + arr.length);
		}
	`)

	if !errors.Is(err, ErrMemoryLimit) {
		t.Fatalf("Expected ErrMemoryLimit, got: %v", err)
	}
	if !wd.Stats().Interrupted {
		t.Error("Expected watchdog to be interrupted")
	}
}

func TestWatchdogContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	vm := goja.New()
	wd := StartWatchdog(ctx, vm, Limits{})
	defer wd.Stop()

	time.AfterFunc(50*time.Millisecond, cancel)
	_, err := vm.RunString(`for (;;) {}`)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got: %v", err)
	}
}

func TestWatchdogNoLimits(t *testing.T) {
	vm := goja.New()
	wd := StartWatchdog(context.Background(), vm, Limits{})

	result, err := vm.RunString(`
		var sum = 0;
		for (var i = 0; i < 1000; i++) {
			sum += i;
		}
		sum;
	`)
	wd.Stop()
	wd.Stop()

	if err != nil {
		t.Errorf("Expected no error with no limits, got: %v", err)
	}
	if result.ToInteger() != 499500 {
		t.Errorf("Expected sum 499500, got %v", result)
	}
	if wd.Stats().Interrupted {
		t.Error("Expected watchdog not to be interrupted")
	}
}
