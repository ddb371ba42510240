package engine

import (
	"context"
	"sync"
	"time"

	"github.com/musolsong/musolsong-core/internal/device"
	"github.com/musolsong/musolsong-core/internal/sequence"
)

// abortTimeout bounds the cleanup aborts issued after a failed
// handshake. Cleanup runs on its own context so an operator abort
// cannot cancel the very aborts it asked for.
const abortTimeout = 5 * time.Second

// Synchronizer runs the per-step handshake across a step's target
// instruments: arm all, trigger all, wait for all, and abort all the
// moment any of them fails.
type Synchronizer struct {
	log Logger
}

// NewSynchronizer creates a Synchronizer. A nil logger disables logging.
func NewSynchronizer(logger Logger) *Synchronizer {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Synchronizer{log: logger}
}

// ExecuteStep performs one attempt of a step's handshake.
//
// Instruments are armed and triggered sequentially in declaration
// order, then waited on concurrently. If any phase fails, every
// instrument touched by this attempt is aborted before the error is
// returned. When several instruments fail during the wait phase the
// first failure wins; simultaneous failures are tie-broken by
// declaration order.
//
// The returned duration covers trigger to the last Ready and is zero
// when the attempt fails.
func (s *Synchronizer) ExecuteStep(ctx context.Context, step sequence.Step, instruments []device.Interface) (time.Duration, error) {
	// Arm phase. A failure aborts only the instruments armed so far;
	// the rest were never touched.
	for n, inst := range instruments {
		if err := inst.Arm(ctx, step.Params); err != nil {
			s.log.Warn("arm failed", "device", inst.Role(), "error", err)
			s.abortAll(instruments[:n+1])
			return 0, err
		}
		s.log.Debug("armed", "device", inst.Role())
	}

	// Trigger phase. Every instrument is armed by now, so a failure
	// aborts them all.
	start := time.Now()
	for _, inst := range instruments {
		if err := inst.Trigger(ctx); err != nil {
			s.log.Warn("trigger failed", "device", inst.Role(), "error", err)
			s.abortAll(instruments)
			return 0, err
		}
		s.log.Debug("triggered", "device", inst.Role())
	}

	// Wait phase, one goroutine per instrument. Errors land in a slice
	// indexed by declaration position so the tie-break is deterministic
	// no matter which goroutine finishes first.
	waitErrs := make([]error, len(instruments))
	var wg sync.WaitGroup
	for n, inst := range instruments {
		wg.Add(1)
		go func(n int, inst device.Interface) {
			defer wg.Done()
			waitErrs[n] = inst.WaitReady(ctx, step.Timeout())
		}(n, inst)
	}
	wg.Wait()

	for n, err := range waitErrs {
		if err != nil {
			s.log.Warn("wait-ready failed", "device", instruments[n].Role(), "error", err)
			s.abortAll(instruments)
			return 0, err
		}
	}

	return time.Since(start), nil
}

// abortAll aborts the given instruments in order. Abort failures are
// logged and swallowed; there is nothing further to clean up.
func (s *Synchronizer) abortAll(instruments []device.Interface) {
	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()

	for _, inst := range instruments {
		if err := inst.Abort(ctx); err != nil {
			s.log.Error("abort failed", "device", inst.Role(), "error", err)
		}
	}
}
