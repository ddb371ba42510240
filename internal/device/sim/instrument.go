package sim

import (
	"context"
	"sync"
	"time"

	"github.com/musolsong/musolsong-core/internal/device"
)

// Instrument is an in-process stand-in for a bench instrument. It
// honours the full capability contract, including arm idempotence and
// abort-from-any-state, and lets callers script failures and timing
// so every engine path can be exercised without hardware.
//
// By default every operation succeeds and WaitReady returns Ready
// immediately. Queue* methods enqueue one-shot results consumed in
// FIFO order by the matching operation; an empty queue means success.
type Instrument struct {
	role device.Role

	mu          sync.Mutex
	status      device.Status
	readyDelay  time.Duration
	armQueue    []error
	triggerQ    []error
	waitQueue   []error
	armedParams map[string]float64

	armCalls     int
	triggerCalls int
	waitCalls    int
	abortCalls   int
}

// CallCounts is a snapshot of how many times each operation ran.
type CallCounts struct {
	Arm     int
	Trigger int
	Wait    int
	Abort   int
}

// NewInstrument creates an idle simulated instrument.
func NewInstrument(role device.Role) *Instrument {
	return &Instrument{role: role, status: device.StatusIdle}
}

// SetReadyDelay sets how long a successful WaitReady takes to report
// Ready. A delay longer than the step timeout produces a timeout.
func (i *Instrument) SetReadyDelay(d time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.readyDelay = d
}

// QueueArmError makes the next Arm call fail with err.
func (i *Instrument) QueueArmError(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.armQueue = append(i.armQueue, err)
}

// QueueTriggerError makes the next Trigger call fail with err.
func (i *Instrument) QueueTriggerError(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.triggerQ = append(i.triggerQ, err)
}

// QueueWaitResult scripts the next WaitReady call. nil yields Ready
// after the configured delay, device.ErrTimedOut makes the call block
// until the step timeout elapses, and any other error is returned as
// an instrument fault.
func (i *Instrument) QueueWaitResult(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.waitQueue = append(i.waitQueue, err)
}

// Calls returns a snapshot of per-operation call counters.
func (i *Instrument) Calls() CallCounts {
	i.mu.Lock()
	defer i.mu.Unlock()
	return CallCounts{Arm: i.armCalls, Trigger: i.triggerCalls, Wait: i.waitCalls, Abort: i.abortCalls}
}

// ArmedParams returns the parameters loaded by the last successful Arm.
func (i *Instrument) ArmedParams() map[string]float64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	params := make(map[string]float64, len(i.armedParams))
	for k, v := range i.armedParams {
		params[k] = v
	}
	return params
}

// Role implements device.Interface.
func (i *Instrument) Role() device.Role { return i.role }

// Status implements device.Interface.
func (i *Instrument) Status() device.Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// Arm implements device.Interface. Arming an already-armed instrument
// without an intervening trigger is a no-op.
func (i *Instrument) Arm(ctx context.Context, params map[string]float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.armCalls++

	if i.status == device.StatusArmed {
		return nil
	}

	if len(i.armQueue) > 0 {
		err := i.armQueue[0]
		i.armQueue = i.armQueue[1:]
		if err != nil {
			i.status = device.StatusFaulted
			return err
		}
	}

	i.armedParams = make(map[string]float64, len(params))
	for k, v := range params {
		i.armedParams[k] = v
	}
	i.status = device.StatusArmed
	return nil
}

// Trigger implements device.Interface.
func (i *Instrument) Trigger(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.triggerCalls++

	if i.status != device.StatusArmed {
		return device.NewError(i.role, device.KindRejected, "trigger without arm")
	}

	if len(i.triggerQ) > 0 {
		err := i.triggerQ[0]
		i.triggerQ = i.triggerQ[1:]
		if err != nil {
			i.status = device.StatusFaulted
			return err
		}
	}

	i.status = device.StatusRunning
	return nil
}

// WaitReady implements device.Interface.
func (i *Instrument) WaitReady(ctx context.Context, timeout time.Duration) error {
	i.mu.Lock()
	i.waitCalls++

	var scripted error
	hasScript := len(i.waitQueue) > 0
	if hasScript {
		scripted = i.waitQueue[0]
		i.waitQueue = i.waitQueue[1:]
	}
	delay := i.readyDelay
	i.mu.Unlock()

	if hasScript && device.IsTimeout(scripted) {
		// Never report Ready; let the timeout win.
		delay = timeout + time.Second
	}
	if delay > timeout {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(timeout):
			return device.ErrTimedOut
		}
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if hasScript && scripted != nil {
		i.status = device.StatusFaulted
		return scripted
	}
	i.status = device.StatusIdle
	return nil
}

// Abort implements device.Interface. It always succeeds and returns
// the instrument to idle.
func (i *Instrument) Abort(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.abortCalls++
	i.status = device.StatusIdle
	i.armedParams = nil
	return nil
}
