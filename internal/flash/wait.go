// internal/flash/wait.go
package flash

import "time"

// waitState is the busy-wait state machine.
//
//	polling --(BUSY clear)--> ready
//	polling --(deadline)----> timedOut
//	polling --(bus error)---> failed
type waitState uint8

const (
	waitPolling waitState = iota
	waitReady
	waitTimedOut
	waitFailed
)

type waiter struct {
	state    waitState
	deadline time.Time
	err      error
}

// step performs one poll and advances the state. It sleeps only while
// still polling, so the terminal states never consume extra time.
func (w *waiter) step(d *Device) {
	if w.state != waitPolling {
		return
	}

	sr, err := d.readStatus(CmdReadStatus1)
	switch {
	case err != nil:
		w.state = waitFailed
		w.err = err
	case sr&SR1Busy == 0:
		w.state = waitReady
	case !d.clock.Now().Before(w.deadline):
		w.state = waitTimedOut
	default:
		d.clock.Sleep(d.cfg.PollInterval)
	}
}

// EffectiveTimeout returns the budget WaitReady applies for a requested
// timeout: 0 selects the default, and parts of 16 MiB or more get twice
// the budget.
func (d *Device) EffectiveTimeout(requested time.Duration) time.Duration {
	t := requested
	if t <= 0 {
		t = d.cfg.DefaultTimeout
	}
	if d.info.CapacityMB >= 16 {
		t *= 2
	}
	return t
}

// WaitReady polls until the BUSY bit clears.
func (d *Device) WaitReady(timeout time.Duration) error {
	if d.state != stateInitialized {
		return ErrNotInitialized
	}
	return d.waitReady("wait ready", timeout)
}

func (d *Device) waitReady(op string, timeout time.Duration) error {
	budget := d.EffectiveTimeout(timeout)
	w := waiter{deadline: d.clock.Now().Add(budget)}

	for w.state == waitPolling {
		w.step(d)
	}

	switch w.state {
	case waitFailed:
		return w.err
	case waitTimedOut:
		d.log.Warn("flash busy timeout", "op", op, "budget", budget)
		return &TimeoutError{Op: op, Budget: budget}
	}
	return nil
}
