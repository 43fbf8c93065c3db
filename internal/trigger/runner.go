// internal/trigger/runner.go
package trigger

import (
	"context"
	"time"
)

// Run starts the ticker loop and emits each Request on out. The loop
// blocks while a request waits to be taken, so no new request is
// acknowledged while the consumer is busy. Returns when ctx ends.
func (p *Poller) Run(ctx context.Context, out chan<- Request) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		req, ok, err := p.PollOnce()
		if err != nil {
			p.log.Warn("poll failed", "err", err)
			continue
		}
		if !ok {
			continue
		}

		p.log.Info("start request", "code", req.Code)
		select {
		case <-ctx.Done():
			return
		case out <- req:
		}
	}
}
