// cmd/flashqa/jig.go
package main

import (
	"context"
	"fmt"

	"github.com/tamzrod/flashqa/internal/config"
	"github.com/tamzrod/flashqa/internal/status"
	"github.com/tamzrod/flashqa/internal/trigger"
)

// requestSource emits start requests until ctx ends.
type requestSource interface {
	Run(ctx context.Context, out chan<- trigger.Request)
}

func runJig(ctx context.Context, st *station, tc config.TriggerConfig) error {
	p, closePoller, err := trigger.Build(tc, st.log)
	if err != nil {
		return fmt.Errorf("trigger: %w", err)
	}
	defer closePoller()

	return serveJig(ctx, st, p)
}

// serveJig runs one assessment per request. The poller lives in its own
// goroutine; the device is only touched from this one.
func serveJig(ctx context.Context, st *station, src requestSource) error {
	st.publish(status.Snapshot{State: status.StateIdle})

	reqs := make(chan trigger.Request)
	done := make(chan struct{})
	go func() {
		defer close(done)
		src.Run(ctx, reqs)
	}()
	defer func() { <-done }()

	st.log.Info("jig ready")
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-reqs:
			st.log.Info("assessment requested", "code", req.Code)
			res, err := st.assess(ctx)
			if err != nil {
				continue
			}
			st.log.Info("assessment done", "run", res.RunID, "grade", res.Grade, "health", res.Health)
		}
	}
}
