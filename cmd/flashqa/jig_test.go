package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/flashqa/internal/flash"
	"github.com/tamzrod/flashqa/internal/status"
	"github.com/tamzrod/flashqa/internal/trigger"
)

// scriptedSource emits n requests, then cancels the run.
type scriptedSource struct {
	n      int
	cancel context.CancelFunc
}

func (s *scriptedSource) Run(ctx context.Context, out chan<- trigger.Request) {
	for i := 0; i < s.n; i++ {
		select {
		case <-ctx.Done():
			return
		case out <- trigger.Request{Code: uint16(i + 1), At: time.Now()}:
		}
	}
	// the second send blocks until the last assessment is taken
	select {
	case <-ctx.Done():
	case out <- trigger.Request{}:
		s.cancel()
	}
}

func TestServeJig_OneAssessmentPerRequest(t *testing.T) {
	st, rec, _ := newStation(t, flash.ModelW25Q16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &scriptedSource{n: 2, cancel: cancel}
	done := make(chan error, 1)
	go func() { done <- serveJig(ctx, st, src) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatal("jig did not stop")
	}

	// idle, then running/done per request; the trailing request may
	// start a third run before cancellation is seen
	require.GreaterOrEqual(t, len(rec.snaps), 5)
	assert.Equal(t, status.StateIdle, rec.snaps[0].State)
	assert.Equal(t, []uint16{status.StateRunning, status.StateDone, status.StateRunning, status.StateDone},
		rec.states()[1:5])
}
