// cmd/flashqa/station.go
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/tamzrod/flashqa/internal/flash"
	"github.com/tamzrod/flashqa/internal/history"
	"github.com/tamzrod/flashqa/internal/quality"
	"github.com/tamzrod/flashqa/internal/status"
	"github.com/tamzrod/flashqa/internal/writer"
)

// errGeneric is published for errors that carry no code of their own.
const errGeneric uint16 = 0xFF

// station owns the chip handle and everything one assessment touches.
// It is driven from a single goroutine.
type station struct {
	dev    *flash.Device
	opts   []quality.Option
	status writer.StatusWriter // nil when publishing is disabled
	store  *history.Store      // nil when archiving is disabled
	report io.Writer
	log    *slog.Logger
}

// assess re-identifies the chip in the socket and runs one assessment:
// publish running, run, report, archive, publish the verdict.
func (s *station) assess(ctx context.Context) (*quality.Result, error) {
	s.publish(status.Snapshot{State: status.StateRunning})

	// a jig swaps chips between runs
	s.dev.Deinit()
	if err := s.dev.Init(); err != nil {
		return nil, s.fail(err)
	}

	res, err := quality.New(s.dev, s.opts...).Run(ctx)
	if err != nil {
		return nil, s.fail(err)
	}

	previous := s.archive(ctx, res)
	if s.report != nil {
		if err := writeReport(s.report, res, previous); err != nil {
			s.log.Warn("report write failed", "err", err)
		}
	}

	s.publish(snapshotOf(res))
	return res, nil
}

func (s *station) fail(err error) error {
	s.log.Error("assessment failed", "err", err)
	s.publish(status.Snapshot{State: status.StateError, LastErrorCode: errorCode(err)})
	return err
}

func (s *station) publish(snap status.Snapshot) {
	if s.status == nil {
		return
	}
	if err := s.status.WriteStatus(snap); err != nil {
		s.log.Warn("status write failed", "err", err)
	}
}

// archive stores the run and returns the IDs of earlier runs that read
// the same unique ID. A zero unique ID is the unreadable sentinel and
// matches nothing.
func (s *station) archive(ctx context.Context, res *quality.Result) []string {
	if s.store == nil {
		return nil
	}
	if err := s.store.Save(ctx, res); err != nil {
		s.log.Warn("archive failed", "run", res.RunID, "err", err)
		return nil
	}
	if res.UniqueID == 0 {
		return nil
	}

	seen, err := s.store.SeenUniqueID(ctx, res.UniqueID, res.RunID)
	if err != nil {
		s.log.Warn("unique id lookup failed", "err", err)
		return nil
	}
	ids := make([]string, 0, len(seen))
	for _, r := range seen {
		ids = append(ids, r.ID)
	}
	if len(ids) > 0 {
		s.log.Warn("unique id seen before, possible cloned part",
			"unique_id", hex64(res.UniqueID),
			"previous_runs", len(ids),
		)
	}
	return ids
}

// snapshotOf scales a result into register units.
func snapshotOf(r *quality.Result) status.Snapshot {
	return status.Snapshot{
		State:           status.StateDone,
		Grade:           r.Grade.Code(),
		Health:          status.Saturate(float64(r.Health)),
		Stages:          uint16(r.Stages),
		BadBlocks:       status.Saturate(float64(r.BadBlocks)),
		ReadDisturb:     status.Saturate(float64(r.ReadDisturbErrors)),
		ProgramTimeouts: status.Saturate(float64(r.ProgramTimeouts)),
		WakeMeanUS:      status.Saturate(r.WakeStats.Mean),
		EraseCV:         status.Saturate(r.EraseCV * 100),
		JEDEC:           r.JEDEC,
	}
}

// errorCode extracts a best-effort uint16 code from an error without
// assuming concrete types. Errors without a code give errGeneric.
func errorCode(err error) uint16 {
	if err == nil {
		return 0
	}

	type coder interface{ Code() uint16 }

	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return errGeneric
}
