// internal/quality/timing.go
package quality

import (
	"context"
	"errors"

	"github.com/tamzrod/flashqa/internal/flash"
)

// timing fingerprints the chip by wake, erase and program latency.
// Refurbished and remarked parts sit outside the genuine envelope. A
// breach sets grade C; the run continues either way.
func (e *Engine) timing(ctx context.Context, r *Result) error {
	c := e.cfg.Counts
	th := e.cfg.Thresholds

	r.Wake = make([]float64, 0, c.WakeTrials)
	for i := 0; i < c.WakeTrials; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		us := e.measureWake()
		if us == 0 {
			us = 1 // sentinel: unsupported power-down must not look slow
		}
		r.Wake = append(r.Wake, us)
	}
	r.WakeStats = Summarize(r.Wake)

	if !e.hasArea {
		e.log.Warn("no test area, erase and program timing skipped", "capacity_mb", e.info.CapacityMB)
		r.Grade = GradeC
		return nil
	}

	if err := e.measureErase(ctx, r); err != nil {
		return err
	}
	if err := e.measureProgram(ctx, r); err != nil {
		return err
	}

	wakeBad := r.WakeStats.Mean > th.WakeMean || r.WakeStats.StdDev > th.WakeStdDev
	eraseBad := r.EraseStats.Mean > th.EraseMean || r.EraseCV > th.EraseCV
	programBad := r.ProgramTimeouts > th.ProgramTimeouts

	e.log.Info("timing",
		"wake_mean_us", r.WakeStats.Mean,
		"wake_std_us", r.WakeStats.StdDev,
		"wake_p95_us", r.WakeStats.P95,
		"erase_mean_us", r.EraseStats.Mean,
		"erase_cv_pct", r.EraseCV,
		"program_mean_us", r.ProgramStats.Mean,
		"program_timeouts", r.ProgramTimeouts,
	)

	if wakeBad || eraseBad || programBad {
		e.log.Warn("timing outside genuine envelope", "wake", wakeBad, "erase", eraseBad, "program", programBad)
		r.Grade = GradeC
		return nil
	}
	r.Stages |= StageTiming
	return nil
}

// measureWake returns the release-from-power-down latency in µs, or 0
// when it could not be measured. The status register reads 0xFF until
// the chip answers again.
func (e *Engine) measureWake() float64 {
	if err := e.chip.WaitReady(0); err != nil {
		return 0
	}
	if err := e.chip.PowerDown(); err != nil {
		return 0
	}
	e.clock.Sleep(wakeSettle)

	if _, err := e.chip.ReleasePowerDown(); err != nil {
		return 0
	}

	start := e.clock.Now()
	deadline := start.Add(wakeBudget)
	for {
		sr, err := e.chip.ReadStatus(flash.SR1)
		if err != nil {
			return 0
		}
		if sr != 0xFF {
			break
		}
		if !e.clock.Now().Before(deadline) {
			e.log.Debug("chip did not answer after release")
			return 0
		}
		e.clock.Sleep(wakePoll)
	}

	us := float64(e.clock.Now().Sub(start).Microseconds())
	if us > wakeOverhead {
		us -= wakeOverhead
	}
	return us
}

// measureErase times erase-to-idle on the first sectors of the test
// area. Each cycle programs a page first so the erase has work to do.
func (e *Engine) measureErase(ctx context.Context, r *Result) error {
	c := e.cfg.Counts
	page := fill(flash.PageSize, 0x55)

	r.Erase = make([][]float64, c.EraseSectors)
	for s := 0; s < c.EraseSectors; s++ {
		addr := e.testArea + uint32(s)*flash.SectorSize
		r.Erase[s] = make([]float64, c.EraseCycles)

		for j := 0; j < c.EraseCycles; j++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := e.chip.Write(addr, page); err != nil {
				e.log.Debug("erase pre-program failed", "addr", hex(addr), "err", err)
			}

			us, err := e.elapsedUS(func() error {
				if err := e.chip.EraseSector(addr); err != nil && !errors.Is(err, flash.ErrTimeout) {
					return err
				}
				return e.chip.WaitReady(eraseWait)
			})
			if err != nil {
				e.log.Debug("erase sample lost", "sector", s, "cycle", j, "err", err)
				continue
			}
			r.Erase[s][j] = us
		}
	}

	r.EraseStats = Summarize(flatten(r.Erase))
	r.EraseCV = sectorCV(r.Erase)
	return nil
}

// measureProgram times complete one-page programs into a freshly erased
// test-area sector.
func (e *Engine) measureProgram(ctx context.Context, r *Result) error {
	c := e.cfg.Counts
	page := fill(flash.PageSize, 0xAA)
	addr := e.testArea

	r.Program = make([]float64, c.ProgramTrials)
	r.ProgramTimeouts = 0
	for i := 0; i < c.ProgramTrials; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.chip.EraseSector(addr); err != nil {
			e.log.Debug("program pre-erase failed", "err", err)
		}

		us, err := e.elapsedUS(func() error {
			return e.chip.Write(addr, page)
		})
		if err != nil {
			e.log.Debug("program sample lost", "trial", i, "err", err)
			continue
		}
		r.Program[i] = us
		if us > e.cfg.Thresholds.ProgramSlow {
			r.ProgramTimeouts++
		}
	}

	r.ProgramStats = Summarize(r.Program)
	return nil
}
