// internal/quality/lifetime.go
package quality

import (
	"context"

	"github.com/tamzrod/flashqa/internal/flash"
)

// degradationPenalty is subtracted from health when read latency keeps
// rising across erase/write cycles.
const degradationPenalty = 10

// lifetime estimates remaining life from bad blocks, read disturb and
// read-latency drift. Health below the pass threshold fails the stage;
// the grade is left to Judge.
func (e *Engine) lifetime(ctx context.Context, r *Result) error {
	th := e.cfg.Thresholds

	if !e.hasArea {
		e.log.Warn("no test area, lifetime assessment skipped", "capacity_mb", e.info.CapacityMB)
		r.Health = 0
		return nil
	}

	if err := e.sampleBadBlocks(ctx, r); err != nil {
		return err
	}

	if err := e.readDisturb(ctx, r); err != nil {
		return err
	}

	ok, err := e.eraseWriteVerify(e.testArea, fill(flash.PageSize, 0x55))
	switch {
	case err != nil:
		e.log.Warn("integrity pass failed", "err", err)
	case !ok:
		e.log.Warn("integrity pass mismatch")
		r.ReadDisturbErrors++
	}

	r.Health = Health(r.ReadDisturbErrors, r.BadBlocks, th)

	if err := e.degradation(ctx, r); err != nil {
		return err
	}
	if r.Degrading {
		r.Health -= degradationPenalty
	}
	r.Health = clamp(r.Health, 0, 100)

	e.log.Info("lifetime",
		"bad_blocks", r.BadBlocks,
		"read_disturb_errors", r.ReadDisturbErrors,
		"degrading", r.Degrading,
		"health", r.Health,
	)

	if r.Health >= th.LifetimePass {
		r.Stages |= StageLifetime
	}
	return nil
}

// sampleBadBlocks erase/program/verifies the first page of up to
// BadBlockSamples 64 KiB blocks spread evenly over the chip.
func (e *Engine) sampleBadBlocks(ctx context.Context, r *Result) error {
	total := uint32(e.info.CapacityBytes() / flash.BlockSize)
	n := uint32(e.cfg.Counts.BadBlockSamples)
	if total < n {
		n = total
	}

	r.BadBlocks = 0
	for i := uint32(0); i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		addr := (i * total / n) * flash.BlockSize
		pattern := fill(flash.PageSize, 0xAA+byte(i&0x0F))

		ok, err := e.eraseWriteVerify(addr, pattern)
		if err != nil || !ok {
			e.log.Debug("bad block", "addr", hex(addr), "err", err)
			r.BadBlocks++
		}
	}
	return nil
}

// readDisturb hammers the page after a 0x55 reference page and
// re-verifies the reference every ReadDisturbInterval reads. Each check
// adds the bits found flipped at that point, so persistent flips are
// counted again at every check.
func (e *Engine) readDisturb(ctx context.Context, r *Result) error {
	c := e.cfg.Counts
	pageA := e.testArea
	pageB := pageA + flash.PageSize
	ref := fill(flash.PageSize, 0x55)

	if err := e.chip.EraseSector(pageA); err != nil {
		e.log.Warn("read disturb setup erase failed", "err", err)
		return nil
	}
	if err := e.chip.Write(pageA, ref); err != nil {
		e.log.Warn("read disturb setup program failed", "err", err)
		return nil
	}

	hammer := make([]byte, flash.PageSize)
	check := make([]byte, flash.PageSize)
	for i := 0; i < c.ReadDisturbReads; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		_ = e.chip.Read(pageB, hammer)

		if i == 0 || c.ReadDisturbInterval <= 0 || i%c.ReadDisturbInterval != 0 {
			continue
		}
		if err := e.chip.Read(pageA, check); err != nil {
			continue
		}
		if n := bitErrors(ref, check); n > 0 {
			e.log.Debug("read disturb flips", "reads", i, "bits", n)
			r.ReadDisturbErrors += n
		}
	}
	return nil
}

// degradation records the latency of one page read after each batch of
// erase/write cycles on the test area.
func (e *Engine) degradation(ctx context.Context, r *Result) error {
	c := e.cfg.Counts
	data := fill(flash.PageSize, 0x55)
	buf := make([]byte, flash.PageSize)

	r.Degradation = make([]float64, c.DegradationSamples)
	for i := 0; i < c.DegradationSamples; i++ {
		for j := 0; j < c.DegradationCycles; j++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := e.chip.EraseSector(e.testArea); err != nil {
				continue
			}
			_ = e.chip.Write(e.testArea, data)
		}

		us, err := e.elapsedUS(func() error {
			return e.chip.Read(e.testArea, buf)
		})
		if err == nil {
			r.Degradation[i] = us
		}
	}

	r.Degrading = Degrading(r.Degradation, e.cfg.Thresholds.Degradation)
	return nil
}

// Health scores lifetime errors: 100 with none, 80 - rd - 5*bb while
// both stay under their limits, else 0. More bad blocks than the limit
// always gives 0. The result is not clamped.
func Health(readDisturb, badBlocks int, th Thresholds) int {
	var h int
	switch {
	case readDisturb == 0 && badBlocks == 0:
		h = 100
	case readDisturb < th.ReadDisturb && badBlocks <= th.BadBlocks:
		h = 80 - readDisturb - 5*badBlocks
	}
	if badBlocks > th.BadBlocks {
		h = 0
	}
	return h
}

// Degrading reports whether the last three samples rise strictly and
// the last exceeds the first by more than growthPct percent.
func Degrading(lat []float64, growthPct float64) bool {
	n := len(lat)
	if n < 3 {
		return false
	}
	for i := n - 3; i < n; i++ {
		if i > 0 && lat[i] <= lat[i-1] {
			return false
		}
	}
	if lat[0] <= 0 {
		return false
	}
	return (lat[n-1]-lat[0])/lat[0]*100 > growthPct
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
