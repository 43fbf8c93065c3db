// internal/quality/engine.go
package quality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tamzrod/flashqa/internal/flash"
)

// Chip is the part of *flash.Device the engine drives.
type Chip interface {
	Info() (flash.Info, error)

	ReadJEDEC() (uint32, error)
	ReadUniqueID() (uint64, error)
	ReadSFDP(addr uint32, buf []byte) error
	ReadStatus(reg flash.StatusRegister) (byte, error)
	WriteStatus(reg flash.StatusRegister, v byte) error
	Transfer(w []byte, n int) ([]byte, error)
	PowerDown() error
	ReleasePowerDown() ([3]byte, error)

	Read(addr uint32, buf []byte) error
	Write(addr uint32, data []byte) error
	EraseSector(addr uint32) error
	WaitReady(timeout time.Duration) error
}

// ErrGuardSector reports a guard sector that BP0|BP1 protection covers
// in neither the top nor the bottom region.
var ErrGuardSector = errors.New("quality: guard sector cannot be protected")

// guardLevel is BP0|BP1: 1/16 of a BP0..BP2 part, 256 KiB of a W25Q256.
const guardLevel = 3

// testAreaSize is the region at the end of the chip stages 3 and 4 may
// destroy.
const testAreaSize = flash.MiB

// Engine runs the assessment. One Engine serves one chip; Run is not
// safe for concurrent use.
type Engine struct {
	chip  Chip
	cfg   Config
	clock flash.Clock
	buf   *LogBuffer
	log   *slog.Logger

	info     flash.Info
	testArea uint32
	hasArea  bool

	prot      flash.Protection
	guardAddr uint32
	guardBits byte // SR1 BP/TB bits that guard guardAddr
}

// New builds an engine around an initialized chip.
func New(chip Chip, opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	buf := cfg.Buffer
	if buf == nil {
		buf = NewLogBuffer(cfg.Logger.Handler())
	}
	return &Engine{
		chip:  chip,
		cfg:   cfg,
		clock: cfg.Clock,
		buf:   buf,
		log:   slog.New(buf).With("component", "quality"),
	}
}

// Run executes the stages in order. Identity or fake-detection grade D
// ends the run early; every other failed measurement is recorded and
// the run continues. The only errors are an uninitialized chip and ctx
// cancellation.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	info, err := e.chip.Info()
	if err != nil {
		return nil, fmt.Errorf("quality: chip not ready: %w", err)
	}
	e.info = info
	e.testArea, e.hasArea = testArea(info.CapacityBytes())

	e.prot = info.Model.Capability().Protection
	e.guardAddr = e.guardSector()
	if e.guardBits, err = guardRegion(e.prot, info.CapacityBytes(), e.guardAddr); err != nil {
		return nil, err
	}

	r := &Result{
		RunID:      uuid.NewString(),
		Started:    e.clock.Now(),
		CapacityMB: info.CapacityMB,
	}
	e.log.Info("assessment started", "run", r.RunID, "model", info.Model, "capacity_mb", info.CapacityMB)

	stages := []struct {
		name  string
		timed bool
		run   func(context.Context, *Result) error
	}{
		{"identity", false, e.identity},
		{"fake detection", false, e.fakeDetection},
		{"timing", true, e.timing},
		{"lifetime", true, e.lifetime},
	}

	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return r, err
		}

		if st.timed && !e.cfg.DisableLogBuffer {
			e.buf.Hold()
		}
		err := st.run(ctx, r)
		if ferr := e.buf.Flush(ctx); ferr != nil && err == nil {
			err = fmt.Errorf("quality: flush logs: %w", ferr)
		}
		if err != nil {
			return r, err
		}

		if r.Grade == GradeD {
			e.log.Warn("stage rejected chip", "stage", st.name)
			break
		}
	}

	r.Grade = Judge(r)
	r.Stages |= StageJudgment
	r.Finished = e.clock.Now()

	e.log.Info("assessment finished",
		"run", r.RunID,
		"grade", r.Grade,
		"health", r.Health,
		"stages", r.Stages,
		"elapsed", r.Duration(),
	)
	return r, nil
}

// testArea returns the sector-aligned start of the last MiB, or false
// when the chip is too small to spare one.
func testArea(capacity uint64) (uint32, bool) {
	if capacity <= testAreaSize {
		return 0, false
	}
	a := capacity - testAreaSize
	a &^= flash.SectorSize - 1
	return uint32(a), true
}

// guardRegion picks the region, top first, whose guard-level protection
// covers the whole sector at addr.
func guardRegion(p flash.Protection, capacity uint64, addr uint32) (byte, error) {
	if p.BPBits == 0 {
		return 0, fmt.Errorf("%w: part has no protection layout", ErrGuardSector)
	}
	lo, hi := uint64(addr), uint64(addr)+flash.SectorSize
	for _, bottom := range []bool{false, true} {
		bits := p.Bits(guardLevel, bottom)
		start, end := p.Range(bits, capacity)
		if lo >= start && hi <= end {
			return bits, nil
		}
	}
	top, _ := p.Range(p.Bits(guardLevel, false), capacity)
	return 0, fmt.Errorf("%w: 0x%X is outside [0, 0x%X) and [0x%X, 0x%X)",
		ErrGuardSector, addr, capacity-top, top, capacity)
}

// guardSector is the address the protection check may overwrite.
func (e *Engine) guardSector() uint32 {
	if e.cfg.GuardSector != nil {
		return *e.cfg.GuardSector
	}
	return uint32(e.info.CapacityBytes() - flash.SectorSize)
}

// elapsedUS times fn on the engine clock.
func (e *Engine) elapsedUS(fn func() error) (float64, error) {
	start := e.clock.Now()
	err := fn()
	return float64(e.clock.Now().Sub(start)) / float64(time.Microsecond), err
}

// eraseWriteVerify erases the sector holding addr, programs data and
// reads it back.
func (e *Engine) eraseWriteVerify(addr uint32, data []byte) (bool, error) {
	if err := e.chip.EraseSector(addr &^ (flash.SectorSize - 1)); err != nil {
		return false, err
	}
	if err := e.chip.Write(addr, data); err != nil {
		return false, err
	}
	got := make([]byte, len(data))
	if err := e.chip.Read(addr, got); err != nil {
		return false, err
	}
	return bitErrors(data, got) == 0, nil
}

func fill(n int, v byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = v
	}
	return b
}
