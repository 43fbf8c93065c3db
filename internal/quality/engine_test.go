package quality

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/flashqa/internal/flash"
	"github.com/tamzrod/flashqa/internal/flash/flashsim"
)

// fast keeps simulated runs short; the production sizes are exercised
// once in TestRun_GenuineChip.
var fast = Counts{
	WakeTrials:          3,
	EraseSectors:        2,
	EraseCycles:         2,
	ProgramTrials:       3,
	BadBlockSamples:     4,
	ReadDisturbReads:    200,
	ReadDisturbInterval: 100,
	DegradationSamples:  3,
	DegradationCycles:   2,
}

func newChip(t *testing.T, model flash.Model, simOpts ...flashsim.Option) (*flash.Device, *flashsim.Chip, *flashsim.Clock) {
	t.Helper()
	clk := flashsim.NewClock()
	chip := flashsim.New(clk, model, simOpts...)
	dev := flash.New(chip, flash.WithClock(clk))
	require.NoError(t, dev.Init())
	return dev, chip, clk
}

func run(t *testing.T, model flash.Model, simOpts []flashsim.Option, opts ...Option) *Result {
	t.Helper()
	dev, _, clk := newChip(t, model, simOpts...)
	e := New(dev, append([]Option{WithClock(clk), WithCounts(fast)}, opts...)...)
	res, err := e.Run(context.Background())
	require.NoError(t, err)
	return res
}

const allStages = StageIdentity | StageFakeDetection | StageTiming | StageLifetime | StageJudgment

var w25q64Protection = flash.ModelW25Q64.Capability().Protection

// ---- whole pipeline ----

func TestRun_GenuineChip(t *testing.T) {
	dev, _, clk := newChip(t, flash.ModelW25Q64)

	res, err := New(dev, WithClock(clk)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, GradeA, res.Grade)
	assert.Equal(t, 100, res.Health)
	assert.Equal(t, allStages, res.Stages)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, uint32(0xEF4017), res.JEDEC)
	assert.Equal(t, uint8(0xEF), res.ManufacturerID)
	assert.Equal(t, uint16(0x4017), res.DeviceID)
	assert.Equal(t, uint64(0xD1A2B3C4E5F60718), res.UniqueID)
	assert.Equal(t, []byte("SFDP"), res.SFDP[:4])

	assert.Len(t, res.Wake, 10)
	require.Len(t, res.Erase, 4)
	for _, cycles := range res.Erase {
		assert.Len(t, cycles, 5)
	}
	assert.Len(t, res.Program, 10)
	assert.Len(t, res.Degradation, 10)

	assert.Greater(t, res.WakeStats.Mean, 0.0)
	assert.Less(t, res.WakeStats.Mean, 200.0)
	assert.InDelta(t, 45000, res.EraseStats.Mean, 1000)
	assert.Less(t, res.EraseCV, 1.0)
	assert.Zero(t, res.ProgramTimeouts)
	assert.Zero(t, res.BadBlocks)
	assert.Zero(t, res.ReadDisturbErrors)
	assert.False(t, res.Degrading)
	assert.True(t, res.Finished.After(res.Started))
}

func TestRun_FourByteChip(t *testing.T) {
	res := run(t, flash.ModelW25Q256, nil)

	assert.Equal(t, GradeA, res.Grade)
	assert.Equal(t, allStages, res.Stages)
	assert.Equal(t, uint32(32), res.CapacityMB)
}

func TestRun_ForeignManufacturer(t *testing.T) {
	res := run(t, flash.ModelGD25Q64, nil)

	assert.Equal(t, GradeD, res.Grade)
	assert.Equal(t, StageJudgment, res.Stages)
	assert.Equal(t, uint8(0xC8), res.ManufacturerID)
	assert.Nil(t, res.Wake, "timing must not run after a D")
}

func TestRun_ExpectedManufacturerConfigurable(t *testing.T) {
	res := run(t, flash.ModelGD25Q64, nil, WithManufacturer(0xC8))
	assert.Equal(t, GradeA, res.Grade)
}

func TestRun_BlankSFDP(t *testing.T) {
	for _, v := range []byte{0x00, 0xFF} {
		table := make([]byte, 256)
		for i := range table {
			table[i] = v
		}
		// slow everything down too: a blank table wins regardless
		slow := flashsim.DefaultTiming()
		slow.Wake = time.Millisecond

		res := run(t, flash.ModelW25Q64, []flashsim.Option{flashsim.WithSFDP(table), flashsim.WithTiming(slow)})

		assert.Equal(t, GradeD, res.Grade, "sfdp filled with 0x%02X", v)
		assert.True(t, res.Stages.Has(StageIdentity))
		assert.False(t, res.Stages.Has(StageFakeDetection))
	}
}

func TestRun_UndefinedOpcodeAnswers(t *testing.T) {
	res := run(t, flash.ModelW25Q64, []flashsim.Option{
		flashsim.WithFaults(flashsim.Faults{EchoUnknown: true}),
	})
	assert.Equal(t, GradeD, res.Grade)
}

func TestRun_ProtectionIgnored(t *testing.T) {
	dev, chip, clk := newChip(t, flash.ModelW25Q64, flashsim.WithFaults(flashsim.Faults{ProtectionIgnored: true}))

	res, err := New(dev, WithClock(clk), WithCounts(fast)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, GradeD, res.Grade)

	// the guard check restored SR1 and only touched the last sector
	sr1, err := dev.ReadStatus(flash.SR1)
	require.NoError(t, err)
	assert.Zero(t, sr1&w25q64Protection.Mask())
	assert.Equal(t, byte(0xAA), chip.Peek(8*flash.MiB-flash.SectorSize, 1)[0])
	assert.Equal(t, byte(0xFF), chip.Peek(0, 1)[0])
}

func TestRun_ProtectionBitsRefused(t *testing.T) {
	res := run(t, flash.ModelW25Q64, []flashsim.Option{
		flashsim.WithFaults(flashsim.Faults{StatusLocked: true}),
	})
	assert.True(t, res.Stages.Has(StageFakeDetection))
	assert.Equal(t, GradeA, res.Grade)
}

func TestRun_ProtectionHonoured(t *testing.T) {
	dev, chip, clk := newChip(t, flash.ModelW25Q64)

	res, err := New(dev, WithClock(clk), WithCounts(fast)).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Stages.Has(StageFakeDetection))

	sr1, err := dev.ReadStatus(flash.SR1)
	require.NoError(t, err)
	assert.Zero(t, sr1&w25q64Protection.Mask())
	assert.Equal(t, byte(0xFF), chip.Peek(8*flash.MiB-flash.SectorSize, 1)[0])
}

func TestRun_GuardSectorAtBottom(t *testing.T) {
	res := run(t, flash.ModelW25Q64, nil, WithGuardSector(0))

	assert.True(t, res.Stages.Has(StageFakeDetection))
	assert.Equal(t, GradeA, res.Grade)
}

func TestRun_GuardSectorAtBottomProtectionIgnored(t *testing.T) {
	dev, chip, clk := newChip(t, flash.ModelW25Q64, flashsim.WithFaults(flashsim.Faults{ProtectionIgnored: true}))

	res, err := New(dev, WithClock(clk), WithCounts(fast), WithGuardSector(0)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, GradeD, res.Grade)
	assert.Equal(t, byte(0xAA), chip.Peek(0, 1)[0])
	assert.Equal(t, byte(0xFF), chip.Peek(8*flash.MiB-flash.SectorSize, 1)[0])
}

func TestRun_GuardSectorOutsideProtectableRegions(t *testing.T) {
	for _, addr := range []uint32{4 * flash.MiB, 512 * 1024, 8 * flash.MiB} {
		dev, chip, clk := newChip(t, flash.ModelW25Q64)
		before := chip.Transactions()

		res, err := New(dev, WithClock(clk), WithCounts(fast), WithGuardSector(addr)).Run(context.Background())
		assert.ErrorIs(t, err, ErrGuardSector, "addr 0x%X", addr)
		assert.Nil(t, res)
		assert.Equal(t, before, chip.Transactions(), "nothing sent to the chip")
	}
}

func TestRun_FourByteChipLeftoverBottomProtection(t *testing.T) {
	clk := flashsim.NewClock()
	chip := flashsim.New(clk, flash.ModelW25Q256)
	chip.SetStatus1(0x40) // TB on the W25Q256 layout
	dev := flash.New(chip, flash.WithClock(clk))
	require.NoError(t, dev.Init())

	res, err := New(dev, WithClock(clk), WithCounts(fast)).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Stages.Has(StageFakeDetection))
	assert.Equal(t, GradeA, res.Grade)

	sr1, err := dev.ReadStatus(flash.SR1)
	require.NoError(t, err)
	assert.Zero(t, sr1&flash.ModelW25Q256.Capability().Protection.Mask())
}

func TestRun_FourByteChipGuardSectorAtBottom(t *testing.T) {
	res := run(t, flash.ModelW25Q256, nil, WithGuardSector(0))
	assert.Equal(t, GradeA, res.Grade)

	// level 3 guards 256 KiB on this part; 512 KiB is out of reach
	dev, _, clk := newChip(t, flash.ModelW25Q256)
	_, err := New(dev, WithClock(clk), WithCounts(fast), WithGuardSector(512*1024)).Run(context.Background())
	assert.ErrorIs(t, err, ErrGuardSector)
}

func TestRun_ComplementProtectionSkipsGuardCheck(t *testing.T) {
	dev, chip, clk := newChip(t, flash.ModelW25Q64, flashsim.WithFaults(flashsim.Faults{ProtectionIgnored: true}))
	chip.SetStatus2(flash.SR2CMP)

	res, err := New(dev, WithClock(clk), WithCounts(fast)).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Stages.Has(StageFakeDetection))
	assert.Equal(t, byte(0xFF), chip.Peek(8*flash.MiB-flash.SectorSize, 1)[0], "guard sector untouched")
}

func TestGuardRegion(t *testing.T) {
	const cap64 = 8 * flash.MiB
	p := w25q64Protection

	bits, err := guardRegion(p, cap64, cap64-flash.SectorSize)
	require.NoError(t, err)
	assert.Equal(t, byte(0x0C), bits)

	bits, err = guardRegion(p, cap64, cap64-512*1024)
	require.NoError(t, err)
	assert.Equal(t, byte(0x0C), bits, "first sector of the top 512 KiB")

	bits, err = guardRegion(p, cap64, 512*1024-flash.SectorSize)
	require.NoError(t, err)
	assert.Equal(t, byte(0x2C), bits, "bottom region sets TB")

	_, err = guardRegion(p, cap64, 512*1024)
	assert.ErrorIs(t, err, ErrGuardSector)

	_, err = guardRegion(flash.Protection{}, cap64, 0)
	assert.ErrorIs(t, err, ErrGuardSector)

	bits, err = guardRegion(flash.ModelW25Q256.Capability().Protection, 32*flash.MiB, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(0x4C), bits, "TB is bit 6 on the W25Q256")
}

func TestRun_SlowWakeIsPendingReview(t *testing.T) {
	slow := flashsim.DefaultTiming()
	slow.Wake = 300 * time.Microsecond

	res := run(t, flash.ModelW25Q64, []flashsim.Option{flashsim.WithTiming(slow)})

	assert.Greater(t, res.WakeStats.Mean, 200.0)
	assert.False(t, res.Stages.Has(StageTiming))
	assert.Equal(t, 100, res.Health)
	assert.Equal(t, GradeB, res.Grade)
}

func TestRun_UnsupportedPowerDownUsesSentinel(t *testing.T) {
	res := run(t, flash.ModelW25Q64, []flashsim.Option{
		flashsim.WithFaults(flashsim.Faults{NoPowerDown: true}),
	})

	for _, w := range res.Wake {
		assert.Greater(t, w, 0.0)
		assert.Less(t, w, 10.0)
	}
	assert.True(t, res.Stages.Has(StageTiming))
}

func TestRun_SlowErase(t *testing.T) {
	slow := flashsim.DefaultTiming()
	slow.SectorErase = 150 * time.Millisecond

	res := run(t, flash.ModelW25Q64, []flashsim.Option{flashsim.WithTiming(slow)})

	assert.Greater(t, res.EraseStats.Mean, 120000.0)
	assert.False(t, res.Stages.Has(StageTiming))
	assert.Equal(t, GradeB, res.Grade)
}

func TestRun_EraseBeyondDriverBudgetStillMeasured(t *testing.T) {
	slow := flashsim.DefaultTiming()
	slow.SectorErase = 600 * time.Millisecond

	res := run(t, flash.ModelW25Q64, []flashsim.Option{flashsim.WithTiming(slow)})

	assert.Equal(t, 4, res.EraseStats.N)
	assert.InDelta(t, 600000, res.EraseStats.Mean, 5000)
}

func TestRun_EraseVariance(t *testing.T) {
	latency := func(op flashsim.Op, seq int) time.Duration {
		// the guard erase and the first timed sector run slow
		if op == flashsim.OpSectorErase && seq <= 2 {
			return 100 * time.Millisecond
		}
		return 0
	}
	res := run(t, flash.ModelW25Q64, []flashsim.Option{flashsim.WithLatency(latency)})

	assert.Greater(t, res.EraseCV, 12.0)
	assert.Less(t, res.EraseStats.Mean, 120000.0)
	assert.Equal(t, GradeB, res.Grade)
}

func TestRun_ProgramTimeouts(t *testing.T) {
	slow := flashsim.DefaultTiming()
	slow.PageProgram = 2 * time.Millisecond

	res := run(t, flash.ModelW25Q64, []flashsim.Option{flashsim.WithTiming(slow)})

	assert.Equal(t, 3, res.ProgramTimeouts)
	assert.False(t, res.Stages.Has(StageTiming))
	assert.Equal(t, GradeB, res.Grade)
}

func TestRun_OneBadBlock(t *testing.T) {
	// fast samples 4 of 128 blocks: sample 1 sits at 2 MiB (sector 512)
	res := run(t, flash.ModelW25Q64, []flashsim.Option{
		flashsim.WithFaults(flashsim.Faults{StuckSectors: map[uint32]bool{512: true}}),
	})

	assert.Equal(t, 1, res.BadBlocks)
	assert.Equal(t, 75, res.Health)
	assert.True(t, res.Stages.Has(StageLifetime))
	assert.Equal(t, GradeB, res.Grade)
}

func TestRun_TooManyBadBlocks(t *testing.T) {
	res := run(t, flash.ModelW25Q64, []flashsim.Option{
		flashsim.WithFaults(flashsim.Faults{StuckSectors: map[uint32]bool{512: true, 1024: true, 1536: true}}),
	})

	assert.Equal(t, 3, res.BadBlocks)
	assert.Zero(t, res.Health)
	assert.False(t, res.Stages.Has(StageLifetime))
	assert.Equal(t, GradeC, res.Grade)
}

func TestRun_BadBlocksAndSlowEraseConfirmC(t *testing.T) {
	slow := flashsim.DefaultTiming()
	slow.SectorErase = 150 * time.Millisecond

	res := run(t, flash.ModelW25Q64, []flashsim.Option{
		flashsim.WithTiming(slow),
		flashsim.WithFaults(flashsim.Faults{StuckSectors: map[uint32]bool{512: true}}),
	})

	assert.Equal(t, 75, res.Health)
	assert.Equal(t, GradeC, res.Grade)
}

func TestRun_ReadDisturb(t *testing.T) {
	res := run(t, flash.ModelW25Q64, []flashsim.Option{
		flashsim.WithFaults(flashsim.Faults{DisturbEvery: 5}),
	})

	assert.GreaterOrEqual(t, res.ReadDisturbErrors, 10)
	assert.Zero(t, res.Health)
	assert.Equal(t, GradeC, res.Grade)
}

func TestRun_Degradation(t *testing.T) {
	erases := 0
	latency := func(op flashsim.Op, seq int) time.Duration {
		switch op {
		case flashsim.OpSectorErase:
			erases++
		case flashsim.OpRead:
			// reads slow down steeply with wear
			return time.Duration(erases*erases*erases) * time.Microsecond
		}
		return 0
	}

	res := run(t, flash.ModelW25Q64, []flashsim.Option{flashsim.WithLatency(latency)})

	assert.True(t, res.Degrading)
	assert.Equal(t, 90, res.Health)
	assert.Equal(t, GradeA, res.Grade)
}

func TestRun_NoTestArea(t *testing.T) {
	dev, _, clk := newChip(t, flash.ModelW25Q16, flashsim.WithCapacityMB(1))
	small := &smallChip{Device: dev}

	res, err := New(small, WithClock(clk), WithCounts(fast)).Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, res.Wake, 3)
	assert.Nil(t, res.Erase)
	assert.Zero(t, res.Health)
	assert.Equal(t, GradeC, res.Grade)
}

// smallChip reports a 1 MiB part, leaving no room for a test area.
type smallChip struct {
	*flash.Device
}

func (s *smallChip) Info() (flash.Info, error) {
	info, err := s.Device.Info()
	info.CapacityMB = 1
	return info, err
}

func TestRun_RequiresInitializedChip(t *testing.T) {
	clk := flashsim.NewClock()
	dev := flash.New(flashsim.New(clk, flash.ModelW25Q64), flash.WithClock(clk))

	_, err := New(dev, WithClock(clk)).Run(context.Background())
	assert.ErrorIs(t, err, flash.ErrNotInitialized)
}

func TestRun_Cancelled(t *testing.T) {
	dev, _, clk := newChip(t, flash.ModelW25Q64)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := New(dev, WithClock(clk)).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Zero(t, res.Stages)
}

func TestRun_LogsReachHandler(t *testing.T) {
	rec := &recorder{}
	dev, _, clk := newChip(t, flash.ModelW25Q64)

	_, err := New(dev, WithClock(clk), WithCounts(fast), WithLogger(slog.New(rec))).Run(context.Background())
	require.NoError(t, err)

	msgs := rec.messages()
	assert.Contains(t, msgs, "identity")
	assert.Contains(t, msgs, "timing")
	assert.Contains(t, msgs, "lifetime")
	assert.Equal(t, "assessment finished", msgs[len(msgs)-1])
}

func TestRun_DriverLogsHeldDuringTimedStages(t *testing.T) {
	clk := flashsim.NewClock()
	// erase 0 is the untimed guard erase; every later one overruns the driver budget
	latency := func(op flashsim.Op, seq int) time.Duration {
		if op == flashsim.OpSectorErase && seq > 0 {
			return 600 * time.Millisecond
		}
		return 0
	}
	chip := flashsim.New(clk, flash.ModelW25Q64, flashsim.WithLatency(latency))

	rec := &recorder{clock: clk}
	buf := NewLogBuffer(rec)
	dev := flash.New(chip, flash.WithClock(clk), flash.WithLogger(slog.New(buf)))
	require.NoError(t, dev.Init())

	_, err := New(dev, WithClock(clk), WithCounts(fast), WithLogBuffer(buf)).Run(context.Background())
	require.NoError(t, err)

	timeout, ok := rec.at("flash busy timeout")
	require.True(t, ok, "the driver timed out inside the erase measurement")
	summary, ok := rec.at("timing")
	require.True(t, ok)
	// held records reach the handler together once the stage ends
	assert.Equal(t, summary, timeout)
}

// recorder is a slog.Handler that keeps messages, with the simulated
// time each one reached it when clock is set.
type recorder struct {
	mu    sync.Mutex
	msgs  []string
	times []time.Time
	clock *flashsim.Clock
}

func (r *recorder) Enabled(context.Context, slog.Level) bool { return true }
func (r *recorder) WithAttrs([]slog.Attr) slog.Handler        { return r }
func (r *recorder) WithGroup(string) slog.Handler             { return r }

func (r *recorder) Handle(_ context.Context, rec slog.Record) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, rec.Message)
	if r.clock != nil {
		r.times = append(r.times, r.clock.Now())
	}
	r.mu.Unlock()
	return nil
}

// at returns when the first message msg was handled.
func (r *recorder) at(msg string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.msgs {
		if m == msg && i < len(r.times) {
			return r.times[i], true
		}
	}
	return time.Time{}, false
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func TestTestArea(t *testing.T) {
	_, ok := testArea(flash.MiB)
	assert.False(t, ok)

	a, ok := testArea(8 * flash.MiB)
	assert.True(t, ok)
	assert.Equal(t, uint32(7*flash.MiB), a)

	a, ok = testArea(32 * flash.MiB)
	assert.True(t, ok)
	assert.Equal(t, uint32(31*flash.MiB), a)
}
