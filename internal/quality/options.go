// internal/quality/options.go
package quality

import (
	"io"
	"log/slog"
	"time"

	"github.com/tamzrod/flashqa/internal/flash"
)

// Thresholds are the pass/fail limits. Latencies are in microseconds.
type Thresholds struct {
	WakeMean    float64
	WakeStdDev  float64
	EraseMean   float64
	EraseCV     float64 // percent
	ProgramSlow float64 // a program slower than this is a timeout

	// ProgramTimeouts is the number of slow programs tolerated.
	ProgramTimeouts int

	ReadDisturb  int // errors below this keep a partial score
	BadBlocks    int // more than this forces health to 0
	Degradation  float64
	LifetimePass int
}

// DefaultThresholds returns the production limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		WakeMean:        200,
		WakeStdDev:      500,
		EraseMean:       120000,
		EraseCV:         12,
		ProgramSlow:     1500,
		ProgramTimeouts: 2,
		ReadDisturb:     10,
		BadBlocks:       2,
		Degradation:     20,
		LifetimePass:    70,
	}
}

// Counts sizes the sampling of the timed stages.
type Counts struct {
	WakeTrials          int
	EraseSectors        int
	EraseCycles         int
	ProgramTrials       int
	BadBlockSamples     int
	ReadDisturbReads    int
	ReadDisturbInterval int
	DegradationSamples  int
	DegradationCycles   int
}

// DefaultCounts returns the production sample sizes.
func DefaultCounts() Counts {
	return Counts{
		WakeTrials:          10,
		EraseSectors:        4,
		EraseCycles:         5,
		ProgramTrials:       10,
		BadBlockSamples:     16,
		ReadDisturbReads:    1000,
		ReadDisturbInterval: 100,
		DegradationSamples:  10,
		DegradationCycles:   10,
	}
}

// Config is the engine configuration. Zero values are replaced by
// defaults.
type Config struct {
	Clock  flash.Clock
	Logger *slog.Logger

	// Manufacturer is the expected JEDEC manufacturer byte.
	Manufacturer uint8

	Thresholds Thresholds
	Counts     Counts

	// GuardSector is the sector address the protection check may
	// overwrite. Nil selects the last sector of the chip.
	GuardSector *uint32

	// DisableLogBuffer writes stage logs as they happen.
	DisableLogBuffer bool

	// Buffer is a LogBuffer shared with other components. Nil builds a
	// private one over Logger's handler.
	Buffer *LogBuffer
}

func defaultConfig() Config {
	return Config{
		Clock:        flash.SystemClock,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Manufacturer: 0xEF,
		Thresholds:   DefaultThresholds(),
		Counts:       DefaultCounts(),
	}
}

// Option configures an Engine.
type Option func(*Config)

// WithClock sets the clock used for every measurement. It must be the
// clock the driver waits on.
func WithClock(c flash.Clock) Option {
	return func(cfg *Config) {
		if c != nil {
			cfg.Clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *Config) {
		if l != nil {
			cfg.Logger = l
		}
	}
}

// WithManufacturer sets the expected manufacturer byte (0xEF: Winbond).
func WithManufacturer(id uint8) Option {
	return func(cfg *Config) { cfg.Manufacturer = id }
}

// WithThresholds replaces the limits.
func WithThresholds(t Thresholds) Option {
	return func(cfg *Config) { cfg.Thresholds = t }
}

// WithCounts replaces the sample sizes.
func WithCounts(c Counts) Option {
	return func(cfg *Config) { cfg.Counts = c }
}

// WithGuardSector moves the protection check to the sector at addr. The
// sector must lie in the top or bottom region BP0|BP1 guards on the part
// (TB selects the bottom); Run fails with ErrGuardSector otherwise.
func WithGuardSector(addr uint32) Option {
	return func(cfg *Config) {
		a := addr &^ (flash.SectorSize - 1)
		cfg.GuardSector = &a
	}
}

// WithLogBuffer makes the engine log through buf and hold it during
// timed stages. Hand the same buffer to the driver's logger so its
// warnings are held as well. It overrides WithLogger.
func WithLogBuffer(buf *LogBuffer) Option {
	return func(cfg *Config) { cfg.Buffer = buf }
}

// WithoutLogBuffer disables log buffering during timed stages.
func WithoutLogBuffer() Option {
	return func(cfg *Config) { cfg.DisableLogBuffer = true }
}

// timeouts used by the stages
const (
	eraseWait    = 10 * time.Second
	programWait  = 2 * time.Second
	wakeSettle   = 20 * time.Millisecond
	wakeBudget   = 10 * time.Millisecond
	wakePoll     = time.Microsecond
	wakeOverhead = 5.0 // µs of status read framing
)
