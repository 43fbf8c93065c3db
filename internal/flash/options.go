// internal/flash/options.go
package flash

import (
	"io"
	"log/slog"
	"time"
)

// Bus is the SPI transport. One call is one chip-select framed
// transaction: w is clocked out first, then len(r) bytes are clocked in.
type Bus interface {
	Tx(w, r []byte) error
}

// Clock abstracts time for busy-waits and measurements.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Config holds driver tuning. Zero values are replaced by defaults.
type Config struct {
	Clock  Clock
	Logger *slog.Logger

	// PollInterval is the sleep between status polls.
	PollInterval time.Duration

	// DefaultTimeout is used when WaitReady is called with 0.
	DefaultTimeout time.Duration

	SectorEraseTimeout time.Duration
	ChipEraseTimeout   time.Duration

	// MaxTransfer caps the data bytes of one read transaction.
	MaxTransfer int

	// WriteEnableAttempts bounds the WEL verification loop.
	WriteEnableAttempts int
}

func defaultConfig() Config {
	return Config{
		Clock:               SystemClock,
		Logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
		PollInterval:        100 * time.Microsecond,
		DefaultTimeout:      time.Second,
		SectorEraseTimeout:  400 * time.Millisecond,
		ChipEraseTimeout:    30 * time.Second,
		MaxTransfer:         65535,
		WriteEnableAttempts: 3,
	}
}

// Option configures a Device.
type Option func(*Config)

// WithClock injects the time source used by busy-waits.
func WithClock(c Clock) Option {
	return func(cfg *Config) {
		if c != nil {
			cfg.Clock = c
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *Config) {
		if l != nil {
			cfg.Logger = l
		}
	}
}

// WithPollInterval sets the sleep between status polls.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *Config) {
		if d > 0 {
			cfg.PollInterval = d
		}
	}
}

// WithMaxTransfer caps the payload of a single read transaction.
// Serial programmers usually need a few KiB at most.
func WithMaxTransfer(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.MaxTransfer = n
		}
	}
}

// WithTimeouts overrides the unscaled busy-wait budgets. Zero keeps the default.
func WithTimeouts(def, sectorErase, chipErase time.Duration) Option {
	return func(cfg *Config) {
		if def > 0 {
			cfg.DefaultTimeout = def
		}
		if sectorErase > 0 {
			cfg.SectorEraseTimeout = sectorErase
		}
		if chipErase > 0 {
			cfg.ChipEraseTimeout = chipErase
		}
	}
}
