// cmd/flashqa/build.go
package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/tamzrod/flashqa/internal/blockdev"
	"github.com/tamzrod/flashqa/internal/config"
	"github.com/tamzrod/flashqa/internal/flash"
	"github.com/tamzrod/flashqa/internal/quality"
	"github.com/tamzrod/flashqa/internal/spi/serprog"
	"github.com/tamzrod/flashqa/internal/spi/spidev"
)

// serprogMaxTransfer keeps one read inside a programmer's buffer.
const serprogMaxTransfer = 4096

// newLogger builds the process text handler at the configured level.
func newLogger(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}

// openBus opens the configured SPI transport. The returned options carry
// transport limits into the driver.
func openBus(c config.BusConfig, log *slog.Logger) (flash.Bus, func() error, []flash.Option, error) {
	switch c.Driver {
	case config.BusSerprog:
		p, err := serprog.Open(serprog.Config{
			Port:      c.Port,
			BaudRate:  c.BaudRate,
			Timeout:   time.Duration(c.TimeoutMs) * time.Millisecond,
			Frequency: c.FrequencyHz,
			Logger:    log,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		log.Info("programmer ready", "name", p.Name(), "spi_hz", p.Frequency())
		return p, p.Close, []flash.Option{flash.WithMaxTransfer(serprogMaxTransfer)}, nil

	case config.BusSpidev:
		p, err := spidev.Open(spidev.Config{
			Device:    c.Device,
			Frequency: physic.Frequency(c.FrequencyHz) * physic.Hertz,
			WPPin:     c.WPPin,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		log.Info("spi port ready", "port", p.String())
		return p, p.Close, []flash.Option{flash.WithMaxTransfer(p.MaxTransfer())}, nil
	}

	return nil, nil, nil, fmt.Errorf("bus: unknown driver %q", c.Driver)
}

func flashOptions(c config.FlashConfig, log *slog.Logger) []flash.Option {
	return []flash.Option{
		flash.WithLogger(log),
		flash.WithPollInterval(time.Duration(c.PollIntervalUs) * time.Microsecond),
		flash.WithTimeouts(
			time.Duration(c.DefaultTimeoutMs)*time.Millisecond,
			time.Duration(c.SectorEraseTimeoutMs)*time.Millisecond,
			time.Duration(c.ChipEraseTimeoutMs)*time.Millisecond,
		),
	}
}

// qualityOptions maps config overrides onto engine options. buf is the
// log buffer the driver also writes through.
func qualityOptions(c config.QualityConfig, buf *quality.LogBuffer) []quality.Option {
	opts := []quality.Option{
		quality.WithLogBuffer(buf),
		quality.WithThresholds(thresholds(c.Thresholds)),
		quality.WithCounts(counts(c.Counts)),
	}
	if c.Manufacturer != nil {
		opts = append(opts, quality.WithManufacturer(*c.Manufacturer))
	}
	if c.GuardSector != nil {
		opts = append(opts, quality.WithGuardSector(*c.GuardSector))
	}
	return opts
}

func thresholds(c config.ThresholdConfig) quality.Thresholds {
	t := quality.DefaultThresholds()
	setF(&t.WakeMean, c.WakeMeanUs)
	setF(&t.WakeStdDev, c.WakeStdDevUs)
	setF(&t.EraseMean, c.EraseMeanUs)
	setF(&t.EraseCV, c.EraseCVPct)
	setF(&t.ProgramSlow, c.ProgramSlowUs)
	setF(&t.Degradation, c.DegradationPct)
	setI(&t.ProgramTimeouts, c.ProgramTimeouts)
	setI(&t.ReadDisturb, c.ReadDisturb)
	setI(&t.BadBlocks, c.BadBlocks)
	setI(&t.LifetimePass, c.LifetimePass)
	return t
}

func counts(c config.CountConfig) quality.Counts {
	n := quality.DefaultCounts()
	setN(&n.WakeTrials, c.WakeTrials)
	setN(&n.EraseSectors, c.EraseSectors)
	setN(&n.EraseCycles, c.EraseCycles)
	setN(&n.ProgramTrials, c.ProgramTrials)
	setN(&n.BadBlockSamples, c.BadBlockSamples)
	setN(&n.ReadDisturbReads, c.ReadDisturbReads)
	setN(&n.ReadDisturbInterval, c.ReadDisturbInterval)
	setN(&n.DegradationSamples, c.DegradationSamples)
	setN(&n.DegradationCycles, c.DegradationCycles)
	return n
}

func blockdevOptions(c config.FilesystemConfig) []blockdev.Option {
	return []blockdev.Option{
		blockdev.WithPartition(c.StartBlock, c.BlockCount),
		blockdev.WithBlockCycles(c.BlockCycles),
		blockdev.WithLookaheadBuffer(uint32(c.Lookahead)),
	}
}

func setF(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setI(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setN(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}
