// internal/config/validate.go
package config

import (
	"fmt"
	"strings"

	"github.com/tamzrod/flashqa/internal/flash"
	"github.com/tamzrod/flashqa/internal/status"
)

// maxStatusSlot keeps the whole status block inside the 16-bit
// register space.
const maxStatusSlot = (0xFFFF+1)/status.SlotsPerStation - 1

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}

	switch cfg.Mode {
	case "", ModeOnce, ModeJig, ModeShell:
	default:
		return fmt.Errorf("mode %q: want %s, %s or %s", cfg.Mode, ModeOnce, ModeJig, ModeShell)
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q: want debug, info, warn or error", cfg.Log.Level)
	}

	// ------------------------------------------------------------
	// BUS
	// ------------------------------------------------------------

	switch cfg.Bus.Driver {
	case BusSerprog:
		if cfg.Bus.Port == "" {
			return fmt.Errorf("bus: serprog requires port")
		}
	case BusSpidev:
	default:
		return fmt.Errorf("bus.driver %q: want %s or %s", cfg.Bus.Driver, BusSerprog, BusSpidev)
	}
	if cfg.Bus.BaudRate < 0 || cfg.Bus.TimeoutMs < 0 {
		return fmt.Errorf("bus: baud_rate and timeout_ms must be >= 0")
	}

	f := cfg.Flash
	if f.PollIntervalUs < 0 || f.DefaultTimeoutMs < 0 || f.SectorEraseTimeoutMs < 0 || f.ChipEraseTimeoutMs < 0 {
		return fmt.Errorf("flash: timings must be >= 0")
	}

	// ------------------------------------------------------------
	// FILESYSTEM PARTITION
	// ------------------------------------------------------------

	if cfg.Filesystem.Lookahead < 0 || cfg.Filesystem.Lookahead%8 != 0 {
		return fmt.Errorf("filesystem.lookahead_bytes %d: must be a non-negative multiple of 8", cfg.Filesystem.Lookahead)
	}
	if cfg.Filesystem.BlockCycles < 0 {
		return fmt.Errorf("filesystem.block_cycles must be >= 0")
	}

	// ------------------------------------------------------------
	// QUALITY ENGINE
	// ------------------------------------------------------------

	if err := validateQuality(cfg.Quality); err != nil {
		return err
	}

	// ------------------------------------------------------------
	// JIG
	// ------------------------------------------------------------

	if cfg.Mode == ModeJig && cfg.Jig.Trigger == nil {
		return fmt.Errorf("mode %s requires jig.trigger", ModeJig)
	}

	if st := cfg.Jig.Status; st != nil {
		if st.Endpoint == "" {
			return fmt.Errorf("jig.status: endpoint required")
		}
		switch st.Transport {
		case "", TransportModbus, TransportIngest:
		default:
			return fmt.Errorf("jig.status.transport %q: want %s or %s", st.Transport, TransportModbus, TransportIngest)
		}
		if st.Slot > maxStatusSlot {
			return fmt.Errorf("jig.status.status_slot %d: block exceeds register space (max slot %d)", st.Slot, maxStatusSlot)
		}
		// station_name sanity (ASCII only)
		for i := 0; i < len(st.Name); i++ {
			if st.Name[i] > 0x7F {
				return fmt.Errorf("jig.status: station_name must contain ASCII characters only")
			}
		}
		if st.TimeoutMs < 0 {
			return fmt.Errorf("jig.status.timeout_ms must be >= 0")
		}
	}

	if tr := cfg.Jig.Trigger; tr != nil {
		if tr.Endpoint == "" {
			return fmt.Errorf("jig.trigger: endpoint required")
		}
		if tr.IntervalMs < 0 || tr.TimeoutMs < 0 {
			return fmt.Errorf("jig.trigger: interval_ms and timeout_ms must be >= 0")
		}
	}

	// trigger register must not sit inside the status block it shares
	// a unit with
	if st, tr := cfg.Jig.Status, cfg.Jig.Trigger; st != nil && tr != nil &&
		st.Transport != TransportIngest &&
		st.Endpoint == tr.Endpoint && st.UnitID == tr.UnitID {

		start := uint32(st.Slot) * status.SlotsPerStation
		end := start + status.SlotsPerStation - 1
		if reg := uint32(tr.Register); reg >= start && reg <= end {
			return fmt.Errorf(
				"register collision: endpoint=%s unit_id=%d trigger register %d inside status block %d-%d",
				tr.Endpoint,
				tr.UnitID,
				tr.Register,
				start,
				end,
			)
		}
	}

	return nil
}

func validateQuality(q QualityConfig) error {
	if q.GuardSector != nil && *q.GuardSector%flash.SectorSize != 0 {
		return fmt.Errorf("quality.guard_sector 0x%X: not sector aligned", *q.GuardSector)
	}

	t := q.Thresholds
	for name, v := range map[string]*float64{
		"wake_mean_us":    t.WakeMeanUs,
		"wake_stddev_us":  t.WakeStdDevUs,
		"erase_mean_us":   t.EraseMeanUs,
		"erase_cv_pct":    t.EraseCVPct,
		"program_slow_us": t.ProgramSlowUs,
		"degradation_pct": t.DegradationPct,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("quality.thresholds.%s must be >= 0", name)
		}
	}
	for name, v := range map[string]*int{
		"program_timeouts": t.ProgramTimeouts,
		"read_disturb":     t.ReadDisturb,
		"bad_blocks":       t.BadBlocks,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("quality.thresholds.%s must be >= 0", name)
		}
	}
	if t.LifetimePass != nil && (*t.LifetimePass < 0 || *t.LifetimePass > 100) {
		return fmt.Errorf("quality.thresholds.lifetime_pass %d: want 0..100", *t.LifetimePass)
	}

	c := q.Counts
	for name, v := range map[string]int{
		"wake_trials":           c.WakeTrials,
		"erase_sectors":         c.EraseSectors,
		"erase_cycles":          c.EraseCycles,
		"program_trials":        c.ProgramTrials,
		"bad_block_samples":     c.BadBlockSamples,
		"read_disturb_reads":    c.ReadDisturbReads,
		"read_disturb_interval": c.ReadDisturbInterval,
		"degradation_samples":   c.DegradationSamples,
		"degradation_cycles":    c.DegradationCycles,
	} {
		if v < 0 {
			return fmt.Errorf("quality.counts.%s must be >= 0", name)
		}
	}
	return nil
}
