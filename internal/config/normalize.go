// internal/config/normalize.go
package config

import (
	"strings"

	"github.com/tamzrod/flashqa/internal/status"
)

// Defaults applied by Normalize.
const (
	DefaultBaudRate          = 115200
	DefaultBusTimeoutMs      = 2000
	DefaultJigTimeoutMs      = 2000
	DefaultTriggerIntervalMs = 500
	DefaultBlockCycles       = 500
	DefaultLookahead         = 64
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Mode == "" {
		cfg.Mode = ModeOnce
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Bus.Driver == BusSerprog {
		if cfg.Bus.BaudRate == 0 {
			cfg.Bus.BaudRate = DefaultBaudRate
		}
		if cfg.Bus.TimeoutMs == 0 {
			cfg.Bus.TimeoutMs = DefaultBusTimeoutMs
		}
	}

	if cfg.Filesystem.BlockCycles == 0 {
		cfg.Filesystem.BlockCycles = DefaultBlockCycles
	}
	if cfg.Filesystem.Lookahead == 0 {
		cfg.Filesystem.Lookahead = DefaultLookahead
	}

	// ------------------------------------------------------------
	// STATUS BLOCK NORMALIZATION (OPT-IN)
	// ------------------------------------------------------------

	if st := cfg.Jig.Status; st != nil {
		if st.Transport == "" {
			st.Transport = TransportModbus
		}
		if st.TimeoutMs == 0 {
			st.TimeoutMs = DefaultJigTimeoutMs
		}
		// station_name: ASCII already validated, truncate to the block
		if len(st.Name) > status.NameMaxChars {
			st.Name = st.Name[:status.NameMaxChars]
		}
	}

	if tr := cfg.Jig.Trigger; tr != nil {
		if tr.TimeoutMs == 0 {
			tr.TimeoutMs = DefaultJigTimeoutMs
		}
		if tr.IntervalMs == 0 {
			tr.IntervalMs = DefaultTriggerIntervalMs
		}
	}
}
