// internal/config/config.go
package config

// Modes selected by the top-level mode key.
const (
	ModeOnce  = "once"
	ModeJig   = "jig"
	ModeShell = "shell"
)

// Bus drivers.
const (
	BusSerprog = "serprog"
	BusSpidev  = "spidev"
)

// Status transports.
const (
	TransportModbus = "modbus"
	TransportIngest = "ingest"
)

type Config struct {
	Mode       string           `yaml:"mode"`
	Log        LogConfig        `yaml:"log"`
	Bus        BusConfig        `yaml:"bus"`
	Flash      FlashConfig      `yaml:"flash"`
	Filesystem FilesystemConfig `yaml:"filesystem"`
	Quality    QualityConfig    `yaml:"quality"`
	Jig        JigConfig        `yaml:"jig"`
	History    HistoryConfig    `yaml:"history"`
}

// ---- LOG ----

type LogConfig struct {
	Level string `yaml:"level"` // debug|info|warn|error
}

// ---- BUS ----

type BusConfig struct {
	Driver string `yaml:"driver"`

	// serprog
	Port      string `yaml:"port"`
	BaudRate  int    `yaml:"baud_rate"`
	TimeoutMs int    `yaml:"timeout_ms"`

	// spidev
	Device string `yaml:"device"`
	WPPin  string `yaml:"wp_pin"`

	FrequencyHz uint32 `yaml:"frequency_hz"`
}

// ---- FLASH DRIVER ----

type FlashConfig struct {
	PollIntervalUs       int `yaml:"poll_interval_us"`
	DefaultTimeoutMs     int `yaml:"default_timeout_ms"`
	SectorEraseTimeoutMs int `yaml:"sector_erase_timeout_ms"`
	ChipEraseTimeoutMs   int `yaml:"chip_erase_timeout_ms"`
}

// ---- FILESYSTEM PARTITION ----

type FilesystemConfig struct {
	StartBlock  uint32 `yaml:"start_block"`
	BlockCount  uint32 `yaml:"block_count"` // 0 = to the end of the chip
	BlockCycles int32  `yaml:"block_cycles"`
	Lookahead   int    `yaml:"lookahead_bytes"`
}

// ---- QUALITY ENGINE ----

type QualityConfig struct {
	Manufacturer *uint8  `yaml:"manufacturer"`
	GuardSector  *uint32 `yaml:"guard_sector"`

	Thresholds ThresholdConfig `yaml:"thresholds"`
	Counts     CountConfig     `yaml:"counts"`
}

// ThresholdConfig overrides engine thresholds; nil keeps the default.
type ThresholdConfig struct {
	WakeMeanUs      *float64 `yaml:"wake_mean_us"`
	WakeStdDevUs    *float64 `yaml:"wake_stddev_us"`
	EraseMeanUs     *float64 `yaml:"erase_mean_us"`
	EraseCVPct      *float64 `yaml:"erase_cv_pct"`
	ProgramSlowUs   *float64 `yaml:"program_slow_us"`
	ProgramTimeouts *int     `yaml:"program_timeouts"`
	ReadDisturb     *int     `yaml:"read_disturb"`
	BadBlocks       *int     `yaml:"bad_blocks"`
	DegradationPct  *float64 `yaml:"degradation_pct"`
	LifetimePass    *int     `yaml:"lifetime_pass"`
}

// CountConfig overrides engine sample counts; 0 keeps the default.
type CountConfig struct {
	WakeTrials          int `yaml:"wake_trials"`
	EraseSectors        int `yaml:"erase_sectors"`
	EraseCycles         int `yaml:"erase_cycles"`
	ProgramTrials       int `yaml:"program_trials"`
	BadBlockSamples     int `yaml:"bad_block_samples"`
	ReadDisturbReads    int `yaml:"read_disturb_reads"`
	ReadDisturbInterval int `yaml:"read_disturb_interval"`
	DegradationSamples  int `yaml:"degradation_samples"`
	DegradationCycles   int `yaml:"degradation_cycles"`
}

// ---- JIG (PLC) ----

type JigConfig struct {
	Status  *StatusConfig  `yaml:"status"`  // optional, opt-in
	Trigger *TriggerConfig `yaml:"trigger"` // required in jig mode
}

type StatusConfig struct {
	Transport string `yaml:"transport"`
	Endpoint  string `yaml:"endpoint"`
	UnitID    uint8  `yaml:"unit_id"`
	TimeoutMs int    `yaml:"timeout_ms"`
	Slot      uint16 `yaml:"status_slot"`
	Name      string `yaml:"station_name"`
}

type TriggerConfig struct {
	Endpoint   string `yaml:"endpoint"`
	UnitID     uint8  `yaml:"unit_id"`
	TimeoutMs  int    `yaml:"timeout_ms"`
	Register   uint16 `yaml:"register"`
	IntervalMs int    `yaml:"interval_ms"`
}

// ---- HISTORY ----

type HistoryConfig struct {
	Path string `yaml:"path"` // empty disables archiving
}
