// cmd/flashqa/report.go
package main

import (
	"fmt"
	"io"
	"math"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tamzrod/flashqa/internal/flash"
	"github.com/tamzrod/flashqa/internal/quality"
)

type report struct {
	RunID    string         `yaml:"run_id"`
	Started  time.Time      `yaml:"started"`
	Duration string         `yaml:"duration"`
	Grade    string         `yaml:"grade"`
	Health   int            `yaml:"health"`
	Stages   string         `yaml:"stages"`
	Chip     chipReport     `yaml:"chip"`
	Timing   timingReport   `yaml:"timing"`
	Lifetime lifetimeReport `yaml:"lifetime"`

	PreviousRuns []string `yaml:"previous_runs,omitempty"`
}

type chipReport struct {
	Model      string `yaml:"model"`
	JEDEC      string `yaml:"jedec"`
	CapacityMB uint32 `yaml:"capacity_mb"`
	UniqueID   string `yaml:"unique_id"`
	Status     string `yaml:"status"` // SR1 SR2 SR3
}

type timingReport struct {
	Wake            metricReport `yaml:"wake"`
	Erase           metricReport `yaml:"erase"`
	EraseCVPct      float64      `yaml:"erase_cv_pct"`
	Program         metricReport `yaml:"program"`
	ProgramTimeouts int          `yaml:"program_timeouts"`
}

type metricReport struct {
	N      int     `yaml:"n"`
	MeanUs float64 `yaml:"mean_us"`
	StdUs  float64 `yaml:"std_us"`
	P95Us  float64 `yaml:"p95_us"`
}

type lifetimeReport struct {
	BadBlocks         int  `yaml:"bad_blocks"`
	ReadDisturbErrors int  `yaml:"read_disturb_errors"`
	Degrading         bool `yaml:"degrading"`
}

func newReport(r *quality.Result, previous []string) report {
	model := "unknown"
	if m, ok := flash.Lookup(r.JEDEC); ok {
		model = m.String()
	}

	return report{
		RunID:    r.RunID,
		Started:  r.Started,
		Duration: r.Duration().Round(time.Millisecond).String(),
		Grade:    r.Grade.String(),
		Health:   r.Health,
		Stages:   r.Stages.String(),
		Chip: chipReport{
			Model:      model,
			JEDEC:      fmt.Sprintf("0x%06X", r.JEDEC),
			CapacityMB: r.CapacityMB,
			UniqueID:   hex64(r.UniqueID),
			Status:     fmt.Sprintf("%02X %02X %02X", r.Status[0], r.Status[1], r.Status[2]),
		},
		Timing: timingReport{
			Wake:            metricOf(r.WakeStats),
			Erase:           metricOf(r.EraseStats),
			EraseCVPct:      round2(r.EraseCV),
			Program:         metricOf(r.ProgramStats),
			ProgramTimeouts: r.ProgramTimeouts,
		},
		Lifetime: lifetimeReport{
			BadBlocks:         r.BadBlocks,
			ReadDisturbErrors: r.ReadDisturbErrors,
			Degrading:         r.Degrading,
		},
		PreviousRuns: previous,
	}
}

// writeReport emits one YAML document per run.
func writeReport(w io.Writer, r *quality.Result, previous []string) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(newReport(r, previous)); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return enc.Close()
}

func metricOf(m quality.Metric) metricReport {
	return metricReport{
		N:      m.N,
		MeanUs: round2(m.Mean),
		StdUs:  round2(m.StdDev),
		P95Us:  round2(m.P95),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func hex64(v uint64) string {
	return fmt.Sprintf("0x%016X", v)
}
