package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/flashqa/internal/quality"
)

func TestWriteReport(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	r := &quality.Result{
		RunID:      "5f0c7c1e-7d0b-4b7e-9d53-0a0f4e9b6c11",
		Started:    start,
		Finished:   start.Add(2500 * time.Millisecond),
		JEDEC:      0xEF4019,
		CapacityMB: 32,
		UniqueID:   0x0102030405060708,
		Status:     [3]byte{0x00, 0x02, 0x61},
		WakeStats:  quality.Metric{N: 10, Mean: 5.123, StdDev: 0.5, P95: 6},
		EraseCV:    1.234,
		Health:     100,
		Stages:     quality.StageIdentity | quality.StageJudgment,
		Grade:      quality.GradeB,
	}

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, r, []string{"earlier"}))
	out := buf.String()

	assert.Contains(t, out, "run_id: 5f0c7c1e-7d0b-4b7e-9d53-0a0f4e9b6c11\n")
	assert.Contains(t, out, "duration: 2.5s\n")
	assert.Contains(t, out, "grade: B\n")
	assert.Contains(t, out, "stages: identity,judgment\n")
	assert.Contains(t, out, "  model: W25Q256\n")
	assert.Contains(t, out, "  jedec: \"0xEF4019\"\n")
	assert.Contains(t, out, "  unique_id: \"0x0102030405060708\"\n")
	assert.Contains(t, out, "  status: 00 02 61\n")
	assert.Contains(t, out, "    mean_us: 5.12\n")
	assert.Contains(t, out, "  erase_cv_pct: 1.23\n")
	assert.Contains(t, out, "- earlier\n")
}

func TestNewReport_UnknownModel(t *testing.T) {
	rep := newReport(&quality.Result{JEDEC: 0x1F8501}, nil)
	assert.Equal(t, "unknown", rep.Chip.Model)
	assert.Nil(t, rep.PreviousRuns)
}
