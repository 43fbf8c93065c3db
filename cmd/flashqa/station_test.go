package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tamzrod/flashqa/internal/flash"
	"github.com/tamzrod/flashqa/internal/flash/flashsim"
	"github.com/tamzrod/flashqa/internal/history"
	"github.com/tamzrod/flashqa/internal/quality"
	"github.com/tamzrod/flashqa/internal/status"
)

var fastCounts = quality.Counts{
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

// recordingWriter keeps every published snapshot.
type recordingWriter struct {
	snaps []status.Snapshot
}

func (w *recordingWriter) WriteStatus(s status.Snapshot) error {
	w.snaps = append(w.snaps, s)
	return nil
}

func (w *recordingWriter) states() []uint16 {
	out := make([]uint16, len(w.snaps))
	for i, s := range w.snaps {
		out[i] = s.State
	}
	return out
}

func newStation(t *testing.T, model flash.Model, simOpts ...flashsim.Option) (*station, *recordingWriter, *bytes.Buffer) {
	t.Helper()
	clk := flashsim.NewClock()
	dev := flash.New(flashsim.New(clk, model, simOpts...), flash.WithClock(clk))

	store, err := history.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rec := &recordingWriter{}
	var out bytes.Buffer
	st := &station{
		dev:    dev,
		opts:   []quality.Option{quality.WithClock(clk), quality.WithCounts(fastCounts)},
		status: rec,
		store:  store,
		report: &out,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return st, rec, &out
}

func TestAssess_GenuineChip(t *testing.T) {
	st, rec, out := newStation(t, flash.ModelW25Q64)

	res, err := st.assess(context.Background())
	require.NoError(t, err)
	assert.Equal(t, quality.GradeA, res.Grade)

	assert.Equal(t, []uint16{status.StateRunning, status.StateDone}, rec.states())
	done := rec.snaps[1]
	assert.Equal(t, uint16(1), done.Grade)
	assert.Equal(t, uint16(100), done.Health)
	assert.Equal(t, uint16(0x1F), done.Stages)
	assert.Equal(t, uint32(0xEF4017), done.JEDEC)

	var rep report
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &rep))
	assert.Equal(t, res.RunID, rep.RunID)
	assert.Equal(t, "A", rep.Grade)
	assert.Equal(t, "W25Q64", rep.Chip.Model)
	assert.Equal(t, "0xEF4017", rep.Chip.JEDEC)
	assert.Empty(t, rep.PreviousRuns)

	got, err := st.store.Get(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, quality.GradeA, got.Grade)
}

func TestAssess_RepeatedUniqueIDReported(t *testing.T) {
	st, _, out := newStation(t, flash.ModelW25Q64)

	first, err := st.assess(context.Background())
	require.NoError(t, err)

	out.Reset()
	_, err = st.assess(context.Background())
	require.NoError(t, err)

	var rep report
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &rep))
	assert.Equal(t, []string{first.RunID}, rep.PreviousRuns)
}

func TestAssess_UnreadableUniqueIDNotMatched(t *testing.T) {
	st, _, out := newStation(t, flash.ModelW25Q64, flashsim.WithUniqueID(0))

	_, err := st.assess(context.Background())
	require.NoError(t, err)

	out.Reset()
	second, err := st.assess(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.UniqueID)

	var rep report
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &rep))
	assert.Empty(t, rep.PreviousRuns)

	runs, err := st.store.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2, "both runs still archived")
}

func TestAssess_UnknownChipPublishesError(t *testing.T) {
	st, rec, out := newStation(t, flash.ModelW25Q64, flashsim.WithJEDEC(0x1F8501))

	_, err := st.assess(context.Background())
	require.ErrorIs(t, err, flash.ErrIdentityMismatch)

	assert.Equal(t, []uint16{status.StateRunning, status.StateError}, rec.states())
	assert.Equal(t, flash.ErrIdentityMismatch.Code(), rec.snaps[1].LastErrorCode)
	assert.Zero(t, out.Len(), "no report without a result")
}

func TestAssess_ForeignManufacturerGradedD(t *testing.T) {
	st, rec, _ := newStation(t, flash.ModelGD25Q64)

	res, err := st.assess(context.Background())
	require.NoError(t, err)
	assert.Equal(t, quality.GradeD, res.Grade)
	assert.Equal(t, uint16(4), rec.snaps[len(rec.snaps)-1].Grade)
}

func TestAssess_WithoutPublishOrArchive(t *testing.T) {
	st, _, _ := newStation(t, flash.ModelW25Q16)
	st.status = nil
	st.store = nil
	st.report = nil

	_, err := st.assess(context.Background())
	assert.NoError(t, err)
}

func TestSnapshotOf_Scaling(t *testing.T) {
	r := &quality.Result{
		JEDEC:             0xEF4019,
		Health:            61,
		Stages:            quality.StageIdentity | quality.StageFakeDetection,
		Grade:             quality.GradeC,
		BadBlocks:         2,
		ReadDisturbErrors: 9,
		ProgramTimeouts:   70000,
		WakeStats:         quality.Metric{Mean: 4.6},
		EraseCV:           12.346,
	}
	s := snapshotOf(r)

	assert.Equal(t, status.StateDone, s.State)
	assert.Equal(t, uint16(3), s.Grade)
	assert.Equal(t, uint16(61), s.Health)
	assert.Equal(t, uint16(0x03), s.Stages)
	assert.Equal(t, uint16(65535), s.ProgramTimeouts, "saturates")
	assert.Equal(t, uint16(5), s.WakeMeanUS)
	assert.Equal(t, uint16(1235), s.EraseCV)
}

func TestErrorCode(t *testing.T) {
	assert.Zero(t, errorCode(nil))
	assert.Equal(t, flash.ErrTimeout.Code(), errorCode(&flash.TimeoutError{}))
	assert.Equal(t, errGeneric, errorCode(context.Canceled))
}
