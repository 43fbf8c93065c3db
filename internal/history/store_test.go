package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/flashqa/internal/quality"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func result(uid uint64, started time.Time) *quality.Result {
	return &quality.Result{
		RunID:      uuid.NewString(),
		Started:    started,
		Finished:   started.Add(3 * time.Second),
		JEDEC:      0xEF4017,
		CapacityMB: 8,
		UniqueID:   uid,
		Wake:       []float64{5, 5, 6},
		Erase:      [][]float64{{45100, 45120}, {45090, 0}},
		Program:    []float64{981, 982.5},
		Health:     75,
		Stages:     quality.StageIdentity | quality.StageFakeDetection | quality.StageTiming | quality.StageLifetime | quality.StageJudgment,
		Grade:      quality.GradeB,
	}
}

func TestSaveGet(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	r := result(0xD1A2B3C4E5F60718, t0)
	require.NoError(t, s.Save(ctx, r))

	got, err := s.Get(ctx, r.RunID)
	require.NoError(t, err)

	assert.Equal(t, r.RunID, got.ID)
	assert.Equal(t, uint32(0xEF4017), got.JEDEC)
	assert.Equal(t, uint64(0xD1A2B3C4E5F60718), got.UniqueID, "high bit survives storage")
	assert.Equal(t, uint32(8), got.CapacityMB)
	assert.Equal(t, quality.GradeB, got.Grade)
	assert.Equal(t, 75, got.Health)
	assert.Equal(t, r.Stages, got.Stages)
	assert.True(t, t0.Equal(got.Started))
	assert.True(t, r.Finished.Equal(got.Finished))

	require.NotNil(t, got.Latency)
	assert.Equal(t, r.Wake, got.Latency.Wake)
	assert.Equal(t, r.Erase, got.Latency.Erase)
	assert.Equal(t, r.Program, got.Latency.Program)
	assert.Empty(t, got.Latency.Degradation)
}

func TestGet_NotFound(t *testing.T) {
	s := openMemory(t)
	_, err := s.Get(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSave_RejectsBadRunID(t *testing.T) {
	s := openMemory(t)
	r := result(1, time.Now())
	r.RunID = "run-1"
	assert.Error(t, s.Save(context.Background(), r))
}

func TestSave_DuplicateRunID(t *testing.T) {
	s := openMemory(t)
	r := result(1, time.Now())
	require.NoError(t, s.Save(context.Background(), r))
	assert.Error(t, s.Save(context.Background(), r))
}

func TestSeenUniqueID(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	first := result(0xABCD, t0)
	other := result(0x1234, t0.Add(time.Minute))
	clone := result(0xABCD, t0.Add(2*time.Minute))
	for _, r := range []*quality.Result{first, other, clone} {
		require.NoError(t, s.Save(ctx, r))
	}

	seen, err := s.SeenUniqueID(ctx, 0xABCD, clone.RunID)
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, first.RunID, seen[0].ID)
	assert.Nil(t, seen[0].Latency)

	seen, err = s.SeenUniqueID(ctx, 0x5555, "")
	require.NoError(t, err)
	assert.Empty(t, seen)
}

func TestList(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		r := result(uint64(i), t0.Add(time.Duration(i)*time.Hour))
		require.NoError(t, s.Save(ctx, r))
		ids = append(ids, r.RunID)
	}

	runs, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	r := result(7, time.Now())
	require.NoError(t, s.Save(ctx, r))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, r.RunID)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.UniqueID)
}

func TestLatency_Encoding(t *testing.T) {
	in := Latency{Wake: []float64{5, 1}, Erase: [][]float64{{45100.5}}}
	b, err := EncodeLatency(in)
	require.NoError(t, err)

	out, err := DecodeLatency(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = DecodeLatency([]byte{0xFF})
	assert.Error(t, err)
}
