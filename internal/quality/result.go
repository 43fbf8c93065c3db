// internal/quality/result.go
package quality

import (
	"fmt"
	"strings"
	"time"
)

// Grade is the verdict of a run. The zero value is GradeA.
type Grade uint8

const (
	GradeA Grade = iota // healthy
	GradeB              // light wear, or a timing anomaly on a healthy part
	GradeC              // high risk or refurbished
	GradeD              // counterfeit; reject
)

func (g Grade) String() string {
	switch g {
	case GradeA:
		return "A"
	case GradeB:
		return "B"
	case GradeC:
		return "C"
	case GradeD:
		return "D"
	}
	return fmt.Sprintf("Grade(%d)", uint8(g))
}

// Code is the grade as published in the status block (A=1 .. D=4).
func (g Grade) Code() uint16 {
	return uint16(g) + 1
}

// ParseGrade is the inverse of Grade.String.
func ParseGrade(s string) (Grade, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return GradeA, nil
	case "B":
		return GradeB, nil
	case "C":
		return GradeC, nil
	case "D":
		return GradeD, nil
	}
	return 0, fmt.Errorf("quality: unknown grade %q", s)
}

// Stages is a bitmask of passed stages.
type Stages uint8

const (
	StageIdentity Stages = 1 << iota
	StageFakeDetection
	StageTiming
	StageLifetime
	StageJudgment
)

// Has reports whether every stage in s2 passed.
func (s Stages) Has(s2 Stages) bool {
	return s&s2 == s2
}

func (s Stages) String() string {
	names := []string{"identity", "fake", "timing", "lifetime", "judgment"}
	var parts []string
	for i, n := range names {
		if s&(1<<i) != 0 {
			parts = append(parts, n)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// Metric summarizes one latency series in microseconds. Samples that
// failed (recorded as 0) are excluded.
type Metric struct {
	N      int
	Mean   float64
	StdDev float64
	CV     float64 // percent
	P95    float64
}

// Result is everything one run measured. It is created per run and
// filled by the stages in order.
type Result struct {
	RunID    string
	Started  time.Time
	Finished time.Time

	// identity
	JEDEC          uint32
	ManufacturerID uint8
	DeviceID       uint16
	CapacityMB     uint32
	UniqueID       uint64
	SFDP           [256]byte
	Status         [3]byte // SR1, SR2, SR3

	// timing, microseconds; 0 marks a failed sample
	Wake            []float64
	Erase           [][]float64 // [sector][cycle]
	Program         []float64
	WakeStats       Metric
	EraseStats      Metric
	EraseCV         float64 // across per-sector means, percent
	ProgramStats    Metric
	ProgramTimeouts int

	// lifetime
	BadBlocks         int
	ReadDisturbErrors int
	Degradation       []float64 // read latency per sample, microseconds
	Degrading         bool
	Health            int

	Stages Stages
	Grade  Grade
}

// Duration is the wall time of the run on the engine clock.
func (r *Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}
