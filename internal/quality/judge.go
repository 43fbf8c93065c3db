// internal/quality/judge.go
package quality

// Health bands of the final verdict.
const (
	HealthGradeA = 85
	HealthGradeB = 70
)

// Judge is the final decision table. It is pure.
//
//	D from identity or fake detection  -> D
//	timing failed, health <  85        -> C
//	timing failed, health >= 85        -> B (pending review, not a defect)
//	otherwise                          -> A >= 85, B >= 70, else C
func Judge(r *Result) Grade {
	if r.Grade == GradeD {
		return GradeD
	}
	if !r.Stages.Has(StageTiming) {
		if r.Health < HealthGradeA {
			return GradeC
		}
		return GradeB
	}
	switch {
	case r.Health >= HealthGradeA:
		return GradeA
	case r.Health >= HealthGradeB:
		return GradeB
	}
	return GradeC
}
