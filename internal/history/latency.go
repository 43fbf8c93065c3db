// internal/history/latency.go
package history

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/tamzrod/flashqa/internal/quality"
)

// Latency holds the raw samples of a run in microseconds, 0 marking a
// failed sample. It is stored as one CBOR blob with integer keys.
type Latency struct {
	Wake        []float64   `cbor:"1,keyasint,omitempty"`
	Erase       [][]float64 `cbor:"2,keyasint,omitempty"`
	Program     []float64   `cbor:"3,keyasint,omitempty"`
	Degradation []float64   `cbor:"4,keyasint,omitempty"`
}

// LatencyOf copies the sample arrays out of a result.
func LatencyOf(r *quality.Result) Latency {
	return Latency{
		Wake:        r.Wake,
		Erase:       r.Erase,
		Program:     r.Program,
		Degradation: r.Degradation,
	}
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	// Deterministic encoding; float64 shrinks to float32/16 when exact.
	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		ShortestFloat: cbor.ShortestFloat16,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("history: cbor encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("history: cbor decoder mode: %v", err))
	}
}

// EncodeLatency serializes samples for storage.
func EncodeLatency(l Latency) ([]byte, error) {
	b, err := encMode.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("history: encode latency: %w", err)
	}
	return b, nil
}

// DecodeLatency is the inverse of EncodeLatency.
func DecodeLatency(b []byte) (Latency, error) {
	var l Latency
	if err := decMode.Unmarshal(b, &l); err != nil {
		return Latency{}, fmt.Errorf("history: decode latency: %w", err)
	}
	return l, nil
}
