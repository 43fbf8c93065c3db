// internal/writer/status_writer.go
package writer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tamzrod/flashqa/internal/status"
)

// StatusWriter is the delivery-only contract for station status.
// It receives a snapshot and writes it verbatim.
type StatusWriter interface {
	WriteStatus(s status.Snapshot) error
}

// StationWriter publishes one station's QA block.
type StationWriter struct {
	plan StatusPlan
	cli  EndpointClient

	needFull bool
	last     []uint16
}

// NewStatusWriter builds a writer that full-asserts on its first call.
func NewStatusWriter(plan StatusPlan, cli EndpointClient) *StationWriter {
	return &StationWriter{
		plan:     plan,
		cli:      cli,
		needFull: true, // full re-assert on first successful write
	}
}

// WriteStatus delivers a snapshot into the station block. The plan's
// name always overrides s.Name. On any write failure, the next call
// re-asserts the full block.
func (sw *StationWriter) WriteStatus(s status.Snapshot) error {
	if sw == nil {
		return errors.New("status writer: disabled")
	}
	if sw.cli == nil {
		return fmt.Errorf("status writer: missing client for endpoint %s", sw.plan.Endpoint)
	}

	s.Name = sw.plan.Name
	regs := status.Encode(s)
	base := sw.baseAddr()

	// ------------------------------------------------------------
	// Full block write (identity re-assert)
	// ------------------------------------------------------------
	if sw.needFull {
		if err := sw.cli.WriteRegisters(sw.plan.UnitID, base, regs); err != nil {
			sw.needFull = true
			return fmt.Errorf("status writer: full block write failed: %w", err)
		}
		sw.needFull = false
		sw.last = regs
		return nil
	}

	// ------------------------------------------------------------
	// Incremental: one write per run of changed live slots
	// ------------------------------------------------------------
	var errs []string

	for start := 0; start <= status.SlotLiveEnd; {
		if regs[start] == sw.last[start] {
			start++
			continue
		}
		end := start
		for end+1 <= status.SlotLiveEnd && regs[end+1] != sw.last[end+1] {
			end++
		}

		run := regs[start : end+1]
		if err := sw.cli.WriteRegisters(sw.plan.UnitID, base+uint16(start), run); err != nil {
			errs = append(errs, fmt.Sprintf("slots %d-%d write failed: %v", start, end, err))
		} else {
			copy(sw.last[start:], run)
		}
		start = end + 1
	}

	if len(errs) > 0 {
		// Any partial failure introduces doubt: re-assert on next call.
		sw.needFull = true
		return errors.New("status writer: " + strings.Join(errs, " | "))
	}

	return nil
}

func (sw *StationWriter) baseAddr() uint16 {
	// Each station owns a fixed SlotsPerStation block.
	return sw.plan.BaseSlot * status.SlotsPerStation
}
