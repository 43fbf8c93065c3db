// internal/trigger/types.go
package trigger

import "time"

// Request is one start request read from the PLC.
type Request struct {
	// Code is the raw non-zero register value. Its meaning belongs to the
	// PLC program; the jig passes it through to the run log.
	Code uint16
	At   time.Time
}
