// internal/writer/builder.go
package writer

import (
	"fmt"
	"time"

	cfg "github.com/tamzrod/flashqa/internal/config"
	"github.com/tamzrod/flashqa/internal/writer/ingest"
	wmodbus "github.com/tamzrod/flashqa/internal/writer/modbus"
)

// BuildPlan converts the status config into a StatusPlan.
// Assumes config has already passed validation.
func BuildPlan(s cfg.StatusConfig) StatusPlan {
	return StatusPlan{
		Endpoint: s.Endpoint,
		UnitID:   s.UnitID,
		BaseSlot: s.Slot,
		Name:     s.Name,
	}
}

// BuildEndpointClient creates the transport selected by s.Transport.
// The returned closer releases it.
func BuildEndpointClient(s cfg.StatusConfig) (EndpointClient, func() error, error) {
	timeout := time.Duration(s.TimeoutMs) * time.Millisecond

	switch s.Transport {
	case cfg.TransportModbus, "":
		c, err := wmodbus.NewEndpointClient(wmodbus.Config{
			Endpoint: s.Endpoint,
			Timeout:  timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil

	case cfg.TransportIngest:
		c, err := ingest.NewEndpointClient(ingest.Config{
			Endpoint: s.Endpoint,
			Timeout:  timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	}

	return nil, nil, fmt.Errorf("writer: unknown transport %q", s.Transport)
}

// Build wires plan and client into a ready StationWriter.
func Build(s cfg.StatusConfig) (*StationWriter, func() error, error) {
	cli, closeFn, err := BuildEndpointClient(s)
	if err != nil {
		return nil, nil, err
	}
	return NewStatusWriter(BuildPlan(s), cli), closeFn, nil
}
