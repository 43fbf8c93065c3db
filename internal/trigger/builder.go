// internal/trigger/builder.go
package trigger

import (
	"log/slog"
	"time"

	cfg "github.com/tamzrod/flashqa/internal/config"
	tmodbus "github.com/tamzrod/flashqa/internal/trigger/modbus"
)

// Build constructs a Poller and wires Modbus client lifecycle.
// Connection is reused while healthy.
// On transport death, the Poller discards the client and uses the
// factory on a future tick.
func Build(t cfg.TriggerConfig, log *slog.Logger) (*Poller, func() error, error) {
	// client factory: ONE attempt per call
	factory := func() (Client, error) {
		c, err := tmodbus.New(tmodbus.Config{
			Endpoint: t.Endpoint,
			UnitID:   t.UnitID,
			Timeout:  time.Duration(t.TimeoutMs) * time.Millisecond,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	// initial client (fail fast at startup)
	client, err := factory()
	if err != nil {
		return nil, nil, err
	}

	p, err := New(
		Config{
			Register: t.Register,
			Interval: time.Duration(t.IntervalMs) * time.Millisecond,
			Logger:   log,
		},
		client,
		factory,
	)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	return p, p.Close, nil
}
