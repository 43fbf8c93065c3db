// internal/trigger/poller.go
package trigger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Client abstracts the two Modbus operations the trigger needs.
type Client interface {
	ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) // FC 3
	WriteSingleRegister(addr, value uint16) error            // FC 6
	Close() error
}

// Factory opens a fresh client. One attempt per call.
type Factory func() (Client, error)

// Config is the minimal runtime config the poller needs.
type Config struct {
	Register uint16
	Interval time.Duration
	Logger   *slog.Logger
}

// Poller is a dumb, clock-driven reader of the start-request register.
type Poller struct {
	cfg     Config
	client  Client
	factory Factory
	log     *slog.Logger
	now     func() time.Time
}

// New creates a poller with immutable config. client may be nil when a
// factory is given; the first tick then connects.
func New(cfg Config, client Client, factory Factory) (*Poller, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("trigger: interval must be > 0")
	}
	if client == nil && factory == nil {
		return nil, errors.New("trigger: client or factory required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Poller{
		cfg:     cfg,
		client:  client,
		factory: factory,
		log:     log.With("component", "trigger"),
		now:     time.Now,
	}, nil
}

// PollOnce reads the register once. A non-zero value is acknowledged by
// writing zero back and returned with ok set. A failed acknowledge does
// not emit: the request is seen again on a later tick.
//
// On transport failure the client is discarded and the factory is used
// on a future call.
func (p *Poller) PollOnce() (req Request, ok bool, err error) {
	if p.client == nil {
		if p.factory == nil {
			return Request{}, false, errors.New("trigger: no client")
		}
		c, err := p.factory()
		if err != nil {
			return Request{}, false, fmt.Errorf("trigger: connect: %w", err)
		}
		p.client = c
	}

	regs, err := p.client.ReadHoldingRegisters(p.cfg.Register, 1)
	if err != nil {
		p.drop()
		return Request{}, false, fmt.Errorf("trigger: read register %d: %w", p.cfg.Register, err)
	}
	if len(regs) != 1 {
		p.drop()
		return Request{}, false, fmt.Errorf("trigger: read register %d: got %d values", p.cfg.Register, len(regs))
	}
	if regs[0] == 0 {
		return Request{}, false, nil
	}

	if err := p.client.WriteSingleRegister(p.cfg.Register, 0); err != nil {
		p.drop()
		return Request{}, false, fmt.Errorf("trigger: acknowledge: %w", err)
	}

	return Request{Code: regs[0], At: p.now()}, true, nil
}

// Close releases the current client, if any.
func (p *Poller) Close() error {
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}

func (p *Poller) drop() {
	// the poller only ever reconnects through the factory
	if p.factory == nil {
		return
	}
	if err := p.Close(); err != nil {
		p.log.Debug("close after failure", "err", err)
	}
}
