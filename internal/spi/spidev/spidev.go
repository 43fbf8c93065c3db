// internal/spi/spidev/spidev.go
package spidev

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// frameOverhead is the opcode plus 4 address bytes of an array command.
const frameOverhead = 5

// Config selects a host SPI port.
type Config struct {
	// Device is a spireg name such as "/dev/spidev0.0" or "SPI0.0";
	// empty picks the first registered port.
	Device    string
	Frequency physic.Frequency
	// WPPin, when set, is driven high so status registers stay writable.
	WPPin string
}

// Port adapts a full-duplex periph SPI connection to the half-duplex
// flash bus (write w, then read r, under one chip select).
type Port struct {
	mu     sync.Mutex
	conn   spi.Conn
	closer spi.PortCloser
	buf    []byte
}

// Open initializes the host drivers and connects to the port in mode 0.
func Open(cfg Config) (*Port, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("spidev: host init: %w", err)
	}

	if cfg.WPPin != "" {
		pin := gpioreg.ByName(cfg.WPPin)
		if pin == nil {
			return nil, fmt.Errorf("spidev: unknown gpio %q", cfg.WPPin)
		}
		if err := pin.Out(gpio.High); err != nil {
			return nil, fmt.Errorf("spidev: drive %s high: %w", cfg.WPPin, err)
		}
	}

	pc, err := spireg.Open(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("spidev: open %q: %w", cfg.Device, err)
	}

	freq := cfg.Frequency
	if freq == 0 {
		freq = 8 * physic.MegaHertz
	}
	c, err := pc.Connect(freq, spi.Mode0, 8)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("spidev: connect: %w", err)
	}

	p := New(c)
	p.closer = pc
	return p, nil
}

// New wraps an existing connection.
func New(c spi.Conn) *Port {
	return &Port{conn: c}
}

// MaxTransfer is the largest read payload one Tx can carry, or 0 when
// the connection reports no limit.
func (p *Port) MaxTransfer() int {
	l, ok := p.conn.(conn.Limits)
	if !ok {
		return 0
	}
	n := l.MaxTxSize() - frameOverhead
	if n < 0 {
		return 0
	}
	return n
}

// Tx clocks w out and returns the len(r) bytes that follow it.
func (p *Port) Tx(w, r []byte) error {
	if p.conn.Duplex() == conn.Half {
		return errors.New("spidev: half-duplex connections are not supported")
	}

	n := len(w) + len(r)

	p.mu.Lock()
	defer p.mu.Unlock()

	if cap(p.buf) < 2*n {
		p.buf = make([]byte, 2*n)
	}
	out := p.buf[:n]
	in := p.buf[n : 2*n]
	copy(out, w)
	for i := len(w); i < n; i++ {
		out[i] = 0xFF
	}

	if err := p.conn.Tx(out, in); err != nil {
		return fmt.Errorf("spidev: tx: %w", err)
	}
	copy(r, in[len(w):])
	return nil
}

// Close releases the port if Open created it.
func (p *Port) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

func (p *Port) String() string {
	return p.conn.String()
}
