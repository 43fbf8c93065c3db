// internal/spi/serprog/serprog.go
package serprog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/goburrow/serial"
)

// Serprog command set (flashrom serial programmer protocol).
const (
	cmdQIface   byte = 0x01
	cmdQCmdMap  byte = 0x02
	cmdQPgmName byte = 0x03
	cmdSyncNOP  byte = 0x10
	cmdSBusType byte = 0x12
	cmdOSPIOp   byte = 0x13
	cmdSSPIFreq byte = 0x14

	ack byte = 0x06
	nak byte = 0x15

	busTypeSPI byte = 0x08

	ifaceVersion = 1

	// maxOpLen is the 24-bit length field limit of an SPI operation.
	maxOpLen = 1<<24 - 1
)

var (
	ErrNAK        = errors.New("serprog: command rejected")
	ErrNoSync     = errors.New("serprog: no sync")
	ErrNoSPI      = errors.New("serprog: programmer lacks SPI operation")
	ErrTooLong    = errors.New("serprog: transfer exceeds 24-bit length")
	errBadVersion = errors.New("serprog: unsupported interface version")
)

// Config describes the serial link.
type Config struct {
	Port      string
	BaudRate  int
	Timeout   time.Duration
	Frequency uint32 // SPI clock in Hz; 0 keeps the programmer default
	Logger    *slog.Logger
}

// Programmer is a serprog-speaking USB/serial SPI bridge. It implements
// the flash bus: each Tx is one chip-select framed SPI operation.
type Programmer struct {
	mu   sync.Mutex
	rw   io.ReadWriteCloser
	log  *slog.Logger
	name string
	freq uint32
}

// Open opens the serial port and performs the serprog handshake.
func Open(cfg Config) (*Programmer, error) {
	if cfg.Port == "" {
		return nil, errors.New("serprog: port required")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}

	port, err := serial.Open(&serial.Config{
		Address:  cfg.Port,
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("serprog: open %s: %w", cfg.Port, err)
	}

	p, err := New(port, cfg)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return p, nil
}

// New runs the handshake over an already open stream.
func New(rw io.ReadWriteCloser, cfg Config) (*Programmer, error) {
	p := &Programmer{rw: rw, log: cfg.Logger}
	if p.log == nil {
		p.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := p.sync(); err != nil {
		return nil, err
	}
	if err := p.handshake(cfg.Frequency); err != nil {
		return nil, err
	}

	p.log.Info("serprog programmer ready", "name", p.name, "spi_hz", p.freq)
	return p, nil
}

// Name is the programmer-reported name.
func (p *Programmer) Name() string { return p.name }

// Frequency is the SPI clock the programmer accepted; 0 if never set.
func (p *Programmer) Frequency() uint32 { return p.freq }

// Close closes the serial port.
func (p *Programmer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rw.Close()
}

// Tx runs one SPI operation: write w, then read len(r) bytes.
func (p *Programmer) Tx(w, r []byte) error {
	if len(w) > maxOpLen || len(r) > maxOpLen {
		return ErrTooLong
	}

	req := make([]byte, 7+len(w))
	req[0] = cmdOSPIOp
	put24(req[1:4], uint32(len(w)))
	put24(req[4:7], uint32(len(r)))
	copy(req[7:], w)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.roundTrip(req, r); err != nil {
		return fmt.Errorf("serprog: spi op: %w", err)
	}
	return nil
}

// ---- protocol helpers ----

// sync flushes any half-finished command: SYNCNOP answers NAK then ACK.
func (p *Programmer) sync() error {
	for attempt := 0; attempt < 8; attempt++ {
		if _, err := p.rw.Write([]byte{cmdSyncNOP}); err != nil {
			return fmt.Errorf("serprog: sync write: %w", err)
		}
		var b [1]byte
		for i := 0; i < 32; i++ {
			if _, err := io.ReadFull(p.rw, b[:]); err != nil {
				break
			}
			if b[0] != nak {
				continue
			}
			if _, err := io.ReadFull(p.rw, b[:]); err == nil && b[0] == ack {
				return nil
			}
			break
		}
	}
	return ErrNoSync
}

func (p *Programmer) handshake(freq uint32) error {
	var iface [2]byte
	if err := p.roundTrip([]byte{cmdQIface}, iface[:]); err != nil {
		return fmt.Errorf("serprog: query interface: %w", err)
	}
	if binary.LittleEndian.Uint16(iface[:]) != ifaceVersion {
		return errBadVersion
	}

	var cmap [32]byte
	if err := p.roundTrip([]byte{cmdQCmdMap}, cmap[:]); err != nil {
		return fmt.Errorf("serprog: query command map: %w", err)
	}
	if cmap[cmdOSPIOp/8]&(1<<(cmdOSPIOp%8)) == 0 {
		return ErrNoSPI
	}

	var name [16]byte
	if err := p.roundTrip([]byte{cmdQPgmName}, name[:]); err != nil {
		return fmt.Errorf("serprog: query name: %w", err)
	}
	p.name = cString(name[:])

	if err := p.roundTrip([]byte{cmdSBusType, busTypeSPI}, nil); err != nil {
		return fmt.Errorf("serprog: select spi bus: %w", err)
	}

	if freq > 0 {
		req := make([]byte, 5)
		req[0] = cmdSSPIFreq
		binary.LittleEndian.PutUint32(req[1:], freq)
		var got [4]byte
		if err := p.roundTrip(req, got[:]); err != nil {
			return fmt.Errorf("serprog: set spi frequency: %w", err)
		}
		p.freq = binary.LittleEndian.Uint32(got[:])
	}
	return nil
}

// roundTrip writes a command, expects ACK, then reads len(resp) bytes.
func (p *Programmer) roundTrip(req, resp []byte) error {
	if _, err := p.rw.Write(req); err != nil {
		return err
	}
	var status [1]byte
	if _, err := io.ReadFull(p.rw, status[:]); err != nil {
		return err
	}
	switch status[0] {
	case ack:
	case nak:
		return ErrNAK
	default:
		return fmt.Errorf("unexpected status byte 0x%02X", status[0])
	}
	if len(resp) == 0 {
		return nil
	}
	_, err := io.ReadFull(p.rw, resp)
	return err
}

func put24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
