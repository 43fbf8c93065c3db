// internal/writer/ingest/client.go
package ingest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"time"
)

// Raw Ingest v1 framing: "RI", version, area, then unit, address and
// count as big-endian u16, then the register image. The gateway answers
// one status byte.
const (
	versionV1            byte = 0x01
	areaHoldingRegisters byte = 3
	headerLen                 = 10

	respOK       byte = 0x00
	respRejected byte = 0x01
)

var magic = [2]byte{'R', 'I'}

// ErrRejected is returned when the gateway refuses a status image.
var ErrRejected = errors.New("writer ingest: rejected")

type Config struct {
	Endpoint string
	Timeout  time.Duration // per dial, write and reply; 0 means 2s
}

// EndpointClient pushes station status images to a Raw Ingest gateway
// for PLCs that do not accept Modbus writes. Each write is one
// connection carrying one packet.
type EndpointClient struct {
	cfg Config
}

func NewEndpointClient(cfg Config) (*EndpointClient, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("writer ingest: endpoint required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &EndpointClient{cfg: cfg}, nil
}

func (c *EndpointClient) Close() error { return nil }

// WriteRegisters implements writer.EndpointClient.
func (c *EndpointClient) WriteRegisters(unitID uint8, addr uint16, regs []uint16) error {
	if len(regs) == 0 {
		return nil
	}
	if len(regs) > math.MaxUint16 {
		return fmt.Errorf("writer ingest: %d registers exceed one packet", len(regs))
	}

	conn, err := net.DialTimeout("tcp", c.cfg.Endpoint, c.cfg.Timeout)
	if err != nil {
		return fmt.Errorf("writer ingest: dial: %w", err)
	}
	defer conn.Close()

	// one deadline covers the write and the reply
	_ = conn.SetDeadline(time.Now().Add(c.cfg.Timeout))

	if _, err := conn.Write(statusPacket(unitID, addr, regs)); err != nil {
		return fmt.Errorf("writer ingest: write: %w", err)
	}

	var reply [1]byte
	if _, err := conn.Read(reply[:]); err != nil {
		return fmt.Errorf("writer ingest: read status: %w", err)
	}
	switch reply[0] {
	case respOK:
		return nil
	case respRejected:
		return ErrRejected
	}
	return fmt.Errorf("writer ingest: unknown status 0x%02x", reply[0])
}

// statusPacket frames a holding-register image.
func statusPacket(unitID uint8, addr uint16, regs []uint16) []byte {
	pkt := make([]byte, 0, headerLen+2*len(regs))
	pkt = append(pkt, magic[0], magic[1], versionV1, areaHoldingRegisters)
	pkt = binary.BigEndian.AppendUint16(pkt, uint16(unitID))
	pkt = binary.BigEndian.AppendUint16(pkt, addr)
	pkt = binary.BigEndian.AppendUint16(pkt, uint16(len(regs)))
	for _, r := range regs {
		pkt = binary.BigEndian.AppendUint16(pkt, r)
	}
	return pkt
}
