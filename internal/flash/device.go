// internal/flash/device.go
package flash

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
)

type lifecycle uint8

const (
	stateUninitialized lifecycle = iota
	stateInitialized
)

// Info is the device descriptor of an initialized chip.
type Info struct {
	Model          Model
	JEDEC          uint32
	ManufacturerID uint8
	DeviceID       uint16
	CapacityMB     uint32
	AddrBytes      int
	FourByteMode   bool
}

// CapacityBytes returns the linear address space size.
func (i Info) CapacityBytes() uint64 {
	return uint64(i.CapacityMB) * MiB
}

// Device is an owned handle to one chip. It holds no lock; callers
// serialize access.
type Device struct {
	bus   Bus
	cfg   Config
	clock Clock
	log   *slog.Logger

	state lifecycle
	info  Info
}

// New builds an uninitialized handle. Init must succeed before any
// array access.
func New(bus Bus, opts ...Option) *Device {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Device{
		bus:   bus,
		cfg:   cfg,
		clock: cfg.Clock,
		log:   cfg.Logger,
	}
}

// Init identifies the chip, selects its addressing mode and clears
// leftover block protection. Any failure leaves the handle uninitialized,
// so every later array access fails with ErrNotInitialized. Init on an
// initialized handle is a no-op.
func (d *Device) Init() error {
	if d.state == stateInitialized {
		return nil
	}

	jedec, err := d.ReadJEDEC()
	if err != nil {
		return err
	}

	model, ok := Lookup(jedec)
	if !ok {
		d.log.Error("unknown flash identity", "jedec", fmt.Sprintf("0x%06X", jedec))
		return &IdentityError{JEDEC: jedec}
	}
	c := model.Capability()

	d.info = Info{
		Model:          model,
		JEDEC:          jedec,
		ManufacturerID: uint8(jedec >> 16),
		DeviceID:       uint16(jedec),
		CapacityMB:     c.CapacityMB,
		AddrBytes:      c.AddrBytes,
	}

	if c.Needs4Byte {
		if err := d.enter4Byte(); err != nil {
			d.log.Error("4-byte address mode failed", "model", model, "err", err)
			d.info = Info{}
			return err
		}
		d.info.FourByteMode = true
	}

	d.clearProtection(c.Protection)

	d.state = stateInitialized
	d.log.Info("flash initialized",
		"model", model,
		"jedec", fmt.Sprintf("0x%06X", jedec),
		"capacity_mb", c.CapacityMB,
		"addr_bytes", c.AddrBytes,
	)
	return nil
}

// Deinit returns the handle to the uninitialized state. A 4-byte part is
// switched back to 3-byte mode on a best-effort basis.
func (d *Device) Deinit() {
	if d.state == stateInitialized && d.info.FourByteMode {
		if err := d.command(CmdExit4ByteMode); err != nil {
			d.log.Warn("exit 4-byte mode failed", "err", err)
		}
	}
	d.state = stateUninitialized
	d.info = Info{}
}

// IsInitialized reports whether Init has succeeded.
func (d *Device) IsInitialized() bool {
	return d.state == stateInitialized
}

// Info returns the device descriptor.
func (d *Device) Info() (Info, error) {
	if d.state != stateInitialized {
		return Info{}, ErrNotInitialized
	}
	return d.info, nil
}

func (d *Device) enter4Byte() error {
	if err := d.command(CmdEnter4ByteMode); err != nil {
		return err
	}
	sr3, err := d.readStatus(CmdReadStatus3)
	if err != nil {
		return err
	}
	if sr3&SR3AddrMode == 0 {
		return &AddressModeError{SR3: sr3}
	}
	return nil
}

// clearProtection removes BP/TB/SEC bits left by a previous owner, using
// the model's SR1 layout. Failure is logged, never returned.
func (d *Device) clearProtection(p Protection) {
	sr1, err := d.readStatus(CmdReadStatus1)
	if err != nil {
		d.log.Warn("block protection check failed", "err", err)
		return
	}
	if sr1&p.Mask() == 0 {
		return
	}

	d.log.Info("clearing block protection", "sr1", sr1)
	if err := d.WriteStatus(SR1, sr1&^p.Mask()); err != nil {
		d.log.Warn("block protection clear failed", "err", err)
		return
	}

	after, err := d.readStatus(CmdReadStatus1)
	if err != nil {
		d.log.Warn("block protection verify failed", "err", err)
		return
	}
	if after&p.Mask() != 0 {
		d.log.Warn("block protection still set", "sr1", after)
	}
}

// ------------------------------------------------------------
// Array access
// ------------------------------------------------------------

// checkRange guards every array access: the handle must be initialized
// and [addr, addr+n) must fit the array. The sum is computed in 64 bits.
func (d *Device) checkRange(addr uint32, n int) error {
	if d.state != stateInitialized {
		return ErrNotInitialized
	}
	if n == 0 {
		return nil
	}
	capacity := d.info.CapacityBytes()
	if uint64(addr)+uint64(n) > capacity {
		return &BoundsError{Addr: addr, Len: uint64(n), Capacity: capacity}
	}
	return nil
}

// Read fills buf from the array starting at addr.
func (d *Device) Read(addr uint32, buf []byte) error {
	if err := d.checkRange(addr, len(buf)); err != nil {
		return err
	}

	op := CmdReadData
	if d.info.AddrBytes == 4 {
		op = CmdReadData4B
	}

	for len(buf) > 0 {
		n := len(buf)
		if n > d.cfg.MaxTransfer {
			n = d.cfg.MaxTransfer
		}
		if err := d.tx("read", d.frame(op, addr), buf[:n]); err != nil {
			return err
		}
		addr += uint32(n)
		buf = buf[n:]
	}
	return nil
}

// Write programs data at addr. The range must have been erased. Writes
// are split at page boundaries and each page waits for completion.
func (d *Device) Write(addr uint32, data []byte) error {
	if err := d.checkRange(addr, len(data)); err != nil {
		return err
	}

	op := CmdPageProgram
	if d.info.AddrBytes == 4 {
		op = CmdPageProgram4B
	}

	for len(data) > 0 {
		offset := int(addr & (PageSize - 1))
		chunk := PageSize - offset
		if chunk > len(data) {
			chunk = len(data)
		}

		if err := d.waitReady("page program", 0); err != nil {
			return err
		}
		if err := d.writeEnable(); err != nil {
			return err
		}

		w := append(d.frame(op, addr), data[:chunk]...)
		if err := d.tx("page program", w, nil); err != nil {
			return err
		}
		if err := d.waitReady("page program", 0); err != nil {
			return err
		}

		addr += uint32(chunk)
		data = data[chunk:]
	}
	return nil
}

// EraseSector erases the 4 KiB sector starting at addr.
func (d *Device) EraseSector(addr uint32) error {
	if d.state != stateInitialized {
		return ErrNotInitialized
	}
	capacity := d.info.CapacityBytes()
	if uint64(addr) >= capacity {
		return &BoundsError{Addr: addr, Len: SectorSize, Capacity: capacity}
	}
	if addr%SectorSize != 0 {
		return ErrUnaligned
	}

	op := CmdSectorErase
	if d.info.AddrBytes == 4 {
		op = CmdSectorErase4B
	}

	if err := d.waitReady("sector erase", 0); err != nil {
		return err
	}
	if err := d.writeEnable(); err != nil {
		return err
	}
	if err := d.tx("sector erase", d.frame(op, addr), nil); err != nil {
		return err
	}
	return d.waitReady("sector erase", d.cfg.SectorEraseTimeout)
}

// EraseChip erases the whole array.
func (d *Device) EraseChip() error {
	if d.state != stateInitialized {
		return ErrNotInitialized
	}
	if err := d.waitReady("chip erase", 0); err != nil {
		return err
	}
	if err := d.writeEnable(); err != nil {
		return err
	}
	if err := d.command(CmdChipErase); err != nil {
		return err
	}
	d.log.Info("chip erase started", "budget", d.EffectiveTimeout(d.cfg.ChipEraseTimeout))
	return d.waitReady("chip erase", d.cfg.ChipEraseTimeout)
}

// ------------------------------------------------------------
// Registers and diagnostics
// ------------------------------------------------------------

// ReadJEDEC returns manufacturer<<16 | device ID.
func (d *Device) ReadJEDEC() (uint32, error) {
	var id [3]byte
	if err := d.tx("read jedec", []byte{CmdReadJEDEC}, id[:]); err != nil {
		return 0, err
	}
	return uint32(id[0])<<16 | uint32(id[1])<<8 | uint32(id[2]), nil
}

// ReadUniqueID returns the 64-bit factory unique ID.
func (d *Device) ReadUniqueID() (uint64, error) {
	var id [8]byte
	if err := d.tx("read unique id", []byte{CmdReadUniqueID, 0, 0, 0, 0}, id[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(id[:]), nil
}

// ReadSFDP reads len(buf) bytes of the SFDP table from addr.
func (d *Device) ReadSFDP(addr uint32, buf []byte) error {
	w := []byte{CmdReadSFDP, byte(addr >> 16), byte(addr >> 8), byte(addr), 0}
	return d.tx("read sfdp", w, buf)
}

// ReadStatus reads one status register.
func (d *Device) ReadStatus(reg StatusRegister) (byte, error) {
	op, ok := reg.readOpcode()
	if !ok {
		return 0, errors.New("flash: invalid status register")
	}
	return d.readStatus(op)
}

// WriteStatus writes one status register and waits for completion.
func (d *Device) WriteStatus(reg StatusRegister, v byte) error {
	op, ok := reg.writeOpcode()
	if !ok {
		return errors.New("flash: invalid status register")
	}
	if err := d.writeEnable(); err != nil {
		return err
	}
	if err := d.tx("write "+reg.String(), []byte{op, v}, nil); err != nil {
		return err
	}
	return d.waitReady("write "+reg.String(), 0)
}

// PowerDown enters deep power-down. Only ReleasePowerDown is honoured
// until the chip wakes.
func (d *Device) PowerDown() error {
	return d.command(CmdPowerDown)
}

// ReleasePowerDown sends the release command and returns the three bytes
// clocked in after it. A sleeping chip answers 0xFF for all of them.
func (d *Device) ReleasePowerDown() ([3]byte, error) {
	var r [3]byte
	err := d.tx("release power-down", []byte{CmdReleasePowerDown}, r[:])
	return r, err
}

// Transfer is a raw transaction for diagnostics such as unknown-opcode
// checks. It bypasses every guard.
func (d *Device) Transfer(w []byte, n int) ([]byte, error) {
	r := make([]byte, n)
	if err := d.tx("transfer", w, r); err != nil {
		return nil, err
	}
	return r, nil
}

// ------------------------------------------------------------
// Bus helpers
// ------------------------------------------------------------

func (d *Device) tx(op string, w, r []byte) error {
	if err := d.bus.Tx(w, r); err != nil {
		return &BusError{Op: op, Err: err}
	}
	return nil
}

func (d *Device) command(op byte) error {
	return d.tx(fmt.Sprintf("command 0x%02X", op), []byte{op}, nil)
}

func (d *Device) readStatus(op byte) (byte, error) {
	var r [1]byte
	if err := d.tx("read status", []byte{op}, r[:]); err != nil {
		return 0, err
	}
	return r[0], nil
}

var errWriteEnable = errors.New("write enable latch not set")

// writeEnable sets WEL and verifies it, retrying a bounded number of times.
func (d *Device) writeEnable() error {
	for attempt := 0; attempt < d.cfg.WriteEnableAttempts; attempt++ {
		if err := d.command(CmdWriteEnable); err != nil {
			return err
		}
		sr, err := d.readStatus(CmdReadStatus1)
		if err != nil {
			return err
		}
		if sr&SR1WEL != 0 {
			return nil
		}
		d.log.Debug("write enable not latched", "attempt", attempt+1, "sr1", sr)
	}
	return &BusError{Op: "write enable", Err: errWriteEnable}
}

// frame builds opcode + big-endian address in the device's address width.
func (d *Device) frame(op byte, addr uint32) []byte {
	if d.info.AddrBytes == 4 {
		return []byte{op, byte(addr >> 24), byte(addr >> 16), byte(addr >> 8), byte(addr)}
	}
	return []byte{op, byte(addr >> 16), byte(addr >> 8), byte(addr)}
}
