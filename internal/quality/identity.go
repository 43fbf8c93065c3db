// internal/quality/identity.go
package quality

import (
	"context"
	"fmt"

	"github.com/tamzrod/flashqa/internal/flash"
)

// undefinedOpcode is not assigned on any W25Q part; a genuine chip
// leaves the bus idle.
const undefinedOpcode byte = 0x9B

// identity records the chip's self-description. A foreign manufacturer
// byte is grade D. Unreadable fields are zeroed, not fatal.
func (e *Engine) identity(_ context.Context, r *Result) error {
	jedec, err := e.chip.ReadJEDEC()
	if err != nil {
		e.log.Warn("jedec read failed, using init identity", "err", err)
		jedec = e.info.JEDEC
	}
	r.JEDEC = jedec
	r.ManufacturerID = uint8(jedec >> 16)
	r.DeviceID = uint16(jedec)

	if id, err := e.chip.ReadUniqueID(); err != nil {
		e.log.Warn("unique id read failed", "err", err)
	} else {
		r.UniqueID = id
	}

	if err := e.chip.ReadSFDP(0, r.SFDP[:]); err != nil {
		e.log.Warn("sfdp read failed", "err", err)
		r.SFDP = [256]byte{}
	}

	for i, reg := range []flash.StatusRegister{flash.SR1, flash.SR2, flash.SR3} {
		v, err := e.chip.ReadStatus(reg)
		if err != nil {
			e.log.Warn("status read failed", "reg", reg, "err", err)
			continue
		}
		r.Status[i] = v
	}

	e.log.Info("identity",
		"jedec", hex(r.JEDEC),
		"unique_id", hex64(r.UniqueID),
		"sr1", r.Status[0],
		"sr2", r.Status[1],
		"sr3", r.Status[2],
	)

	if r.ManufacturerID != e.cfg.Manufacturer {
		e.log.Warn("manufacturer mismatch", "got", r.ManufacturerID, "want", e.cfg.Manufacturer)
		r.Grade = GradeD
		return nil
	}
	r.Stages |= StageIdentity
	return nil
}

// fakeDetection looks for clone behaviour: a blank SFDP table, an
// undefined opcode that answers, and block protection that does not
// protect.
func (e *Engine) fakeDetection(_ context.Context, r *Result) error {
	if blank(r.SFDP[:], 0x00) || blank(r.SFDP[:], 0xFF) {
		e.log.Warn("sfdp table is blank")
		r.Grade = GradeD
		return nil
	}

	resp, err := e.chip.Transfer([]byte{undefinedOpcode}, 1)
	switch {
	case err != nil:
		e.log.Warn("undefined opcode check failed", "err", err)
	case resp[0] != 0xFF && resp[0] != 0x00:
		e.log.Warn("undefined opcode answered", "opcode", hex(uint32(undefinedOpcode)), "reply", hex(uint32(resp[0])))
		r.Grade = GradeD
		return nil
	}

	if e.protectionForged() {
		r.Grade = GradeD
		return nil
	}

	r.Stages |= StageFakeDetection
	return nil
}

// protectionForged protects the region holding the guard sector, tries
// to program the sector and reports whether the data changed. SR1 is
// restored on every path once it has been modified. A chip that refuses
// the protection bits, or has CMP set, is not judged here.
func (e *Engine) protectionForged() bool {
	addr := e.guardAddr

	sr2, err := e.chip.ReadStatus(flash.SR2)
	if err != nil {
		e.log.Warn("guard sr2 read failed", "err", err)
		return false
	}
	if sr2&flash.SR2CMP != 0 {
		e.log.Info("complement protection set, check skipped", "sr2", sr2)
		return false
	}

	if err := e.chip.EraseSector(addr); err != nil {
		e.log.Warn("guard sector erase failed", "addr", hex(addr), "err", err)
		return false
	}

	saved, err := e.chip.ReadStatus(flash.SR1)
	if err != nil {
		e.log.Warn("guard sr1 read failed", "err", err)
		return false
	}

	protected := saved&^e.prot.Mask() | e.guardBits
	if err := e.chip.WriteStatus(flash.SR1, protected); err != nil {
		e.log.Warn("guard sr1 write failed", "err", err)
		e.restoreSR1(saved)
		return false
	}
	defer e.restoreSR1(saved)

	sr1, err := e.chip.ReadStatus(flash.SR1)
	if err != nil || sr1&e.prot.Mask() != e.guardBits {
		e.log.Info("protection bits did not latch, check skipped", "sr1", sr1)
		return false
	}

	before := make([]byte, flash.PageSize)
	if err := e.chip.Read(addr, before); err != nil {
		e.log.Warn("guard read failed", "err", err)
		return false
	}

	// a protected program is ignored; errors here are expected noise
	if err := e.chip.Write(addr, fill(flash.PageSize, 0xAA)); err != nil {
		e.log.Debug("guard program", "err", err)
	}
	_ = e.chip.WaitReady(programWait)

	after := make([]byte, flash.PageSize)
	if err := e.chip.Read(addr, after); err != nil {
		e.log.Warn("guard read back failed", "err", err)
		return false
	}

	for i := range after {
		if after[i] != before[i] && after[i] == 0xAA {
			e.log.Warn("protected sector accepted a program", "addr", hex(addr))
			return true
		}
	}
	return false
}

func (e *Engine) restoreSR1(v byte) {
	if err := e.chip.WriteStatus(flash.SR1, v); err != nil {
		e.log.Warn("sr1 restore failed", "want", v, "err", err)
	}
}

func blank(b []byte, v byte) bool {
	for _, c := range b {
		if c != v {
			return false
		}
	}
	return true
}

func hex(v uint32) string   { return fmt.Sprintf("0x%X", v) }
func hex64(v uint64) string { return fmt.Sprintf("0x%016X", v) }
