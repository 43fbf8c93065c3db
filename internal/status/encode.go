// internal/status/encode.go
package status

import "math"

// Encode converts a Snapshot into a full station status block.
// Layout is protocol-locked.
// No IO. No side effects.
func Encode(s Snapshot) []uint16 {
	regs := make([]uint16, SlotsPerStation)

	regs[SlotState] = s.State
	regs[SlotLastErrorCode] = s.LastErrorCode
	regs[SlotGrade] = s.Grade
	regs[SlotHealth] = s.Health
	regs[SlotStages] = s.Stages
	regs[SlotBadBlocks] = s.BadBlocks
	regs[SlotReadDisturbErrors] = s.ReadDisturb
	regs[SlotProgramTimeouts] = s.ProgramTimeouts
	regs[SlotWakeMean] = s.WakeMeanUS
	regs[SlotEraseCV] = s.EraseCV
	regs[SlotJEDECHigh] = uint16(s.JEDEC >> 16)
	regs[SlotJEDECLow] = uint16(s.JEDEC)

	copy(regs[SlotNameStart:], EncodeName(s.Name))

	return regs
}

// EncodeName packs up to 16 ASCII characters into 8 registers, two
// bytes per register in big-endian order. Non-printable bytes become '?'.
func EncodeName(name string) []uint16 {
	out := make([]uint16, SlotNameSlots)

	b := []byte(name)
	if len(b) > NameMaxChars {
		b = b[:NameMaxChars]
	}

	for i := 0; i < len(b); i++ {
		if b[i] < 0x20 || b[i] > 0x7E {
			b[i] = '?'
		}
	}

	for i := 0; i < NameMaxChars; i += 2 {
		var hi, lo byte
		if i < len(b) {
			hi = b[i]
		}
		if i+1 < len(b) {
			lo = b[i+1]
		}
		out[i/2] = uint16(hi)<<8 | uint16(lo)
	}

	return out
}

// Saturate rounds v to the nearest register value. Counters and
// latencies MUST NOT wrap: negative and NaN give 0, overflow gives 65535.
func Saturate(v float64) uint16 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= math.MaxUint16:
		return math.MaxUint16
	}
	return uint16(math.Round(v))
}
