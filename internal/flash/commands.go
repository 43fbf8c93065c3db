// internal/flash/commands.go
package flash

// Command opcodes. Values are bit-exact for the W25Q family.

// ---- IDENTIFICATION ----

const (
	CmdReadJEDEC    byte = 0x9F
	CmdReadUniqueID byte = 0x4B
	CmdReadSFDP     byte = 0x5A
)

// ---- ARRAY ACCESS ----

const (
	CmdReadData         byte = 0x03
	CmdReadData4B       byte = 0x13
	CmdPageProgram      byte = 0x02
	CmdPageProgram4B    byte = 0x12
	CmdSectorErase      byte = 0x20
	CmdSectorErase4B    byte = 0x21
	CmdChipErase        byte = 0xC7
	CmdWriteEnable      byte = 0x06
	CmdWriteDisable     byte = 0x04
	CmdEnter4ByteMode   byte = 0xB7
	CmdExit4ByteMode    byte = 0xE9
	CmdPowerDown        byte = 0xB9
	CmdReleasePowerDown byte = 0xAB
)

// ---- STATUS REGISTERS ----

const (
	CmdReadStatus1  byte = 0x05
	CmdReadStatus2  byte = 0x35
	CmdReadStatus3  byte = 0x15
	CmdWriteStatus1 byte = 0x01
	CmdWriteStatus2 byte = 0x31
	CmdWriteStatus3 byte = 0x11
)

// ---- STATUS BITS ----

const (
	// SR1Busy is set while a program, erase or status write is in progress.
	SR1Busy byte = 1 << 0
	// SR1WEL is the write enable latch.
	SR1WEL byte = 1 << 1
	// SR3AddrMode reports 4-byte addressing when set.
	SR3AddrMode byte = 1 << 7
	// SR2CMP inverts the block-protection range when set.
	SR2CMP byte = 1 << 6
)

// ---- GEOMETRY ----

const (
	PageSize   = 256
	SectorSize = 4096
	BlockSize  = 64 * 1024
	MiB        = 1 << 20
)

// StatusRegister selects one of the three status registers.
type StatusRegister uint8

const (
	SR1 StatusRegister = 1
	SR2 StatusRegister = 2
	SR3 StatusRegister = 3
)

func (r StatusRegister) readOpcode() (byte, bool) {
	switch r {
	case SR1:
		return CmdReadStatus1, true
	case SR2:
		return CmdReadStatus2, true
	case SR3:
		return CmdReadStatus3, true
	}
	return 0, false
}

func (r StatusRegister) writeOpcode() (byte, bool) {
	switch r {
	case SR1:
		return CmdWriteStatus1, true
	case SR2:
		return CmdWriteStatus2, true
	case SR3:
		return CmdWriteStatus3, true
	}
	return 0, false
}

func (r StatusRegister) String() string {
	switch r {
	case SR1:
		return "SR1"
	case SR2:
		return "SR2"
	case SR3:
		return "SR3"
	}
	return "SR?"
}
