// internal/status/constants.go
package status

// QA status block layout constants.
// These values define the protocol shared with the jig PLC and MUST NOT
// be configurable.

// ---- BLOCK GEOMETRY ----

// SlotsPerStation is the fixed number of holding registers per jig station.
const SlotsPerStation = 20

// ---- SLOT INDICES ----

// SlotState holds the station state code.
const SlotState = 0

// SlotLastErrorCode holds the last raw error code (flash.Code).
const SlotLastErrorCode = 1

// SlotGrade holds the grade code, A=1 .. D=4, 0 before the first verdict.
const SlotGrade = 2

// SlotHealth holds the lifetime health score 0..100.
const SlotHealth = 3

// SlotStages holds the passed-stage bitmask.
const SlotStages = 4

const (
	SlotBadBlocks         = 5
	SlotReadDisturbErrors = 6
	SlotProgramTimeouts   = 7
)

// SlotWakeMean holds the mean release-from-power-down latency in µs.
const SlotWakeMean = 8

// SlotEraseCV holds the erase coefficient of variation in hundredths of
// a percent.
const SlotEraseCV = 9

// SlotJEDECHigh and SlotJEDECLow hold the 24-bit JEDEC ID, manufacturer
// byte in the low half of the high slot.
const (
	SlotJEDECHigh = 10
	SlotJEDECLow  = 11
)

// SlotLiveEnd is the last slot that changes between runs (inclusive).
const SlotLiveEnd = SlotJEDECLow

// ---- STATION NAME ----

// SlotNameStart is the first slot used for the station name.
// The name always sits at the END of the block.
const SlotNameStart = 12

// SlotNameSlots is the number of slots reserved for the station name.
const SlotNameSlots = 8

// SlotNameEnd is the last slot used for the station name (inclusive).
const SlotNameEnd = SlotNameStart + SlotNameSlots - 1

// ---- LIMITS ----

// NameMaxChars is the maximum number of ASCII characters stored for the name.
const NameMaxChars = 16

// ---- STATE CODES ----

// StateIdle represents a station waiting for a trigger.
const StateIdle uint16 = 0

// StateRunning represents an assessment in progress.
const StateRunning uint16 = 1

// StateDone represents a finished assessment; the result slots are valid.
const StateDone uint16 = 2

// StateError represents an assessment that could not complete.
const StateError uint16 = 3
