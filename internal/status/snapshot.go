// internal/status/snapshot.go
package status

// Snapshot represents exactly what the writer is allowed to deliver.
// Values are already scaled to register units.
type Snapshot struct {
	State         uint16
	LastErrorCode uint16

	Grade           uint16
	Health          uint16
	Stages          uint16
	BadBlocks       uint16
	ReadDisturb     uint16
	ProgramTimeouts uint16
	WakeMeanUS      uint16
	EraseCV         uint16 // percent x100
	JEDEC           uint32

	Name string
}
