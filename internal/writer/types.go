// internal/writer/types.go
package writer

// EndpointClient is the exact contract the status writer uses.
// Both transports (writer/modbus, writer/ingest) satisfy it.
type EndpointClient interface {
	WriteRegisters(unitID uint8, addr uint16, regs []uint16) error
}

// StatusPlan is the fully-built publish plan for one jig station.
type StatusPlan struct {
	Endpoint string
	UnitID   uint8
	BaseSlot uint16 // block index; register address = BaseSlot * SlotsPerStation
	Name     string
}
