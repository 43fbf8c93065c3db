// internal/flash/errors.go
package flash

import (
	"fmt"
	"time"
)

// Error is a driver error kind. Every error returned by a Device matches
// exactly one of the sentinels below via errors.Is.
type Error struct {
	code uint16
	msg  string
}

func (e *Error) Error() string { return "flash: " + e.msg }

// Code is the numeric kind published in the jig status block.
func (e *Error) Code() uint16 { return e.code }

var (
	ErrNotInitialized   = &Error{code: 1, msg: "not initialized"}
	ErrIdentityMismatch = &Error{code: 2, msg: "identity mismatch"}
	ErrOutOfBound       = &Error{code: 3, msg: "address out of bound"}
	ErrAddressMode      = &Error{code: 4, msg: "4-byte address mode not confirmed"}
	ErrTimeout          = &Error{code: 5, msg: "timeout"}
	ErrIO               = &Error{code: 6, msg: "bus failure"}
	ErrUnaligned        = &Error{code: 7, msg: "address not sector aligned"}
)

// IdentityError reports a JEDEC ID absent from the model table.
type IdentityError struct {
	JEDEC uint32
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("flash: unknown JEDEC ID 0x%06X", e.JEDEC)
}

func (e *IdentityError) Is(target error) bool { return target == ErrIdentityMismatch }
func (e *IdentityError) Code() uint16         { return ErrIdentityMismatch.code }

// AddressModeError reports a 4-byte switch that status register 3 did not confirm.
type AddressModeError struct {
	SR3 byte
}

func (e *AddressModeError) Error() string {
	return fmt.Sprintf("flash: 4-byte mode not confirmed (SR3=0x%02X)", e.SR3)
}

func (e *AddressModeError) Is(target error) bool { return target == ErrAddressMode }
func (e *AddressModeError) Code() uint16         { return ErrAddressMode.code }

// BoundsError reports an access outside the array.
type BoundsError struct {
	Addr     uint32
	Len      uint64
	Capacity uint64
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("flash: range 0x%08X+%d exceeds capacity %d", e.Addr, e.Len, e.Capacity)
}

func (e *BoundsError) Is(target error) bool { return target == ErrOutOfBound }
func (e *BoundsError) Code() uint16         { return ErrOutOfBound.code }

// TimeoutError reports a busy-wait that exceeded its budget.
type TimeoutError struct {
	Op     string
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("flash: %s: busy after %v", e.Op, e.Budget)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }
func (e *TimeoutError) Code() uint16         { return ErrTimeout.code }

// BusError wraps a transport failure.
type BusError struct {
	Op  string
	Err error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("flash: %s: %v", e.Op, e.Err)
}

func (e *BusError) Is(target error) bool { return target == ErrIO }
func (e *BusError) Unwrap() error        { return e.Err }
func (e *BusError) Code() uint16         { return ErrIO.code }
