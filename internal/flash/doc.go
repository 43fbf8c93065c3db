// Package flash drives Winbond W25Q-series SPI NOR flash (and
// command-compatible parts) over an injected SPI bus.
//
// # Overview
//
// A Device is an owned handle. Nothing is global: tests can run several
// simulated chips side by side, and the caller serializes access to one
// handle.
//
//	dev := flash.New(bus, flash.WithLogger(logger))
//	if err := dev.Init(); err != nil {
//	    return err
//	}
//	defer dev.Deinit()
//
//	buf := make([]byte, 256)
//	err := dev.Read(0x1000, buf)
//
// # Addressing
//
// Parts up to 8 MiB use 3-byte addresses. Parts of 16 MiB and above are
// switched into 4-byte mode during Init and use the dedicated 4-byte
// opcodes; if the chip does not confirm the switch in status register 3,
// Init fails with ErrAddressMode and the handle stays unusable.
//
// All range checks are done in 64-bit arithmetic before any bus traffic.
//
// # Timing
//
// Every busy-wait is driven by the Clock passed with WithClock, so tests
// can simulate elapsed time without real delays. Timeouts are doubled on
// parts of 16 MiB and above.
package flash
