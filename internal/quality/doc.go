// Package quality grades a W25Q NOR-flash part by running five ordered
// stages against it:
//
//  1. identity: JEDEC ID, unique ID, SFDP table and status registers;
//     a foreign manufacturer byte ends the run with grade D.
//  2. fake detection: blank SFDP, an undefined opcode that answers, or
//     block protection that does not protect all mean grade D.
//  3. timing fingerprint: wake-from-power-down, sector erase and page
//     program latencies against fixed limits; a breach means grade C
//     but the run continues.
//  4. lifetime: bad-block sampling, read disturb, an integrity pass and
//     read-latency drift across erase/write cycles give a health score.
//  5. judgment: see Judge.
//
// An assessment is destructive across the whole chip. Stages 3 and 4
// erase and program the last MiB, and bad-block sampling in stage 4
// rewrites the first page of 64 KiB blocks spread from block 0 to the
// end, so any filesystem on the part is lost. The protection check in
// stage 2 writes to the guard sector, the last sector unless
// WithGuardSector says otherwise.
//
// Typical use:
//
//	dev := flash.New(bus, flash.WithLogger(log))
//	if err := dev.Init(); err != nil {
//		return err
//	}
//	res, err := quality.New(dev, quality.WithLogger(log)).Run(ctx)
//	if err != nil {
//		return err
//	}
//	fmt.Println(res.Grade, res.Health)
//
// Logging during the timed stages is held in a LogBuffer and written
// out once each stage finishes, so log I/O never lands inside a
// measurement. Share the buffer with the driver through WithLogBuffer
// to hold its logs too:
//
//	buf := quality.NewLogBuffer(log.Handler())
//	dev := flash.New(bus, flash.WithLogger(slog.New(buf)))
//	eng := quality.New(dev, quality.WithLogBuffer(buf))
package quality
