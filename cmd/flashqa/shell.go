// cmd/flashqa/shell.go
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/tamzrod/flashqa/internal/blockdev"
	"github.com/tamzrod/flashqa/internal/config"
	"github.com/tamzrod/flashqa/internal/flash"
)

// maxDump bounds one read command.
const maxDump = 4096

// shell is the interactive bench console. exec is independent of the
// terminal so it can be driven from tests.
type shell struct {
	st  *station
	fs  config.FilesystemConfig
	out io.Writer
}

func runShell(ctx context.Context, st *station, fs config.FilesystemConfig) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "flash> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	sh := &shell{st: st, fs: fs, out: rl.Stdout()}
	st.report = rl.Stdout()

	if err := st.dev.Init(); err != nil {
		fmt.Fprintf(sh.out, "init failed: %v\n", err)
	}
	sh.printHelp()

	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			return nil // EOF
		}

		if sh.exec(ctx, line) {
			return nil
		}
	}
}

// exec runs one command line and reports whether the shell should exit.
func (sh *shell) exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		sh.printHelp()
	case "info", "i":
		err = sh.cmdInfo()
	case "read", "r":
		err = sh.cmdRead(args)
	case "write", "w":
		err = sh.cmdWrite(args)
	case "erase":
		err = sh.cmdErase(args)
	case "sr":
		err = sh.cmdStatus(args)
	case "init":
		sh.st.dev.Deinit()
		err = sh.st.dev.Init()
	case "qa":
		err = sh.cmdQA(ctx, args)
	case "fsck":
		err = sh.cmdFsck()
	case "history":
		err = sh.cmdHistory(ctx, args)
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(sh.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}

	if err != nil {
		fmt.Fprintf(sh.out, "error: %v\n", err)
	}
	return false
}

func (sh *shell) printHelp() {
	fmt.Fprint(sh.out, `Commands:
  info                  chip identity and addressing
  init                  re-identify the chip
  read <addr> [len]     hex dump (len <= 4096, default 256)
  write <addr> <hex>    program bytes
  erase <addr>|chip     erase the 4 KiB sector at addr, or the whole chip
  sr [<1|2|3> <value>]  show or write status registers
  qa [force]            run the quality assessment (erases across the chip)
  fsck                  check the littlefs partition
  history [n]           list archived runs
  quit
`)
}

func (sh *shell) cmdInfo() error {
	info, err := sh.st.dev.Info()
	if err != nil {
		return err
	}
	uid, err := sh.st.dev.ReadUniqueID()
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "model      %s\n", info.Model)
	fmt.Fprintf(sh.out, "jedec      0x%06X\n", info.JEDEC)
	fmt.Fprintf(sh.out, "capacity   %d MiB\n", info.CapacityMB)
	fmt.Fprintf(sh.out, "addressing %d-byte (4-byte mode %v)\n", info.AddrBytes, info.FourByteMode)
	fmt.Fprintf(sh.out, "unique id  %s\n", hex64(uid))
	return nil
}

func (sh *shell) cmdRead(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: read <addr> [len]")
	}
	addr, err := parseU32(args[0])
	if err != nil {
		return err
	}
	n := uint32(flash.PageSize)
	if len(args) > 1 {
		if n, err = parseU32(args[1]); err != nil {
			return err
		}
	}
	if n == 0 || n > maxDump {
		return fmt.Errorf("len must be 1..%d", maxDump)
	}

	buf := make([]byte, n)
	if err := sh.st.dev.Read(addr, buf); err != nil {
		return err
	}
	d := hex.Dumper(sh.out)
	defer d.Close()
	_, err = d.Write(buf)
	return err
}

func (sh *shell) cmdWrite(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: write <addr> <hex>")
	}
	addr, err := parseU32(args[0])
	if err != nil {
		return err
	}
	data, err := hex.DecodeString(strings.Join(args[1:], ""))
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if err := sh.st.dev.Write(addr, data); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "wrote %d bytes at 0x%06X\n", len(data), addr)
	return nil
}

func (sh *shell) cmdErase(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: erase <addr>|chip")
	}
	if strings.EqualFold(args[0], "chip") {
		if err := sh.st.dev.EraseChip(); err != nil {
			return err
		}
		fmt.Fprintln(sh.out, "chip erased")
		return nil
	}

	addr, err := parseU32(args[0])
	if err != nil {
		return err
	}
	if err := sh.st.dev.EraseSector(addr); err != nil {
		return err
	}
	if err := sh.st.dev.WaitReady(0); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "sector 0x%06X erased\n", addr)
	return nil
}

func (sh *shell) cmdStatus(args []string) error {
	regs := []flash.StatusRegister{flash.SR1, flash.SR2, flash.SR3}

	if len(args) == 0 {
		for i, r := range regs {
			v, err := sh.st.dev.ReadStatus(r)
			if err != nil {
				return err
			}
			fmt.Fprintf(sh.out, "SR%d 0x%02X %08b\n", i+1, v, v)
		}
		return nil
	}

	if len(args) != 2 {
		return fmt.Errorf("usage: sr [<1|2|3> <value>]")
	}
	idx, err := strconv.Atoi(args[0])
	if err != nil || idx < 1 || idx > 3 {
		return fmt.Errorf("register must be 1, 2 or 3")
	}
	v, err := strconv.ParseUint(args[1], 0, 8)
	if err != nil {
		return fmt.Errorf("value: %w", err)
	}
	return sh.st.dev.WriteStatus(regs[idx-1], byte(v))
}

// cmdQA refuses to run over a littlefs image in the partition unless
// forced: the assessment rewrites blocks across the whole chip.
func (sh *shell) cmdQA(ctx context.Context, args []string) error {
	force := len(args) > 0 && strings.EqualFold(args[0], "force")
	if !force {
		bd, err := sh.partition()
		if err != nil {
			return fmt.Errorf("partition check: %w (use 'qa force')", err)
		}
		sb, found, err := bd.FindSuperblock()
		if err != nil {
			return fmt.Errorf("partition check: %w (use 'qa force')", err)
		}
		if found {
			c := bd.Config()
			return fmt.Errorf("littlefs image in blocks %d..%d (superblock block %d) would be destroyed; use 'qa force'",
				c.StartBlock, c.StartBlock+c.BlockCount-1, sb.Block)
		}
	}
	_, err := sh.st.assess(ctx)
	return err
}

func (sh *shell) partition() (*blockdev.BlockDevice, error) {
	return blockdev.New(sh.st.dev, blockdevOptions(sh.fs)...)
}

func (sh *shell) cmdFsck() error {
	bd, err := sh.partition()
	if err != nil {
		return err
	}
	c := bd.Config()
	fmt.Fprintf(sh.out, "partition  blocks %d..%d (%d x %d B)\n",
		c.StartBlock, c.StartBlock+c.BlockCount-1, c.BlockCount, c.BlockSize)
	fmt.Fprintf(sh.out, "geometry   read %d prog %d cache %d lookahead %d cycles %d\n",
		c.ReadSize, c.ProgSize, c.CacheSize, c.LookaheadSize, c.BlockCycles)

	if err := bd.Sync(); err != nil {
		return err
	}
	sb, found, err := bd.FindSuperblock()
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintln(sh.out, "superblock none (blank or not littlefs)")
		return nil
	}
	fmt.Fprintf(sh.out, "superblock block %d rev %d version %s\n", sb.Block, sb.Revision, sb.VersionString())

	issues := bd.Check(sb)
	for _, s := range issues {
		fmt.Fprintf(sh.out, "mismatch   %s\n", s)
	}
	if len(issues) == 0 {
		fmt.Fprintln(sh.out, "ok")
	}
	return nil
}

func (sh *shell) cmdHistory(ctx context.Context, args []string) error {
	if sh.st.store == nil {
		return fmt.Errorf("history disabled")
	}
	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		}
		limit = n
	}
	runs, err := sh.st.store.List(ctx, limit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Fprintf(sh.out, "%s  %s  0x%06X  %s  grade %s  health %d\n",
			r.Started.Format("2006-01-02 15:04:05"), r.ID, r.JEDEC, hex64(r.UniqueID), r.Grade, r.Health)
	}
	return nil
}

func parseU32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("number %q: %w", s, err)
	}
	return uint32(v), nil
}
