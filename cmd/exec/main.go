// Command exec is the userland RV64GC emulator's entry point: it loads a
// tar-backed rootfs, maps an ELF binary out of it into a fresh arena, and
// runs the binary to completion, bridging stdin/stdout/network through the
// I/O thread described in internal/iobridge.
//
// Flag parsing follows the teacher's own main.go: stdlib flag, long and
// short aliases for the same switch, a single package-level verbosity
// level. Numeric tuning knobs that make more sense as environment
// variables than flags (JIT thresholds, the compile budget) are read with
// github.com/xyproto/env/v2, the teacher's own dependency for exactly this
// purpose.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/xyproto/env/v2"

	"github.com/xyproto/rv64x/internal/arena"
	"github.com/xyproto/rv64x/internal/cpu"
	"github.com/xyproto/rv64x/internal/elfload"
	"github.com/xyproto/rv64x/internal/execctx"
	"github.com/xyproto/rv64x/internal/iobridge"
	"github.com/xyproto/rv64x/internal/jit"
	"github.com/xyproto/rv64x/internal/rvlog"
	"github.com/xyproto/rv64x/internal/rvsyscall"
	"github.com/xyproto/rv64x/internal/vfs"
)

const versionString = "rv64x 0.1.0"

// arenaBits sizes the guest address space at 2^31 bytes (2GiB), comfortably
// inside the 32-bit host code-generation ceiling elfload.InterpBaseAddress
// and the JIT backend assume.
const arenaBits = 31

func main() {
	var rootfsFlag = flag.String("rootfs", "", "path to a tar-format root filesystem image")
	var envFlags stringList
	flag.Var(&envFlags, "env", "KEY=VALUE environment entry for the guest (repeatable)")
	var verbose = flag.Bool("v", false, "verbose mode")
	var verboseLong = flag.Bool("verbose", false, "verbose mode")
	var version = flag.Bool("version", false, "print version information and exit")

	flag.Parse()

	if *version {
		fmt.Println(versionString)
		return
	}
	if *verbose || *verboseLong {
		rvlog.SetLevel(rvlog.LevelDebug)
	}
	if *rootfsFlag == "" {
		fmt.Fprintln(os.Stderr, "exec: -rootfs is required")
		os.Exit(2)
	}
	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "exec: missing argv0")
		os.Exit(2)
	}

	code, err := run(*rootfsFlag, args, envFlags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "exec: %v\n", err)
		os.Exit(128)
	}
	os.Exit(code)
}

// stringList implements flag.Value to collect repeated -env flags.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// run wires every subsystem together and drives the dispatch loop until
// the guest exits, matching spec.md §5's execution/I/O thread split: Run
// drives the execution thread inline on the calling goroutine, while the
// I/O bridge's poll loop runs on its own goroutine for the process's
// lifetime.
func run(rootfsPath string, args []string, envEntries []string) (int, error) {
	rootfsFile, err := os.Open(rootfsPath)
	if err != nil {
		return 0, fmt.Errorf("opening rootfs: %w", err)
	}
	defer rootfsFile.Close()

	fs := vfs.New(&vfs.ProcDev{})
	if err := vfs.LoadTar(fs, rootfsFile); err != nil {
		return 0, fmt.Errorf("loading rootfs: %w", err)
	}

	a := arena.New(arenaBits)
	ctx := execctx.New(1)
	fds := vfs.NewFDTable()

	bridge := iobridge.NewBridge(os.Stdout, os.Stdin)
	stop := make(chan struct{})
	go bridge.Run(stop)
	defer close(stop)

	sys := rvsyscall.New(a, nil, fs, fds, ctx)
	sys.Stdout = bridge.StdoutWriter()
	sys.Stderr = os.Stderr
	sys.Net = bridge

	cfg := jit.DefaultConfig()
	cfg.Disabled = env.BoolOr("RV64X_JIT_DISABLE", false)
	if v := env.IntOr("RV64X_COMPILE_BUDGET", 0); v > 0 {
		cfg.CompileBudgetPerSecond = v
	}
	if v := env.IntOr("RV64X_HOT_THRESHOLD", 0); v > 0 {
		cfg.HotThreshold = v
	}
	manager := jit.NewManager(a, cfg)
	defer manager.Close()

	dispatcher := cpu.NewDispatcher(a, manager, sys)
	sys.Regs = dispatcher.Regs

	envp := buildEnvp(envEntries)
	result, err := elfload.Load(a, fs, ctx, args[0], args, envp)
	if err != nil {
		return 0, fmt.Errorf("loading %s: %w", args[0], err)
	}
	dispatcher.Regs.SetPC(result.EntryPC)
	dispatcher.Regs.SetX(2, result.StackTop)

	return loop(dispatcher, sys, bridge)
}

// loop implements the four-way exit dispatch spec.md §4.C describes: a
// dispatch chunk either blocks on stdin, traps a syscall that stopped
// execution (exit/exit_group/execve), faults, or exhausts its instruction
// budget and must be re-entered so other goroutines (the JIT compile
// workers, the I/O bridge) get a turn.
func loop(d *cpu.Dispatcher, sys *rvsyscall.Handler, bridge *iobridge.Bridge) (int, error) {
	const chunk = 100_000
	for {
		exit := d.Run(chunk)
		switch exit.Kind {
		case cpu.ExitFault:
			kind := "fault"
			if sf, ok := exit.Err.(*arena.SegmentationFault); ok {
				kind = sf.Kind.String()
			}
			// A single diagnostic line for a fatal host fault; run's
			// caller prints its own "exec: %v" wrapper on a non-nil
			// error, so this path returns no error to avoid a second
			// line for the same fault.
			fmt.Fprintf(os.Stderr, "FATAL: %s at pc=%#x\n", kind, d.Regs.GetPC())
			return 128, nil
		case cpu.ExitBlockOnInput:
			maxLen := uint32(d.Regs.GetArg(2))
			data := bridge.RequestStdin(maxLen)
			sys.CompleteStdinRequest(data)
		case cpu.ExitStopped:
			if !sys.Ctx.Stopped {
				continue // instruction budget ran out; re-enter at the current PC
			}
			if sys.Ctx.StopReason == "execve" {
				if err := sys.Resume(d.Cache); err != nil {
					return 128, err
				}
				continue
			}
			return sys.Ctx.ExitCode & 0x7f, nil
		}
	}
}

func buildEnvp(entries []string) []string {
	if len(entries) == 0 {
		return []string{"PATH=/usr/bin:/bin", "HOME=/root"}
	}
	return entries
}
