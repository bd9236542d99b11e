package rvsyscall

import (
	"io"
	"os"

	"github.com/xyproto/rv64x/internal/arena"
	"github.com/xyproto/rv64x/internal/cpu"
	"github.com/xyproto/rv64x/internal/execctx"
	"github.com/xyproto/rv64x/internal/iobridge"
	"github.com/xyproto/rv64x/internal/rvlog"
	"github.com/xyproto/rv64x/internal/vfs"
)

// ExecveRequest holds the argv/envp a guest execve staged in host-owned
// buffers before A is reused by the new image, per spec.md §4.D's
// execve protocol step 2.
type ExecveRequest struct {
	Path string
	Argv []string
	Envp []string
}

// Handler implements cpu.SyscallHandler against a shared arena, VFS, and
// execute context. It is constructed once per process and reused across an
// execve (the execution core swaps the arena's image underneath it; the
// Handler itself only ever holds references).
type Handler struct {
	A    *arena.Arena
	Regs *cpu.RegFile
	FS   *vfs.VFS
	FDs  *vfs.FDTable
	Ctx  *execctx.Context
	Log  *rvlog.Logger

	// Stdout/Stderr are where fd 1/2 writes land until the I/O bridge owns
	// them; defaulted to the host's own streams.
	Stdout io.Writer
	Stderr io.Writer

	// Net is the I/O bridge's NETWORK_RPC round trip; nil means every
	// socket syscall fails with ENOSYS rather than silently succeeding.
	Net *iobridge.Bridge

	// Pending is set by execve and read by the embedder's outer dispatch
	// loop once HandleSyscall reports stop=true with Ctx.StopReason ==
	// "execve".
	Pending *ExecveRequest
}

// New returns a Handler wired to the given subsystems, with Stdout/Stderr
// defaulted to the host process's own standard streams.
func New(a *arena.Arena, regs *cpu.RegFile, fs *vfs.VFS, fds *vfs.FDTable, ctx *execctx.Context) *Handler {
	return &Handler{
		A:      a,
		Regs:   regs,
		FS:     fs,
		FDs:    fds,
		Ctx:    ctx,
		Log:    rvlog.Default("syscall"),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// HandleSyscall implements cpu.SyscallHandler. The syscall number is read
// from a7 (GetArg(7): a0..a5 map to GetArg(0..5), so a7 is GetArg(7)).
func (h *Handler) HandleSyscall() (stop bool, blockOnInput bool) {
	num := h.Regs.GetArg(7)

	switch num {
	// File I/O
	case sysOpenat:
		return h.sysOpenat()
	case sysClose:
		return h.sysClose()
	case sysRead:
		return h.sysRead()
	case sysWrite:
		return h.sysWrite()
	case sysReadv:
		return h.sysReadv()
	case sysWritev:
		return h.sysWritev()
	case sysPread64:
		return h.sysPread64()
	case sysPwrite64:
		return h.sysPwrite64()
	case sysLseek:
		return h.sysLseek()
	case sysFstat:
		return h.sysFstat()
	case sysNewfstatat:
		return h.sysNewfstatat()
	case sysReadlinkat:
		return h.sysReadlinkat()
	case sysFaccessat:
		return h.sysFaccessat()
	case sysMkdirat:
		return h.sysMkdirat()
	case sysUnlinkat:
		return h.sysUnlinkat()
	case sysRenameat2:
		return h.sysRenameat2()
	case sysFtruncate:
		return h.sysFtruncate()
	case sysFchmod:
		return h.stubOK()
	case sysFcntl:
		return h.sysFcntl()
	case sysIoctl:
		return h.sysIoctl()
	case sysDup:
		return h.sysDup()
	case sysDup3:
		return h.sysDup3()

	// Memory
	case sysBrk:
		return h.sysBrk()
	case sysMmap:
		return h.sysMmap()
	case sysMunmap:
		return h.sysMunmap()
	case sysMprotect:
		return h.sysMprotect()
	case sysMadvise:
		return h.stubOK()
	case sysMremap:
		return h.stubErr(ENOMEM)

	// Process
	case sysClone:
		return h.sysClone()
	case sysExecve:
		return h.sysExecve()
	case sysExit:
		return h.sysExit()
	case sysExitGroup:
		return h.sysExitGroup()
	case sysWait4:
		return h.stubErr(ECHILD)
	case sysGetpid:
		h.Regs.SetResult(int64(h.Ctx.Pid))
		return false, false
	case sysGetppid:
		h.Regs.SetResult(1)
		return false, false
	case sysGettid:
		h.Regs.SetResult(int64(h.Ctx.Current().TID))
		return false, false
	case sysSetTidAddress:
		h.Ctx.Current().ClearTID = h.Regs.GetArg(0)
		h.Regs.SetResult(int64(h.Ctx.Current().TID))
		return false, false
	case sysPrctl:
		return h.stubOK()
	case sysPrlimit64:
		return h.sysPrlimit64()

	// Signals
	case sysRtSigaction:
		return h.sysRtSigaction()
	case sysRtSigprocmask:
		return h.sysRtSigprocmask()
	case sysRtSigreturn:
		return h.stubOK()
	case sysSigaltstack:
		return h.stubOK()
	case sysKill:
		return h.sysKill()
	case sysTgkill:
		return h.stubOK()

	// Time
	case sysClockGettime:
		return h.sysClockGettime()
	case sysClockGetres:
		return h.sysClockGetres()
	case sysGettimeofday:
		return h.sysGettimeofday()
	case sysNanosleep:
		return h.sysNanosleep()

	// Network (routed to the I/O bridge's NETWORK_RPC)
	case sysSocket:
		return h.sysSocket()
	case sysBind:
		return h.sysBind()
	case sysListen:
		return h.sysListen()
	case sysAccept4:
		return h.sysAccept4()
	case sysConnect:
		return h.sysConnect()
	case sysSendto:
		return h.sysSendto()
	case sysRecvfrom:
		return h.sysRecvfrom()
	case sysSetsockopt:
		return h.sysSetsockopt()
	case sysGetsockopt:
		return h.sysGetsockopt()
	case sysShutdown:
		return h.sysShutdown()
	case sysGetsockname, sysGetpeername:
		// The NETWORK_RPC op table (spec.md §6) has no GETSOCKNAME/
		// GETPEERNAME opcode; there is no wire request to build for
		// these without inventing an op the bridge doesn't speak.
		return h.stubErr(ENOSYS)

	// Epoll
	case sysEpollCreate1:
		return h.sysEpollCreate1()
	case sysEpollCtl:
		return h.sysEpollCtl()
	case sysEpollPwait:
		return h.sysEpollPwait()

	// Other
	case sysPipe2:
		return h.sysPipe2()
	case sysEventfd2:
		return h.sysEventfd2()
	case sysFutex:
		return h.sysFutex()
	case sysGetrandom:
		return h.sysGetrandom()
	case sysUname:
		return h.sysUname()
	case sysGetcwd:
		return h.sysGetcwd()
	case sysChdir:
		return h.sysChdir()
	case sysFchdir:
		return h.stubOK()
	case sysCapget:
		return h.stubOK()
	case sysGetuid, sysGeteuid, sysGetgid, sysGetegid:
		h.Regs.SetResult(0)
		return false, false
	case sysMembarrier:
		return h.stubOK()
	case sysSchedGetaffinity:
		return h.sysSchedGetaffinity()

	default:
		h.Log.Debugf("unimplemented syscall %d", num)
		h.Regs.SetResult(errno(ENOSYS))
		return false, false
	}
}

// stubOK implements the stub policy's option (a): a plausible no-side-effect
// success.
func (h *Handler) stubOK() (bool, bool) {
	h.Regs.SetResult(0)
	return false, false
}

// stubErr implements the stub policy's option (b).
func (h *Handler) stubErr(e int) (bool, bool) {
	h.Regs.SetResult(errno(e))
	return false, false
}
