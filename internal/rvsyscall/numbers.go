// Package rvsyscall implements cpu.SyscallHandler: the ~80-call subset of
// the RV64 generic Linux syscall ABI spec.md §4.D names, dispatched by
// syscall number (a7) with arguments in a0..a5 and the result written back
// to a0 per the -errno convention.
//
// Grounded on the teacher's opcode-table dispatch (instructions are looked
// up by a numeric key and routed to a handler function, see
// codegen_riscv_writer.go's switch over token/opcode) generalized here to a
// switch from syscall number to handler instead of instruction mnemonic to
// encoder.
package rvsyscall

// Syscall numbers per the RV64 (and ARM64-shared) generic syscall ABI,
// asm-generic/unistd.h. Only the subset spec.md §4.D names is declared;
// anything else falls through HandleSyscall's default case to -ENOSYS.
const (
	sysGetcwd            = 17
	sysEventfd2          = 19
	sysEpollCreate1      = 20
	sysEpollCtl          = 21
	sysEpollPwait        = 22
	sysDup               = 23
	sysDup3              = 24
	sysFcntl             = 25
	sysIoctl             = 29
	sysMkdirat           = 34
	sysUnlinkat          = 35
	sysRenameat2         = 38
	sysFaccessat         = 48
	sysChdir             = 49
	sysFchdir            = 50
	sysFchmod            = 52
	sysFtruncate         = 46
	sysOpenat            = 56
	sysClose             = 57
	sysPipe2             = 59
	sysLseek             = 62
	sysRead              = 63
	sysWrite             = 64
	sysReadv             = 65
	sysWritev            = 66
	sysPread64           = 67
	sysPwrite64          = 68
	sysReadlinkat        = 78
	sysNewfstatat        = 79
	sysFstat             = 80
	sysCapget            = 90
	sysExit              = 93
	sysExitGroup         = 94
	sysSetTidAddress     = 96
	sysFutex             = 98
	sysNanosleep         = 101
	sysClockGettime      = 113
	sysClockGetres       = 114
	sysSchedGetaffinity  = 123
	sysKill              = 129
	sysTgkill            = 131
	sysSigaltstack       = 132
	sysRtSigaction       = 134
	sysRtSigprocmask     = 135
	sysRtSigreturn       = 139
	sysUname             = 160
	sysGettimeofday      = 169
	sysGetpid            = 172
	sysGetppid           = 173
	sysGetuid            = 174
	sysGeteuid           = 175
	sysGetgid            = 176
	sysGetegid           = 177
	sysGettid            = 178
	sysSocket            = 198
	sysBind              = 200
	sysListen            = 201
	sysAccept4           = 202
	sysConnect           = 203
	sysGetsockname       = 204
	sysGetpeername       = 205
	sysSendto            = 206
	sysRecvfrom          = 207
	sysSetsockopt        = 208
	sysGetsockopt        = 209
	sysShutdown          = 210
	sysBrk               = 214
	sysMunmap            = 215
	sysMremap            = 216
	sysClone             = 220
	sysExecve            = 221
	sysMmap              = 222
	sysMprotect          = 226
	sysMadvise           = 233
	sysWait4             = 260
	sysPrlimit64         = 261
	sysPrctl             = 167
	sysGetrandom         = 278
	sysMembarrier        = 283
)

// Errno values for the guest-ABI -errno convention. Only a small subset is
// declared, and not every value below is returned by a current handler.
const (
	EPERM   = 1
	ENOENT  = 2
	ESRCH   = 3
	EBADF   = 9
	ECHILD  = 10
	EAGAIN  = 11
	ENOMEM  = 12
	EACCES  = 13
	EEXIST  = 17
	ENOTDIR = 20
	EISDIR  = 21
	EINVAL  = 22
	ENFILE  = 23
	ENOTTY  = 25
	EFAULT  = 14
	EMFILE  = 24
	ERANGE  = 34
	ENOSYS  = 38
)

func errno(e int) int64 { return -int64(e) }
