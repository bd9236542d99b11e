package iobridge

import (
	"io"
	"time"
)

// DefaultPollInterval is the I/O thread's poll cadence. spec.md §5 bounds it
// at 4ms; 2ms leaves headroom while still never blocking the execution
// thread for longer than a tick.
const DefaultPollInterval = 2 * time.Millisecond

// Bridge owns the three shared structures (control block, stdout ring,
// network frame) spec.md §4.I describes and runs the I/O thread's poll
// loop. The poll loop's shape — sleep a bounded interval, wake, check for
// work, repeat — is grounded on the teacher's filewatcher_unix.go Watch()
// method, which polls inotify on a fixed sleep-on-EAGAIN cadence instead of
// blocking forever in read(2); here the polled condition is the control
// word instead of a file descriptor, but the "never block, just come back
// next tick" discipline is the same one.
type Bridge struct {
	Control *ControlBlock
	Stdout  *StdoutRing
	Net     *NetworkFrame

	// Term is where drained stdout bytes are flushed; Stdin is where a
	// STDIN_REQUEST round-trip reads from. Both default to the host's own
	// streams but are swappable (tests use buffers).
	Term  io.Writer
	Stdin io.Reader

	// PollInterval bounds how long the I/O thread sleeps between checks.
	PollInterval time.Duration

	// Dial is the host-side implementation of a network RPC op; nil means
	// every NETWORK_RPC request fails with ENOSYS, matching the stub
	// policy's "return an error, never a fabricated success" rule.
	Dial func(frame *NetworkFrame)
}

// NewBridge returns a Bridge with its two ring buffers allocated and ready.
func NewBridge(term io.Writer, stdin io.Reader) *Bridge {
	return &Bridge{
		Control:      NewControlBlock(),
		Stdout:       NewStdoutRing(),
		Net:          &NetworkFrame{},
		Term:         term,
		Stdin:        stdin,
		PollInterval: DefaultPollInterval,
	}
}

// Run is the I/O thread's body. It never blocks on the execution thread:
// every iteration drains whatever stdout is pending, services at most one
// control-word transition, and sleeps a bounded interval before looping
// again. It returns when the execution thread signals CmdExit.
func (b *Bridge) Run(stop <-chan struct{}) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-stop:
			b.drainStdout(buf)
			return
		default:
		}

		b.drainStdout(buf)

		switch b.Control.Command() {
		case CmdStdinRequest:
			b.serviceStdinRequest()
		case CmdNetworkRPC:
			b.serviceNetworkRPC()
		case CmdExit:
			b.drainStdout(buf)
			return
		}

		time.Sleep(b.PollInterval)
	}
}

func (b *Bridge) drainStdout(buf []byte) {
	for {
		n := b.Stdout.Read(buf)
		if n == 0 {
			return
		}
		_, _ = b.Term.Write(buf[:n])
	}
}

func (b *Bridge) serviceStdinRequest() {
	var maxLen uint32
	b.Control.WithLock(func() { maxLen = b.Control.StdinMaxLen })
	chunk := make([]byte, maxLen)
	n, _ := b.Stdin.Read(chunk)
	b.Control.WithLock(func() { b.Control.StdinData = chunk[:n] })
	b.Control.SetCommand(CmdStdinReady)
}

func (b *Bridge) serviceNetworkRPC() {
	if b.Dial != nil {
		b.Dial(b.Net)
	} else {
		b.Net.SetError(38) // ENOSYS
	}
	b.Control.SetCommand(CmdNetworkRPCDone)
}

// WriteStdout is the execution thread's side of a write(2) to fd 1/2: it
// appends to the ring, and if the ring is ever completely full (the I/O
// thread has fallen more than 64KiB behind, which only happens under
// sustained output with no consumer progress) it yields once rather than
// spinning, since the producer has no way to make the consumer run faster.
func (b *Bridge) WriteStdout(p []byte) int {
	total := 0
	for len(p) > 0 {
		n, full := b.Stdout.Write(p)
		total += n
		p = p[n:]
		if full && len(p) > 0 {
			time.Sleep(b.PollInterval)
		}
	}
	return total
}

// RequestStdin performs the STDIN_REQUEST/STDIN_READY round trip described
// in spec.md §4.I, blocking the execution thread on the control word until
// the I/O thread has satisfied the request.
func (b *Bridge) RequestStdin(maxLen uint32) []byte {
	b.Control.WithLock(func() { b.Control.StdinMaxLen = maxLen })
	b.Control.SetCommand(CmdStdinRequest)
	b.Control.Wait(CmdStdinRequest)
	var data []byte
	b.Control.WithLock(func() { data = b.Control.StdinData })
	b.Control.SetCommand(CmdIdle)
	return data
}

// RequestNetworkRPC performs the NETWORK_RPC/NETWORK_RPC_DONE round trip.
func (b *Bridge) RequestNetworkRPC(op uint32, fd int32, args [4]uint64, payload []byte) (int32, int32, []byte) {
	b.Net.Op = op
	b.Net.FD = fd
	b.Net.Args = args
	b.Net.Payload = payload
	b.Control.SetCommand(CmdNetworkRPC)
	b.Control.Wait(CmdNetworkRPC)
	return b.Net.Result, b.Net.Errno(), b.Net.Payload
}

// StdoutWriter adapts the bridge's ring-buffer writer to io.Writer, so it
// can be dropped straight into rvsyscall.Handler.Stdout/Stderr.
func (b *Bridge) StdoutWriter() io.Writer { return stdoutWriter{b} }

type stdoutWriter struct{ b *Bridge }

func (w stdoutWriter) Write(p []byte) (int, error) { return w.b.WriteStdout(p), nil }
