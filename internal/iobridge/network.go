package iobridge

// NetworkFrame is the duplex RPC buffer used for every guest socket
// operation the execution thread cannot safely perform itself (spec.md
// §4.I: "RPC frames for socket ops: op code, FD, arguments, payload").
// One frame carries a request when the execution thread stages it and a
// response when the I/O thread overwrites it and flips the control word to
// CmdNetworkRPCDone; the two directions never overlap because the control
// word's state machine only ever has one side writing at a time.
type NetworkFrame struct {
	Op      uint32
	FD      int32
	Args    [4]uint64 // op-specific integer arguments (e.g. sockaddr len, flags)
	Result  int32
	errno   int32
	Payload []byte // sockaddr bytes, send/recv buffer, etc.
}

// Network op codes, numbered per spec.md §6's RPC frame op table.
const (
	NetOpSocketCreate      = 1
	NetOpConnect           = 2
	NetOpBind              = 3
	NetOpListen            = 4
	NetOpAccept            = 5
	NetOpSend              = 6
	NetOpRecv              = 7
	NetOpClose             = 8
	NetOpHasData           = 9
	NetOpHasPendingAccept  = 10
	NetOpSetsockopt        = 11
	NetOpGetsockopt        = 12
	NetOpShutdown          = 13
)

// Errno returns the errno recorded by SetError as a positive value, or 0
// on success; the syscall layer negates it when writing the guest's a0.
func (f *NetworkFrame) Errno() int32 { return f.errno }

// SetError records a failure: Result becomes -1 and Errno reports e, a
// positive errno value, for the requesting side to relay into the guest.
func (f *NetworkFrame) SetError(e int32) {
	f.Result = -1
	f.errno = e
}
