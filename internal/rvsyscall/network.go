package rvsyscall

import (
	"github.com/xyproto/rv64x/internal/iobridge"
	"github.com/xyproto/rv64x/internal/vfs"
)

// sysSocket issues a SOCKET_CREATE RPC and, on success, records the fd the
// bridge assigned (in the 1000..1999 socket range) in the FD table so
// close/dup/epoll bookkeeping stays consistent with the other three ranges.
func (h *Handler) sysSocket() (bool, bool) {
	if h.Net == nil {
		return h.stubErr(ENOSYS)
	}
	domain := h.Regs.GetArg(0)
	typ := h.Regs.GetArg(1)
	proto := h.Regs.GetArg(2)
	result, rpcErrno, _ := h.Net.RequestNetworkRPC(iobridge.NetOpSocketCreate, -1, [4]uint64{domain, typ, proto, 0}, nil)
	if rpcErrno != 0 {
		return h.stubErr(int(rpcErrno))
	}
	fd := int(result)
	if vfs.ClassifyFD(fd) != vfs.RangeSocket {
		return h.stubErr(EINVAL)
	}
	if err := h.FDs.AllocSocketAt(fd); err != nil {
		return h.stubErr(EMFILE)
	}
	h.Regs.SetResult(int64(fd))
	return false, false
}

func (h *Handler) sysBind() (bool, bool) {
	if h.Net == nil {
		return h.stubErr(ENOSYS)
	}
	fd := int32(h.Regs.GetArg(0))
	addrLen := h.Regs.GetArg(2)
	addr, err := h.A.MemArray(h.Regs.GetArg(1), addrLen)
	if err != nil {
		return h.stubErr(EFAULT)
	}
	payload := append([]byte(nil), addr...)
	result, rpcErrno, _ := h.Net.RequestNetworkRPC(iobridge.NetOpBind, fd, [4]uint64{addrLen, 0, 0, 0}, payload)
	if rpcErrno != 0 {
		return h.stubErr(int(rpcErrno))
	}
	h.Regs.SetResult(int64(result))
	return false, false
}

func (h *Handler) sysListen() (bool, bool) {
	if h.Net == nil {
		return h.stubErr(ENOSYS)
	}
	fd := int32(h.Regs.GetArg(0))
	backlog := h.Regs.GetArg(1)
	result, rpcErrno, _ := h.Net.RequestNetworkRPC(iobridge.NetOpListen, fd, [4]uint64{backlog, 0, 0, 0}, nil)
	if rpcErrno != 0 {
		return h.stubErr(int(rpcErrno))
	}
	h.Regs.SetResult(int64(result))
	return false, false
}

// sysAccept4 allocates a local fd for the accepted connection from the RPC's
// returned fd, and writes the peer address back into the guest's addr/addrlen
// out-parameters when the bridge supplied one.
func (h *Handler) sysAccept4() (bool, bool) {
	if h.Net == nil {
		return h.stubErr(ENOSYS)
	}
	fd := int32(h.Regs.GetArg(0))
	addrAddr := h.Regs.GetArg(1)
	addrLenAddr := h.Regs.GetArg(2)
	flags := h.Regs.GetArg(3)
	result, rpcErrno, peerAddr := h.Net.RequestNetworkRPC(iobridge.NetOpAccept, fd, [4]uint64{flags, 0, 0, 0}, nil)
	if rpcErrno != 0 {
		return h.stubErr(int(rpcErrno))
	}
	newFd := int(result)
	if vfs.ClassifyFD(newFd) != vfs.RangeSocket {
		return h.stubErr(EINVAL)
	}
	if err := h.FDs.AllocSocketAt(newFd); err != nil {
		return h.stubErr(EMFILE)
	}
	if addrAddr != 0 && len(peerAddr) > 0 {
		if err := h.A.WriteAt(addrAddr, peerAddr); err == nil && addrLenAddr != 0 {
			_ = h.A.Store32(addrLenAddr, uint32(len(peerAddr)))
		}
	}
	h.Regs.SetResult(int64(newFd))
	return false, false
}

func (h *Handler) sysConnect() (bool, bool) {
	if h.Net == nil {
		return h.stubErr(ENOSYS)
	}
	fd := int32(h.Regs.GetArg(0))
	addrLen := h.Regs.GetArg(2)
	addr, err := h.A.MemArray(h.Regs.GetArg(1), addrLen)
	if err != nil {
		return h.stubErr(EFAULT)
	}
	payload := append([]byte(nil), addr...)
	result, rpcErrno, _ := h.Net.RequestNetworkRPC(iobridge.NetOpConnect, fd, [4]uint64{addrLen, 0, 0, 0}, payload)
	if rpcErrno != 0 {
		return h.stubErr(int(rpcErrno))
	}
	h.Regs.SetResult(int64(result))
	return false, false
}

// sysSendto ships the payload bytes, and appends the destination address (if
// any) after them; args[2] carries the address length so the bridge knows
// where the data/address split falls.
func (h *Handler) sysSendto() (bool, bool) {
	if h.Net == nil {
		return h.stubErr(ENOSYS)
	}
	fd := int32(h.Regs.GetArg(0))
	length := h.Regs.GetArg(2)
	flags := h.Regs.GetArg(3)
	destAddr := h.Regs.GetArg(4)
	destLen := h.Regs.GetArg(5)
	data, err := h.A.MemArray(h.Regs.GetArg(1), length)
	if err != nil {
		return h.stubErr(EFAULT)
	}
	payload := append([]byte(nil), data...)
	if destAddr != 0 && destLen > 0 {
		addrBytes, err := h.A.MemArray(destAddr, destLen)
		if err != nil {
			return h.stubErr(EFAULT)
		}
		payload = append(payload, addrBytes...)
	}
	result, rpcErrno, _ := h.Net.RequestNetworkRPC(iobridge.NetOpSend, fd, [4]uint64{length, flags, destLen, 0}, payload)
	if rpcErrno != 0 {
		return h.stubErr(int(rpcErrno))
	}
	h.Regs.SetResult(int64(result))
	return false, false
}

// sysRecvfrom writes up to result bytes of the RPC's response payload into
// the guest buffer. The RECV op carries no peer-address framing, so a
// non-nil src_addr out-parameter is left untouched (datagram source tracking
// is out of scope without a corresponding RPC field for it).
func (h *Handler) sysRecvfrom() (bool, bool) {
	if h.Net == nil {
		return h.stubErr(ENOSYS)
	}
	fd := int32(h.Regs.GetArg(0))
	bufAddr := h.Regs.GetArg(1)
	length := h.Regs.GetArg(2)
	flags := h.Regs.GetArg(3)
	result, rpcErrno, payload := h.Net.RequestNetworkRPC(iobridge.NetOpRecv, fd, [4]uint64{length, flags, 0, 0}, nil)
	if rpcErrno != 0 {
		return h.stubErr(int(rpcErrno))
	}
	n := result
	if int64(n) > int64(len(payload)) {
		n = int32(len(payload))
	}
	if n > 0 {
		if err := h.A.WriteAt(bufAddr, payload[:n]); err != nil {
			return h.stubErr(EFAULT)
		}
	}
	h.Regs.SetResult(int64(n))
	return false, false
}

func (h *Handler) sysSetsockopt() (bool, bool) {
	if h.Net == nil {
		return h.stubErr(ENOSYS)
	}
	fd := int32(h.Regs.GetArg(0))
	level := h.Regs.GetArg(1)
	optname := h.Regs.GetArg(2)
	optlen := h.Regs.GetArg(4)
	var payload []byte
	if optlen > 0 {
		optval, err := h.A.MemArray(h.Regs.GetArg(3), optlen)
		if err != nil {
			return h.stubErr(EFAULT)
		}
		payload = append([]byte(nil), optval...)
	}
	result, rpcErrno, _ := h.Net.RequestNetworkRPC(iobridge.NetOpSetsockopt, fd, [4]uint64{level, optname, optlen, 0}, payload)
	if rpcErrno != 0 {
		return h.stubErr(int(rpcErrno))
	}
	h.Regs.SetResult(int64(result))
	return false, false
}

func (h *Handler) sysGetsockopt() (bool, bool) {
	if h.Net == nil {
		return h.stubErr(ENOSYS)
	}
	fd := int32(h.Regs.GetArg(0))
	level := h.Regs.GetArg(1)
	optname := h.Regs.GetArg(2)
	optvalAddr := h.Regs.GetArg(3)
	optlenAddr := h.Regs.GetArg(4)
	result, rpcErrno, payload := h.Net.RequestNetworkRPC(iobridge.NetOpGetsockopt, fd, [4]uint64{level, optname, 0, 0}, nil)
	if rpcErrno != 0 {
		return h.stubErr(int(rpcErrno))
	}
	if optvalAddr != 0 && len(payload) > 0 {
		if err := h.A.WriteAt(optvalAddr, payload); err != nil {
			return h.stubErr(EFAULT)
		}
		if optlenAddr != 0 {
			_ = h.A.Store32(optlenAddr, uint32(len(payload)))
		}
	}
	h.Regs.SetResult(int64(result))
	return false, false
}

func (h *Handler) sysShutdown() (bool, bool) {
	if h.Net == nil {
		return h.stubErr(ENOSYS)
	}
	fd := int32(h.Regs.GetArg(0))
	how := h.Regs.GetArg(1)
	result, rpcErrno, _ := h.Net.RequestNetworkRPC(iobridge.NetOpShutdown, fd, [4]uint64{how, 0, 0, 0}, nil)
	if rpcErrno != 0 {
		return h.stubErr(int(rpcErrno))
	}
	h.Regs.SetResult(int64(result))
	return false, false
}
