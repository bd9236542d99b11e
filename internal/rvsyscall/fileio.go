package rvsyscall

import (
	"crypto/rand"
	"encoding/binary"
	"os"
	"time"

	"github.com/xyproto/rv64x/internal/iobridge"
	"github.com/xyproto/rv64x/internal/vfs"
)

// AT_FDCWD, the dirfd sentinel meaning "resolve relative to cwd". This
// emulator has no directory-fd table distinct from the cwd string, so any
// other dirfd value is treated the same way: paths are always resolved
// against Ctx.Cwd when not absolute.
const atFDCWD = -100

const (
	oCreat    = 0o100
	oExcl     = 0o200
	oTrunc    = 0o1000
	oAppend   = 0o2000
	oDirflags = oCreat | oExcl | oTrunc | oAppend
)

const atRemoveDir = 0x200

func (h *Handler) resolvePath(raw string) string {
	if len(raw) > 0 && raw[0] == '/' {
		return raw
	}
	return h.Ctx.Cwd + "/" + raw
}

func (h *Handler) readPathArg(argIdx int) (string, error) {
	p, err := h.A.MemString(h.Regs.GetArg(argIdx))
	if err != nil {
		return "", err
	}
	return h.resolvePath(string(p)), nil
}

func (h *Handler) sysOpenat() (bool, bool) {
	path, err := h.readPathArg(1)
	if err != nil {
		return h.stubErr(EFAULT)
	}
	flags := int(h.Regs.GetArg(2))
	mode := os.FileMode(h.Regs.GetArg(3) & 0777)

	entry, lookupErr := h.FS.Lookup(path)
	if lookupErr == vfs.ErrNotDir {
		return h.stubErr(ENOTDIR)
	}
	if lookupErr != nil {
		if flags&oCreat == 0 {
			return h.stubErr(ENOENT)
		}
		if err := h.FS.WriteFile(path, nil, mode); err != nil {
			if err == vfs.ErrNotDir {
				return h.stubErr(ENOTDIR)
			}
			return h.stubErr(ENOENT)
		}
		entry, _ = h.FS.Lookup(path)
	} else if flags&(oCreat|oExcl) == oCreat|oExcl {
		return h.stubErr(EEXIST)
	} else if flags&oTrunc != 0 && entry.Type == vfs.TypeRegular {
		_ = h.FS.WriteFile(path, nil, entry.Mode)
		entry, _ = h.FS.Lookup(path)
	}

	kind := vfs.KindRegular
	if entry.Type == vfs.TypeDir {
		kind = vfs.KindDir
	}
	off := int64(0)
	if flags&oAppend != 0 {
		off = entry.Size
	}
	fd, err := h.FDs.AllocFile(&vfs.OpenFile{Path: path, Kind: kind, Entry: entry, Flags: flags, Offset: off})
	if err != nil {
		return h.stubErr(EMFILE)
	}
	h.Regs.SetResult(int64(fd))
	return false, false
}

func (h *Handler) sysClose() (bool, bool) {
	fd := int(h.Regs.GetArg(0))
	switch vfs.ClassifyFD(fd) {
	case vfs.RangeStd:
		return h.stubOK() // owned by the I/O bridge; nothing to release here
	case vfs.RangeSocket:
		if h.Net != nil {
			h.Net.RequestNetworkRPC(iobridge.NetOpClose, int32(fd), [4]uint64{}, nil)
		}
		_ = h.FDs.CloseSocket(fd)
		return h.stubOK()
	case vfs.RangeEpoll:
		if err := h.FDs.CloseEpoll(fd); err != nil {
			return h.stubErr(EBADF)
		}
		return h.stubOK()
	default:
		if err := h.FDs.CloseFile(fd); err != nil {
			return h.stubErr(EBADF)
		}
		return h.stubOK()
	}
}

func (h *Handler) specialRead(of *vfs.OpenFile, n int) []byte {
	switch of.Kind {
	case vfs.KindDevZero:
		return make([]byte, n)
	case vfs.KindDevURandom:
		buf := make([]byte, n)
		_, _ = rand.Read(buf)
		return buf
	case vfs.KindDevNull:
		return nil
	default:
		return nil
	}
}

func (h *Handler) sysRead() (bool, bool) {
	return h.doRead(int(h.Regs.GetArg(0)), h.Regs.GetArg(1), h.Regs.GetArg(2), -1)
}

func (h *Handler) sysPread64() (bool, bool) {
	return h.doRead(int(h.Regs.GetArg(0)), h.Regs.GetArg(1), h.Regs.GetArg(2), int64(h.Regs.GetArg(3)))
}

// doRead services read/pread64. pos < 0 means "use and advance the fd's
// own offset"; pos >= 0 means "read at pos without touching the offset".
func (h *Handler) doRead(fd int, bufAddr, count uint64, pos int64) (bool, bool) {
	if vfs.ClassifyFD(fd) == vfs.RangeStd && fd == 0 {
		return true, true // STDIN_REQUEST round-trip, owned by the I/O bridge
	}
	of, ok := h.FDs.GetFile(fd)
	if !ok {
		return h.stubErr(EBADF)
	}
	if of.Kind == vfs.KindDevZero || of.Kind == vfs.KindDevURandom || of.Kind == vfs.KindDevNull {
		data := h.specialRead(of, int(count))
		if err := h.A.WriteAt(bufAddr, data); err != nil {
			return h.stubErr(EFAULT)
		}
		h.Regs.SetResult(int64(len(data)))
		return false, false
	}
	if of.Entry == nil {
		return h.stubErr(EBADF)
	}
	offset := of.Offset
	if pos >= 0 {
		offset = pos
	}
	if offset >= of.Entry.Size {
		h.Regs.SetResult(0)
		return false, false
	}
	end := offset + int64(count)
	if end > of.Entry.Size {
		end = of.Entry.Size
	}
	chunk := of.Entry.Data[offset:end]
	if err := h.A.WriteAt(bufAddr, chunk); err != nil {
		return h.stubErr(EFAULT)
	}
	if pos < 0 {
		of.Offset += int64(len(chunk))
	}
	h.Regs.SetResult(int64(len(chunk)))
	return false, false
}

func (h *Handler) sysWrite() (bool, bool) {
	return h.doWrite(int(h.Regs.GetArg(0)), h.Regs.GetArg(1), h.Regs.GetArg(2), -1)
}

func (h *Handler) sysPwrite64() (bool, bool) {
	return h.doWrite(int(h.Regs.GetArg(0)), h.Regs.GetArg(1), h.Regs.GetArg(2), int64(h.Regs.GetArg(3)))
}

func (h *Handler) doWrite(fd int, bufAddr, count uint64, pos int64) (bool, bool) {
	data, err := h.A.MemArray(bufAddr, count)
	if err != nil {
		return h.stubErr(EFAULT)
	}
	switch fd {
	case 1:
		n, _ := h.Stdout.Write(data)
		h.Regs.SetResult(int64(n))
		return false, false
	case 2:
		n, _ := h.Stderr.Write(data)
		h.Regs.SetResult(int64(n))
		return false, false
	}
	of, ok := h.FDs.GetFile(fd)
	if !ok || of.Entry == nil {
		return h.stubErr(EBADF)
	}
	offset := of.Offset
	if pos >= 0 {
		offset = pos
	}
	grown := of.Entry.Data
	need := offset + int64(len(data))
	if need > int64(len(grown)) {
		next := make([]byte, need)
		copy(next, grown)
		grown = next
	}
	copy(grown[offset:], data)
	if err := h.FS.WriteFile(of.Path, grown, of.Entry.Mode); err != nil {
		return h.stubErr(EBADF)
	}
	of.Entry, _ = h.FS.Lookup(of.Path)
	if pos < 0 {
		of.Offset += int64(len(data))
	}
	h.Regs.SetResult(int64(len(data)))
	return false, false
}

// iovec mirrors the 16-byte (base uint64, len uint64) guest layout used by
// readv/writev.
func (h *Handler) readIovecs(addr uint64, count uint64) ([][2]uint64, error) {
	iovs := make([][2]uint64, count)
	for i := range iovs {
		raw, err := h.A.MemArray(addr+uint64(i)*16, 16)
		if err != nil {
			return nil, err
		}
		iovs[i][0] = binary.LittleEndian.Uint64(raw[0:8])
		iovs[i][1] = binary.LittleEndian.Uint64(raw[8:16])
	}
	return iovs, nil
}

func (h *Handler) sysReadv() (bool, bool) {
	fd := int(h.Regs.GetArg(0))
	iovs, err := h.readIovecs(h.Regs.GetArg(1), h.Regs.GetArg(2))
	if err != nil {
		return h.stubErr(EFAULT)
	}
	var total int64
	for _, iov := range iovs {
		stop, block := h.doRead(fd, iov[0], iov[1], -1)
		if block || stop {
			return stop, block
		}
		n := h.Regs.GetX(10) // result just written by doRead
		total += int64(n)
		if int64(n) < int64(iov[1]) {
			break
		}
	}
	h.Regs.SetResult(total)
	return false, false
}

func (h *Handler) sysWritev() (bool, bool) {
	fd := int(h.Regs.GetArg(0))
	iovs, err := h.readIovecs(h.Regs.GetArg(1), h.Regs.GetArg(2))
	if err != nil {
		return h.stubErr(EFAULT)
	}
	var total int64
	for _, iov := range iovs {
		stop, block := h.doWrite(fd, iov[0], iov[1], -1)
		if block || stop {
			return stop, block
		}
		total += int64(h.Regs.GetX(10))
	}
	h.Regs.SetResult(total)
	return false, false
}

func (h *Handler) sysLseek() (bool, bool) {
	fd := int(h.Regs.GetArg(0))
	offset := int64(h.Regs.GetArg(1))
	whence := int(h.Regs.GetArg(2))
	of, ok := h.FDs.GetFile(fd)
	if !ok {
		return h.stubErr(EBADF)
	}
	var size int64
	if of.Entry != nil {
		size = of.Entry.Size
	}
	switch whence {
	case 0: // SEEK_SET
		of.Offset = offset
	case 1: // SEEK_CUR
		of.Offset += offset
	case 2: // SEEK_END
		of.Offset = size + offset
	default:
		return h.stubErr(EINVAL)
	}
	h.Regs.SetResult(of.Offset)
	return false, false
}

func (h *Handler) sysFstat() (bool, bool) {
	fd := int(h.Regs.GetArg(0))
	of, ok := h.FDs.GetFile(fd)
	if !ok {
		return h.stubErr(EBADF)
	}
	return h.writeStat(h.Regs.GetArg(1), of.Entry, of.Kind)
}

func (h *Handler) sysNewfstatat() (bool, bool) {
	path, err := h.readPathArg(1)
	if err != nil {
		return h.stubErr(EFAULT)
	}
	entry, err := h.FS.Lookup(path)
	if err == vfs.ErrNotDir {
		return h.stubErr(ENOTDIR)
	}
	if err != nil {
		return h.stubErr(ENOENT)
	}
	return h.writeStat(h.Regs.GetArg(2), entry, vfs.KindRegular)
}

// writeStat encodes a riscv64 Linux struct stat (128 bytes, generic
// asm-generic/bits/stat layout) at addr.
func (h *Handler) writeStat(addr uint64, e *vfs.Entry, kind vfs.FileKind) (bool, bool) {
	var buf [128]byte
	var mode uint32 = 0100644
	var size int64
	var mtime int64
	if e != nil {
		mode = uint32(e.Mode.Perm())
		if e.Type == vfs.TypeDir {
			mode |= 0040000
		} else {
			mode |= 0100000
		}
		size = e.Size
		mtime = e.Mtime.Unix()
	}
	if mtime == 0 {
		mtime = time.Now().Unix()
	}
	binary.LittleEndian.PutUint64(buf[0:8], 1)             // st_dev
	binary.LittleEndian.PutUint64(buf[8:16], 1)             // st_ino
	binary.LittleEndian.PutUint32(buf[16:20], mode)
	binary.LittleEndian.PutUint32(buf[20:24], 1) // st_nlink
	binary.LittleEndian.PutUint32(buf[24:28], 0) // st_uid
	binary.LittleEndian.PutUint32(buf[28:32], 0) // st_gid
	binary.LittleEndian.PutUint64(buf[48:56], uint64(size))
	binary.LittleEndian.PutUint32(buf[56:60], 4096) // st_blksize
	binary.LittleEndian.PutUint64(buf[64:72], uint64((size+511)/512))
	binary.LittleEndian.PutUint64(buf[72:80], uint64(mtime)) // st_atime
	binary.LittleEndian.PutUint64(buf[88:96], uint64(mtime)) // st_mtime
	binary.LittleEndian.PutUint64(buf[104:112], uint64(mtime)) // st_ctime
	if err := h.A.WriteAt(addr, buf[:]); err != nil {
		return h.stubErr(EFAULT)
	}
	return h.stubOK()
}

func (h *Handler) sysReadlinkat() (bool, bool) {
	path, err := h.readPathArg(1)
	if err != nil {
		return h.stubErr(EFAULT)
	}
	target, err := h.FS.Readlink(path)
	if err != nil {
		return h.stubErr(EINVAL)
	}
	bufAddr := h.Regs.GetArg(2)
	bufSize := h.Regs.GetArg(3)
	data := []byte(target)
	if uint64(len(data)) > bufSize {
		data = data[:bufSize]
	}
	if err := h.A.WriteAt(bufAddr, data); err != nil {
		return h.stubErr(EFAULT)
	}
	h.Regs.SetResult(int64(len(data)))
	return false, false
}

func (h *Handler) sysFaccessat() (bool, bool) {
	path, err := h.readPathArg(1)
	if err != nil {
		return h.stubErr(EFAULT)
	}
	if _, err := h.FS.Lookup(path); err != nil {
		if err == vfs.ErrNotDir {
			return h.stubErr(ENOTDIR)
		}
		return h.stubErr(ENOENT)
	}
	return h.stubOK()
}

func (h *Handler) sysMkdirat() (bool, bool) {
	path, err := h.readPathArg(1)
	if err != nil {
		return h.stubErr(EFAULT)
	}
	mode := os.FileMode(h.Regs.GetArg(2) & 0777)
	if err := h.FS.Mkdir(path, mode); err != nil {
		if err == vfs.ErrExists {
			return h.stubErr(EEXIST)
		}
		return h.stubErr(ENOENT)
	}
	return h.stubOK()
}

func (h *Handler) sysUnlinkat() (bool, bool) {
	path, err := h.readPathArg(1)
	if err != nil {
		return h.stubErr(EFAULT)
	}
	flags := h.Regs.GetArg(2)
	var rmErr error
	if flags&atRemoveDir != 0 {
		rmErr = h.FS.Rmdir(path)
	} else {
		rmErr = h.FS.Unlink(path)
	}
	if rmErr != nil {
		return h.stubErr(ENOENT)
	}
	return h.stubOK()
}

func (h *Handler) sysRenameat2() (bool, bool) {
	oldPath, err := h.readPathArg(1)
	if err != nil {
		return h.stubErr(EFAULT)
	}
	newPath, err := h.readPathArg(3)
	if err != nil {
		return h.stubErr(EFAULT)
	}
	if err := h.FS.Rename(oldPath, newPath); err != nil {
		return h.stubErr(ENOENT)
	}
	return h.stubOK()
}

func (h *Handler) sysFtruncate() (bool, bool) {
	fd := int(h.Regs.GetArg(0))
	size := int64(h.Regs.GetArg(1))
	of, ok := h.FDs.GetFile(fd)
	if !ok || of.Entry == nil {
		return h.stubErr(EBADF)
	}
	data := of.Entry.Data
	if int64(len(data)) > size {
		data = data[:size]
	} else if int64(len(data)) < size {
		next := make([]byte, size)
		copy(next, data)
		data = next
	}
	if err := h.FS.WriteFile(of.Path, data, of.Entry.Mode); err != nil {
		return h.stubErr(EBADF)
	}
	of.Entry, _ = h.FS.Lookup(of.Path)
	return h.stubOK()
}

const (
	fDupfd  = 0
	fGetfd  = 1
	fSetfd  = 2
	fGetfl  = 3
	fSetfl  = 4
	fDupfdCloexec = 1030
)

func (h *Handler) sysFcntl() (bool, bool) {
	fd := int(h.Regs.GetArg(0))
	cmd := int(h.Regs.GetArg(1))
	switch cmd {
	case fDupfd, fDupfdCloexec:
		of, ok := h.FDs.GetFile(fd)
		if !ok {
			return h.stubErr(EBADF)
		}
		dup := *of
		newFd, err := h.FDs.AllocFile(&dup)
		if err != nil {
			return h.stubErr(EMFILE)
		}
		h.Regs.SetResult(int64(newFd))
		return false, false
	case fGetfd, fGetfl:
		of, ok := h.FDs.GetFile(fd)
		if !ok {
			return h.stubErr(EBADF)
		}
		h.Regs.SetResult(int64(of.Flags))
		return false, false
	default:
		return h.stubOK()
	}
}

func (h *Handler) sysIoctl() (bool, bool) {
	// TCGETS/TIOCGWINSZ and friends: no real terminal is attached outside
	// the I/O bridge, so every ioctl is a harmless stubbed success.
	return h.stubOK()
}

func (h *Handler) sysDup() (bool, bool) {
	fd := int(h.Regs.GetArg(0))
	of, ok := h.FDs.GetFile(fd)
	if !ok {
		return h.stubErr(EBADF)
	}
	dup := *of
	newFd, err := h.FDs.AllocFile(&dup)
	if err != nil {
		return h.stubErr(EMFILE)
	}
	h.Regs.SetResult(int64(newFd))
	return false, false
}

func (h *Handler) sysDup3() (bool, bool) {
	oldFd := int(h.Regs.GetArg(0))
	newFd := int(h.Regs.GetArg(1))
	of, ok := h.FDs.GetFile(oldFd)
	if !ok {
		return h.stubErr(EBADF)
	}
	_ = h.FDs.CloseFile(newFd)
	dup := *of
	if err := h.FDs.AllocFileAt(newFd, &dup); err != nil {
		return h.stubErr(EBADF)
	}
	h.Regs.SetResult(int64(newFd))
	return false, false
}

