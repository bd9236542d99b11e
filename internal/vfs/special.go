package vfs

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"

	"github.com/xyproto/rv64x/internal/execctx"
)

// ProcDev implements SpecialFS for the synthetic /proc and /dev entries
// spec.md §4.E names: /proc/self/exe, /proc/self/maps, /proc/self/fd/N,
// /dev/null, /dev/zero, /dev/urandom, /dev/tty.
type ProcDev struct {
	Ctx     *execctx.Context
	OpenFDs func() []int // enumerates currently-open fds, for /proc/self/fd/N checks
}

func (p *ProcDev) IsSpecial(path string) bool {
	switch path {
	case "/proc/self/exe", "/proc/self/maps", "/dev/null", "/dev/zero", "/dev/urandom", "/dev/tty":
		return true
	}
	return strings.HasPrefix(path, "/proc/self/fd/")
}

func (p *ProcDev) SymlinkTarget(path string) (string, bool) {
	if path == "/proc/self/exe" {
		return p.Ctx.ExecPath, true
	}
	if strings.HasPrefix(path, "/proc/self/fd/") {
		n := strings.TrimPrefix(path, "/proc/self/fd/")
		if _, err := strconv.Atoi(n); err == nil {
			return fmt.Sprintf("fd:[%s]", n), true
		}
	}
	return "", false
}

func (p *ProcDev) Render(path string) ([]byte, bool) {
	switch path {
	case "/proc/self/maps":
		return []byte(p.renderMaps()), true
	case "/dev/null":
		return nil, true
	case "/dev/zero":
		return make([]byte, 4096), true
	case "/dev/urandom":
		buf := make([]byte, 4096)
		_, _ = rand.Read(buf)
		return buf, true
	case "/dev/tty":
		return nil, true
	}
	return nil, false
}

func (p *ProcDev) renderMaps() string {
	var sb strings.Builder
	for _, seg := range p.Ctx.Segments {
		perms := "---p"
		r, w, x := "-", "-", "-"
		if seg.Read {
			r = "r"
		}
		if seg.Write {
			w = "w"
		}
		if seg.Exec {
			x = "x"
		}
		perms = r + w + x + "p"
		fmt.Fprintf(&sb, "%08x-%08x %s 00000000 00:00 0 %s\n",
			seg.Base, seg.Base+seg.Size, perms, seg.Path)
	}
	return sb.String()
}
