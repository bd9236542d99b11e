package vfs

import (
	"strings"
	"testing"

	"github.com/xyproto/rv64x/internal/execctx"
)

func TestProcDevDevNullAndZero(t *testing.T) {
	pd := &ProcDev{Ctx: execctx.New(1)}
	v := New(pd)

	e, err := v.Lookup("/dev/zero")
	if err != nil {
		t.Fatalf("Lookup /dev/zero: %v", err)
	}
	if len(e.Data) == 0 {
		t.Error("/dev/zero should render a non-empty zero-filled buffer")
	}
	for _, b := range e.Data {
		if b != 0 {
			t.Fatal("/dev/zero should be all zero bytes")
		}
	}

	e, err = v.Lookup("/dev/null")
	if err != nil {
		t.Fatalf("Lookup /dev/null: %v", err)
	}
	if len(e.Data) != 0 {
		t.Error("/dev/null should render empty data")
	}
}

func TestProcDevSelfExeFollowsExecPath(t *testing.T) {
	ctx := execctx.New(1)
	ctx.ExecPath = "/bin/true"
	pd := &ProcDev{Ctx: ctx}
	v := New(pd)
	v.Mkdir("/bin", 0755)
	v.WriteFile("/bin/true", []byte("elf bytes"), 0755)

	e, err := v.Lookup("/proc/self/exe")
	if err != nil {
		t.Fatalf("Lookup /proc/self/exe: %v", err)
	}
	if string(e.Data) != "elf bytes" {
		t.Errorf("got %q, want the contents of /bin/true", e.Data)
	}
}

func TestProcDevMapsRendersSegments(t *testing.T) {
	ctx := execctx.New(1)
	ctx.Segments = []execctx.SegmentInfo{{Base: 0x10000, Size: 0x1000, Read: true, Exec: true, Path: "/bin/true"}}
	pd := &ProcDev{Ctx: ctx}
	v := New(pd)

	e, err := v.Lookup("/proc/self/maps")
	if err != nil {
		t.Fatalf("Lookup /proc/self/maps: %v", err)
	}
	if !strings.Contains(string(e.Data), "/bin/true") {
		t.Errorf("maps output missing segment path: %q", e.Data)
	}
	if !strings.Contains(string(e.Data), "r-xp") {
		t.Errorf("maps output missing expected perms: %q", e.Data)
	}
}
