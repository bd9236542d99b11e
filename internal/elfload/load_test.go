package elfload

import (
	"testing"

	"github.com/xyproto/rv64x/internal/arena"
	"github.com/xyproto/rv64x/internal/execctx"
	"github.com/xyproto/rv64x/internal/vfs"
)

func TestLoadStaticExecutable(t *testing.T) {
	raw := buildMinimalELF(t, 0x10000, 0x10000, []byte{0x13, 0x05, 0x50, 0x00}, false, "")
	fs := vfs.New(nil)
	if err := fs.Mkdir("/bin", 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := fs.WriteFile("/bin/prog", raw, 0755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	a := arena.New(31) // 2 GiB, comfortably above DefaultStackTop
	ctx := execctx.New(1)

	result, err := Load(a, fs, ctx, "/bin/prog", []string{"prog", "arg1"}, []string{"HOME=/root"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if result.EntryPC != 0x10000 {
		t.Errorf("got entry %#x, want %#x", result.EntryPC, 0x10000)
	}
	if result.InterpBase != 0 {
		t.Errorf("static executable should have no interpreter base, got %#x", result.InterpBase)
	}
	if ctx.ExecPath != "/bin/prog" {
		t.Errorf("got ExecPath=%q", ctx.ExecPath)
	}
	if len(ctx.Segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(ctx.Segments))
	}
	if ctx.BrkBase == 0 {
		t.Error("BrkBase should be set past the loaded segment")
	}
	if ctx.StackTop == 0 || ctx.StackTop >= DefaultStackTop {
		t.Errorf("got stack top %#x, want < %#x", ctx.StackTop, DefaultStackTop)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	fs := vfs.New(nil)
	a := arena.New(20)
	ctx := execctx.New(1)
	if _, err := Load(a, fs, ctx, "/no/such/binary", nil, nil); err == nil {
		t.Fatal("expected an error loading a nonexistent path")
	}
}
