package arena

import "testing"

func TestLoadStoreRoundTrip(t *testing.T) {
	a := New(20) // 1 MiB, plenty for these offsets

	if err := a.Store64(0x1000, 0xdeadbeefcafef00d); err != nil {
		t.Fatalf("Store64: %v", err)
	}
	v, err := a.Load64(0x1000)
	if err != nil {
		t.Fatalf("Load64: %v", err)
	}
	if v != 0xdeadbeefcafef00d {
		t.Errorf("got %#x, want %#x", v, uint64(0xdeadbeefcafef00d))
	}

	if err := a.Store32(0x2000, 0xaabbccdd); err != nil {
		t.Fatalf("Store32: %v", err)
	}
	v32, err := a.Load32(0x2000)
	if err != nil {
		t.Fatalf("Load32: %v", err)
	}
	if v32 != 0xaabbccdd {
		t.Errorf("got %#x, want %#x", v32, 0xaabbccdd)
	}
}

func TestOutOfRangeFaults(t *testing.T) {
	a := New(12) // 4 KiB
	if _, err := a.Load64(a.Size() - 4); err == nil {
		t.Fatal("expected a fault reading past the end of the arena")
	}
	if err := a.Store16(a.Size()-1, 1); err == nil {
		t.Fatal("expected a fault writing past the end of the arena")
	}
}

func TestMemString(t *testing.T) {
	a := New(16)
	msg := "hello\x00trailing garbage"
	if err := a.WriteAt(0x100, []byte(msg)); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	s, err := a.MemString(0x100)
	if err != nil {
		t.Fatalf("MemString: %v", err)
	}
	if string(s) != "hello" {
		t.Errorf("got %q, want %q", s, "hello")
	}
}

func TestNoteWriteDirtiesExecutablePages(t *testing.T) {
	a := New(16)
	page := uint64(0x1000)
	a.Pages().Set(page>>PageShift, PageAttr{Read: true, Exec: true})

	if a.Pages().IsDirty(page >> PageShift) {
		t.Fatal("page should start clean")
	}
	if err := a.Store32(page, 0x1337); err != nil {
		t.Fatalf("Store32: %v", err)
	}
	if !a.Pages().IsDirty(page >> PageShift) {
		t.Error("storing into an executable page should mark it dirty")
	}
}

func TestPageTableExecutablePagesSorted(t *testing.T) {
	pt := NewPageTable()
	pt.Set(5, PageAttr{Exec: true})
	pt.Set(1, PageAttr{Exec: true})
	pt.Set(3, PageAttr{Exec: true})
	pt.Set(2, PageAttr{Exec: false})

	got := pt.ExecutablePages()
	want := []uint64{1, 3, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestSetRangeCoversPartialPages(t *testing.T) {
	pt := NewPageTable()
	pt.SetRange(0x1800, 0x1000, PageAttr{Read: true, Write: true})
	attr, ok := pt.Get(1) // 0x1000..0x1fff
	if !ok || !attr.Read {
		t.Error("expected page 1 to be covered by the range")
	}
	attr, ok = pt.Get(2) // 0x2000..0x2fff
	if !ok || !attr.Read {
		t.Error("expected page 2 to be covered by the range")
	}
}
