package iobridge

import "testing"

func TestControlBlockCommandRoundTrip(t *testing.T) {
	cb := NewControlBlock()
	if cb.Command() != CmdIdle {
		t.Fatalf("new control block should start idle, got %v", cb.Command())
	}
	cb.SetCommand(CmdStdinRequest)
	if cb.Command() != CmdStdinRequest {
		t.Errorf("got %v, want CmdStdinRequest", cb.Command())
	}
}

func TestControlBlockWithLock(t *testing.T) {
	cb := NewControlBlock()
	cb.WithLock(func() {
		cb.StdinData = []byte("abc")
	})
	var got []byte
	cb.WithLock(func() {
		got = cb.StdinData
	})
	if string(got) != "abc" {
		t.Errorf("got %q, want %q", got, "abc")
	}
}
