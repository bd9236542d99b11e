package iobridge

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestBridgeStdinRoundTrip(t *testing.T) {
	var out bytes.Buffer
	b := NewBridge(&out, strings.NewReader("hello world"))
	b.PollInterval = time.Millisecond

	stop := make(chan struct{})
	go b.Run(stop)
	defer close(stop)

	got := b.RequestStdin(5)
	if string(got) != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
	if b.Control.Command() != CmdIdle {
		t.Errorf("control word should return to idle, got %v", b.Control.Command())
	}
}

func TestBridgeNetworkRPCRoundTrip(t *testing.T) {
	var out bytes.Buffer
	b := NewBridge(&out, strings.NewReader(""))
	b.PollInterval = time.Millisecond
	b.Dial = func(f *NetworkFrame) {
		f.Result = 7
		f.Payload = []byte("reply")
	}

	stop := make(chan struct{})
	go b.Run(stop)
	defer close(stop)

	result, errno, payload := b.RequestNetworkRPC(NetOpConnect, 3, [4]uint64{1, 2, 3, 4}, nil)
	if result != 7 || errno != 0 || string(payload) != "reply" {
		t.Errorf("got result=%d errno=%d payload=%q", result, errno, payload)
	}
}

func TestBridgeNetworkRPCDefaultsToENOSYS(t *testing.T) {
	var out bytes.Buffer
	b := NewBridge(&out, strings.NewReader(""))
	b.PollInterval = time.Millisecond

	stop := make(chan struct{})
	go b.Run(stop)
	defer close(stop)

	result, errno, _ := b.RequestNetworkRPC(NetOpSocketCreate, -1, [4]uint64{}, nil)
	if result != -1 || errno != 38 {
		t.Errorf("got result=%d errno=%d, want -1/38 (ENOSYS)", result, errno)
	}
}

func TestBridgeWriteStdoutFlushesToTerm(t *testing.T) {
	var out bytes.Buffer
	b := NewBridge(&out, strings.NewReader(""))
	b.PollInterval = time.Millisecond

	stop := make(chan struct{})
	go b.Run(stop)

	b.WriteStdout([]byte("pay"))
	b.WriteStdout([]byte("load"))

	deadline := time.Now().Add(time.Second)
	for out.Len() < 7 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(stop)

	if out.String() != "payload" {
		t.Errorf("got %q, want %q", out.String(), "payload")
	}
}
