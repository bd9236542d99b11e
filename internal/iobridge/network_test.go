package iobridge

import "testing"

func TestNetworkFrameSetError(t *testing.T) {
	f := &NetworkFrame{Result: 0}
	f.SetError(38) // ENOSYS
	if f.Result != -1 {
		t.Errorf("got result=%d, want -1", f.Result)
	}
	if f.Errno() != 38 {
		t.Errorf("got errno=%d, want 38", f.Errno())
	}
}

func TestNetworkOpCodesMatchSpecNumbering(t *testing.T) {
	cases := map[int]uint32{
		NetOpSocketCreate: 1, NetOpConnect: 2, NetOpBind: 3, NetOpListen: 4,
		NetOpAccept: 5, NetOpSend: 6, NetOpRecv: 7, NetOpClose: 8,
		NetOpHasData: 9, NetOpHasPendingAccept: 10, NetOpSetsockopt: 11,
		NetOpGetsockopt: 12, NetOpShutdown: 13,
	}
	for op, want := range cases {
		if uint32(op) != want {
			t.Errorf("op code mismatch: got %d, want %d", op, want)
		}
	}
}
