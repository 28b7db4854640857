// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ipc_test

import (
	"testing"

	"code.hybscloud.com/tradekernel/ipc"
	"code.hybscloud.com/tradekernel/kerr"
)

func TestRegistry_QueueGetCreatesAndReuses(t *testing.T) {
	r := ipc.NewRegistry(0)

	id1, err := r.QueueGet(42, 1, ipc.Create)
	if err != nil {
		t.Fatalf("QueueGet(create): %v", err)
	}
	id2, err := r.QueueGet(42, 1, 0)
	if err != nil {
		t.Fatalf("QueueGet(lookup): %v", err)
	}
	if id1 != id2 {
		t.Errorf("QueueGet returned different ids for the same key: %d != %d", id1, id2)
	}
}

func TestRegistry_QueueGetWithoutCreateFails(t *testing.T) {
	r := ipc.NewRegistry(0)
	if _, err := r.QueueGet(7, 1, 0); !kerr.Is(err, kerr.NotFound) {
		t.Errorf("QueueGet(no create, unknown key): got %v, want NotFound", err)
	}
}

func TestRegistry_SendReceiveOrdersByTypeThenFIFO(t *testing.T) {
	r := ipc.NewRegistry(0)
	id, err := r.QueueGet(1, 1, ipc.Create)
	if err != nil {
		t.Fatalf("QueueGet: %v", err)
	}

	if err := r.Send(id, 1, 5, []byte("a"), 0, 1, ipc.NoWait, nil); err != nil {
		t.Fatalf("Send a: %v", err)
	}
	if err := r.Send(id, 1, 9, []byte("b"), 0, 2, ipc.NoWait, nil); err != nil {
		t.Fatalf("Send b: %v", err)
	}
	if err := r.Send(id, 1, 5, []byte("c"), 0, 3, ipc.NoWait, nil); err != nil {
		t.Fatalf("Send c: %v", err)
	}

	m, err := r.Receive(id, 5, ipc.NoWait, nil)
	if err != nil {
		t.Fatalf("Receive(type=5): %v", err)
	}
	if string(m.Payload) != "a" {
		t.Errorf("first type-5 receive = %q, want %q", m.Payload, "a")
	}

	m, err = r.Receive(id, 0, ipc.NoWait, nil)
	if err != nil {
		t.Fatalf("Receive(type=any): %v", err)
	}
	if string(m.Payload) != "b" {
		t.Errorf("receive(any) = %q, want %q", m.Payload, "b")
	}

	m, err = r.Receive(id, 5, ipc.NoWait, nil)
	if err != nil {
		t.Fatalf("Receive(type=5) #2: %v", err)
	}
	if string(m.Payload) != "c" {
		t.Errorf("second type-5 receive = %q, want %q", m.Payload, "c")
	}
}

func TestRegistry_ReceiveEmptyNoWaitFails(t *testing.T) {
	r := ipc.NewRegistry(0)
	id, err := r.QueueGet(2, 1, ipc.Create)
	if err != nil {
		t.Fatalf("QueueGet: %v", err)
	}
	if _, err := r.Receive(id, 0, ipc.NoWait, nil); !kerr.Is(err, kerr.QueueEmpty) {
		t.Errorf("Receive on empty queue: got %v, want QueueEmpty", err)
	}
}

func TestRegistry_SendFullNoWaitFails(t *testing.T) {
	r := ipc.NewRegistry(2)
	id, err := r.QueueGet(3, 1, ipc.Create)
	if err != nil {
		t.Fatalf("QueueGet: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := r.Send(id, 1, 1, []byte("x"), 0, uint64(i), ipc.NoWait, nil); err != nil {
			t.Fatalf("Send #%d: %v", i, err)
		}
	}
	if err := r.Send(id, 1, 1, []byte("x"), 0, 2, ipc.NoWait, nil); !kerr.Is(err, kerr.QueueFull) {
		t.Errorf("Send on full queue: got %v, want QueueFull", err)
	}
}

func TestRegistry_SendRejectsOversizedMessage(t *testing.T) {
	r := ipc.NewRegistry(0)
	id, err := r.QueueGet(4, 1, ipc.Create)
	if err != nil {
		t.Fatalf("QueueGet: %v", err)
	}
	big := make([]byte, ipc.MaxMessageSize+1)
	if err := r.Send(id, 1, 1, big, 0, 0, ipc.NoWait, nil); !kerr.Is(err, kerr.InvalidArgument) {
		t.Errorf("Send(oversized): got %v, want InvalidArgument", err)
	}
}

func TestRegistry_QueueCtlRemove(t *testing.T) {
	r := ipc.NewRegistry(0)
	id, err := r.QueueGet(5, 1, ipc.Create)
	if err != nil {
		t.Fatalf("QueueGet: %v", err)
	}
	if err := r.QueueCtl(id, ipc.CtlRemove); err != nil {
		t.Fatalf("QueueCtl(remove): %v", err)
	}
	if _, err := r.Receive(id, 0, ipc.NoWait, nil); !kerr.Is(err, kerr.NotFound) {
		t.Errorf("Receive after remove: got %v, want NotFound", err)
	}
}
