// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ipc_test

import (
	"sync"
	"testing"

	"code.hybscloud.com/tradekernel/ipc"
	"code.hybscloud.com/tradekernel/kerr"
)

func TestRing_CapacityRoundsUpToPowerOfTwo(t *testing.T) {
	cases := map[uint32]uint32{1: 2, 2: 2, 3: 4, 5: 8, 1000: 1024, 1024: 1024}
	for in, want := range cases {
		r := ipc.NewRing(in, 8)
		if r.Capacity() != want {
			t.Errorf("NewRing(%d, 8).Capacity() = %d, want %d", in, r.Capacity(), want)
		}
	}
}

func TestRing_PushPopPreservesOrder(t *testing.T) {
	r := ipc.NewRing(4, 4)
	for i := byte(0); i < 3; i++ {
		if err := r.Push([]byte{i, i, i, i}); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}
	for i := byte(0); i < 3; i++ {
		out := make([]byte, 4)
		if err := r.Pop(out); err != nil {
			t.Fatalf("Pop() #%d: %v", i, err)
		}
		if out[0] != i {
			t.Errorf("Pop() #%d = %v, want all %d", i, out, i)
		}
	}
}

func TestRing_PushFullReturnsWouldBlock(t *testing.T) {
	r := ipc.NewRing(2, 1) // rounds to capacity 2, one usable slot free at a time
	if err := r.Push([]byte{1}); err != nil {
		t.Fatalf("first Push: %v", err)
	}
	err := r.Push([]byte{2})
	if !kerr.Is(err, kerr.WouldBlock) {
		t.Fatalf("Push on full ring: got %v, want WouldBlock", err)
	}
}

func TestRing_PopEmptyReturnsWouldBlock(t *testing.T) {
	r := ipc.NewRing(4, 1)
	if err := r.Pop(make([]byte, 1)); !kerr.Is(err, kerr.WouldBlock) {
		t.Fatalf("Pop on empty ring: got %v, want WouldBlock", err)
	}
}

func TestRing_Count(t *testing.T) {
	r := ipc.NewRing(8, 2)
	if r.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", r.Count())
	}
	for i := 0; i < 3; i++ {
		if err := r.Push([]byte{1, 2}); err != nil {
			t.Fatalf("Push #%d: %v", i, err)
		}
	}
	if r.Count() != 3 {
		t.Errorf("Count() = %d, want 3", r.Count())
	}
}

func TestRing_SPSCConcurrentProducerConsumer(t *testing.T) {
	const n = 10000
	r := ipc.NewRing(64, 8)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := uint64(0); i < n; i++ {
			buf := make([]byte, 8)
			for b := 0; b < 8; b++ {
				buf[b] = byte(i >> (8 * b))
			}
			r.PushWait(buf)
		}
	}()

	var sum uint64
	go func() {
		defer wg.Done()
		for i := uint64(0); i < n; i++ {
			buf := make([]byte, 8)
			r.PopWait(buf)
			var v uint64
			for b := 0; b < 8; b++ {
				v |= uint64(buf[b]) << (8 * b)
			}
			sum += v
		}
	}()

	wg.Wait()

	var want uint64
	for i := uint64(0); i < n; i++ {
		want += i
	}
	if sum != want {
		t.Errorf("sum of popped values = %d, want %d", sum, want)
	}
}
