// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ipc

import (
	"sync/atomic"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/tradekernel/internal"
	"code.hybscloud.com/tradekernel/kerr"
)

// nextPow2 rounds n up to the next power of two.
func nextPow2(n uint32) uint32 {
	if n < 2 {
		return 2
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

// Ring is a single-producer/single-consumer lock-free FIFO of
// fixed-size elements. Push and Pop are wait-free on the fast path:
// the producer publishes a written slot by storing the new tail only
// after the payload copy completes, and the consumer publishes a
// freed slot the same way after reading it out — the Lamport
// ring-buffer discipline, specialized to one producer and one
// consumer so no CAS is needed, only ordered loads/stores. head and
// tail are separated by a cache line of padding so the producer and
// consumer never invalidate each other's line on update.
type Ring struct {
	_ noCopy

	slab        []byte
	elementSize uint32
	capacity    uint32
	mask        uint32

	head atomic.Uint32 // consumer-owned
	_    [internal.CacheLineSize - 4]byte
	tail atomic.Uint32 // producer-owned
	_    [internal.CacheLineSize - 4]byte
}

// noCopy gives vet's copylocks check something to flag accidental
// Ring copies with.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// NewRing allocates a ring holding at least capacityRequest elements
// of elementSize bytes each, rounding capacity up to a power of two.
func NewRing(capacityRequest, elementSize uint32) *Ring {
	capacity := nextPow2(capacityRequest)
	return &Ring{
		slab:        make([]byte, uint64(capacity)*uint64(elementSize)),
		elementSize: elementSize,
		capacity:    capacity,
		mask:        capacity - 1,
	}
}

// Capacity returns the ring's power-of-two slot count.
func (r *Ring) Capacity() uint32 { return r.capacity }

// Push copies elem into the next slot and publishes it to the
// consumer, or returns a WouldBlock error if the ring is full. elem
// must be exactly elementSize bytes.
func (r *Ring) Push(elem []byte) error {
	if uint32(len(elem)) != r.elementSize {
		return kerr.New(kerr.InvalidArgument, "element size %d, want %d", len(elem), r.elementSize)
	}
	tail := r.tail.Load()
	head := r.head.Load() // acquire: must see every head publication up to now
	next := (tail + 1) & r.mask
	if next == head {
		return iox.ErrWouldBlock
	}
	off := uint64(tail) * uint64(r.elementSize)
	copy(r.slab[off:off+uint64(r.elementSize)], elem)
	r.tail.Store(next) // release: payload write must be visible before this
	return nil
}

// PushWait retries Push with adaptive backoff until it succeeds,
// waiting out external exhaustion with iox.Backoff rather than a
// hardware spin (there is no CAS contention to spin against here:
// Push has exactly one caller).
func (r *Ring) PushWait(elem []byte) {
	var bo iox.Backoff
	for {
		if err := r.Push(elem); err == nil {
			return
		}
		bo.Wait()
	}
}

// Pop copies the head slot into out and publishes the freed slot back
// to the producer, or returns a WouldBlock error if the ring is empty.
// out must be at least elementSize bytes.
func (r *Ring) Pop(out []byte) error {
	head := r.head.Load()
	tail := r.tail.Load() // acquire: must see every tail publication up to now
	if head == tail {
		return iox.ErrWouldBlock
	}
	off := uint64(head) * uint64(r.elementSize)
	copy(out, r.slab[off:off+uint64(r.elementSize)])
	r.head.Store((head + 1) & r.mask) // release: read must complete before this
	return nil
}

// PopWait is Pop's adaptive-backoff retry counterpart to PushWait.
func (r *Ring) PopWait(out []byte) {
	var bo iox.Backoff
	for {
		if err := r.Pop(out); err == nil {
			return
		}
		bo.Wait()
	}
}

// Count returns a best-effort, possibly stale occupancy:
// (tail - head) & mask.
func (r *Ring) Count() uint32 {
	tail := r.tail.Load()
	head := r.head.Load()
	return (tail - head) & r.mask
}
