// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mem

import (
	"math/bits"
	"sync"
	"unsafe"

	"code.hybscloud.com/tradekernel/kerr"
)

// elemOffset returns the byte distance from base to elem, or -1 if
// elem lies before base (the only case Pool.Free needs to reject
// cheaply; an offset past the end of the slab is caught by the
// blockCount bounds check in the caller).
func elemOffset(base, elem *byte) int64 {
	d := int64(uintptr(unsafe.Pointer(elem)) - uintptr(unsafe.Pointer(base)))
	if d < 0 {
		return -1
	}
	return d
}

// Pool is a fixed-block allocator: O(1) allocation and release of
// uniform-size records, backed by a single slab and a free bitmap
// obtained from a Heap. The free bitmap is scanned under a lock rather
// than manipulated lock-free: O(1) amortized behavior is the
// requirement here, not wait-freedom, so contention is handled by the
// mutex directly and there is no CAS-retry loop to back off.
type Pool struct {
	mu sync.Mutex

	heap       heapOwner
	blockSize  uint32
	blockCount uint32

	slab   []byte
	bitmap []byte // one bit per block; 1 = free

	freeCount uint32
}

// heapOwner is the minimal surface Pool needs from a Heap, so Pool can
// be unit tested against a fake without dragging in a whole Heap.
type heapOwner interface {
	Alloc(size uint32, prov Provenance) ([]byte, error)
	Free(ptr []byte, prov Provenance) error
}

// NewPool creates a Pool of blockCount blocks, each blockSize bytes
// (rounded up to 8). The slab and bitmap are both obtained from heap;
// if either allocation fails, whatever was already obtained is rolled
// back before returning the error.
func NewPool(heap *Heap, blockSize, blockCount uint32) (*Pool, error) {
	return newPool(heap, blockSize, blockCount)
}

func newPool(heap heapOwner, blockSize, blockCount uint32) (*Pool, error) {
	if blockCount == 0 {
		return nil, kerr.New(kerr.InvalidArgument, "block count must be > 0")
	}
	blockSize = round8(blockSize)

	prov := Here()
	slab, err := heap.Alloc(blockSize*blockCount, prov)
	if err != nil {
		return nil, err
	}

	bitmapBytes := (blockCount + 7) / 8
	bitmap, err := heap.Alloc(bitmapBytes, prov)
	if err != nil {
		_ = heap.Free(slab, prov) // roll back the slab
		return nil, err
	}
	for i := range bitmap {
		bitmap[i] = 0xFF
	}
	// clear any trailing bits beyond blockCount in the last byte
	if rem := blockCount % 8; rem != 0 {
		mask := byte(1<<rem) - 1
		bitmap[len(bitmap)-1] &= mask
	}

	p := &Pool{
		heap:       heap,
		blockSize:  blockSize,
		blockCount: blockCount,
		slab:       slab,
		bitmap:     bitmap,
		freeCount:  blockCount,
	}
	return p, nil
}

// BlockSize returns the rounded per-block size.
func (p *Pool) BlockSize() uint32 { return p.blockSize }

// BlockCount returns the total number of blocks.
func (p *Pool) BlockCount() uint32 { return p.blockCount }

// FreeCount returns the number of currently unallocated blocks.
func (p *Pool) FreeCount() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freeCount
}

// Alloc returns a pointer to a free block, or nil with an OutOfMemory
// kerr error if none remain.
func (p *Pool) Alloc() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.freeCount == 0 {
		return nil, kerr.Of(kerr.OutOfMemory)
	}

	for byteIdx, b := range p.bitmap {
		if b == 0 {
			continue
		}
		bit := bits.TrailingZeros8(b)
		index := uint32(byteIdx)*8 + uint32(bit)
		if index >= p.blockCount {
			continue
		}
		p.bitmap[byteIdx] &^= 1 << uint(bit)
		p.freeCount--
		start := index * p.blockSize
		return p.slab[start : start+p.blockSize : start+p.blockSize], nil
	}
	return nil, kerr.Of(kerr.OutOfMemory)
}

// Free returns ptr to the pool. ptr must be a block previously
// returned by Alloc on this Pool; an offset that is not block-aligned
// or out of range is rejected.
func (p *Pool) Free(ptr []byte) error {
	if len(ptr) == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	base := &p.slab[0]
	off := elemOffset(base, &ptr[0])
	if off < 0 {
		return kerr.Of(kerr.InvalidArgument)
	}
	offset := uint32(off)
	if offset%p.blockSize != 0 {
		return kerr.New(kerr.InvalidArgument, "pointer is not block-aligned")
	}
	index := offset / p.blockSize
	if index >= p.blockCount {
		return kerr.New(kerr.InvalidArgument, "block index %d out of range", index)
	}

	byteIdx, bit := index/8, index%8
	if p.bitmap[byteIdx]&(1<<bit) != 0 {
		return kerr.New(kerr.InvalidArgument, "block %d already free", index)
	}
	p.bitmap[byteIdx] |= 1 << bit
	p.freeCount++
	for i := range ptr {
		ptr[i] = 0
	}
	return nil
}

// Destroy releases the pool's bitmap and slab back to the heap.
func (p *Pool) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	prov := Here()
	if err := p.heap.Free(p.bitmap, prov); err != nil {
		return err
	}
	return p.heap.Free(p.slab, prov)
}
