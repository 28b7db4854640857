// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package mem implements the kernel heap allocator (best-fit,
// splitting, boundary-tag coalescing, guarded headers, provenance) and
// the fixed-block memory pool built on top of it.
package mem

import (
	"fmt"
	"sync"
	"unsafe"

	"code.hybscloud.com/tradekernel/console"
	"code.hybscloud.com/tradekernel/kerr"
)

// headerSize is rawHeaderSize rounded up to an 8-byte multiple, so
// every payload that follows a header also starts on an 8-byte
// boundary.
const headerSize = uint32((rawHeaderSize + 7) &^ 7)

// maxAllocationRecords bounds the allocation side table.
const maxAllocationRecords = 1024

// splitSlack is the minimum payload the remainder must keep, beyond its
// own header, before alloc bothers splitting a block: a split happens
// only when the leftover is at least headerSize + splitSlack bytes.
const splitSlack = 16

// Record is a side-table entry: the allocator's record of one live
// allocation, independent of the (GC-opaque) header fields.
type Record struct {
	Offset      uint32
	Size        uint32
	Provenance  Provenance
	ID          uint32
	CreatedTick uint64
}

// Stats are the heap's live counters and gauges.
type Stats struct {
	TotalAllocations  uint64
	FailedAllocations uint64
	TotalFrees        uint64
	CoalesceEvents    uint64
	DoubleFrees       uint64
	CorruptionEvents  uint64

	UsedBytes        uint32
	FreeBytes        uint32
	LargestFreeBlock uint32
}

// FragmentationRatio is largest_free * 100 / total_free, or 0 if there
// is no free space at all.
func (s Stats) FragmentationRatio() uint32 {
	if s.FreeBytes == 0 {
		return 0
	}
	return s.LargestFreeBlock * 100 / s.FreeBytes
}

// Heap is a single contiguous best-fit arena with debug guard words.
// It is safe for concurrent use: tradekernel tasks run on real
// goroutines (see sched's Design Note), so the single critical section
// the original single-CPU kernel would protect by disabling
// preemption is protected here by an ordinary mutex instead.
type Heap struct {
	mu sync.Mutex

	arena []byte
	files *fileTable

	records map[uint32]Record // keyed by allocation ID
	nextID  uint32

	tickSource func() uint64
	log        *console.Logger

	stats Stats
}

// New creates a Heap of the given size in bytes, all of it initially
// one free block. size is rounded down to a multiple of 8.
func New(size uint32, tickSource func() uint64, log *console.Logger) *Heap {
	size &^= 7
	if size < headerSize+8 {
		size = headerSize + 8
	}
	h := &Heap{
		arena:      make([]byte, size),
		files:      newFileTable(),
		records:    make(map[uint32]Record),
		tickSource: tickSource,
		log:        console.Or(log),
	}
	root := headerAt(h.arena, 0)
	*root = blockHeader{
		Guard: FreedMagic,
		Size:  size - headerSize,
		Prev:  noNeighbor,
		Next:  noNeighbor,
	}
	h.stats.FreeBytes = root.Size
	h.stats.LargestFreeBlock = root.Size
	return h
}

// Size returns the total arena size in bytes, including header overhead.
func (h *Heap) Size() uint32 { return uint32(len(h.arena)) }

func (h *Heap) now() uint64 {
	if h.tickSource == nil {
		return 0
	}
	return h.tickSource()
}

func round8(size uint32) uint32 {
	r := (size + 7) &^ 7
	if r == 0 {
		r = 8
	}
	return r
}

// Alloc serves a variable-size allocation using best fit, splitting
// the chosen block when the remainder would be worth keeping. It
// returns a slice over the live payload region of the arena; the
// slice must later be passed to Free, unmodified in address (it may
// be re-sliced, but element 0 must still be the allocation start).
func (h *Heap) Alloc(size uint32, prov Provenance) ([]byte, error) {
	want := round8(size)

	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.records) >= maxAllocationRecords {
		h.stats.FailedAllocations++
		return nil, kerr.New(kerr.OutOfMemory, "allocation side table full (%d entries)", maxAllocationRecords)
	}

	bestOff, bestHdr := h.findBestFit(want)
	if bestHdr == nil {
		h.stats.FailedAllocations++
		return nil, kerr.New(kerr.OutOfMemory, "no free block >= %d bytes", want)
	}

	if bestHdr.Size >= want+headerSize+splitSlack {
		h.splitBlock(bestOff, bestHdr, want)
	}

	id := h.nextID
	h.nextID++

	bestHdr.Guard = AllocatedMagic
	bestHdr.Used = 1
	bestHdr.ID = id
	bestHdr.ProvLine = uint32(prov.Line)
	bestHdr.ProvFile = h.files.intern(prov.File)

	payloadOff := bestOff + headerSize
	payload := h.arena[payloadOff : payloadOff+bestHdr.Size : payloadOff+bestHdr.Size]

	h.records[id] = Record{
		Offset:      payloadOff,
		Size:        bestHdr.Size,
		Provenance:  prov,
		ID:          id,
		CreatedTick: h.now(),
	}

	h.stats.TotalAllocations++
	h.stats.UsedBytes += bestHdr.Size
	h.stats.FreeBytes -= bestHdr.Size
	h.recomputeLargestFreeLocked()

	return payload, nil
}

// findBestFit scans the physical block chain for the smallest free
// block able to satisfy want, ties broken by first encountered.
func (h *Heap) findBestFit(want uint32) (offset uint32, hdr *blockHeader) {
	var bestOff uint32
	var best *blockHeader
	for off := uint32(0); ; {
		b := headerAt(h.arena, off)
		if b.isFree() && b.Size >= want {
			if best == nil || b.Size < best.Size {
				bestOff, best = off, b
			}
		}
		if !b.hasNext() {
			break
		}
		off = b.Next
	}
	return bestOff, best
}

// splitBlock carves a want-byte payload off the front of the block at
// offset, inserting a new free block header for the remainder.
func (h *Heap) splitBlock(offset uint32, hdr *blockHeader, want uint32) {
	remainder := hdr.Size - want - headerSize
	newOff := offset + headerSize + want

	newHdr := headerAt(h.arena, newOff)
	*newHdr = blockHeader{
		Guard: FreedMagic,
		Size:  remainder,
		Prev:  offset,
		Next:  hdr.Next,
	}
	if newHdr.hasNext() {
		headerAt(h.arena, newHdr.Next).Prev = newOff
	}
	hdr.Next = newOff
	hdr.Size = want
	// The remainder's header itself comes out of what used to be free
	// payload, so it no longer counts as free space.
	h.stats.FreeBytes -= headerSize
}

// Free releases ptr, which must be a slice previously returned by
// Alloc, Calloc, or Realloc on this Heap. A nil/empty slice is
// rejected silently. Integrity violations (corruption, double free)
// are reported to the console and the call returns without mutating
// the heap.
func (h *Heap) Free(ptr []byte, prov Provenance) error {
	if len(ptr) == 0 {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	offset, ok := h.offsetOf(ptr)
	if !ok {
		h.stats.CorruptionEvents++
		h.log.Err().Str("reason", "pointer not in heap arena").Log("heap: free rejected")
		return kerr.New(kerr.HeapCorruption, "pointer does not belong to this heap")
	}
	headerOff := offset - headerSize
	hdr := headerAt(h.arena, headerOff)

	switch {
	case hdr.isFree():
		h.stats.DoubleFrees++
		h.log.Err().
			Uint64("id", uint64(hdr.ID)).
			Str("allocated_at", fmt.Sprintf("%s:%d", h.files.name(hdr.ProvFile), hdr.ProvLine)).
			Str("freed_at", fmt.Sprintf("%s:%d", prov.File, prov.Line)).
			Log("heap: double free")
		return kerr.Of(kerr.DoubleFree)
	case !hdr.isLive():
		h.stats.CorruptionEvents++
		h.log.Err().Uint64("guard", uint64(hdr.Guard)).Log("heap: corrupt block guard")
		return kerr.Of(kerr.HeapCorruption)
	}

	size := hdr.Size
	delete(h.records, hdr.ID)

	hdr.Guard = FreedMagic
	hdr.Used = 0
	scrub(h.arena[offset : offset+size])

	h.stats.TotalFrees++
	h.stats.UsedBytes -= size
	h.stats.FreeBytes += size

	h.coalesce(headerOff)
	h.recomputeLargestFreeLocked()

	return nil
}

// scrubPattern overwrites freed payloads.
const scrubPattern = 0xDD

func scrub(b []byte) {
	for i := range b {
		b[i] = scrubPattern
	}
}

// offsetOf returns ptr's payload offset into the arena, or false if
// ptr is not backed by this heap's arena at all (gross corruption).
func (h *Heap) offsetOf(ptr []byte) (uint32, bool) {
	base := uintptr(unsafe.Pointer(&h.arena[0]))
	p := uintptr(unsafe.Pointer(&ptr[0]))
	if p < base || p >= base+uintptr(len(h.arena)) {
		return 0, false
	}
	return uint32(p - base), true
}

// coalesce merges the free block at headerOff with its next neighbor,
// then its previous neighbor.
func (h *Heap) coalesce(headerOff uint32) {
	hdr := headerAt(h.arena, headerOff)

	if hdr.hasNext() {
		next := headerAt(h.arena, hdr.Next)
		if next.isFree() {
			hdr.Size += headerSize + next.Size
			hdr.Next = next.Next
			if hdr.hasNext() {
				headerAt(h.arena, hdr.Next).Prev = headerOff
			}
			// next's header is absorbed into the merged free block's payload.
			h.stats.FreeBytes += headerSize
			h.stats.CoalesceEvents++
		}
	}

	if hdr.hasPrev() {
		prevOff := hdr.Prev
		prev := headerAt(h.arena, prevOff)
		if prev.isFree() {
			prev.Size += headerSize + hdr.Size
			prev.Next = hdr.Next
			if prev.hasNext() {
				headerAt(h.arena, prev.Next).Prev = prevOff
			}
			// hdr's header is absorbed into the merged free block's payload.
			h.stats.FreeBytes += headerSize
			h.stats.CoalesceEvents++
		}
	}
}

func (h *Heap) recomputeLargestFreeLocked() {
	var largest uint32
	for off := uint32(0); ; {
		b := headerAt(h.arena, off)
		if b.isFree() && b.Size > largest {
			largest = b.Size
		}
		if !b.hasNext() {
			break
		}
		off = b.Next
	}
	h.stats.LargestFreeBlock = largest
}

// Calloc allocates n*sz bytes, zero-filled, detecting n*sz overflow
// via the identity (n*sz)/n == sz.
func (h *Heap) Calloc(n, sz uint32, prov Provenance) ([]byte, error) {
	if n == 0 || sz == 0 {
		return h.Alloc(0, prov)
	}
	total := n * sz
	if total/n != sz {
		return nil, kerr.New(kerr.InvalidArgument, "calloc overflow: %d * %d", n, sz)
	}
	p, err := h.Alloc(total, prov)
	if err != nil {
		return nil, err
	}
	for i := range p {
		p[i] = 0
	}
	return p, nil
}

// Realloc resizes ptr to newSize. If the existing block already
// accommodates newSize, ptr is returned unchanged (re-sliced);
// otherwise a new block is allocated, the overlapping prefix copied,
// and the old block freed.
func (h *Heap) Realloc(ptr []byte, newSize uint32, prov Provenance) ([]byte, error) {
	if ptr == nil {
		return h.Alloc(newSize, prov)
	}

	h.mu.Lock()
	offset, ok := h.offsetOf(ptr)
	if !ok {
		h.mu.Unlock()
		return nil, kerr.Of(kerr.HeapCorruption)
	}
	hdr := headerAt(h.arena, offset-headerSize)
	curSize := hdr.Size
	h.mu.Unlock()

	want := round8(newSize)
	if want <= curSize {
		return h.arena[offset : offset+want : offset+want], nil
	}

	newPtr, err := h.Alloc(newSize, prov)
	if err != nil {
		return nil, err
	}
	n := curSize
	if want < n {
		n = want
	}
	copy(newPtr, ptr[:n])
	_ = h.Free(ptr, prov)
	return newPtr, nil
}

// IntegrityCheck walks every block in address order and verifies
// guard words and neighbor linkage. It returns true if the heap is
// structurally sound. Violations are reported to the console; this
// never attempts repair and never mutates the heap.
func (h *Heap) IntegrityCheck() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	ok := true
	var prevOff uint32 = noNeighbor
	for off := uint32(0); ; {
		b := headerAt(h.arena, off)
		if !b.isFree() && !b.isLive() {
			h.log.Crit().Uint64("offset", uint64(off)).Uint64("guard", uint64(b.Guard)).Log("heap: bad guard word")
			ok = false
		}
		if b.Prev != prevOff {
			h.log.Crit().Uint64("offset", uint64(off)).Log("heap: broken neighbor linkage")
			ok = false
		}
		prevOff = off
		if !b.hasNext() {
			break
		}
		off = b.Next
	}
	return ok
}

// LeakScan reports every still-live allocation record to the console
// and returns them. It does not mutate the heap.
func (h *Heap) LeakScan() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()

	leaks := make([]Record, 0, len(h.records))
	for _, r := range h.records {
		leaks = append(leaks, r)
	}
	for _, r := range leaks {
		h.log.Warning().
			Uint64("id", uint64(r.ID)).
			Uint64("size", uint64(r.Size)).
			Str("at", fmt.Sprintf("%s:%d", r.Provenance.File, r.Provenance.Line)).
			Log("heap: leaked allocation")
	}
	return leaks
}

// StatsSnapshot returns a snapshot of the heap's live counters and gauges.
func (h *Heap) StatsSnapshot() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// Report renders the statistics snapshot as a human-readable string,
// the shape the diagnostic shell (out of scope here) would print,
// mirroring the original's memory_manager.cpp debug dump.
func (h *Heap) Report() string {
	s := h.StatsSnapshot()
	return fmt.Sprintf(
		"heap: size=%d used=%d free=%d largest_free=%d frag=%d%% allocs=%d fails=%d frees=%d coalesces=%d double_frees=%d corruptions=%d",
		len(h.arena), s.UsedBytes, s.FreeBytes, s.LargestFreeBlock, s.FragmentationRatio(),
		s.TotalAllocations, s.FailedAllocations, s.TotalFrees, s.CoalesceEvents, s.DoubleFrees, s.CorruptionEvents,
	)
}
