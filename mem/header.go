// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mem

import (
	"math"
	"unsafe"
)

// Guard sentinel values.
const (
	// AllocatedMagic marks a block as currently live.
	AllocatedMagic uint32 = 0xDEADC0DE
	// FreedMagic marks a block immediately after release.
	FreedMagic uint32 = 0xFEEDFACE
)

// noNeighbor marks a block with no previous/next physical neighbor
// (the first block's Prev, the last block's Next).
const noNeighbor uint32 = math.MaxUint32

// blockHeader is overlaid directly onto the heap arena via
// unsafe.Pointer. Every field is a plain integer — no field here is
// ever a Go pointer — so the header is safe to address with
// unsafe.Pointer without confusing the garbage collector about what
// the underlying []byte arena contains.
//
// Fields are ordered largest-alignment-first; see headerSize in
// heap.go for the padded, 8-byte-aligned size actually reserved.
type blockHeader struct {
	Guard    uint32 // AllocatedMagic or FreedMagic
	Size     uint32 // payload size in bytes, a multiple of 8
	Used     uint32 // 1 if allocated, 0 if free (redundant with Guard, kept per data model)
	Prev     uint32 // offset of previous physical block's header, or noNeighbor
	Next     uint32 // offset of next physical block's header, or noNeighbor
	ID       uint32 // monotonically increasing allocation id, retained after free
	ProvLine uint32 // provenance line number
	ProvFile uint16 // index into the heap's interned file-name table
}

const rawHeaderSize = unsafe.Sizeof(blockHeader{})

// headerAt overlays a *blockHeader at the given byte offset into arena.
func headerAt(arena []byte, offset uint32) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(&arena[offset]))
}

func (b *blockHeader) isFree() bool   { return b.Guard == FreedMagic }
func (b *blockHeader) isLive() bool   { return b.Guard == AllocatedMagic }
func (b *blockHeader) hasPrev() bool  { return b.Prev != noNeighbor }
func (b *blockHeader) hasNext() bool  { return b.Next != noNeighbor }
