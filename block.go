/* This program is free software. It comes without any warranty, to
 * the extent permitted by applicable law. You can redistribute it
 * and/or modify it under the terms of the Do What The Fuck You Want
 * To Public License, Version 2, as published by Sam Hocevar. See
 * http://sam.zoy.org/wtfpl/COPYING for more details. */

package spanheap

import "unsafe"

// Low two bits of a block's sizeWord. The gross size itself is always a
// multiple of 16, so these bits are never part of the size.
const (
	blkInUse     uint64 = 1 << 0
	blkPrevInUse uint64 = 1 << 1
	blkFlagMask  uint64 = blkInUse | blkPrevInUse
)

// blockHeader is cast directly onto a span's backing memory; its fields are
// the block header described by SPEC_FULL.md §3. prev/next are meaningful
// only while the block is free. Its size (40 bytes, before ALIGNMENT
// rounding) is what layout.go rounds up to the 48-byte blockHdrPadSz.
type blockHeader struct {
	sizeWord uint64 // gross size in the high bits, flags in the low two bits
	prev     *blockHeader
	next     *blockHeader
	owner    *spanHeader
	magic    uint32
}

//go:inline
func (b *blockHeader) addr() uintptr {
	return uintptr(unsafe.Pointer(b))
}

//go:inline
func (b *blockHeader) blksize() int64 {
	return int64(b.sizeWord &^ blkFlagMask)
}

func (b *blockHeader) setBlksize(sz int64) {
	if !isAligned(sz, int64(Alignment)) {
		panic(corruptf("block size %d is not 16-byte aligned", sz))
	}
	b.sizeWord = uint64(sz) | (b.sizeWord & blkFlagMask)
}

//go:inline
func (b *blockHeader) blkisfree() bool {
	return b.sizeWord&blkInUse == 0
}

//go:inline
func (b *blockHeader) blkisprevfree() bool {
	return b.sizeWord&blkPrevInUse == 0
}

func (b *blockHeader) setInUse(used bool) {
	if used {
		b.sizeWord |= blkInUse
	} else {
		b.sizeWord &^= blkInUse
	}
}

func (b *blockHeader) setPrevInUse(used bool) {
	if used {
		b.sizeWord |= blkPrevInUse
	} else {
		b.sizeWord &^= blkPrevInUse
	}
}

// blkfoot returns the address of the footer word written at the tail of a
// free block: the last 8 bytes of the block, at block+gross-8.
func (b *blockHeader) blkfoot() *uint64 {
	return (*uint64)(unsafe.Pointer(b.addr() + uintptr(b.blksize()) - 8))
}

// blkprevfoot returns the address where the previous physically-adjacent
// block's footer would live, at block-8. Only valid to read when
// blkisprevfree() is true.
func (b *blockHeader) blkprevfoot() *uint64 {
	return (*uint64)(unsafe.Pointer(b.addr() - 8))
}

// writeFooter refreshes the boundary tag for a free block.
func (b *blockHeader) writeFooter() {
	*b.blkfoot() = uint64(b.blksize())
}

// blkpayload returns the payload pointer for an in-use (or about-to-be-used)
// block: the header is always blockHdrPadSz bytes, payload follows
// immediately.
//
//go:inline
func (b *blockHeader) blkpayload() unsafe.Pointer {
	return unsafe.Pointer(b.addr() + uintptr(blockHdrPadSz))
}

// plblk recovers the owning block header from a payload pointer handed back
// to a caller.
//
//go:inline
func plblk(p unsafe.Pointer) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(uintptr(p) - uintptr(blockHdrPadSz)))
}

// blknextadj returns the block immediately following b in physical memory,
// or nil if b is the last block in its span (i.e. its end coincides with the
// end of the span).
func (b *blockHeader) blknextadj() *blockHeader {
	sp := b.owner
	end := sp.addr() + uintptr(sp.size())
	next := b.addr() + uintptr(b.blksize())
	if next >= end {
		return nil
	}
	return (*blockHeader)(unsafe.Pointer(next))
}

// blkprevadj returns the block immediately preceding b in physical memory,
// using the boundary tag, or nil if b is the first block in its span or the
// previous block is in use (and therefore has no readable footer).
func (b *blockHeader) blkprevadj() *blockHeader {
	if !b.blkisprevfree() {
		return nil
	}
	footAddr := b.addr() - 8
	if footAddr < b.owner.addr()+uintptr(spanHdrPadSz) {
		panic(corruptf("prev-footer address %#x underflows span base", footAddr))
	}
	prevSize := *b.blkprevfoot()
	prevAddr := b.addr() - uintptr(prevSize)
	return (*blockHeader)(unsafe.Pointer(prevAddr))
}

func (b *blockHeader) assertInUse() {
	if b.blkisfree() {
		panic(corruptf("block %#x is not in use (double free?)", b.addr()))
	}
	if b.magic != magicSpent {
		panic(corruptf("block %#x has bad magic %#x, expected MAGIC_SPENT", b.addr(), b.magic))
	}
}

func (b *blockHeader) assertFree() {
	if !b.blkisfree() {
		panic(corruptf("block %#x is not free", b.addr()))
	}
	if b.magic != magicFresh {
		panic(corruptf("block %#x has bad magic %#x, expected MAGIC_BABY", b.addr(), b.magic))
	}
}

// poison overwrites a freed block's payload (excluding its footer) with a
// fixed byte so that use-after-free reads are visibly wrong in a debugger,
// mirroring the teacher corpus' debug-tag conventions.
func (b *blockHeader) poison() {
	sz := b.blksize()
	payload := unsafe.Slice((*byte)(b.blkpayload()), int(sz)-int(blockHdrPadSz)-8)
	for i := range payload {
		payload[i] = freePoison
	}
}
