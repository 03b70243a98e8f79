/* This program is free software. It comes without any warranty, to
 * the extent permitted by applicable law. You can redistribute it
 * and/or modify it under the terms of the Do What The Fuck You Want
 * To Public License, Version 2, as published by Sam Hocevar. See
 * http://sam.zoy.org/wtfpl/COPYING for more details. */

package spanheap

import "unsafe"

// split carves an in-use tail of gross bytes off the high end of the free
// block b, leaving b on the free list as a smaller free block. Precondition:
// b is free and b.blksize() > gross.
func split(b *blockHeader, gross int64) *blockHeader {
	b.assertFree()
	if b.blksize() <= gross {
		panic(corruptf("split: block %#x (%d bytes) too small to split off %d", b.addr(), b.blksize(), gross))
	}

	tailAddr := b.addr() + uintptr(b.blksize()-gross)
	assertAligned(tailAddr, Alignment)
	spanEnd := b.owner.addr() + uintptr(b.owner.size())
	if tailAddr+uintptr(gross) > spanEnd {
		panic(corruptf("split: tail block at %#x would overrun span ending at %#x", tailAddr, spanEnd))
	}

	b.setBlksize(b.blksize() - gross)
	b.writeFooter()

	tail := (*blockHeader)(unsafe.Pointer(tailAddr))
	tail.sizeWord = 0
	tail.setBlksize(gross)
	tail.setInUse(true)
	tail.setPrevInUse(false) // b, the remainder, is free
	tail.owner = b.owner
	tail.prev = nil
	tail.next = nil
	tail.magic = magicSpent

	return tail
}

// coalescePair merges b into a, where a immediately precedes b and both are
// free. b is removed from the free list and ceases to exist as a block; a
// grows to cover the combined space.
func coalescePair(a, b *blockHeader) {
	sever(b)
	a.setBlksize(a.blksize() + b.blksize())
	a.writeFooter()
}

// coalesce merges a newly-freed block with its physically-adjacent free
// neighbors, in both directions, and returns the surviving block (which may
// be a predecessor of b, if one was merged backward into).
func coalesce(b *blockHeader) *blockHeader {
	if next := b.blknextadj(); next != nil && next.blkisfree() {
		coalescePair(b, next)
	}

	if b.blkisprevfree() {
		prev := b.blkprevadj()
		if prev != nil {
			coalescePair(prev, b)
			return prev
		}
	}

	return b
}
