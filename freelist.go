/* This program is free software. It comes without any warranty, to
 * the extent permitted by applicable law. You can redistribute it
 * and/or modify it under the terms of the Do What The Fuck You Want
 * To Public License, Version 2, as published by Sam Hocevar. See
 * http://sam.zoy.org/wtfpl/COPYING for more details. */

package spanheap

// prepend inserts a free block at the head of its owner's free list.
func prepend(b *blockHeader) {
	sp := b.owner
	b.prev = nil
	b.next = sp.freeList
	if sp.freeList != nil {
		sp.freeList.prev = b
	}
	sp.freeList = b
}

// sever removes a block from its owner's free list.
func sever(b *blockHeader) {
	sp := b.owner
	if b.prev != nil {
		b.prev.next = b.next
	} else {
		sp.freeList = b.next
	}
	if b.next != nil {
		b.next.prev = b.prev
	}
	b.prev = nil
	b.next = nil
}

// find performs a first-fit search for a free block of at least gross bytes:
// outer loop over spans in list order, inner loop over each span's free list
// in list order.
func (h *Heap) find(gross int64) *blockHeader {
	for sp := h.spans.head; sp != nil; sp = sp.next {
		for b := sp.freeList; b != nil; b = b.next {
			if b.blksize() >= gross {
				return b
			}
		}
	}
	return nil
}

// blkAlloc serves gross bytes out of the free block b, splitting it when the
// remainder would be large enough to stay useful, or handing out the whole
// block otherwise.
func blkAlloc(gross int64, b *blockHeader) *blockHeader {
	b.assertFree()
	if b.blksize() < gross {
		panic(corruptf("blkAlloc: block %#x (%d bytes) is smaller than requested %d", b.addr(), b.blksize(), gross))
	}

	var used *blockHeader
	if b.blksize()-gross < MinBlockSize {
		sever(b)
		used = b
		used.setInUse(true)
		used.magic = magicSpent
	} else {
		used = split(b, gross)
	}

	used.owner.incBlkcount()

	if next := used.blknextadj(); next != nil {
		next.setPrevInUse(true)
	}

	return used
}

// blkFree reverts an in-use block to free, prepends it to its owner's free
// list, and fixes the physically-next block's PREV_IN_USE bit. Coalescing
// (if any) is the caller's responsibility (see Heap.Free).
func blkFree(b *blockHeader) {
	b.assertInUse()

	sp := b.owner
	sp.decBlkcount()

	b.setInUse(false)
	// PREV_IN_USE is left untouched: it already reflects the state of the
	// physically-previous block and freeing b does not change that.
	b.magic = magicFresh
	b.writeFooter()
	prepend(b)

	if next := b.blknextadj(); next != nil {
		next.setPrevInUse(false)
	}
}
