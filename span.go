/* This program is free software. It comes without any warranty, to
 * the extent permitted by applicable law. You can redistribute it
 * and/or modify it under the terms of the Do What The Fuck You Want
 * To Public License, Version 2, as published by Sam Hocevar. See
 * http://sam.zoy.org/wtfpl/COPYING for more details. */

package spanheap

import (
	"unsafe"

	"github.com/pkg/errors"
)

// blkcount is packed into the low spanCountBits bits of a span's size word.
// Every span size is a multiple of the system page size (never smaller than
// 4096 = 2^12), so those bits are always free for a span's own size encoding
// - the same bit-packing idiom the spec already mandates for block flags.
// See DESIGN.md's "Open Question resolutions" for the full rationale.
const (
	spanCountBits uint64 = 12
	spanCountMask uint64 = 1<<spanCountBits - 1
)

// spanHeader is cast directly onto a span's backing memory. Its four
// pointer-width fields total exactly spanHdrPadSz (32) bytes; blkcount rides
// along in size's low bits rather than taking a fifth field.
type spanHeader struct {
	sizeAndCount uint64
	prev         *spanHeader
	next         *spanHeader
	freeList     *blockHeader
}

//go:inline
func (s *spanHeader) addr() uintptr {
	return uintptr(unsafe.Pointer(s))
}

//go:inline
func (s *spanHeader) size() int64 {
	return int64(s.sizeAndCount &^ spanCountMask)
}

func (s *spanHeader) setSize(sz int64) {
	if sz&int64(spanCountMask) != 0 {
		panic(corruptf("span size %d is not aligned to the blkcount packing width", sz))
	}
	s.sizeAndCount = uint64(sz) | (s.sizeAndCount & spanCountMask)
}

//go:inline
func (s *spanHeader) blkcount() int64 {
	return int64(s.sizeAndCount & spanCountMask)
}

func (s *spanHeader) incBlkcount() {
	c := s.blkcount() + 1
	if uint64(c) > spanCountMask {
		panic(corruptf("span %#x exceeded the %d-block packing limit", s.addr(), spanCountMask))
	}
	s.sizeAndCount = (s.sizeAndCount &^ spanCountMask) | uint64(c)
}

func (s *spanHeader) decBlkcount() {
	c := s.blkcount()
	if c == 0 {
		panic(corruptf("span %#x blkcount underflow", s.addr()))
	}
	s.sizeAndCount = (s.sizeAndCount &^ spanCountMask) | uint64(c-1)
}

// firstBlock returns a pointer to the first block header after the span
// header, considering padding.
func (s *spanHeader) firstBlock() *blockHeader {
	return (*blockHeader)(unsafe.Pointer(s.addr() + uintptr(spanHdrPadSz)))
}

// spanList is the process-wide (or, here, per-Heap) doubly-linked registry
// of live spans, head-first, plus the "keep one idle span" retention policy.
type spanList struct {
	head  *spanHeader
	count int
}

// spanAlloc requests a new span able to serve a block of gross bytes: compute
// the mapping size, call the page provider, and initialize one all-covering
// free block.
func (h *Heap) spanAlloc(gross int64) *spanHeader {
	pageSize := int64(h.pageSize())
	req := gross + int64(spanHdrPadSz)
	if req < MinMapSize {
		req = MinMapSize
	}
	req = alignUp(req, pageSize)

	addr, err := h.provider.Map(int(req))
	if err != nil {
		h.lastMapErr = err
		return nil
	}

	sp := (*spanHeader)(unsafe.Pointer(addr))
	sp.sizeAndCount = 0
	sp.setSize(req)
	sp.prev = nil
	sp.next = h.spans.head
	if h.spans.head != nil {
		h.spans.head.prev = sp
	}
	h.spans.head = sp
	h.spans.count++

	b := sp.firstBlock()
	b.sizeWord = 0
	b.setBlksize(req - int64(spanHdrPadSz))
	b.setInUse(false)
	b.setPrevInUse(true)
	b.owner = sp
	b.prev = nil
	b.next = nil
	b.magic = magicFresh
	b.writeFooter()

	sp.freeList = b

	return sp
}

// spanFree splices sp out of the span list and hands its pages back to the
// page provider. After this call sp must not be touched again.
func (h *Heap) spanFree(sp *spanHeader) {
	h.spans.count--

	if sp.prev != nil {
		sp.prev.next = sp.next
	} else {
		h.spans.head = sp.next
	}
	if sp.next != nil {
		sp.next.prev = sp.prev
	}

	sz := sp.size()
	if err := h.provider.Unmap(sp.addr(), int(sz)); err != nil {
		panic(errors.Wrap(err, "spanheap: munmap of a live span failed"))
	}
}
