/* This program is free software. It comes without any warranty, to
 * the extent permitted by applicable law. You can redistribute it
 * and/or modify it under the terms of the Do What The Fuck You Want
 * To Public License, Version 2, as published by Sam Hocevar. See
 * http://sam.zoy.org/wtfpl/COPYING for more details. */

// Package spanheap implements a single-threaded general-purpose heap
// allocator serving the classical four-operation contract (allocate, free,
// zero-initialized allocate, resize) on top of anonymous pages mapped from
// the operating system. Every returned payload address is aligned to 16
// bytes.
//
// IMPORTANT: This package is NOT goroutine-safe. Concurrent access to the
// same *Heap (including the package-default heap used by the Allocate/Free/
// ZeroAlloc/Resize functions) from more than one goroutine is undefined. It
// is the caller's responsibility to synchronize access if used concurrently.
package spanheap

import (
	"unsafe"

	"github.com/pkg/errors"
)

// Heap owns everything the spec frames as process-wide singleton state: the
// span-list head, the span count, and the cached page size. Bundling these
// into a handle (rather than true package globals) is the alternative the
// spec's own design notes suggest for languages that want to avoid globals;
// the package-level functions below simply forward to one default instance
// so the public surface still reads exactly like the classical malloc/free/
// calloc/realloc shim contract.
type Heap struct {
	provider   PageProvider
	spans      spanList
	pageSizeOK bool
	cachedPage int64
	lastMapErr error
}

// New creates a Heap backed by the given PageProvider. Most callers should
// use the package-level Allocate/Free/ZeroAlloc/Resize functions instead,
// which operate on a shared default Heap backed by real OS pages; New is for
// tests and for embedding more than one independent heap in the same
// process.
func New(provider PageProvider) *Heap {
	return &Heap{provider: requireProvider(provider)}
}

func (h *Heap) pageSize() int64 {
	if !h.pageSizeOK {
		h.cachedPage = int64(h.provider.PageSize())
		h.pageSizeOK = true
	}
	return h.cachedPage
}

// LastMapError returns the most recent error the page provider reported
// while trying to grow the heap, or nil if the heap has never failed to map
// memory. This is diagnostic only: no public operation requires checking it,
// and a nil return from Allocate/Resize for a non-zero size is sufficient to
// know an OS-level failure occurred.
func (h *Heap) LastMapError() error {
	return h.lastMapErr
}

// SpanCount returns the number of spans currently mapped. Exposed for tests
// and diagnostics; not part of the spec's four-operation contract.
func (h *Heap) SpanCount() int {
	return h.spans.count
}

// Owns reports whether p is a payload pointer whose derived block header
// lies within one of this heap's live spans. This is the portable hook
// SPEC_FULL.md §6 describes for a hypothetical symbol-interposition shim
// that needs to forward "foreign" pointers (ones this allocator never
// issued) to some other allocator's free.
func (h *Heap) Owns(p unsafe.Pointer) bool {
	if p == nil {
		return false
	}
	addr := uintptr(p) - uintptr(blockHdrPadSz)
	for sp := h.spans.head; sp != nil; sp = sp.next {
		base := sp.addr()
		if addr >= base && addr < base+uintptr(sp.size()) {
			return true
		}
	}
	return false
}

// Close unmaps every span still held by the heap, including the retained
// idle span. The heap is left empty and ready to allocate fresh spans again
// if used afterward; this is useful for tests and for embedding a Heap
// inside a larger program's own shutdown path. It is not part of the
// distilled spec's four operations — the spec describes the allocator as
// never needing to give back its last span on its own, but a host program
// reclaiming all memory on exit is a reasonable addition.
func (h *Heap) Close() {
	for sp := h.spans.head; sp != nil; {
		next := sp.next
		h.spanFree(sp)
		sp = next
	}
}

// Allocate is the malloc-shaped entry: return a pointer to at least n fresh,
// unzeroed bytes, or nil if n is zero or the OS failed to provide more
// memory.
func (h *Heap) Allocate(n int) unsafe.Pointer {
	if n < 0 {
		panic(corruptf("Allocate: negative size %d", n))
	}
	if n == 0 {
		return nil
	}

	gross := grossSize(int64(n))

	b := h.find(gross)
	if b == nil {
		sp := h.spanAlloc(gross)
		if sp == nil {
			return nil
		}
		b = sp.freeList
	}

	used := blkAlloc(gross, b)
	return used.blkpayload()
}

// Free is the free-shaped entry: release a payload previously returned by
// Allocate/ZeroAlloc/Resize. p == nil is a no-op.
func (h *Heap) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}

	b := plblk(p)
	if !h.Owns(p) {
		panic(corruptf("Free: %#x is not a payload this heap issued", uintptr(p)))
	}

	owner := b.owner
	blkFree(b)

	if owner.blkcount() == 0 && h.spans.count > retainedSpans {
		h.spanFree(owner)
		return
	}

	merged := coalesce(b)
	merged.poison()
}

// ZeroAlloc is the calloc-shaped entry: allocate room for count objects of
// size bytes each and zero the returned payload. Per SPEC_FULL.md §4.7 /
// DESIGN.md's Open Question ledger, an overflowing count*size returns nil
// rather than allocating a too-small region.
func (h *Heap) ZeroAlloc(count, size int) unsafe.Pointer {
	if count < 0 || size < 0 {
		panic(corruptf("ZeroAlloc: negative count=%d size=%d", count, size))
	}

	bytes, ok := mulOverflows(count, size)
	if !ok {
		return nil
	}

	p := h.Allocate(bytes)
	if p == nil {
		return nil
	}

	b := plblk(p)
	payloadLen := int(b.blksize()) - int(blockHdrPadSz)
	clear := unsafe.Slice((*byte)(p), payloadLen)
	for i := range clear {
		clear[i] = 0
	}
	return p
}

// mulOverflows computes count*size as a non-negative int, reporting false if
// the product would overflow.
func mulOverflows(count, size int) (int, bool) {
	if count == 0 || size == 0 {
		return 0, true
	}
	product := count * size
	if product/count != size {
		return 0, false
	}
	return product, true
}

// Resize is the realloc-shaped entry: see SPEC_FULL.md §4.7 for the full
// truncate/extend/move decision tree.
func (h *Heap) Resize(p unsafe.Pointer, n int) unsafe.Pointer {
	if p == nil {
		return h.Allocate(n)
	}
	if n < 0 {
		panic(corruptf("Resize: negative size %d", n))
	}

	b := plblk(p)
	if !h.Owns(p) {
		panic(corruptf("Resize: %#x is not a payload this heap issued", uintptr(p)))
	}
	b.assertInUse()

	gross := grossSize(int64(n))
	cur := b.blksize()

	if gross == cur {
		return p
	}
	if n == 0 || gross < cur {
		return h.truncate(b, gross)
	}
	return h.extend(b, gross, n)
}

// truncate implements SPEC_FULL.md §4.7.1.
func (h *Heap) truncate(b *blockHeader, gross int64) unsafe.Pointer {
	cur := b.blksize()
	remainder := cur - gross

	if gross < MinBlockSize || remainder < MinBlockSize {
		return b.blkpayload()
	}

	b.setBlksize(gross)

	tailAddr := b.addr() + uintptr(gross)
	tail := (*blockHeader)(unsafe.Pointer(tailAddr))
	tail.sizeWord = 0
	tail.setBlksize(remainder)
	tail.setInUse(false)
	tail.setPrevInUse(true) // b (truncated) is still in use
	tail.owner = b.owner
	tail.prev = nil
	tail.next = nil
	tail.magic = magicFresh
	tail.writeFooter()
	prepend(tail)

	if next := tail.blknextadj(); next != nil {
		next.setPrevInUse(false)
	}

	coalesce(tail)

	return b.blkpayload()
}

// extend implements SPEC_FULL.md §4.7.2.
func (h *Heap) extend(b *blockHeader, gross int64, n int) unsafe.Pointer {
	cur := b.blksize()
	deficit := gross - cur

	next := b.blknextadj()
	if next != nil && next.blkisfree() && next.blksize() >= deficit {
		leftover := cur + next.blksize() - gross

		if leftover < MinBlockSize {
			sever(next)
			b.setBlksize(cur + next.blksize())
			if after := b.blknextadj(); after != nil {
				after.setPrevInUse(true)
			}
			return b.blkpayload()
		}

		sever(next)
		b.setBlksize(gross)

		leftoverAddr := b.addr() + uintptr(gross)
		lb := (*blockHeader)(unsafe.Pointer(leftoverAddr))
		lb.sizeWord = 0
		lb.setBlksize(leftover)
		lb.setInUse(false)
		lb.setPrevInUse(true)
		lb.owner = b.owner
		lb.prev = nil
		lb.next = nil
		lb.magic = magicFresh
		lb.writeFooter()
		prepend(lb)

		return b.blkpayload()
	}

	newP := h.Allocate(n)
	if newP == nil {
		return nil
	}

	oldPayload := unsafe.Slice((*byte)(b.blkpayload()), int(cur)-int(blockHdrPadSz))
	newPayload := unsafe.Slice((*byte)(newP), int(cur)-int(blockHdrPadSz))
	copy(newPayload, oldPayload)

	h.Free(b.blkpayload())

	return newP
}

var errNilProvider = errors.New("spanheap: nil PageProvider")

func requireProvider(p PageProvider) PageProvider {
	if p == nil {
		panic(errNilProvider)
	}
	return p
}

// defaultHeap is the process-wide heap the package-level functions operate
// on, matching the spec's framing of the span-list head/span count/page
// size as process-wide singletons.
var defaultHeap = New(newOSProvider())

// Allocate forwards to the package-default Heap. See Heap.Allocate.
func Allocate(n int) unsafe.Pointer { return defaultHeap.Allocate(n) }

// Free forwards to the package-default Heap. See Heap.Free.
func Free(p unsafe.Pointer) { defaultHeap.Free(p) }

// ZeroAlloc forwards to the package-default Heap. See Heap.ZeroAlloc.
func ZeroAlloc(count, size int) unsafe.Pointer { return defaultHeap.ZeroAlloc(count, size) }

// Resize forwards to the package-default Heap. See Heap.Resize.
func Resize(p unsafe.Pointer, n int) unsafe.Pointer { return defaultHeap.Resize(p, n) }
