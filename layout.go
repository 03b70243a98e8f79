/* This program is free software. It comes without any warranty, to
 * the extent permitted by applicable law. You can redistribute it
 * and/or modify it under the terms of the Do What The Fuck You Want
 * To Public License, Version 2, as published by Sam Hocevar. See
 * http://sam.zoy.org/wtfpl/COPYING for more details. */

package spanheap

import (
	"unsafe"

	"golang.org/x/exp/constraints"
)

// Fixed layout constants. MinMapSize and MinBlockSize are required by the
// boundary-tag scheme below: a block must be able to hold its own header
// plus, once freed, an 8-byte footer, and a span must be large enough to be
// worth a syscall.
const (
	Alignment    = 16
	MinMapSize   = 64 * 1024
	MinBlockSize = 64

	magicFresh uint32 = 0xbebebebe // block is free
	magicSpent uint32 = 0xdededede // block is in use

	freePoison byte = 0xAE

	retainedSpans = 1
)

// spanHdrPadSz and blockHdrPadSz are derived, not hand-picked: each is the
// size of its header struct rounded up to Alignment, the same way the
// original C program computes SPAN_HDR_PADSZ/BLOCK_HDR_PADSZ from
// sizeof(struct ...).
var (
	spanHdrPadSz  = alignUp(int64(unsafe.Sizeof(spanHeader{})), Alignment)
	blockHdrPadSz = alignUp(int64(unsafe.Sizeof(blockHeader{})), Alignment)
)

func init() {
	if spanHdrPadSz != 32 {
		panic("spanheap: span header padded size drifted from 32 bytes")
	}
	if blockHdrPadSz != 48 {
		panic("spanheap: block header padded size drifted from 48 bytes")
	}
	if MinMapSize&(MinMapSize-1) != 0 {
		panic("spanheap: MinMapSize must be a power of two")
	}
}

// alignUp rounds n up to the next multiple of a, where a is a power of two.
//
//go:inline
func alignUp[T constraints.Integer](n, a T) T {
	return (n + a - 1) &^ (a - 1)
}

// alignDown rounds n down to the previous multiple of a, where a is a power
// of two.
//
//go:inline
func alignDown[T constraints.Integer](n, a T) T {
	return n &^ (a - 1)
}

// isAligned reports whether n is a multiple of a.
//
//go:inline
func isAligned[T constraints.Integer](n, a T) bool {
	return n&(a-1) == 0
}

func assertAligned(x uintptr, a uintptr) {
	if !isAligned(x, a) {
		panic(corruptf("address %#x is not aligned to %d bytes", x, a))
	}
}

// grossSize computes the total byte size of a block (header included) needed
// to serve a user request of n bytes, never less than MinBlockSize.
func grossSize(n int64) int64 {
	g := int64(blockHdrPadSz) + alignUp(n, Alignment)
	if g < MinBlockSize {
		g = MinBlockSize
	}
	return g
}
