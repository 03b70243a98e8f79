package spanheap

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHeap() *Heap {
	return New(newFakeProvider())
}

// TestBlkpayloadRoundTrip mirrors original_source/tests.c's blkpayload /
// block-from-payload round trip: plblk(b.blkpayload()) must recover b.
func TestBlkpayloadRoundTrip(t *testing.T) {
	h := newTestHeap()
	p := h.Allocate(100)
	require.NotNil(t, p)

	b := plblk(p)
	require.Equal(t, p, b.blkpayload())
	assert.Zero(t, uintptr(p)%Alignment, "payload must be 16-byte aligned")
}

// TestBlknextadjAcrossFreeListReordering mirrors tests.c's check that
// blknextadj is purely a function of physical address, unaffected by the
// order blocks land in the intra-span free list.
//
// Each allocation carves its block off the high end of the span's single
// free region, so physical address order (ascending) is: [free remainder]
// p4 p3 p2 p1. Freeing p1 then p3 (in that order, with p2/p4 still in use to
// block coalescing) makes the free list's order (p3, p1) diverge from
// physical order; blknextadj must still report true physical neighbors.
func TestBlknextadjAcrossFreeListReordering(t *testing.T) {
	h := newTestHeap()
	p1 := h.Allocate(64)
	p2 := h.Allocate(64)
	p3 := h.Allocate(64)
	_ = h.Allocate(64) // p4, keeps p3's lower neighbor in use

	b1, b2, b3 := plblk(p1), plblk(p2), plblk(p3)

	h.Free(p1)
	h.Free(p3)

	assert.Equal(t, b2, b3.blknextadj())
	assert.Equal(t, b1, b2.blknextadj())
	assert.Nil(t, b1.blknextadj(), "b1 abuts the span end")
}

// TestBlkfootBlkprevfootAddressing mirrors tests.c's direct boundary-tag
// address checks.
func TestBlkfootBlkprevfootAddressing(t *testing.T) {
	h := newTestHeap()
	p1 := h.Allocate(64)
	p2 := h.Allocate(64)
	b1, b2 := plblk(p1), plblk(p2)

	h.Free(p1)

	wantFoot := b1.addr() + uintptr(b1.blksize()) - 8
	assert.Equal(t, wantFoot, uintptr(unsafe.Pointer(b1.blkfoot())))

	// b2 was carved directly above the span's free remainder (b1 sits above
	// b2), so the word just below b2 is that remainder's footer.
	rem := h.spans.head.firstBlock()
	wantPrevFoot := b2.addr() - 8
	assert.Equal(t, wantPrevFoot, uintptr(unsafe.Pointer(b2.blkprevfoot())))
	assert.Equal(t, uint64(rem.blksize()), *b2.blkprevfoot())
}

// TestIsPrevFreeBitTransitions mirrors tests.c's walk through every
// PREV_IN_USE transition caused by a neighbor's alloc/free.
func TestIsPrevFreeBitTransitions(t *testing.T) {
	h := newTestHeap()
	p1 := h.Allocate(64)
	p2 := h.Allocate(64)
	b1 := plblk(p1)

	// p2 is carved directly below p1, so b2 is b1's physical predecessor.
	require.False(t, b1.blkisprevfree(), "b1 should see its predecessor as in-use right after allocation")

	h.Free(p2)
	assert.True(t, plblk(p1).blkisprevfree(), "b1's PREV_IN_USE should clear once its predecessor is freed")
}

func TestSplitProducesTwoIndependentlyAddressableBlocks(t *testing.T) {
	h := newTestHeap()
	sp := h.spanAlloc(grossSize(1000))
	require.NotNil(t, sp)
	free := sp.freeList

	gross := grossSize(64)
	used := split(free, gross)

	assert.Equal(t, gross, used.blksize())
	assert.False(t, used.blkisfree(), "split's tail should be marked in-use")
	assert.True(t, free.blkisfree(), "the remainder should still be free")
	assert.Equal(t, free.owner, used.owner, "split tail must share the same owning span")
}

func TestPoisonWritesFixedByte(t *testing.T) {
	h := newTestHeap()
	p := h.Allocate(128)

	payload := unsafe.Slice((*byte)(p), 128)
	for i := range payload {
		payload[i] = 0x42
	}

	h.Free(p)

	checkRegion := unsafe.Slice((*byte)(p), 64)
	for i, v := range checkRegion {
		assert.Equal(t, freePoison, v, "byte %d of the freed payload was not poisoned", i)
	}
}

func TestAssertInUsePanicsOnBadMagic(t *testing.T) {
	h := newTestHeap()
	p := h.Allocate(64)
	b := plblk(p)
	b.magic = 0xbad

	assert.Panics(t, func() { b.assertInUse() })
}
