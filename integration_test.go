package spanheap

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOSProviderRoundTrip exercises the public façade against real
// mmap/munmap syscalls instead of the in-memory fake. Skipped under -short
// since it touches actual OS virtual memory.
func TestOSProviderRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping real mmap/munmap round trip in -short mode")
	}

	h := New(newOSProvider())
	defer h.Close()

	p := h.Allocate(1024)
	require.NotNil(t, p)
	assert.Zero(t, uintptr(p)%Alignment)

	buf := unsafe.Slice((*byte)(p), 1024)
	for i := range buf {
		buf[i] = byte(i)
	}

	grown := h.Resize(p, 8192)
	require.NotNil(t, grown)
	newBuf := unsafe.Slice((*byte)(grown), 1024)
	for i := range newBuf {
		assert.Equal(t, byte(i), newBuf[i])
	}

	h.Free(grown)
	assert.Equal(t, 1, h.SpanCount(), "the sole span must be retained")
}
