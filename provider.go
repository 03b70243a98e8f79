package spanheap

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PageProvider is the page-granular virtual-memory primitive this allocator
// consumes. Map returns the base address of a fresh, zero-initialized,
// readable/writable region of exactly n bytes (n is always a multiple of the
// system page size); Unmap releases exactly the region returned by a prior
// Map call of the same size.
//
// This mirrors the shape of warawara28-tlsf-go's Arena interface: a narrow
// contract with one production implementation and one test double.
type PageProvider interface {
	Map(n int) (uintptr, error)
	Unmap(addr uintptr, n int) error
	PageSize() int
}

// osProvider backs spans with real anonymous, private pages via
// golang.org/x/sys/unix, the same three calls (mmap/munmap/getpagesize)
// other_examples/rclone-rclone__mmap_unix.go wraps for large-block
// allocation.
type osProvider struct {
	pageSizeOnce sync.Once
	pageSize     int
}

func newOSProvider() *osProvider {
	return &osProvider{}
}

func (p *osProvider) PageSize() int {
	p.pageSizeOnce.Do(func() {
		p.pageSize = unix.Getpagesize()
	})
	return p.pageSize
}

func (p *osProvider) Map(n int) (uintptr, error) {
	mem, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return 0, wrapMapErr(err, "mmap", n)
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(mem))), nil
}

func (p *osProvider) Unmap(addr uintptr, n int) error {
	mem := unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
	if err := unix.Munmap(mem); err != nil {
		return wrapMapErr(err, "munmap", n)
	}
	return nil
}
