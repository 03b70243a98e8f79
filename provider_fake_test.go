package spanheap

import (
	"unsafe"
)

// fakePageSize matches the common 4096-byte system page. MinMapSize already
// forces a 64KiB floor on every span regardless of page size, so this mostly
// just lets tests assert page-size-dependent rounding with a predictable
// number.
const fakePageSize = 4096

// fakeProvider backs a *Heap with plain Go-managed memory instead of real
// mmap/munmap syscalls, so the bulk of the test suite runs fast and
// deterministically. It still hands out pointers the allocator treats as
// opaque OS memory: nothing about block.go/span.go/heap.go knows or cares
// that the bytes happen to live in a Go slice instead of a raw mmap'd page.
type fakeProvider struct {
	regions map[uintptr][]byte
	mapped  int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{regions: make(map[uintptr][]byte)}
}

func (p *fakeProvider) PageSize() int { return fakePageSize }

func (p *fakeProvider) Map(n int) (uintptr, error) {
	buf := make([]byte, n)
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	p.regions[addr] = buf
	p.mapped++
	return addr, nil
}

func (p *fakeProvider) Unmap(addr uintptr, n int) error {
	buf, ok := p.regions[addr]
	if !ok {
		panic(corruptf("fakeProvider.Unmap: unknown region %#x", addr))
	}
	if len(buf) != n {
		panic(corruptf("fakeProvider.Unmap: size mismatch for %#x: have %d want %d", addr, len(buf), n))
	}
	delete(p.regions, addr)
	p.mapped--
	return nil
}
