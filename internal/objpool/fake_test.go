package objpool

import (
	"errors"
	"sync"
)

// fakeAllocator is an in-memory stand-in for the opaque slab allocator
// spec.md §1 lists as an external collaborator. One page-frame per
// pageSize bytes (rounded up), matching a zbud/zsmalloc-style allocator
// closely enough for admission-gate testing.
type fakeAllocator struct {
	mu       sync.Mutex
	pageSize int
	objects  map[int][]byte
	next     int
}

func newFakeAllocator(pageSize int) *fakeAllocator {
	return &fakeAllocator{pageSize: pageSize, objects: make(map[int][]byte)}
}

func (f *fakeAllocator) Allocate(byteLen int) (Handle, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pages := (byteLen + f.pageSize - 1) / f.pageSize
	if pages == 0 {
		pages = 1
	}
	f.next++
	id := f.next
	f.objects[id] = make([]byte, byteLen)
	return id, pages, nil
}

func (f *fakeAllocator) MapRead(h Handle) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf, ok := f.objects[h.(int)]
	if !ok {
		return nil, errors.New("fakeAllocator: unknown handle")
	}
	return buf, nil
}

func (f *fakeAllocator) MapWrite(h Handle) ([]byte, error) {
	return f.MapRead(h)
}

func (f *fakeAllocator) Unmap(Handle) {}

func (f *fakeAllocator) Free(h Handle) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf, ok := f.objects[h.(int)]
	if !ok {
		return 0
	}
	pages := (len(buf) + f.pageSize - 1) / f.pageSize
	if pages == 0 {
		pages = 1
	}
	delete(f.objects, h.(int))
	return pages
}
