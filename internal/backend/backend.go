// Package backend defines the slower backing store that the flush
// engine writes reclaimed pages back to — the collaborator spec.md §1
// calls the "backing store" (the disk swap file, the zram device, the
// network block target, depending on deployment).
package backend

// SlotResult tells the flush engine whether the slot it asked for was
// already occupied by another writer.
type SlotResult int

const (
	// SlotFresh means the caller now owns an empty page to fill and
	// submit.
	SlotFresh SlotResult = iota
	// SlotAlreadyPresent means some other path already persisted this
	// offset; the caller must abandon its victim without writing.
	SlotAlreadyPresent
)

// Page is a backing-store slot ready to receive decompressed bytes.
type Page struct {
	StoreID uint32
	Offset  uint64
	Bytes   []byte
}

// SlotAllocator reserves a backing-store slot for (storeID, offset).
// Implementations must be safe for concurrent use from multiple flush
// attempts.
type SlotAllocator interface {
	Acquire(storeID uint32, offset uint64) (SlotResult, Page, error)
}

// Writer accepts a filled Page for asynchronous writeback. completion
// is called exactly once, with a non-nil error only if the write
// ultimately failed; the flush engine does not retry on Writer's
// behalf.
type Writer interface {
	Submit(page Page, completion func(error))
}
