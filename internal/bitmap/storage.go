package bitmap

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// bytesToWords reinterprets an mmap'd byte region as a []uint64 without a
// copy. The region is page-aligned by mmap, so it is always 8-byte aligned.
func bytesToWords(b []byte) []uint64 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*uint64)(unsafe.Pointer(&b[0])), len(b)/wordBytes)
}

// wordBits is the number of bits tracked by a single storage word.
const wordBits = 64

// wordBytes is the size, in bytes, of a single storage word.
const wordBytes = 8

// storage owns the []uint64 backing a bitmap and knows how to release it.
// mmapStorage and ownedStorage are the two concrete implementations: mmap
// for large bitmaps that should not pressure the Go heap or GC scanner,
// plain slices for small or short-lived ones (tests, small regions).
type storage interface {
	words() []uint64
	release() error
}

// ownedStorage backs a bitmap with a regular Go slice.
type ownedStorage struct {
	buf []uint64
}

func newOwnedStorage(wordCount int) *ownedStorage {
	return &ownedStorage{buf: make([]uint64, wordCount)}
}

func (s *ownedStorage) words() []uint64 { return s.buf }
func (s *ownedStorage) release() error  { s.buf = nil; return nil }

// mmapStorage backs a bitmap with an anonymous mmap region, so the
// bitmap's memory lives outside the Go allocator and is never scanned by
// Go's own garbage collector. This mirrors how a real collector keeps its
// own bookkeeping memory off to the side of the heap it manages.
type mmapStorage struct {
	region []byte
	buf    []uint64
}

func newMmapStorage(wordCount int) (*mmapStorage, error) {
	size := wordCount * wordBytes
	if size == 0 {
		size = unix.Getpagesize()
	}
	// Round up to a whole number of pages, as mmap requires.
	pageSize := unix.Getpagesize()
	size = ((size + pageSize - 1) / pageSize) * pageSize

	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("bitmap: mmap %d bytes: %w", size, err)
	}

	s := &mmapStorage{region: region}
	s.buf = bytesToWords(region)[:wordCount]
	return s, nil
}

func (s *mmapStorage) words() []uint64 { return s.buf }

func (s *mmapStorage) release() error {
	if s.region == nil {
		return nil
	}
	err := unix.Munmap(s.region)
	s.region = nil
	s.buf = nil
	return err
}
