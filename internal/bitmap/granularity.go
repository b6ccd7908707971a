package bitmap

import "github.com/vireheap/vire-gc/internal/header"

// Granularity selects the alignment a SpaceBitmap tracks bits at. Rather
// than the source's compile-time duplication of a bitmap type per
// granularity, SpaceBitmap is generic over a Granularity type parameter —
// a zero-sized marker type whose Align method supplies the constant.
type Granularity interface {
	// Align returns the number of bytes each tracked bit covers.
	Align() uintptr
}

// ObjectGranularity tracks bits at MinAllocation (16-byte) granularity, used
// for object-start and object-mark bitmaps.
type ObjectGranularity struct{}

func (ObjectGranularity) Align() uintptr { return header.MinAllocation }

// LineSize is the alignment, in bytes, of a line in a region-based space.
const LineSize = 256

// LineGranularity tracks bits at line granularity, coarser than individual
// objects, for region-level occupancy metadata.
type LineGranularity struct{}

func (LineGranularity) Align() uintptr { return LineSize }

// ChunkSize is the alignment, in bytes, of a chunk (a group of lines).
const ChunkSize = 32 * 1024

// ChunkGranularity tracks bits at chunk granularity.
type ChunkGranularity struct{}

func (ChunkGranularity) Align() uintptr { return ChunkSize }
