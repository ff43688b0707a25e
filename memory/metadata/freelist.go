package metadata

import (
	"github.com/autoantwort/LLGL/memutils"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// FreeRange is a single contiguous run of unallocated bytes within a chunk.
type FreeRange struct {
	// Offset is the start of the range in bytes from the beginning of the chunk
	Offset int
	// Size is the length of the range in bytes
	Size int
}

// FreeListMetadata tracks the free space of a single chunk of device memory as an
// ordered-by-offset list of free ranges. Region placement is best-fit: among the
// free ranges that can hold a request at its alignment, the range that would be
// left with the least free space wins, with ties broken toward the lowest offset.
//
// The list is kept fully coalesced: no two free ranges are ever byte-adjacent.
// The union of all free ranges and all live regions exactly covers the chunk.
//
// Searches are linear scans over the range list. That is the right trade for the
// region counts this allocator sees (at most a few hundred live regions per
// chunk); tens of thousands of regions per chunk would want a structure with
// logarithmic insert and coalesce instead.
type FreeListMetadata struct {
	size        int
	sumFreeSize int
	regionCount int

	// Sorted by Offset, non-overlapping, never adjacent
	freeRanges []FreeRange
}

func NewFreeListMetadata() *FreeListMetadata {
	return &FreeListMetadata{}
}

// Init must be called before the metadata is used. It sizes the chunk in bytes and
// marks the entire byte range as a single free range.
func (m *FreeListMetadata) Init(size int) {
	m.size = size
	m.sumFreeSize = size
	m.regionCount = 0
	m.freeRanges = []FreeRange{{Offset: 0, Size: size}}
}

// Size retrieves the size in bytes that the chunk was initialized with
func (m *FreeListMetadata) Size() int { return m.size }

// SumFreeSize returns the number of free bytes in the chunk
func (m *FreeListMetadata) SumFreeSize() int { return m.sumFreeSize }

// RegionCount returns the number of live regions carved from the chunk
func (m *FreeListMetadata) RegionCount() int { return m.regionCount }

// FreeRangeCount returns the number of distinct free ranges in the chunk. Adjacent
// free ranges are always merged, so this is also the number of "holes" a new
// region could be placed into.
func (m *FreeListMetadata) FreeRangeCount() int { return len(m.freeRanges) }

// LargestFreeRange returns the size in bytes of the largest single free range, or
// 0 if the chunk is entirely allocated.
func (m *FreeListMetadata) LargestFreeRange() int {
	largest := 0
	for i := 0; i < len(m.freeRanges); i++ {
		if m.freeRanges[i].Size > largest {
			largest = m.freeRanges[i].Size
		}
	}

	return largest
}

// IsEmpty will return true if this chunk has no live regions
func (m *FreeListMetadata) IsEmpty() bool { return m.regionCount == 0 }

// MayHaveFreeRange is a fast check for whether the chunk could possibly place a
// region of the provided size. False positives are fine (the caller follows up
// with CreateAllocationRequest), false negatives are not.
func (m *FreeListMetadata) MayHaveFreeRange(size int) bool {
	return size+memutils.DebugMargin <= m.sumFreeSize
}

// CreateAllocationRequest finds the best-fit placement for a region of regionSize
// bytes at regionAlignment, without committing it. The first return is false if no
// free range can hold the request- the caller treats that as "try another chunk or
// grow". A returned request is committed with Alloc.
func (m *FreeListMetadata) CreateAllocationRequest(regionSize int, regionAlignment uint) (bool, AllocationRequest, error) {
	var request AllocationRequest

	if regionSize < 1 {
		return false, request, errors.Errorf("invalid regionSize: %d", regionSize)
	}
	memutils.DebugCheckPow2(regionAlignment, "regionAlignment")

	paddedSize := regionSize + memutils.DebugMargin

	if paddedSize > m.sumFreeSize {
		return false, request, nil
	}

	bestIndex := -1
	bestLeftover := 0
	bestOffset := 0

	for rangeIndex := 0; rangeIndex < len(m.freeRanges); rangeIndex++ {
		candidate := m.freeRanges[rangeIndex]

		alignedOffset := memutils.AlignUp(candidate.Offset, regionAlignment)
		padding := alignedOffset - candidate.Offset
		if candidate.Size < padding+paddedSize {
			continue
		}

		leftover := candidate.Size - paddedSize
		if bestIndex < 0 || leftover < bestLeftover {
			bestIndex = rangeIndex
			bestLeftover = leftover
			bestOffset = alignedOffset
		}
	}

	if bestIndex < 0 {
		return false, request, nil
	}

	request.Offset = bestOffset
	request.Size = paddedSize
	request.rangeIndex = bestIndex
	return true, request, nil
}

// Alloc commits an AllocationRequest, splitting the chosen free range around the
// new region. It returns an error if the request no longer matches the free list-
// i.e. the chosen range was changed or consumed since CreateAllocationRequest.
func (m *FreeListMetadata) Alloc(request AllocationRequest) error {
	if request.Size < 1 {
		return errors.Errorf("invalid allocation request size: %d", request.Size)
	}
	if request.rangeIndex < 0 || request.rangeIndex >= len(m.freeRanges) {
		return errors.Errorf("allocation request names free range %d, which does not exist", request.rangeIndex)
	}

	chosen := m.freeRanges[request.rangeIndex]
	if request.Offset < chosen.Offset || request.Offset+request.Size > chosen.Offset+chosen.Size {
		return errors.Errorf(
			"allocation request for [%d, %d) no longer fits free range [%d, %d)",
			request.Offset, request.Offset+request.Size,
			chosen.Offset, chosen.Offset+chosen.Size,
		)
	}

	before := FreeRange{Offset: chosen.Offset, Size: request.Offset - chosen.Offset}
	after := FreeRange{
		Offset: request.Offset + request.Size,
		Size:   chosen.Offset + chosen.Size - request.Offset - request.Size,
	}

	// Split the chosen range into 0, 1, or 2 leftovers, discarding empty ones
	switch {
	case before.Size > 0 && after.Size > 0:
		m.freeRanges[request.rangeIndex] = before
		m.freeRanges = slices.Insert(m.freeRanges, request.rangeIndex+1, after)
	case before.Size > 0:
		m.freeRanges[request.rangeIndex] = before
	case after.Size > 0:
		m.freeRanges[request.rangeIndex] = after
	default:
		m.freeRanges = slices.Delete(m.freeRanges, request.rangeIndex, request.rangeIndex+1)
	}

	m.sumFreeSize -= request.Size
	m.regionCount++
	return nil
}

// Free returns the region [offset, offset+size) to the free list, merging it with
// the preceding and following free ranges when byte-adjacent. size must be the
// size the region was allocated with. Freeing a range that is already free, or
// that lies outside the chunk, returns an error rather than corrupting the list-
// that is the chunk-level backstop against double-release.
func (m *FreeListMetadata) Free(offset, size int) error {
	if size < 1 {
		return errors.Errorf("invalid region size: %d", size)
	}

	paddedSize := size + memutils.DebugMargin
	if offset < 0 || offset+paddedSize > m.size {
		return errors.Errorf("region [%d, %d) lies outside this chunk's %d bytes", offset, offset+paddedSize, m.size)
	}
	if m.regionCount < 1 {
		return errors.Errorf("region [%d, %d) freed from a chunk with no live regions", offset, offset+paddedSize)
	}

	// Index of the first free range at or after the freed region
	nextIndex, _ := slices.BinarySearchFunc(m.freeRanges, offset, func(r FreeRange, target int) int {
		return r.Offset - target
	})

	mergePrev := false
	if nextIndex > 0 {
		prev := m.freeRanges[nextIndex-1]
		if prev.Offset+prev.Size > offset {
			return errors.Errorf(
				"region [%d, %d) overlaps free range [%d, %d)- it was already freed or never allocated",
				offset, offset+paddedSize, prev.Offset, prev.Offset+prev.Size,
			)
		}
		mergePrev = prev.Offset+prev.Size == offset
	}

	mergeNext := false
	if nextIndex < len(m.freeRanges) {
		next := m.freeRanges[nextIndex]
		if offset+paddedSize > next.Offset {
			return errors.Errorf(
				"region [%d, %d) overlaps free range [%d, %d)- it was already freed or never allocated",
				offset, offset+paddedSize, next.Offset, next.Offset+next.Size,
			)
		}
		mergeNext = offset+paddedSize == next.Offset
	}

	switch {
	case mergePrev && mergeNext:
		m.freeRanges[nextIndex-1].Size += paddedSize + m.freeRanges[nextIndex].Size
		m.freeRanges = slices.Delete(m.freeRanges, nextIndex, nextIndex+1)
	case mergePrev:
		m.freeRanges[nextIndex-1].Size += paddedSize
	case mergeNext:
		m.freeRanges[nextIndex].Offset = offset
		m.freeRanges[nextIndex].Size += paddedSize
	default:
		m.freeRanges = slices.Insert(m.freeRanges, nextIndex, FreeRange{Offset: offset, Size: paddedSize})
	}

	m.sumFreeSize += paddedSize
	m.regionCount--
	return nil
}

// Validate performs internal consistency checks on the free list. When the
// implementation is functioning correctly it should not be possible for this
// method to return an error.
func (m *FreeListMetadata) Validate() error {
	if m.size < 1 {
		return errors.Errorf("this chunk's metadata has an invalid size %d", m.size)
	}
	if m.regionCount < 0 {
		return errors.Errorf("this chunk has a negative region count %d", m.regionCount)
	}

	sumFree := 0
	previousEnd := -1
	for rangeIndex, freeRange := range m.freeRanges {
		if freeRange.Size < 1 {
			return errors.Errorf("free range at index %d has invalid size %d", rangeIndex, freeRange.Size)
		}
		if freeRange.Offset < 0 || freeRange.Offset+freeRange.Size > m.size {
			return errors.Errorf(
				"free range [%d, %d) at index %d lies outside this chunk's %d bytes",
				freeRange.Offset, freeRange.Offset+freeRange.Size, rangeIndex, m.size,
			)
		}
		if freeRange.Offset < previousEnd {
			return errors.Errorf("free range at index %d overlaps the range before it", rangeIndex)
		}
		if freeRange.Offset == previousEnd {
			return errors.Errorf("free range at index %d is adjacent to the range before it but was not coalesced", rangeIndex)
		}

		sumFree += freeRange.Size
		previousEnd = freeRange.Offset + freeRange.Size
	}

	if sumFree != m.sumFreeSize {
		return errors.Errorf("free ranges sum to %d bytes, but metadata indicates %d free bytes", sumFree, m.sumFreeSize)
	}
	if m.regionCount == 0 && m.sumFreeSize != m.size {
		return errors.Errorf("this chunk has no live regions, but only %d of %d bytes are free", m.sumFreeSize, m.size)
	}
	if m.regionCount > 0 && m.sumFreeSize == m.size {
		return errors.Errorf("this chunk claims %d live regions, but every byte is free", m.regionCount)
	}

	return nil
}

// VisitAllRanges calls the provided callback once for each free range and each
// allocated span in the chunk, in offset order. Adjacent live regions are visited
// as a single allocated span- the chunk does not track individual regions beyond
// its free-space accounting.
func (m *FreeListMetadata) VisitAllRanges(handleRange func(offset, size int, free bool) error) error {
	cursor := 0
	for _, freeRange := range m.freeRanges {
		if freeRange.Offset > cursor {
			err := handleRange(cursor, freeRange.Offset-cursor, false)
			if err != nil {
				return err
			}
		}

		err := handleRange(freeRange.Offset, freeRange.Size, true)
		if err != nil {
			return err
		}

		cursor = freeRange.Offset + freeRange.Size
	}

	if cursor < m.size {
		return handleRange(cursor, m.size-cursor, false)
	}

	return nil
}

// AddDetailedStatistics sums this chunk's allocation statistics into the statistics
// currently present in the provided memutils.DetailedStatistics object.
func (m *FreeListMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.ChunkCount++
	stats.ChunkBytes += m.size
	stats.RegionCount += m.regionCount
	stats.RegionBytes += m.size - m.sumFreeSize

	for _, freeRange := range m.freeRanges {
		stats.AddFreeRange(freeRange.Size)
	}
}

// AddStatistics sums this chunk's allocation statistics into the statistics
// currently present in the provided memutils.Statistics object.
func (m *FreeListMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.ChunkCount++
	stats.ChunkBytes += m.size
	stats.RegionCount += m.regionCount
	stats.RegionBytes += m.size - m.sumFreeSize
}

// ChunkJsonData populates a json object with information about this chunk
func (m *FreeListMetadata) ChunkJsonData(json jwriter.ObjectState) {
	json.Name("TotalBytes").Int(m.size)
	json.Name("UnusedBytes").Int(m.sumFreeSize)
	json.Name("Regions").Int(m.regionCount)
	json.Name("UnusedRanges").Int(len(m.freeRanges))
}
