package memory

import (
	"strconv"

	"github.com/autoantwort/LLGL/memutils"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// ChunkDetails describes the occupancy of a single chunk at the time QueryDetails
// was called.
type ChunkDetails struct {
	// ID is the chunk's stable identifier
	ID int
	// MemoryTypeIndex is the device memory type class the chunk was allocated from
	MemoryTypeIndex int
	// Capacity is the size in bytes of the chunk's native allocation
	Capacity int
	// FreeBytes is the number of unallocated bytes in the chunk
	FreeBytes int
	// LargestFreeRange is the size in bytes of the biggest contiguous hole- the
	// largest region the chunk could currently place at alignment 1
	LargestFreeRange int
	// Fragmentation is 1 - LargestFreeRange/FreeBytes: 0 when all free space is one
	// contiguous range, approaching 1 as free space shatters into slivers. It is 0
	// for a chunk with no free bytes.
	Fragmentation float64
}

// DeviceMemoryDetails is a point-in-time report over every chunk the manager
// owns. It is assembled under the same lock as Allocate and Release, so it is
// always a consistent snapshot.
type DeviceMemoryDetails struct {
	// Stats aggregates chunk and region counts and byte totals across the manager
	Stats memutils.Statistics
	// TotalFreeBytes is the number of allocated-but-unused bytes across all chunks
	TotalFreeBytes int
	// Chunks holds one entry per live chunk, ordered by memory type index and then
	// by the manager's internal scan order
	Chunks []ChunkDetails
}

// QueryDetails reports the memory usage of all chunks. It is intended for
// diagnostics- it walks every chunk's free list and does not belong on an
// allocation hot path.
//
// With no intervening Allocate or Release calls, repeated calls return identical
// reports.
func (m *DeviceMemoryManager) QueryDetails() DeviceMemoryDetails {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var details DeviceMemoryDetails
	details.Stats.Clear()

	for typeIndex := 0; typeIndex < len(m.memoryTypes); typeIndex++ {
		for _, liveChunk := range m.chunkLists[typeIndex] {
			liveChunk.metadata.AddStatistics(&details.Stats)

			freeBytes := liveChunk.metadata.SumFreeSize()
			largest := liveChunk.metadata.LargestFreeRange()

			fragmentation := 0.0
			if freeBytes > 0 {
				fragmentation = 1.0 - float64(largest)/float64(freeBytes)
			}

			details.TotalFreeBytes += freeBytes
			details.Chunks = append(details.Chunks, ChunkDetails{
				ID:               liveChunk.id,
				MemoryTypeIndex:  typeIndex,
				Capacity:         liveChunk.metadata.Size(),
				FreeBytes:        freeBytes,
				LargestFreeRange: largest,
				Fragmentation:    fragmentation,
			})
		}
	}

	return details
}

// BuildDetailsJSONString dumps the manager's full state as a JSON document:
// per-type chunk maps and, when detailedMap is set, every free range and
// allocated span of every chunk. Intended for offline diagnostics.
func (m *DeviceMemoryManager) BuildDetailsJSONString(detailedMap bool) (string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	writer := jwriter.NewWriter()
	rootObj := writer.Object()

	var stats memutils.DetailedStatistics
	stats.Clear()
	for typeIndex := 0; typeIndex < len(m.memoryTypes); typeIndex++ {
		for _, liveChunk := range m.chunkLists[typeIndex] {
			liveChunk.metadata.AddDetailedStatistics(&stats)
		}
	}

	generalObj := rootObj.Name("General").Object()
	generalObj.Name("Chunks").Int(stats.ChunkCount)
	generalObj.Name("Regions").Int(stats.RegionCount)
	generalObj.Name("ChunkBytes").Int(stats.ChunkBytes)
	generalObj.Name("RegionBytes").Int(stats.RegionBytes)
	generalObj.Name("FreeRanges").Int(stats.FreeRangeCount)
	generalObj.End()

	typesObj := rootObj.Name("MemoryTypes").Object()
	for typeIndex := 0; typeIndex < len(m.memoryTypes); typeIndex++ {
		if len(m.chunkLists[typeIndex]) == 0 {
			continue
		}

		typeObj := typesObj.Name(strconv.Itoa(typeIndex)).Object()
		chunksObj := typeObj.Name("Chunks").Object()

		for _, liveChunk := range m.chunkLists[typeIndex] {
			chunkObj := chunksObj.Name(strconv.Itoa(liveChunk.id)).Object()
			liveChunk.metadata.ChunkJsonData(chunkObj)

			if detailedMap {
				m.printDetailedChunkRanges(liveChunk, chunkObj)
			}

			chunkObj.End()
		}

		chunksObj.End()
		typeObj.End()
	}
	typesObj.End()

	rootObj.End()

	err := writer.Error()
	if err != nil {
		return "", err
	}

	return string(writer.Bytes()), nil
}

func (m *DeviceMemoryManager) printDetailedChunkRanges(liveChunk *chunk, json jwriter.ObjectState) {
	arrayState := json.Name("Ranges").Array()
	defer arrayState.End()

	_ = liveChunk.metadata.VisitAllRanges(func(offset, size int, free bool) error {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(offset)
		obj.Name("Size").Int(size)
		if free {
			obj.Name("Type").String("Free")
		} else {
			obj.Name("Type").String("Allocated")
		}

		return nil
	})
}
