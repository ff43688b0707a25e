package memutils

import "math"

// Statistics is a basic rollup of allocation data for some set of memory chunks:
// a single chunk, all chunks of one memory type, or every chunk owned by a manager.
type Statistics struct {
	// ChunkCount is the number of native memory allocations in the set
	ChunkCount int
	// RegionCount is the number of live suballocated regions in the set
	RegionCount int
	// ChunkBytes is the total capacity in bytes of all chunks in the set
	ChunkBytes int
	// RegionBytes is the number of bytes handed out to live regions in the set
	RegionBytes int
}

func (s *Statistics) Clear() {
	s.ChunkCount = 0
	s.RegionCount = 0
	s.ChunkBytes = 0
	s.RegionBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.ChunkCount += other.ChunkCount
	s.RegionCount += other.RegionCount
	s.ChunkBytes += other.ChunkBytes
	s.RegionBytes += other.RegionBytes
}

// DetailedStatistics extends Statistics with free-range data. It is more expensive
// to collect, since producing it requires walking chunk free lists.
type DetailedStatistics struct {
	Statistics
	// FreeRangeCount is the number of distinct free ranges across the set
	FreeRangeCount int
	// FreeRangeSizeMin is the size in bytes of the smallest free range in the set
	FreeRangeSizeMin int
	// FreeRangeSizeMax is the size in bytes of the largest free range in the set
	FreeRangeSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.FreeRangeCount = 0
	s.FreeRangeSizeMin = math.MaxInt
	s.FreeRangeSizeMax = 0
}

// AddFreeRange includes a single free range of the provided size in these statistics
func (s *DetailedStatistics) AddFreeRange(size int) {
	s.FreeRangeCount++

	if size < s.FreeRangeSizeMin {
		s.FreeRangeSizeMin = size
	}

	if size > s.FreeRangeSizeMax {
		s.FreeRangeSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.FreeRangeCount += other.FreeRangeCount

	if other.FreeRangeSizeMin < s.FreeRangeSizeMin {
		s.FreeRangeSizeMin = other.FreeRangeSizeMin
	}

	if other.FreeRangeSizeMax > s.FreeRangeSizeMax {
		s.FreeRangeSizeMax = other.FreeRangeSizeMax
	}
}
