package memory

// Region is the unit of allocation handed out by the manager: a sub-range of one
// chunk of native device memory. It is a handle, not a live pointer- it names its
// chunk by stable ID, and every use goes back through the manager, which checks
// the chunk is still live. The zero Region is invalid.
//
// A Region is consumed by DeviceMemoryManager.Release and must not be used after
// that. Regions must not outlive the manager that produced them.
type Region struct {
	chunkID         int
	memoryTypeIndex int
	offset          int
	size            int
	alignment       uint
}

// Offset is the region's placement in bytes from the start of its chunk's native
// allocation. Offset is always a multiple of the alignment the region was
// requested with.
func (r Region) Offset() int { return r.offset }

// Size is the region's length in bytes, as requested at allocation time
func (r Region) Size() int { return r.size }

// Alignment is the alignment the region was carved with
func (r Region) Alignment() uint { return r.alignment }

// MemoryTypeIndex identifies the device memory type class the region lives in
func (r Region) MemoryTypeIndex() int { return r.memoryTypeIndex }
