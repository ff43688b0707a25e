package metadata

// AllocationRequest is returned from FreeListMetadata.CreateAllocationRequest and
// indicates where the metadata intends to place a new region. The placement is not
// committed until the request is passed to Alloc, so the caller can apply it to
// the actual device memory first and abandon it on failure.
type AllocationRequest struct {
	// Offset is the aligned placement of the region within the chunk
	Offset int
	// Size is the number of bytes the region will consume from the free list. It
	// includes the debug margin, so it may be larger than what was requested.
	Size int

	// Index of the free range the request was carved from, revalidated by Alloc
	rangeIndex int
}
