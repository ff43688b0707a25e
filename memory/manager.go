package memory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/autoantwort/LLGL/internal/utils"
	"github.com/autoantwort/LLGL/memory/metadata"
	"github.com/autoantwort/LLGL/memutils"
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// DeviceMemoryManager carves large native memory allocations ("chunks") into
// reusable sub-ranges ("regions") handed out to buffers and textures. It is the
// sole owner of all chunks and the only entry point for allocating and releasing
// regions.
//
// All methods are safe for concurrent use unless the manager was created with
// CreateOptions.ExternallySynchronized.
type DeviceMemoryManager struct {
	logger *slog.Logger
	device Device

	// Captured at construction, immutable afterward
	memoryTypes []core1_0.MemoryType
	memoryHeaps []core1_0.MemoryHeap

	minChunkAllocationSize   int
	maxNativeAllocationCount int

	mutex utils.OptionalRWMutex
	// Per memory type, kept incrementally sorted ascending by free size so that
	// allocation scans prefer the fullest chunk that still fits
	chunkLists [common.MaxMemoryTypes][]*chunk
	// Stable chunk-ID table: regions name chunks by ID, never by pointer
	chunksByID  *swiss.Map[int, *chunk]
	nextChunkID int
}

// MemoryTypeCount returns the number of memory type classes the device exposes
func (m *DeviceMemoryManager) MemoryTypeCount() int {
	return len(m.memoryTypes)
}

// MemoryTypeProperties returns the immutable description of a single device
// memory type class
func (m *DeviceMemoryManager) MemoryTypeProperties(memoryTypeIndex int) core1_0.MemoryType {
	return m.memoryTypes[memoryTypeIndex]
}

// FindMemoryType resolves a memory-type bitmask and a set of required property
// flags to a concrete memory type index: the lowest-indexed type whose bit is set
// in memoryTypeBits and whose property flags are a superset of requiredFlags.
// It is a pure function of the immutable device property table, so the same
// inputs always resolve to the same index.
//
// Returns ErrNoCompatibleMemoryType if no type qualifies.
func (m *DeviceMemoryManager) FindMemoryType(memoryTypeBits uint32, requiredFlags core1_0.MemoryPropertyFlags) (int, error) {
	for typeIndex := 0; typeIndex < len(m.memoryTypes); typeIndex++ {
		memTypeBit := uint32(1) << typeIndex

		if memoryTypeBits&memTypeBit == 0 {
			// This memory type is banned by the bitmask
			continue
		}

		flags := m.memoryTypes[typeIndex].PropertyFlags
		if flags&requiredFlags != requiredFlags {
			// This memory type is missing required flags
			continue
		}

		return typeIndex, nil
	}

	return -1, errors.Wrapf(ErrNoCompatibleMemoryType,
		"memoryTypeBits 0x%x, requiredFlags %s", memoryTypeBits, requiredFlags.String())
}

// Allocate carves a region of the requested size and alignment out of a chunk
// whose memory type is permitted by memoryTypeBits and carries all of
// requiredFlags. An existing chunk is reused when one has room; otherwise a new
// chunk of at least the manager's minimum chunk allocation size is created.
//
// On success the returned Region is owned by the caller and must eventually be
// passed to Release exactly once.
func (m *DeviceMemoryManager) Allocate(
	size int,
	alignment uint,
	memoryTypeBits uint32,
	requiredFlags core1_0.MemoryPropertyFlags,
) (Region, common.VkResult, error) {
	if size < 1 {
		return Region{}, core1_0.VKErrorUnknown, errors.Newf("invalid allocation size: %d", size)
	}
	if alignment == 0 {
		alignment = 1
	}
	err := memutils.CheckPow2(alignment, "alignment")
	if err != nil {
		return Region{}, core1_0.VKErrorUnknown, err
	}

	memoryTypeIndex, err := m.FindMemoryType(memoryTypeBits, requiredFlags)
	if err != nil {
		return Region{}, core1_0.VKErrorFeatureNotPresent, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.allocateFromType(memoryTypeIndex, size, alignment)
}

func (m *DeviceMemoryManager) allocateFromType(memoryTypeIndex, size int, alignment uint) (Region, common.VkResult, error) {
	// 1. Search existing chunks, fullest first
	for _, existingChunk := range m.chunkLists[memoryTypeIndex] {
		if !existingChunk.metadata.MayHaveFreeRange(size) {
			continue
		}

		success, request, err := existingChunk.metadata.CreateAllocationRequest(size, alignment)
		if err != nil {
			return Region{}, core1_0.VKErrorUnknown, err
		}
		if success {
			m.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Returned from existing chunk",
				slog.Int("chunk.id", existingChunk.id))
			return m.commitAllocation(existingChunk, request, size, alignment)
		}
	}

	// 2. No chunk fits- create one sized to the request, honoring the floor
	chunkSize := memutils.AlignUp(size+memutils.DebugMargin, alignment)
	if chunkSize < m.minChunkAllocationSize {
		chunkSize = m.minChunkAllocationSize
	}

	newChunk, res, err := m.createChunk(memoryTypeIndex, chunkSize)
	if err != nil {
		// Give fully-free retained chunks back to the device and retry once
		if m.destroyEmptyChunks() > 0 {
			newChunk, res, err = m.createChunk(memoryTypeIndex, chunkSize)
		}
		if err != nil {
			return Region{}, res, errors.Wrapf(ErrDeviceMemoryExhausted,
				"allocating a %d-byte chunk of memory type %d: %s", chunkSize, memoryTypeIndex, err.Error())
		}
	}

	success, request, err := newChunk.metadata.CreateAllocationRequest(size, alignment)
	if err != nil {
		return Region{}, core1_0.VKErrorUnknown, err
	}
	if !success {
		panic(fmt.Sprintf("created a new chunk of size %d to hold a region of size %d, but the region did not fit", chunkSize, size))
	}

	return m.commitAllocation(newChunk, request, size, alignment)
}

func (m *DeviceMemoryManager) commitAllocation(targetChunk *chunk, request metadata.AllocationRequest, size int, alignment uint) (Region, common.VkResult, error) {
	err := targetChunk.metadata.Alloc(request)
	if err != nil {
		return Region{}, core1_0.VKErrorUnknown, err
	}

	memutils.DebugValidate(targetChunk.metadata)
	m.incrementallySortChunks(targetChunk.memoryTypeIndex)

	return Region{
		chunkID:         targetChunk.id,
		memoryTypeIndex: targetChunk.memoryTypeIndex,
		offset:          request.Offset,
		size:            size,
		alignment:       alignment,
	}, core1_0.VKSuccess, nil
}

func (m *DeviceMemoryManager) createChunk(memoryTypeIndex, chunkSize int) (*chunk, common.VkResult, error) {
	if m.maxNativeAllocationCount > 0 && m.chunksByID.Count() >= m.maxNativeAllocationCount {
		return nil, core1_0.VKErrorTooManyObjects, errors.Newf(
			"the manager already holds %d native allocations, the configured maximum", m.chunksByID.Count())
	}

	memory, res, err := m.device.AllocateMemory(chunkSize, memoryTypeIndex)
	if err != nil {
		return nil, res, err
	}

	newChunk := &chunk{}
	newChunk.Init(m.logger, memoryTypeIndex, memory, chunkSize, m.nextChunkID)
	m.nextChunkID++

	m.chunkLists[memoryTypeIndex] = append(m.chunkLists[memoryTypeIndex], newChunk)
	m.chunksByID.Put(newChunk.id, newChunk)

	m.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Created new chunk",
		slog.Int("chunk.id", newChunk.id),
		slog.Int("MemoryTypeIndex", memoryTypeIndex),
		slog.Int("size", chunkSize),
	)

	return newChunk, res, nil
}

// Release returns a region's byte range to its owning chunk's free space,
// coalescing with adjacent free ranges. The region handle is consumed and becomes
// invalid. Releasing an unknown, foreign, or already-released region fails with
// ErrInvalidRelease- it is never silently ignored, since ignoring it would mask
// double-release bugs.
func (m *DeviceMemoryManager) Release(region Region) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	owningChunk, ok := m.chunksByID.Get(region.chunkID)
	if !ok {
		return errors.Wrapf(ErrInvalidRelease, "no live chunk has id %d", region.chunkID)
	}

	err := owningChunk.metadata.Free(region.offset, region.size)
	if err != nil {
		return errors.Wrapf(ErrInvalidRelease, "chunk %d: %s", region.chunkID, err.Error())
	}

	memutils.DebugValidate(owningChunk.metadata)
	m.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Released region",
		slog.Int("chunk.id", owningChunk.id),
		slog.Int("offset", region.offset),
		slog.Int("size", region.size),
	)

	// Retention policy: keep at most one fully-free chunk per memory type
	if owningChunk.metadata.IsEmpty() && m.emptyChunkCount(region.memoryTypeIndex) > 1 {
		m.destroyChunk(owningChunk)
	}

	m.incrementallySortChunks(region.memoryTypeIndex)
	return nil
}

// Destroy tears down the manager, returning every chunk's native memory to the
// device. All regions must have been released first- live regions make Destroy
// log each leaked span and fail. Chunks that still hold regions survive a failed
// Destroy with the manager fully usable, so the caller can release the leaked
// regions and call Destroy again.
func (m *DeviceMemoryManager) Destroy() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var combinedErr error
	for typeIndex := 0; typeIndex < len(m.memoryTypes); typeIndex++ {
		remaining := m.chunkLists[typeIndex][:0]
		for _, liveChunk := range m.chunkLists[typeIndex] {
			err := liveChunk.Destroy()
			if err != nil {
				combinedErr = errors.CombineErrors(combinedErr, err)
				remaining = append(remaining, liveChunk)
				continue
			}
			m.chunksByID.Delete(liveChunk.id)
		}

		if len(remaining) == 0 {
			m.chunkLists[typeIndex] = nil
		} else {
			m.chunkLists[typeIndex] = remaining
		}
	}

	return combinedErr
}

// emptyChunkCount counts fully-free chunks of one memory type. Callers must hold
// the manager lock.
func (m *DeviceMemoryManager) emptyChunkCount(memoryTypeIndex int) int {
	count := 0
	for _, existingChunk := range m.chunkLists[memoryTypeIndex] {
		if existingChunk.metadata.IsEmpty() {
			count++
		}
	}

	return count
}

// destroyEmptyChunks destroys every fully-free chunk of every memory type and
// reports how many were destroyed. Callers must hold the manager lock.
func (m *DeviceMemoryManager) destroyEmptyChunks() int {
	destroyed := 0
	for typeIndex := 0; typeIndex < len(m.memoryTypes); typeIndex++ {
		for chunkIndex := len(m.chunkLists[typeIndex]) - 1; chunkIndex >= 0; chunkIndex-- {
			emptyChunk := m.chunkLists[typeIndex][chunkIndex]
			if emptyChunk.metadata.IsEmpty() {
				m.destroyChunk(emptyChunk)
				destroyed++
			}
		}
	}

	return destroyed
}

func (m *DeviceMemoryManager) destroyChunk(staleChunk *chunk) {
	chunkList := m.chunkLists[staleChunk.memoryTypeIndex]
	for chunkIndex := 0; chunkIndex < len(chunkList); chunkIndex++ {
		if chunkList[chunkIndex] == staleChunk {
			m.chunkLists[staleChunk.memoryTypeIndex] = append(chunkList[:chunkIndex], chunkList[chunkIndex+1:]...)
			m.chunksByID.Delete(staleChunk.id)

			m.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Destroyed empty chunk",
				slog.Int("chunk.id", staleChunk.id))

			err := staleChunk.Destroy()
			if err != nil {
				panic(fmt.Sprintf("unexpected failure when destroying an empty memory chunk: %+v", err))
			}
			return
		}
	}

	panic("attempted to destroy a chunk that did not belong to this manager")
}

// incrementallySortChunks bubbles at most one out-of-order chunk toward its place
// so that repeated allocations converge on scanning fullest-first. Callers must
// hold the manager lock.
func (m *DeviceMemoryManager) incrementallySortChunks(memoryTypeIndex int) {
	chunkList := m.chunkLists[memoryTypeIndex]
	for chunkIndex := 1; chunkIndex < len(chunkList); chunkIndex++ {
		if chunkList[chunkIndex-1].metadata.SumFreeSize() > chunkList[chunkIndex].metadata.SumFreeSize() {
			chunkList[chunkIndex-1], chunkList[chunkIndex] = chunkList[chunkIndex], chunkList[chunkIndex-1]
			return
		}
	}
}

// RegionMemory resolves a live region to the native memory handle of its owning
// chunk, for binding buffers or images at the region's offset. The handle remains
// owned by the chunk.
func (m *DeviceMemoryManager) RegionMemory(region Region) (DeviceMemory, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	owningChunk, ok := m.chunksByID.Get(region.chunkID)
	if !ok {
		return nil, errors.Newf("no live chunk has id %d", region.chunkID)
	}

	return owningChunk.memory, nil
}
