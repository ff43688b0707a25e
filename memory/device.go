package memory

import (
	"github.com/vkngwrapper/core/v2/common"
)

// Device is the slice of the native device the manager needs: one raw memory
// allocation per chunk. The production implementation lives in memory/vulkan and
// wraps a core1_0.Device; tests substitute a synthetic device.
type Device interface {
	// AllocateMemory performs a single native memory allocation of allocationSize
	// bytes from the device memory type at memoryTypeIndex. Native allocations are
	// expensive and capped by the device, which is why this manager exists- it is
	// only called when a new chunk is created.
	AllocateMemory(allocationSize int, memoryTypeIndex int) (DeviceMemory, common.VkResult, error)
}

// DeviceMemory is one native memory allocation, exclusively owned by the chunk it
// backs for the chunk's whole lifetime.
type DeviceMemory interface {
	// Free returns the allocation to the device. The handle must not be used
	// afterward.
	Free()
}
