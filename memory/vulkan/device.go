package vulkan

import (
	"github.com/autoantwort/LLGL/memory"
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/extensions/v2/ext_memory_priority"
	"github.com/vkngwrapper/extensions/v2/khr_external_memory"
	"github.com/vkngwrapper/extensions/v2/khr_external_memory_capabilities"
)

// DeviceOptions contains optional settings when wrapping a core1_0.Device for use
// with memory.NewDeviceMemoryManager
type DeviceOptions struct {
	// AllocationCallbacks is an optional set of callbacks that will be executed from
	// Vulkan on memory allocated through this device
	AllocationCallbacks *driver.AllocationCallbacks

	// MemoryPriority is attached to every chunk allocation when UseMemoryPriority is
	// set. It must be between 0 and 1, inclusive. Requires the VK_EXT_memory_priority
	// device extension to be active.
	MemoryPriority    float32
	UseMemoryPriority bool

	// ExternalMemoryHandleTypes can be left empty. If it is provided, it must have
	// one entry per memory type on the device: either 0, indicating not to use
	// external memory, or the handle types to export chunk allocations of that
	// memory type with. Requires VK_KHR_external_memory or core 1.1.
	ExternalMemoryHandleTypes []khr_external_memory_capabilities.ExternalMemoryHandleTypeFlags
}

// Device adapts a core1_0.Device to the memory.Device interface the manager
// allocates chunks through.
type Device struct {
	device              core1_0.Device
	allocationCallbacks *driver.AllocationCallbacks

	memoryPriority    float32
	useMemoryPriority bool

	externalMemoryHandleTypes []khr_external_memory_capabilities.ExternalMemoryHandleTypeFlags
}

var _ memory.Device = &Device{}

// NewDevice wraps the provided core1_0.Device. The device must outlive the wrapper
// and every manager created on top of it.
func NewDevice(device core1_0.Device, options DeviceOptions) (*Device, error) {
	if device == nil {
		return nil, errors.New("a core1_0.Device is required")
	}
	if options.UseMemoryPriority && (options.MemoryPriority < 0 || options.MemoryPriority > 1) {
		return nil, errors.Newf("invalid MemoryPriority %f: priority values must be between 0 and 1, inclusive", options.MemoryPriority)
	}

	return &Device{
		device:              device,
		allocationCallbacks: options.AllocationCallbacks,

		memoryPriority:    options.MemoryPriority,
		useMemoryPriority: options.UseMemoryPriority,

		externalMemoryHandleTypes: options.ExternalMemoryHandleTypes,
	}, nil
}

// AllocateMemory performs one native Vulkan memory allocation, chaining in
// priority and external-memory export info when configured.
func (d *Device) AllocateMemory(allocationSize int, memoryTypeIndex int) (memory.DeviceMemory, common.VkResult, error) {
	var allocInfo core1_0.MemoryAllocateInfo
	allocInfo.AllocationSize = allocationSize
	allocInfo.MemoryTypeIndex = memoryTypeIndex

	if d.useMemoryPriority {
		priorityInfo := ext_memory_priority.MemoryPriorityAllocateInfo{
			Priority: d.memoryPriority,
		}
		priorityInfo.Next = allocInfo.Next
		allocInfo.Next = priorityInfo
	}

	if len(d.externalMemoryHandleTypes) > memoryTypeIndex {
		externalMemoryType := d.externalMemoryHandleTypes[memoryTypeIndex]
		if externalMemoryType != 0 {
			var exportMemoryAllocInfo khr_external_memory.ExportMemoryAllocateInfo
			exportMemoryAllocInfo.HandleTypes = externalMemoryType
			exportMemoryAllocInfo.Next = allocInfo.Next
			allocInfo.Next = exportMemoryAllocInfo
		}
	}

	vulkanMemory, res, err := d.device.AllocateMemory(d.allocationCallbacks, allocInfo)
	if err != nil {
		return nil, res, err
	}

	return &deviceMemory{
		memory:              vulkanMemory,
		allocationCallbacks: d.allocationCallbacks,
	}, res, nil
}

type deviceMemory struct {
	memory              core1_0.DeviceMemory
	allocationCallbacks *driver.AllocationCallbacks
}

// VulkanDeviceMemory exposes the underlying Vulkan handle for binding buffers and
// images against a region's chunk.
func (m *deviceMemory) VulkanDeviceMemory() core1_0.DeviceMemory {
	return m.memory
}

func (m *deviceMemory) Free() {
	m.memory.Free(m.allocationCallbacks)
	m.memory = nil
}
