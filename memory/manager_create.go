package memory

import (
	"log/slog"
	"sync"

	"github.com/autoantwort/LLGL/internal/utils"
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

const (
	// DefaultMinimumChunkAllocationSize is the chunk size floor used when none is
	// provided via CreateOptions. It is equal to 10MiB.
	DefaultMinimumChunkAllocationSize int = 10 * 1024 * 1024
)

// CreateOptions contains optional settings when creating a DeviceMemoryManager
type CreateOptions struct {
	// Logger receives the manager's structured diagnostics. When nil,
	// slog.Default() is used.
	Logger *slog.Logger

	// MinimumChunkAllocationSize is the smallest native allocation the manager will
	// make when it has to create a new chunk. Requests larger than this floor get a
	// chunk sized to the request instead. Defaults to
	// DefaultMinimumChunkAllocationSize.
	MinimumChunkAllocationSize int

	// MaxNativeAllocationCount caps the number of simultaneous native allocations
	// the manager will hold, mirroring the device's maxMemoryAllocationCount limit.
	// 0 means no cap.
	MaxNativeAllocationCount int

	// ExternallySynchronized disables the manager's internal mutex. The consumer
	// must guarantee the manager is used from only one goroutine at a time or is
	// synchronized by some other mechanism.
	ExternallySynchronized bool
}

// NewDeviceMemoryManager creates a new DeviceMemoryManager that sub-allocates
// native memory obtained from the provided Device.
//
// memoryProperties is the device's memory type table. It is queried from the
// physical device exactly once, captured here by value, and treated as immutable
// for the manager's lifetime.
//
// options - Optional parameters: it is valid to leave all the fields blank
func NewDeviceMemoryManager(
	device Device,
	memoryProperties *core1_0.PhysicalDeviceMemoryProperties,
	options CreateOptions,
) (*DeviceMemoryManager, error) {
	if device == nil {
		return nil, errors.New("a Device is required to create a DeviceMemoryManager")
	}
	if memoryProperties == nil || len(memoryProperties.MemoryTypes) == 0 {
		return nil, errors.New("memoryProperties must describe at least one device memory type")
	}
	if len(memoryProperties.MemoryTypes) > common.MaxMemoryTypes {
		return nil, errors.Newf("memoryProperties describes %d memory types, but the device limit is %d",
			len(memoryProperties.MemoryTypes), common.MaxMemoryTypes)
	}
	for typeIndex, memoryType := range memoryProperties.MemoryTypes {
		if memoryType.HeapIndex < 0 || memoryType.HeapIndex >= len(memoryProperties.MemoryHeaps) {
			return nil, errors.Newf("memory type %d names heap %d, but only %d heaps were provided",
				typeIndex, memoryType.HeapIndex, len(memoryProperties.MemoryHeaps))
		}
	}
	if options.MinimumChunkAllocationSize < 0 {
		return nil, errors.Newf("invalid MinimumChunkAllocationSize: %d", options.MinimumChunkAllocationSize)
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	minChunkSize := options.MinimumChunkAllocationSize
	if minChunkSize == 0 {
		minChunkSize = DefaultMinimumChunkAllocationSize
	}

	manager := &DeviceMemoryManager{
		logger: logger,
		device: device,

		memoryTypes: append([]core1_0.MemoryType{}, memoryProperties.MemoryTypes...),
		memoryHeaps: append([]core1_0.MemoryHeap{}, memoryProperties.MemoryHeaps...),

		minChunkAllocationSize:   minChunkSize,
		maxNativeAllocationCount: options.MaxNativeAllocationCount,

		chunksByID:  swiss.NewMap[int, *chunk](16),
		nextChunkID: 1,
		mutex: utils.OptionalRWMutex{
			UseMutex: !options.ExternallySynchronized,
			Mutex:    sync.RWMutex{},
		},
	}

	return manager, nil
}
