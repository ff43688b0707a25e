package memory

import "github.com/cockroachdb/errors"

var (
	// ErrNoCompatibleMemoryType is returned from Allocate and FindMemoryType when no
	// device memory type satisfies the requested type-bits/property-flags combination.
	// It is not retryable- the resource being created cannot live on this device.
	ErrNoCompatibleMemoryType = errors.New("no device memory type satisfies the requested type bits and property flags")

	// ErrDeviceMemoryExhausted is returned from Allocate when the device could not
	// provide a new chunk, even after fully-free chunks were returned to it.
	ErrDeviceMemoryExhausted = errors.New("the device could not allocate a new memory chunk")

	// ErrInvalidRelease is returned from Release when the provided region does not
	// identify live allocated memory: the chunk is unknown, or the byte range is
	// already free. Double-releases fail with this error rather than being ignored.
	ErrInvalidRelease = errors.New("released region does not match a live allocation")
)
