package memory

import (
	"context"
	"log/slog"

	"github.com/autoantwort/LLGL/memory/metadata"
	"github.com/pkg/errors"
)

// chunk is one native device memory allocation subdivided into regions. It owns
// its DeviceMemory handle exclusively and delegates all free-space accounting to
// its metadata. Chunks are created and destroyed only by the manager.
type chunk struct {
	id              int
	memoryTypeIndex int
	memory          DeviceMemory
	logger          *slog.Logger

	metadata *metadata.FreeListMetadata
}

func (c *chunk) Init(
	logger *slog.Logger,
	memoryTypeIndex int,
	memory DeviceMemory,
	size int,
	id int,
) {
	if c.memory != nil {
		panic("attempting to initialize a chunk that is already in use")
	}

	c.id = id
	c.memoryTypeIndex = memoryTypeIndex
	c.memory = memory
	c.logger = logger

	c.metadata = metadata.NewFreeListMetadata()
	c.metadata.Init(size)
}

// Destroy frees the chunk's native memory. Destroying a chunk that still has live
// regions is a leak on the caller's side- each leaked span is logged and an error
// is returned, but the native memory is not freed.
func (c *chunk) Destroy() error {
	if !c.metadata.IsEmpty() {
		err := c.metadata.VisitAllRanges(func(offset, size int, free bool) error {
			if free {
				return nil
			}

			c.logger.LogAttrs(context.Background(),
				slog.LevelError,
				"[UNRELEASED MEMORY] unreleased region span",
				slog.Int("chunk.id", c.id),
				slog.Int("offset", offset),
				slog.Int("size", size),
			)
			return nil
		})
		if err != nil {
			c.logger.LogAttrs(context.Background(),
				slog.LevelError,
				"[UNRELEASED MEMORY] error while iterating unreleased memory",
				slog.Any("error", err))
		}

		return errors.New("some regions were not released before the destruction of this memory chunk!")
	}

	if c.memory == nil {
		panic("attempting to destroy a chunk, but it did not have a backing native memory handle")
	}

	c.memory.Free()

	c.memory = nil
	c.metadata = nil
	return nil
}
