package democore

import (
	"sync"

	"github.com/micro-manager/mmgocorex/pkg/domain"
	"github.com/micro-manager/mmgocorex/pkg/errors"
)

// circularBuffer is the byte-capacity-bounded FIFO that sequence acquisition
// feeds and PopNextTaggedImage drains. Inserting into a full buffer is an
// error unless overwrite is requested, in which case the oldest frames are
// discarded to make room.
type circularBuffer struct {
	mu       sync.Mutex
	capacity int64
	used     int64
	frames   []*domain.TaggedImage
	overflow int64
}

func newCircularBuffer(sizeMB int) *circularBuffer {
	return &circularBuffer{
		capacity: int64(sizeMB) * 1024 * 1024,
	}
}

func frameBytes(img *domain.TaggedImage) int64 {
	return int64(len(img.Pix))
}

// Insert appends a frame. With overwrite set, the oldest frames are dropped
// until the new frame fits; otherwise a full buffer is a Conflict error.
func (b *circularBuffer) Insert(img *domain.TaggedImage, overwrite bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := frameBytes(img)
	if size > b.capacity {
		return errors.NewValidationError("frame larger than circular buffer", nil)
	}

	if b.used+size > b.capacity {
		if !overwrite {
			b.overflow++
			return errors.NewConflictError("circular buffer overflowed", nil)
		}
		for b.used+size > b.capacity && len(b.frames) > 0 {
			b.used -= frameBytes(b.frames[0])
			b.frames = b.frames[1:]
			b.overflow++
		}
	}

	b.frames = append(b.frames, img)
	b.used += size
	return nil
}

// Pop removes and returns the oldest frame.
func (b *circularBuffer) Pop() (*domain.TaggedImage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.frames) == 0 {
		return nil, errors.NewNotFoundError("circular buffer is empty", nil)
	}

	img := b.frames[0]
	b.frames = b.frames[1:]
	b.used -= frameBytes(img)
	return img, nil
}

// Count reports the number of buffered frames.
func (b *circularBuffer) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// FreeBytes reports the remaining capacity in bytes.
func (b *circularBuffer) FreeBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity - b.used
}

// CapacityBytes reports the configured footprint in bytes.
func (b *circularBuffer) CapacityBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// CapacityMB reports the configured footprint in megabytes.
func (b *circularBuffer) CapacityMB() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.capacity / (1024 * 1024))
}

// Resize sets a new footprint. Buffered frames are discarded, matching the
// engine's behavior when the memory footprint changes.
func (b *circularBuffer) Resize(sizeMB int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.capacity = int64(sizeMB) * 1024 * 1024
	b.frames = nil
	b.used = 0
}

// Clear discards all buffered frames.
func (b *circularBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = nil
	b.used = 0
}

// OverflowCount reports how many frames have been lost to overflow since the
// buffer was created.
func (b *circularBuffer) OverflowCount() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflow
}
