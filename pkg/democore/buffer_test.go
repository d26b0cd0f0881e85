package democore

import (
	"testing"

	"github.com/micro-manager/mmgocorex/pkg/domain"
	"github.com/micro-manager/mmgocorex/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameOfSize(n int, marker byte) *domain.TaggedImage {
	pix := make([]byte, n)
	for i := range pix {
		pix[i] = marker
	}
	return &domain.TaggedImage{
		Pix:  pix,
		Tags: map[string]interface{}{"marker": marker},
	}
}

func TestBufferPopOrderIsFIFO(t *testing.T) {
	buffer := newCircularBuffer(1)

	for i := byte(0); i < 3; i++ {
		require.NoError(t, buffer.Insert(frameOfSize(1024, i), false))
	}

	for i := byte(0); i < 3; i++ {
		img, err := buffer.Pop()
		require.NoError(t, err)
		assert.Equal(t, i, img.Pix[0])
	}
}

func TestBufferOverflowWithoutOverwrite(t *testing.T) {
	buffer := newCircularBuffer(1)

	// Three frames of 512 KiB cannot fit into 1 MiB.
	require.NoError(t, buffer.Insert(frameOfSize(512*1024, 0), false))
	require.NoError(t, buffer.Insert(frameOfSize(512*1024, 1), false))

	err := buffer.Insert(frameOfSize(512*1024, 2), false)
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))
	assert.Equal(t, int64(1), buffer.OverflowCount())
	assert.Equal(t, 2, buffer.Count())
}

func TestBufferOverflowWithOverwriteDropsOldest(t *testing.T) {
	buffer := newCircularBuffer(1)

	require.NoError(t, buffer.Insert(frameOfSize(512*1024, 0), false))
	require.NoError(t, buffer.Insert(frameOfSize(512*1024, 1), false))
	require.NoError(t, buffer.Insert(frameOfSize(512*1024, 2), true))

	assert.Equal(t, 2, buffer.Count())

	img, err := buffer.Pop()
	require.NoError(t, err)
	assert.Equal(t, byte(1), img.Pix[0], "oldest frame should have been dropped")
}

func TestBufferRejectsFrameLargerThanCapacity(t *testing.T) {
	buffer := newCircularBuffer(1)

	err := buffer.Insert(frameOfSize(2*1024*1024, 0), true)
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestBufferPopEmpty(t *testing.T) {
	buffer := newCircularBuffer(1)

	_, err := buffer.Pop()
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestBufferResizeClearsAndChangesCapacity(t *testing.T) {
	buffer := newCircularBuffer(1)
	require.NoError(t, buffer.Insert(frameOfSize(1024, 0), false))

	buffer.Resize(4)

	assert.Equal(t, 0, buffer.Count())
	assert.Equal(t, 4, buffer.CapacityMB())
	assert.Equal(t, int64(4*1024*1024), buffer.FreeBytes())
}
