package domain

import (
	"context"
)

// Core is the unified contract of the microscopy control core. Both the
// in-process demo core and the remote client gateway implement it, so code
// written against Core does not care which backend serves it.
type Core interface {
	// Liveness
	Ping(ctx context.Context) error

	// Configuration and device management
	LoadSystemConfiguration(ctx context.Context, path string) error
	GetLoadedDevices(ctx context.Context) ([]string, error)
	UnloadAllDevices(ctx context.Context) error

	// Properties
	GetDevicePropertyNames(ctx context.Context, label string) ([]string, error)
	GetProperty(ctx context.Context, label, property string) (string, error)
	SetProperty(ctx context.Context, label, property, value string) error

	// Exposure and camera geometry
	GetExposure(ctx context.Context) (float64, error)
	SetExposure(ctx context.Context, exposureMs float64) error
	GetImageWidth(ctx context.Context) (int, error)
	GetImageHeight(ctx context.Context) (int, error)
	GetBytesPerPixel(ctx context.Context) (int, error)

	// Single-frame acquisition
	SnapImage(ctx context.Context) error
	GetImage(ctx context.Context) ([]byte, error)
	GetTaggedImage(ctx context.Context) (*TaggedImage, error)

	// Sequence acquisition
	StartSequenceAcquisition(ctx context.Context, numImages int, intervalMs float64, stopOnOverflow bool) error
	StartContinuousSequenceAcquisition(ctx context.Context, intervalMs float64) error
	StopSequenceAcquisition(ctx context.Context) error
	IsSequenceRunning(ctx context.Context) (bool, error)

	// Circular buffer
	PopNextTaggedImage(ctx context.Context) (*TaggedImage, error)
	GetRemainingImageCount(ctx context.Context) (int, error)
	GetBufferFreeCapacity(ctx context.Context) (int, error)
	SetCircularBufferMemoryFootprint(ctx context.Context, sizeMB int) error
	GetCircularBufferMemoryFootprint(ctx context.Context) (int, error)
	ClearCircularBuffer(ctx context.Context) error

	// Lifecycle
	Shutdown(ctx context.Context) error
}

// EventSource is implemented by cores that can push callback events, which
// mostly fire when some hardware state has changed.
type EventSource interface {
	// Events returns a channel of core events. The channel is closed when
	// ctx is cancelled or the core shuts down.
	Events(ctx context.Context) (<-chan CoreEvent, error)
}

// Standard metadata tag keys attached to tagged images.
const (
	TagCamera        = "Camera"
	TagWidth         = "Width"
	TagHeight        = "Height"
	TagPixelType     = "PixelType"
	TagBinning       = "Binning"
	TagImageNumber   = "ImageNumber"
	TagElapsedTimeMs = "ElapsedTime-ms"
	TagROIXStart     = "ROI-X-start"
	TagROIYStart     = "ROI-Y-start"
)

// TaggedImage is a captured frame together with its metadata tags.
type TaggedImage struct {
	// Pix holds the raw pixel bytes, row major. For 16-bit pixel types two
	// bytes per pixel, little endian.
	Pix []byte `msgpack:"pix"`

	// Tags holds the frame metadata keyed by the Tag* constants.
	Tags map[string]interface{} `msgpack:"tags"`
}
