// Package democore is the in-process backend of the unified core contract:
// a simulated device core suitable for headless use, initialized from a
// Micro-Manager system configuration file. It stands in for the native
// engine the same way the demo configuration does in the real application.
package democore

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/micro-manager/mmgocorex/pkg/domain"
	"github.com/micro-manager/mmgocorex/pkg/errors"
	"github.com/micro-manager/mmgocorex/pkg/logging"
	"github.com/micro-manager/mmgocorex/pkg/mmconfig"
)

// DefaultBufferSizeMB matches the default circular buffer footprint used
// when launching headless instances.
const DefaultBufferSizeMB = 1024

// Options configures a DemoCore.
type Options struct {
	// BufferSizeMB is the initial circular buffer footprint in megabytes.
	// Zero means DefaultBufferSizeMB.
	BufferSizeMB int
}

// DemoCore implements domain.Core with simulated devices.
type DemoCore struct {
	mu          sync.Mutex
	devices     map[string]*device
	cameraLabel string
	coreProps   map[string]string
	lastImage   *domain.TaggedImage
	frameIndex  int64
	startTime   time.Time
	shutdown    bool

	buffer     *circularBuffer
	dispatcher *eventDispatcher

	seqRunning atomic.Bool
	seqStop    chan struct{}
	seqDone    chan struct{}

	logger logging.Logger
}

var _ domain.Core = (*DemoCore)(nil)
var _ domain.EventSource = (*DemoCore)(nil)

// New creates a DemoCore with no devices loaded. Devices come from
// LoadSystemConfiguration.
func New(options Options, logger logging.Logger) *DemoCore {
	bufferSizeMB := options.BufferSizeMB
	if bufferSizeMB <= 0 {
		bufferSizeMB = DefaultBufferSizeMB
	}

	return &DemoCore{
		devices:    make(map[string]*device),
		coreProps:  make(map[string]string),
		buffer:     newCircularBuffer(bufferSizeMB),
		dispatcher: newEventDispatcher(logger),
		startTime:  time.Now(),
		logger:     logger,
	}
}

func (c *DemoCore) checkAlive() error {
	if c.shutdown {
		return errors.NewProcessError("core has been shut down", nil)
	}
	return nil
}

func (c *DemoCore) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkAlive()
}

// LoadSystemConfiguration parses the configuration file and initializes the
// declared devices, applying properties, labels and delays in file order.
func (c *DemoCore) LoadSystemConfiguration(ctx context.Context, path string) error {
	config, err := mmconfig.ParseFile(path)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkAlive(); err != nil {
		return err
	}

	// Loading a configuration replaces any previously loaded devices.
	c.devices = make(map[string]*device)
	c.cameraLabel = ""
	c.coreProps = make(map[string]string)
	c.lastImage = nil

	for _, entry := range config.Devices {
		dev, err := newDemoDevice(entry.Label, entry.Library, entry.Adapter)
		if err != nil {
			return err
		}
		c.devices[entry.Label] = dev
		if dev.deviceType == DeviceTypeCamera && c.cameraLabel == "" {
			c.cameraLabel = entry.Label
		}
	}

	for _, entry := range config.Properties {
		if entry.Label == mmconfig.CoreLabel {
			c.coreProps[entry.Property] = entry.Value
			if entry.Property == "Camera" {
				if _, ok := c.devices[entry.Value]; !ok {
					return errors.NewValidationError("Core camera property names an unknown device", nil).
						WithContext("camera", entry.Value)
				}
				c.cameraLabel = entry.Value
			}
			continue
		}

		dev, ok := c.devices[entry.Label]
		if !ok {
			return errors.NewNotFoundError("device not found", nil).WithContext("device", entry.Label)
		}
		if err := dev.setProperty(entry.Property, entry.Value); err != nil {
			return err
		}
	}

	for _, entry := range config.Labels {
		dev, ok := c.devices[entry.Label]
		if !ok {
			return errors.NewNotFoundError("device not found", nil).WithContext("device", entry.Label)
		}
		dev.stateLabels[entry.State] = entry.Name
	}

	for _, entry := range config.Delays {
		dev, ok := c.devices[entry.Label]
		if !ok {
			return errors.NewNotFoundError("device not found", nil).WithContext("device", entry.Label)
		}
		dev.delayMs = entry.DelayMs
	}

	c.logger.Infof("System configuration loaded, path: %s, devices: %d", path, len(c.devices))
	c.dispatcher.Publish(domain.CoreEvent{Type: domain.EventSystemConfigurationLoaded, Value: path})
	return nil
}

func (c *DemoCore) GetLoadedDevices(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkAlive(); err != nil {
		return nil, err
	}

	labels := make([]string, 0, len(c.devices))
	for label := range c.devices {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels, nil
}

func (c *DemoCore) UnloadAllDevices(ctx context.Context) error {
	if err := c.StopSequenceAcquisition(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkAlive(); err != nil {
		return err
	}

	c.devices = make(map[string]*device)
	c.cameraLabel = ""
	c.lastImage = nil
	c.logger.Debugf("Unloaded all devices")
	return nil
}

func (c *DemoCore) getDevice(label string) (*device, error) {
	dev, ok := c.devices[label]
	if !ok {
		return nil, errors.NewNotFoundError("device not found", nil).WithContext("device", label)
	}
	return dev, nil
}

func (c *DemoCore) GetDevicePropertyNames(ctx context.Context, label string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkAlive(); err != nil {
		return nil, err
	}

	dev, err := c.getDevice(label)
	if err != nil {
		return nil, err
	}
	return dev.propertyNames(), nil
}

func (c *DemoCore) GetProperty(ctx context.Context, label, propertyName string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkAlive(); err != nil {
		return "", err
	}

	if label == mmconfig.CoreLabel {
		value, ok := c.coreProps[propertyName]
		if !ok {
			return "", errors.NewNotFoundError("property not found", nil).
				WithContext("device", label).
				WithContext("property", propertyName)
		}
		return value, nil
	}

	dev, err := c.getDevice(label)
	if err != nil {
		return "", err
	}
	return dev.getProperty(propertyName)
}

func (c *DemoCore) SetProperty(ctx context.Context, label, propertyName, value string) error {
	c.mu.Lock()

	if err := c.checkAlive(); err != nil {
		c.mu.Unlock()
		return err
	}

	if label == mmconfig.CoreLabel {
		if propertyName == "Camera" {
			if _, ok := c.devices[value]; !ok {
				c.mu.Unlock()
				return errors.NewNotFoundError("device not found", nil).WithContext("device", value)
			}
			c.cameraLabel = value
		}
		c.coreProps[propertyName] = value
		c.mu.Unlock()

		c.dispatcher.Publish(domain.CoreEvent{
			Type:     domain.EventPropertyChanged,
			Device:   label,
			Property: propertyName,
			Value:    value,
		})
		return nil
	}

	dev, err := c.getDevice(label)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if err := dev.setProperty(propertyName, value); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	c.dispatcher.Publish(domain.CoreEvent{
		Type:     domain.EventPropertyChanged,
		Device:   label,
		Property: propertyName,
		Value:    value,
	})
	return nil
}

// camera returns the currently selected camera device.
func (c *DemoCore) camera() (*device, error) {
	if c.cameraLabel == "" {
		return nil, errors.NewNotFoundError("no camera device loaded", nil)
	}
	return c.getDevice(c.cameraLabel)
}

func (c *DemoCore) GetExposure(ctx context.Context) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkAlive(); err != nil {
		return 0, err
	}

	cam, err := c.camera()
	if err != nil {
		return 0, err
	}
	value, err := cam.getProperty("Exposure")
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(value, 64)
}

func (c *DemoCore) SetExposure(ctx context.Context, exposureMs float64) error {
	c.mu.Lock()

	if err := c.checkAlive(); err != nil {
		c.mu.Unlock()
		return err
	}

	cam, err := c.camera()
	if err != nil {
		c.mu.Unlock()
		return err
	}

	value := strconv.FormatFloat(exposureMs, 'f', -1, 64)
	if err := cam.setProperty("Exposure", value); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	c.dispatcher.Publish(domain.CoreEvent{
		Type:     domain.EventExposureChanged,
		Device:   c.cameraLabel,
		Property: "Exposure",
		Value:    value,
	})
	return nil
}

// cameraGeometry reads the effective image geometry under the current
// binning. Caller must hold the lock.
func (c *DemoCore) cameraGeometry() (width, height, bytesPerPixel int, err error) {
	cam, err := c.camera()
	if err != nil {
		return 0, 0, 0, err
	}

	ccdX, _ := cam.getProperty("OnCameraCCDXSize")
	ccdY, _ := cam.getProperty("OnCameraCCDYSize")
	binning, _ := cam.getProperty("Binning")
	pixelType, _ := cam.getProperty("PixelType")

	x, err := strconv.Atoi(ccdX)
	if err != nil {
		return 0, 0, 0, errors.NewInternalError("invalid CCD X size", err)
	}
	y, err := strconv.Atoi(ccdY)
	if err != nil {
		return 0, 0, 0, errors.NewInternalError("invalid CCD Y size", err)
	}
	b, err := strconv.Atoi(binning)
	if err != nil {
		return 0, 0, 0, errors.NewInternalError("invalid binning", err)
	}

	bytesPerPixel = 1
	if pixelType == "16bit" {
		bytesPerPixel = 2
	}
	return x / b, y / b, bytesPerPixel, nil
}

func (c *DemoCore) GetImageWidth(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkAlive(); err != nil {
		return 0, err
	}
	width, _, _, err := c.cameraGeometry()
	return width, err
}

func (c *DemoCore) GetImageHeight(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkAlive(); err != nil {
		return 0, err
	}
	_, height, _, err := c.cameraGeometry()
	return height, err
}

func (c *DemoCore) GetBytesPerPixel(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkAlive(); err != nil {
		return 0, err
	}
	_, _, bytesPerPixel, err := c.cameraGeometry()
	return bytesPerPixel, err
}

func (c *DemoCore) SnapImage(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkAlive(); err != nil {
		return err
	}
	if c.seqRunning.Load() {
		return errors.NewConflictError("cannot snap while sequence acquisition is running", nil)
	}

	img, err := c.captureFrame()
	if err != nil {
		return err
	}
	c.lastImage = img
	return nil
}

func (c *DemoCore) GetImage(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkAlive(); err != nil {
		return nil, err
	}
	if c.lastImage == nil {
		return nil, errors.NewNotFoundError("no image available, call SnapImage first", nil)
	}
	return c.lastImage.Pix, nil
}

func (c *DemoCore) GetTaggedImage(ctx context.Context) (*domain.TaggedImage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkAlive(); err != nil {
		return nil, err
	}
	if c.lastImage == nil {
		return nil, errors.NewNotFoundError("no image available, call SnapImage first", nil)
	}
	return c.lastImage, nil
}

func (c *DemoCore) PopNextTaggedImage(ctx context.Context) (*domain.TaggedImage, error) {
	if err := c.aliveErr(); err != nil {
		return nil, err
	}
	return c.buffer.Pop()
}

func (c *DemoCore) GetRemainingImageCount(ctx context.Context) (int, error) {
	if err := c.aliveErr(); err != nil {
		return 0, err
	}
	return c.buffer.Count(), nil
}

func (c *DemoCore) GetBufferFreeCapacity(ctx context.Context) (int, error) {
	if err := c.aliveErr(); err != nil {
		return 0, err
	}
	return int(c.buffer.FreeBytes()), nil
}

func (c *DemoCore) SetCircularBufferMemoryFootprint(ctx context.Context, sizeMB int) error {
	if sizeMB <= 0 {
		return errors.NewValidationError("circular buffer footprint must be positive", nil).
			WithContext("size_mb", strconv.Itoa(sizeMB))
	}
	if err := c.aliveErr(); err != nil {
		return err
	}
	if c.seqRunning.Load() {
		return errors.NewConflictError("cannot resize circular buffer during sequence acquisition", nil)
	}
	c.buffer.Resize(sizeMB)
	return nil
}

func (c *DemoCore) GetCircularBufferMemoryFootprint(ctx context.Context) (int, error) {
	if err := c.aliveErr(); err != nil {
		return 0, err
	}
	return c.buffer.CapacityMB(), nil
}

func (c *DemoCore) ClearCircularBuffer(ctx context.Context) error {
	if err := c.aliveErr(); err != nil {
		return err
	}
	c.buffer.Clear()
	return nil
}

func (c *DemoCore) aliveErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkAlive()
}

// Events implements domain.EventSource.
func (c *DemoCore) Events(ctx context.Context) (<-chan domain.CoreEvent, error) {
	if err := c.aliveErr(); err != nil {
		return nil, err
	}
	return c.dispatcher.SubscribeContext(ctx), nil
}

// DroppedEventCount reports events lost to slow subscribers.
func (c *DemoCore) DroppedEventCount() int64 {
	return c.dispatcher.DroppedCount()
}

// BufferOverflowCount reports frames lost to circular buffer overflow.
func (c *DemoCore) BufferOverflowCount() int64 {
	return c.buffer.OverflowCount()
}

func (c *DemoCore) Shutdown(ctx context.Context) error {
	if err := c.StopSequenceAcquisition(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	c.devices = make(map[string]*device)
	c.cameraLabel = ""
	c.lastImage = nil
	c.mu.Unlock()

	c.dispatcher.Publish(domain.CoreEvent{Type: domain.EventShutdownCommencing})
	c.dispatcher.Close()
	c.buffer.Clear()
	c.logger.Infof("Core shut down")
	return nil
}
