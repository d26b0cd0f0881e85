package democore

import (
	"context"
	"encoding/binary"
	"strconv"
	"time"

	"github.com/micro-manager/mmgocorex/pkg/domain"
	"github.com/micro-manager/mmgocorex/pkg/errors"
)

// captureFrame generates one synthetic frame from the current camera
// geometry. Caller must hold the lock.
func (c *DemoCore) captureFrame() (*domain.TaggedImage, error) {
	width, height, bytesPerPixel, err := c.cameraGeometry()
	if err != nil {
		return nil, err
	}

	cam, err := c.camera()
	if err != nil {
		return nil, err
	}
	binning, _ := cam.getProperty("Binning")
	pixelType, _ := cam.getProperty("PixelType")

	frame := c.frameIndex
	c.frameIndex++

	pix := make([]byte, width*height*bytesPerPixel)
	// Deterministic diagonal ramp shifted by the frame index, so consumers
	// can verify that successive frames differ.
	if bytesPerPixel == 1 {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				pix[y*width+x] = byte((x + y + int(frame)) % 256)
			}
		}
	} else {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				v := uint16((x + y + int(frame)*257) % 65536)
				binary.LittleEndian.PutUint16(pix[(y*width+x)*2:], v)
			}
		}
	}

	tags := map[string]interface{}{
		domain.TagCamera:        c.cameraLabel,
		domain.TagWidth:         width,
		domain.TagHeight:        height,
		domain.TagPixelType:     pixelType,
		domain.TagBinning:       binning,
		domain.TagImageNumber:   frame,
		domain.TagElapsedTimeMs: float64(time.Since(c.startTime)) / float64(time.Millisecond),
		domain.TagROIXStart:     0,
		domain.TagROIYStart:     0,
	}

	return &domain.TaggedImage{Pix: pix, Tags: tags}, nil
}

// StartSequenceAcquisition starts a fixed-length acquisition into the
// circular buffer. With stopOnOverflow set, the acquisition stops when the
// buffer fills; otherwise the oldest frames are overwritten.
func (c *DemoCore) StartSequenceAcquisition(ctx context.Context, numImages int, intervalMs float64, stopOnOverflow bool) error {
	if numImages <= 0 {
		return errors.NewValidationError("number of images must be positive", nil)
	}
	return c.startAcquisition(numImages, intervalMs, stopOnOverflow)
}

// StartContinuousSequenceAcquisition starts an unbounded acquisition that
// overwrites the oldest frames on overflow, matching live mode.
func (c *DemoCore) StartContinuousSequenceAcquisition(ctx context.Context, intervalMs float64) error {
	return c.startAcquisition(-1, intervalMs, false)
}

func (c *DemoCore) startAcquisition(numImages int, intervalMs float64, stopOnOverflow bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkAlive(); err != nil {
		return err
	}
	if _, err := c.camera(); err != nil {
		return err
	}
	width, height, bytesPerPixel, err := c.cameraGeometry()
	if err != nil {
		return err
	}
	frameSize := int64(width * height * bytesPerPixel)
	if frameSize > c.buffer.CapacityBytes() {
		return errors.NewValidationError("frame does not fit the circular buffer footprint", nil).
			WithContext("frame_bytes", strconv.FormatInt(frameSize, 10)).
			WithContext("footprint_mb", strconv.Itoa(c.buffer.CapacityMB()))
	}
	if !c.seqRunning.CompareAndSwap(false, true) {
		return errors.NewConflictError("sequence acquisition already running", nil)
	}

	c.seqStop = make(chan struct{})
	c.seqDone = make(chan struct{})

	interval := time.Duration(intervalMs * float64(time.Millisecond))

	c.logger.Debugf("Starting sequence acquisition, images: %d, interval: %s, stop_on_overflow: %t",
		numImages, interval, stopOnOverflow)
	c.dispatcher.Publish(domain.CoreEvent{Type: domain.EventSequenceAcquisitionStarted})

	go c.acquire(numImages, interval, stopOnOverflow, c.seqStop, c.seqDone)
	return nil
}

// acquire is the acquisition loop. It runs until the requested image count
// is reached, the buffer overflows with stopOnOverflow set, or stop closes.
func (c *DemoCore) acquire(numImages int, interval time.Duration, stopOnOverflow bool, stop, done chan struct{}) {
	defer func() {
		c.seqRunning.Store(false)
		c.dispatcher.Publish(domain.CoreEvent{Type: domain.EventSequenceAcquisitionStopped})
		close(done)
	}()

	captured := 0
	for numImages < 0 || captured < numImages {
		select {
		case <-stop:
			return
		default:
		}

		if interval > 0 {
			select {
			case <-stop:
				return
			case <-time.After(interval):
			}
		}

		c.mu.Lock()
		img, err := c.captureFrame()
		c.mu.Unlock()
		if err != nil {
			c.logger.Errorf("Sequence acquisition capture failed: %v", err)
			return
		}

		overwrite := !stopOnOverflow
		if err := c.buffer.Insert(img, overwrite); err != nil {
			if !errors.IsConflictError(err) {
				// The frame no longer fits the footprint (it was shrunk
				// mid-acquisition). Retrying cannot make progress.
				c.logger.Errorf("Sequence acquisition stopped, %v", err)
				return
			}
			c.dispatcher.Publish(domain.CoreEvent{Type: domain.EventCircularBufferFrameOverflow})
			if stopOnOverflow {
				c.logger.Warnf("Sequence acquisition stopped on circular buffer overflow after %d images", captured)
				return
			}
			continue
		}
		captured++
	}
}

// StopSequenceAcquisition stops a running acquisition and waits for the
// acquisition loop to exit. Stopping an idle core is a no-op.
func (c *DemoCore) StopSequenceAcquisition(ctx context.Context) error {
	c.mu.Lock()
	if !c.seqRunning.Load() {
		c.mu.Unlock()
		return nil
	}
	stop := c.seqStop
	done := c.seqDone
	select {
	case <-stop:
		// Already signalled by a concurrent stop.
	default:
		close(stop)
	}
	c.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.NewCancelledError("cancelled while waiting for acquisition to stop", ctx.Err())
	}
}

func (c *DemoCore) IsSequenceRunning(ctx context.Context) (bool, error) {
	if err := c.aliveErr(); err != nil {
		return false, err
	}
	return c.seqRunning.Load(), nil
}
