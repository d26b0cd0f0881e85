package control

import (
	"context"

	"github.com/micro-manager/mmgocorex/pkg/domain"
	"github.com/micro-manager/mmgocorex/pkg/errors"
	"github.com/micro-manager/mmgocorex/pkg/logging"

	"google.golang.org/grpc"
)

// NewCoreClientGateway returns a domain.Core that forwards every call over
// the given client connection.
func NewCoreClientGateway(conn grpc.ClientConnInterface, logger logging.Logger) domain.Core {
	return &coreClientGateway{
		conn:   conn,
		logger: logger,
	}
}

type coreClientGateway struct {
	conn   grpc.ClientConnInterface
	logger logging.Logger
}

var _ domain.Core = (*coreClientGateway)(nil)
var _ domain.EventSource = (*coreClientGateway)(nil)

func (gw *coreClientGateway) invoke(ctx context.Context, method string, req, reply interface{}) error {
	err := gw.conn.Invoke(ctx, fullMethod(method), req, reply, grpc.CallContentSubtype(codecName))
	if err != nil {
		gw.logger.Errorf("%s client gateway: %v", method, err)
		return fromStatusError(err)
	}
	gw.logger.Debugf("%s client gateway done", method)
	return nil
}

func (gw *coreClientGateway) Ping(ctx context.Context) error {
	return gw.invoke(ctx, "Ping", &Empty{}, &Empty{})
}

func (gw *coreClientGateway) LoadSystemConfiguration(ctx context.Context, path string) error {
	return gw.invoke(ctx, "LoadSystemConfiguration", &PathRequest{Path: path}, &Empty{})
}

func (gw *coreClientGateway) GetLoadedDevices(ctx context.Context) ([]string, error) {
	reply := &StringListReply{}
	if err := gw.invoke(ctx, "GetLoadedDevices", &Empty{}, reply); err != nil {
		return nil, err
	}
	return reply.Values, nil
}

func (gw *coreClientGateway) UnloadAllDevices(ctx context.Context) error {
	return gw.invoke(ctx, "UnloadAllDevices", &Empty{}, &Empty{})
}

func (gw *coreClientGateway) GetDevicePropertyNames(ctx context.Context, label string) ([]string, error) {
	reply := &StringListReply{}
	if err := gw.invoke(ctx, "GetDevicePropertyNames", &DeviceRequest{Label: label}, reply); err != nil {
		return nil, err
	}
	return reply.Values, nil
}

func (gw *coreClientGateway) GetProperty(ctx context.Context, label, property string) (string, error) {
	reply := &StringReply{}
	if err := gw.invoke(ctx, "GetProperty", &PropertyRequest{Label: label, Property: property}, reply); err != nil {
		return "", err
	}
	return reply.Value, nil
}

func (gw *coreClientGateway) SetProperty(ctx context.Context, label, property, value string) error {
	return gw.invoke(ctx, "SetProperty", &SetPropertyRequest{Label: label, Property: property, Value: value}, &Empty{})
}

func (gw *coreClientGateway) GetExposure(ctx context.Context) (float64, error) {
	reply := &FloatReply{}
	if err := gw.invoke(ctx, "GetExposure", &Empty{}, reply); err != nil {
		return 0, err
	}
	return reply.Value, nil
}

func (gw *coreClientGateway) SetExposure(ctx context.Context, exposureMs float64) error {
	return gw.invoke(ctx, "SetExposure", &ExposureRequest{ExposureMs: exposureMs}, &Empty{})
}

func (gw *coreClientGateway) GetImageWidth(ctx context.Context) (int, error) {
	reply := &IntReply{}
	if err := gw.invoke(ctx, "GetImageWidth", &Empty{}, reply); err != nil {
		return 0, err
	}
	return reply.Value, nil
}

func (gw *coreClientGateway) GetImageHeight(ctx context.Context) (int, error) {
	reply := &IntReply{}
	if err := gw.invoke(ctx, "GetImageHeight", &Empty{}, reply); err != nil {
		return 0, err
	}
	return reply.Value, nil
}

func (gw *coreClientGateway) GetBytesPerPixel(ctx context.Context) (int, error) {
	reply := &IntReply{}
	if err := gw.invoke(ctx, "GetBytesPerPixel", &Empty{}, reply); err != nil {
		return 0, err
	}
	return reply.Value, nil
}

func (gw *coreClientGateway) SnapImage(ctx context.Context) error {
	return gw.invoke(ctx, "SnapImage", &Empty{}, &Empty{})
}

func (gw *coreClientGateway) GetImage(ctx context.Context) ([]byte, error) {
	reply := &BytesReply{}
	if err := gw.invoke(ctx, "GetImage", &Empty{}, reply); err != nil {
		return nil, err
	}
	return reply.Value, nil
}

func (gw *coreClientGateway) GetTaggedImage(ctx context.Context) (*domain.TaggedImage, error) {
	reply := &TaggedImageReply{}
	if err := gw.invoke(ctx, "GetTaggedImage", &Empty{}, reply); err != nil {
		return nil, err
	}
	return reply.Image, nil
}

func (gw *coreClientGateway) StartSequenceAcquisition(ctx context.Context, numImages int, intervalMs float64, stopOnOverflow bool) error {
	req := &SequenceRequest{
		NumImages:      numImages,
		IntervalMs:     intervalMs,
		StopOnOverflow: stopOnOverflow,
	}
	return gw.invoke(ctx, "StartSequenceAcquisition", req, &Empty{})
}

func (gw *coreClientGateway) StartContinuousSequenceAcquisition(ctx context.Context, intervalMs float64) error {
	return gw.invoke(ctx, "StartContinuousSequenceAcquisition", &ContinuousSequenceRequest{IntervalMs: intervalMs}, &Empty{})
}

func (gw *coreClientGateway) StopSequenceAcquisition(ctx context.Context) error {
	return gw.invoke(ctx, "StopSequenceAcquisition", &Empty{}, &Empty{})
}

func (gw *coreClientGateway) IsSequenceRunning(ctx context.Context) (bool, error) {
	reply := &BoolReply{}
	if err := gw.invoke(ctx, "IsSequenceRunning", &Empty{}, reply); err != nil {
		return false, err
	}
	return reply.Value, nil
}

func (gw *coreClientGateway) PopNextTaggedImage(ctx context.Context) (*domain.TaggedImage, error) {
	reply := &TaggedImageReply{}
	if err := gw.invoke(ctx, "PopNextTaggedImage", &Empty{}, reply); err != nil {
		return nil, err
	}
	return reply.Image, nil
}

func (gw *coreClientGateway) GetRemainingImageCount(ctx context.Context) (int, error) {
	reply := &IntReply{}
	if err := gw.invoke(ctx, "GetRemainingImageCount", &Empty{}, reply); err != nil {
		return 0, err
	}
	return reply.Value, nil
}

func (gw *coreClientGateway) GetBufferFreeCapacity(ctx context.Context) (int, error) {
	reply := &IntReply{}
	if err := gw.invoke(ctx, "GetBufferFreeCapacity", &Empty{}, reply); err != nil {
		return 0, err
	}
	return reply.Value, nil
}

func (gw *coreClientGateway) SetCircularBufferMemoryFootprint(ctx context.Context, sizeMB int) error {
	return gw.invoke(ctx, "SetCircularBufferMemoryFootprint", &FootprintRequest{SizeMB: sizeMB}, &Empty{})
}

func (gw *coreClientGateway) GetCircularBufferMemoryFootprint(ctx context.Context) (int, error) {
	reply := &IntReply{}
	if err := gw.invoke(ctx, "GetCircularBufferMemoryFootprint", &Empty{}, reply); err != nil {
		return 0, err
	}
	return reply.Value, nil
}

func (gw *coreClientGateway) ClearCircularBuffer(ctx context.Context) error {
	return gw.invoke(ctx, "ClearCircularBuffer", &Empty{}, &Empty{})
}

func (gw *coreClientGateway) Shutdown(ctx context.Context) error {
	return gw.invoke(ctx, "Shutdown", &Empty{}, &Empty{})
}

var callbacksStreamDesc = grpc.StreamDesc{
	StreamName:    "Callbacks",
	ServerStreams: true,
}

// Events implements domain.EventSource over the Callbacks server stream. The
// returned channel closes when ctx is cancelled or the stream ends.
func (gw *coreClientGateway) Events(ctx context.Context) (<-chan domain.CoreEvent, error) {
	stream, err := gw.conn.NewStream(ctx, &callbacksStreamDesc, fullMethod("Callbacks"), grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, errors.NewNetworkError("failed to open callbacks stream", err)
	}
	if err := stream.SendMsg(&Empty{}); err != nil {
		return nil, errors.NewNetworkError("failed to start callbacks stream", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, errors.NewNetworkError("failed to start callbacks stream", err)
	}

	events := make(chan domain.CoreEvent, subscriberStreamBuffer)
	go func() {
		defer close(events)
		for {
			var event domain.CoreEvent
			if err := stream.RecvMsg(&event); err != nil {
				gw.logger.Debugf("Callbacks stream ended: %v", err)
				return
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

// subscriberStreamBuffer bounds the client-side event channel.
const subscriberStreamBuffer = 64
