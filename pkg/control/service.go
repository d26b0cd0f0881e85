package control

import (
	"context"

	"github.com/micro-manager/mmgocorex/pkg/domain"
	"github.com/micro-manager/mmgocorex/pkg/logging"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CoreServiceName is the fully qualified gRPC service name of the core
// bridge.
const CoreServiceName = "mmgocorex.CoreService"

func fullMethod(name string) string {
	return "/" + CoreServiceName + "/" + name
}

// coreServiceHandler is the registration marker for the hand-written
// service descriptor.
type coreServiceHandler interface {
	coreService()
}

type coreServiceServer struct {
	core   domain.Core
	logger logging.Logger
}

func (*coreServiceServer) coreService() {}

// RegisterCoreServiceServer exposes a domain.Core on a gRPC registrar. If
// the core also implements domain.EventSource, the Callbacks stream relays
// its events; otherwise Callbacks reports Unimplemented.
func RegisterCoreServiceServer(registrar grpc.ServiceRegistrar, core domain.Core, logger logging.Logger) {
	registrar.RegisterService(&coreServiceDesc, &coreServiceServer{
		core:   core,
		logger: logger,
	})
}

// unary builds a MethodDesc around a typed call, decoding the request with
// the registered codec and mapping domain errors onto status codes. This
// plays the role code generation would otherwise fill.
func unary[Req any, Reply any](name string, call func(s *coreServiceServer, ctx context.Context, req *Req) (*Reply, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*coreServiceServer)
			handle := func(ctx context.Context, req interface{}) (interface{}, error) {
				reply, err := call(s, ctx, req.(*Req))
				if err != nil {
					s.logger.Errorf("%s server handler: %v", name, err)
					return nil, toStatusError(err)
				}
				s.logger.Debugf("%s server handler done", name)
				return reply, nil
			}
			if interceptor == nil {
				return handle(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, handle)
		},
	}
}

var coreServiceDesc = grpc.ServiceDesc{
	ServiceName: CoreServiceName,
	HandlerType: (*coreServiceHandler)(nil),
	Methods: []grpc.MethodDesc{
		unary("Ping", func(s *coreServiceServer, ctx context.Context, req *Empty) (*Empty, error) {
			if err := s.core.Ping(ctx); err != nil {
				return nil, err
			}
			return &Empty{}, nil
		}),
		unary("LoadSystemConfiguration", func(s *coreServiceServer, ctx context.Context, req *PathRequest) (*Empty, error) {
			if err := s.core.LoadSystemConfiguration(ctx, req.Path); err != nil {
				return nil, err
			}
			return &Empty{}, nil
		}),
		unary("GetLoadedDevices", func(s *coreServiceServer, ctx context.Context, req *Empty) (*StringListReply, error) {
			devices, err := s.core.GetLoadedDevices(ctx)
			if err != nil {
				return nil, err
			}
			return &StringListReply{Values: devices}, nil
		}),
		unary("UnloadAllDevices", func(s *coreServiceServer, ctx context.Context, req *Empty) (*Empty, error) {
			if err := s.core.UnloadAllDevices(ctx); err != nil {
				return nil, err
			}
			return &Empty{}, nil
		}),
		unary("GetDevicePropertyNames", func(s *coreServiceServer, ctx context.Context, req *DeviceRequest) (*StringListReply, error) {
			names, err := s.core.GetDevicePropertyNames(ctx, req.Label)
			if err != nil {
				return nil, err
			}
			return &StringListReply{Values: names}, nil
		}),
		unary("GetProperty", func(s *coreServiceServer, ctx context.Context, req *PropertyRequest) (*StringReply, error) {
			value, err := s.core.GetProperty(ctx, req.Label, req.Property)
			if err != nil {
				return nil, err
			}
			return &StringReply{Value: value}, nil
		}),
		unary("SetProperty", func(s *coreServiceServer, ctx context.Context, req *SetPropertyRequest) (*Empty, error) {
			if err := s.core.SetProperty(ctx, req.Label, req.Property, req.Value); err != nil {
				return nil, err
			}
			return &Empty{}, nil
		}),
		unary("GetExposure", func(s *coreServiceServer, ctx context.Context, req *Empty) (*FloatReply, error) {
			exposure, err := s.core.GetExposure(ctx)
			if err != nil {
				return nil, err
			}
			return &FloatReply{Value: exposure}, nil
		}),
		unary("SetExposure", func(s *coreServiceServer, ctx context.Context, req *ExposureRequest) (*Empty, error) {
			if err := s.core.SetExposure(ctx, req.ExposureMs); err != nil {
				return nil, err
			}
			return &Empty{}, nil
		}),
		unary("GetImageWidth", func(s *coreServiceServer, ctx context.Context, req *Empty) (*IntReply, error) {
			width, err := s.core.GetImageWidth(ctx)
			if err != nil {
				return nil, err
			}
			return &IntReply{Value: width}, nil
		}),
		unary("GetImageHeight", func(s *coreServiceServer, ctx context.Context, req *Empty) (*IntReply, error) {
			height, err := s.core.GetImageHeight(ctx)
			if err != nil {
				return nil, err
			}
			return &IntReply{Value: height}, nil
		}),
		unary("GetBytesPerPixel", func(s *coreServiceServer, ctx context.Context, req *Empty) (*IntReply, error) {
			bytesPerPixel, err := s.core.GetBytesPerPixel(ctx)
			if err != nil {
				return nil, err
			}
			return &IntReply{Value: bytesPerPixel}, nil
		}),
		unary("SnapImage", func(s *coreServiceServer, ctx context.Context, req *Empty) (*Empty, error) {
			if err := s.core.SnapImage(ctx); err != nil {
				return nil, err
			}
			return &Empty{}, nil
		}),
		unary("GetImage", func(s *coreServiceServer, ctx context.Context, req *Empty) (*BytesReply, error) {
			pix, err := s.core.GetImage(ctx)
			if err != nil {
				return nil, err
			}
			return &BytesReply{Value: pix}, nil
		}),
		unary("GetTaggedImage", func(s *coreServiceServer, ctx context.Context, req *Empty) (*TaggedImageReply, error) {
			img, err := s.core.GetTaggedImage(ctx)
			if err != nil {
				return nil, err
			}
			return &TaggedImageReply{Image: img}, nil
		}),
		unary("StartSequenceAcquisition", func(s *coreServiceServer, ctx context.Context, req *SequenceRequest) (*Empty, error) {
			if err := s.core.StartSequenceAcquisition(ctx, req.NumImages, req.IntervalMs, req.StopOnOverflow); err != nil {
				return nil, err
			}
			return &Empty{}, nil
		}),
		unary("StartContinuousSequenceAcquisition", func(s *coreServiceServer, ctx context.Context, req *ContinuousSequenceRequest) (*Empty, error) {
			if err := s.core.StartContinuousSequenceAcquisition(ctx, req.IntervalMs); err != nil {
				return nil, err
			}
			return &Empty{}, nil
		}),
		unary("StopSequenceAcquisition", func(s *coreServiceServer, ctx context.Context, req *Empty) (*Empty, error) {
			if err := s.core.StopSequenceAcquisition(ctx); err != nil {
				return nil, err
			}
			return &Empty{}, nil
		}),
		unary("IsSequenceRunning", func(s *coreServiceServer, ctx context.Context, req *Empty) (*BoolReply, error) {
			running, err := s.core.IsSequenceRunning(ctx)
			if err != nil {
				return nil, err
			}
			return &BoolReply{Value: running}, nil
		}),
		unary("PopNextTaggedImage", func(s *coreServiceServer, ctx context.Context, req *Empty) (*TaggedImageReply, error) {
			img, err := s.core.PopNextTaggedImage(ctx)
			if err != nil {
				return nil, err
			}
			return &TaggedImageReply{Image: img}, nil
		}),
		unary("GetRemainingImageCount", func(s *coreServiceServer, ctx context.Context, req *Empty) (*IntReply, error) {
			count, err := s.core.GetRemainingImageCount(ctx)
			if err != nil {
				return nil, err
			}
			return &IntReply{Value: count}, nil
		}),
		unary("GetBufferFreeCapacity", func(s *coreServiceServer, ctx context.Context, req *Empty) (*IntReply, error) {
			free, err := s.core.GetBufferFreeCapacity(ctx)
			if err != nil {
				return nil, err
			}
			return &IntReply{Value: free}, nil
		}),
		unary("SetCircularBufferMemoryFootprint", func(s *coreServiceServer, ctx context.Context, req *FootprintRequest) (*Empty, error) {
			if err := s.core.SetCircularBufferMemoryFootprint(ctx, req.SizeMB); err != nil {
				return nil, err
			}
			return &Empty{}, nil
		}),
		unary("GetCircularBufferMemoryFootprint", func(s *coreServiceServer, ctx context.Context, req *Empty) (*IntReply, error) {
			sizeMB, err := s.core.GetCircularBufferMemoryFootprint(ctx)
			if err != nil {
				return nil, err
			}
			return &IntReply{Value: sizeMB}, nil
		}),
		unary("ClearCircularBuffer", func(s *coreServiceServer, ctx context.Context, req *Empty) (*Empty, error) {
			if err := s.core.ClearCircularBuffer(ctx); err != nil {
				return nil, err
			}
			return &Empty{}, nil
		}),
		unary("Shutdown", func(s *coreServiceServer, ctx context.Context, req *Empty) (*Empty, error) {
			if err := s.core.Shutdown(ctx); err != nil {
				return nil, err
			}
			return &Empty{}, nil
		}),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Callbacks",
			Handler:       callbacksStreamHandler,
			ServerStreams: true,
		},
	},
}

// callbacksStreamHandler relays core events to the client until the client
// goes away or the core shuts down.
func callbacksStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}

	s := srv.(*coreServiceServer)
	source, ok := s.core.(domain.EventSource)
	if !ok {
		return status.Error(codes.Unimplemented, "core does not emit callback events")
	}

	events, err := source.Events(stream.Context())
	if err != nil {
		return toStatusError(err)
	}

	s.logger.Debugf("Callbacks stream opened")
	for event := range events {
		if err := stream.SendMsg(&event); err != nil {
			s.logger.Debugf("Callbacks stream closed: %v", err)
			return err
		}
	}

	s.logger.Debugf("Callbacks stream drained")
	return nil
}
