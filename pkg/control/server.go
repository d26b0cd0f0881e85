package control

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/micro-manager/mmgocorex/pkg/logging"

	"google.golang.org/grpc"
)

type ServerOptions struct {
	// Port to listen on, loopback only. Zero picks a free port.
	Port int
}

// Server hosts the core service on a loopback listener.
type Server interface {
	GRPC() grpc.ServiceRegistrar
	Addr() string
	Port() int
	Start()
	Stop(ctx context.Context)
	Run(onShutdownFunc func())
}

func NewServer(options ServerOptions, logger logging.Logger) (Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", options.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen at port %d: %v", options.Port, err)
	}

	logger.Infof("Listening at %s", listener.Addr().String())

	grpcServer := grpc.NewServer(
		grpc.WriteBufferSize(1*1024*1024),
		grpc.InitialWindowSize(1*1024*1024),
		grpc.InitialConnWindowSize(1*1024*1024),
	)

	return &server{
		grpcServer: grpcServer,
		listener:   listener,
		logger:     logger,
	}, nil
}

type server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	logger     logging.Logger
}

func (s *server) GRPC() grpc.ServiceRegistrar {
	return s.grpcServer
}

func (s *server) Addr() string {
	return s.listener.Addr().String()
}

func (s *server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Start serves in the background. Use Stop to shut down; embedding callers
// and tests use this pair instead of the signal-driven Run.
func (s *server) Start() {
	go func() {
		err := s.grpcServer.Serve(s.listener)
		if err != nil {
			s.logger.Errorf("Core gRPC server Serve failed: %v", err)
			return
		}
	}()
}

// Stop stops the server gracefully, falling back to a hard stop when ctx
// expires first.
func (s *server) Stop(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Infof("gRPC server stopped gracefully")
	case <-ctx.Done():
		s.logger.Infof("Shutdown timed out, forcing gRPC server to stop")
		s.grpcServer.Stop()
	}
}

// Run serves until an interrupt or termination signal arrives, then shuts
// down gracefully, calling onShutdownFunc before stopping the transport.
func (s *server) Run(onShutdownFunc func()) {
	s.Start()

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	receivedSignal := <-sig

	s.logger.Infof("Received signal: %v", receivedSignal)
	s.logger.Infof("Stopping...")

	if onShutdownFunc != nil {
		onShutdownFunc()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()
	s.Stop(ctx)

	s.logger.Infof("Stopped")
}
