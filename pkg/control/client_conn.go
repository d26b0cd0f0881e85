package control

import (
	"fmt"

	"github.com/micro-manager/mmgocorex/pkg/logging"

	"google.golang.org/grpc"
)

type ConnectionOptions struct {
	// Port of the bridge on loopback.
	Port int
}

// Connection is a client connection to a headless core server.
type Connection interface {
	GRPC() grpc.ClientConnInterface
	Shutdown()
}

// NewConnection dials the bridge port. Dialing is lazy; the first call on
// the connection surfaces connectivity errors.
func NewConnection(options ConnectionOptions, logger logging.Logger) (Connection, error) {
	address := fmt.Sprintf("127.0.0.1:%d", options.Port)

	logger.Debugf("Dialing core server at %s", address)

	dialOpts := []grpc.DialOption{
		grpc.WithInsecure(),
		grpc.WithReadBufferSize(1 * 1024 * 1024),
		grpc.WithInitialWindowSize(1 * 1024 * 1024),
		grpc.WithInitialConnWindowSize(1 * 1024 * 1024),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}

	grpcClientConnection, err := grpc.Dial(address, dialOpts...)
	if err != nil {
		return nil, err
	}

	logger.Debugf("Connected to core server at %s", address)

	return &connection{
		grpcClientConnection: grpcClientConnection,
		logger:               logger,
	}, nil
}

type connection struct {
	grpcClientConnection *grpc.ClientConn
	logger               logging.Logger
}

func (c *connection) GRPC() grpc.ClientConnInterface {
	return c.grpcClientConnection
}

func (c *connection) Shutdown() {
	c.logger.Debugf("Stopping gRPC client connection...")
	c.grpcClientConnection.Close()
	c.logger.Debugf("gRPC client connection stopped")
}
