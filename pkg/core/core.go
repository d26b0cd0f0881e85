// Package core is the unified accessor for a running core. Connect prefers
// an in-process core when the launcher has one active, and otherwise dials
// the bridge port of a headless instance.
package core

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/micro-manager/mmgocorex/pkg/control"
	"github.com/micro-manager/mmgocorex/pkg/domain"
	"github.com/micro-manager/mmgocorex/pkg/errors"
	"github.com/micro-manager/mmgocorex/pkg/launcher"
	"github.com/micro-manager/mmgocorex/pkg/logging"
)

// Options configures Connect.
type Options struct {
	// Manager, when set, is consulted for an active local core first.
	Manager *launcher.Manager

	// Port of the bridge to dial when no local core is active. Zero means
	// launcher.DefaultBridgePort.
	Port int

	// RetryAttempts and RetryInterval bound the readiness ping against the
	// bridge. Zero values mean 10 attempts at 300ms.
	RetryAttempts int
	RetryInterval time.Duration
}

// Client is a connected core. It exposes the full core surface regardless
// of whether the core runs in-process or behind the bridge.
type Client struct {
	domain.Core

	remote bool
	conn   control.Connection
}

// Connect returns a client for the active core. A local core always wins
// over the bridge, matching how a single process is expected to either own
// the core or talk to exactly one headless instance.
func Connect(ctx context.Context, options Options, logger logging.Logger) (*Client, error) {
	if options.Manager != nil {
		if local := options.Manager.ActiveLocalCore(); local != nil {
			logger.Debugf("Using active local core")
			return &Client{Core: local}, nil
		}
	}

	port := options.Port
	if port == 0 {
		port = launcher.DefaultBridgePort
	}

	retryAttempts := options.RetryAttempts
	if retryAttempts == 0 {
		retryAttempts = 10
	}
	retryInterval := options.RetryInterval
	if retryInterval == 0 {
		retryInterval = 300 * time.Millisecond
	}

	conn, err := control.NewConnection(control.ConnectionOptions{Port: port}, logger)
	if err != nil {
		return nil, err
	}

	gateway := control.NewCoreClientGateway(conn.GRPC(), logger)

	pingOptions := domain.RetryPingOptions{
		RetryAttempts: retryAttempts,
		RetryInterval: retryInterval,
	}
	if err := domain.RetryPing(ctx, gateway, pingOptions, logger); err != nil {
		conn.Shutdown()
		return nil, errors.NewNetworkError(
			fmt.Sprintf("failed to reach core bridge, is a headless instance running and serving on port %d?", port),
			err,
		).WithContext("port", strconv.Itoa(port))
	}

	logger.Debugf("Connected to core bridge, port: %d", port)
	return &Client{Core: gateway, remote: true, conn: conn}, nil
}

// IsRemote reports whether the client talks to a headless instance over the
// bridge rather than an in-process core.
func (c *Client) IsRemote() bool {
	return c.remote
}

// Events subscribes to core notifications. The underlying core must expose
// an event source.
func (c *Client) Events(ctx context.Context) (<-chan domain.CoreEvent, error) {
	source, ok := c.Core.(domain.EventSource)
	if !ok {
		return nil, errors.NewValidationError("core does not support event notifications", nil)
	}
	return source.Events(ctx)
}

// Close releases the bridge connection. The core itself keeps running; use
// the launcher to terminate instances. Closing a local client is a no-op.
func (c *Client) Close() error {
	if c.conn != nil {
		c.conn.Shutdown()
		c.conn = nil
	}
	return nil
}
