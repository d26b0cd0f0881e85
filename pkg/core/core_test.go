package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/micro-manager/mmgocorex/pkg/control"
	"github.com/micro-manager/mmgocorex/pkg/democore"
	"github.com/micro-manager/mmgocorex/pkg/errors"
	"github.com/micro-manager/mmgocorex/pkg/launcher"
	"github.com/micro-manager/mmgocorex/pkg/logging"

	"github.com/phayes/freeport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `# Test configuration
Device,Camera,DemoCamera,DCam

Property,Core,Camera,Camera
Property,Camera,OnCameraCCDXSize,64
Property,Camera,OnCameraCCDYSize,48
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "MMConfig_test.cfg")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o644))
	return path
}

// startBridge serves a demo core on a free loopback port.
func startBridge(t *testing.T) int {
	t.Helper()

	logger := logging.NewNullLogger()
	core := democore.New(democore.Options{BufferSizeMB: 8}, logger)
	require.NoError(t, core.LoadSystemConfiguration(context.Background(), writeTestConfig(t)))

	server, err := control.NewServer(control.ServerOptions{Port: 0}, logger)
	require.NoError(t, err)
	control.RegisterCoreServiceServer(server.GRPC(), core, logger)
	server.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Stop(ctx)
	})

	return server.Port()
}

func TestConnectPrefersLocalCore(t *testing.T) {
	logger := logging.NewNullLogger()
	manager := launcher.NewManager(logger)
	ctx := context.Background()

	instance, err := manager.CreateCoreInstance(ctx, launcher.Options{
		Backend:      launcher.BackendLocal,
		ConfigFile:   writeTestConfig(t),
		BufferSizeMB: 8,
	})
	require.NoError(t, err)

	client, err := Connect(ctx, Options{Manager: manager}, logger)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	assert.False(t, client.IsRemote())
	require.NoError(t, client.Ping(ctx))

	// The accessor and the launcher instance see the same core state.
	require.NoError(t, client.SetProperty(ctx, "Camera", "Binning", "2"))
	value, err := instance.Core.GetProperty(ctx, "Camera", "Binning")
	require.NoError(t, err)
	assert.Equal(t, "2", value)
}

func TestConnectRemote(t *testing.T) {
	logger := logging.NewNullLogger()
	port := startBridge(t)
	ctx := context.Background()

	client, err := Connect(ctx, Options{Port: port}, logger)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	assert.True(t, client.IsRemote())

	devices, err := client.GetLoadedDevices(ctx)
	require.NoError(t, err)
	assert.Contains(t, devices, "Camera")

	require.NoError(t, client.SnapImage(ctx))
	img, err := client.GetImage(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, img)
}

func TestConnectRemoteEvents(t *testing.T) {
	logger := logging.NewNullLogger()
	port := startBridge(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := Connect(ctx, Options{Port: port}, logger)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	events, err := client.Events(ctx)
	require.NoError(t, err)

	// The bridge subscribes to the core asynchronously after the stream
	// opens, so keep mutating until an event comes through.
	received := false
	for attempt := 0; attempt < 50 && !received; attempt++ {
		require.NoError(t, client.SetExposure(ctx, 42))
		select {
		case <-events:
			received = true
		case <-time.After(100 * time.Millisecond):
		}
	}
	require.True(t, received, "timed out waiting for core event")
}

func TestConnectNoBridgeRunning(t *testing.T) {
	logger := logging.NewNullLogger()

	port, err := freeport.GetFreePort()
	require.NoError(t, err)

	_, err = Connect(context.Background(), Options{
		Port:          port,
		RetryAttempts: 2,
		RetryInterval: 50 * time.Millisecond,
	}, logger)
	require.Error(t, err)
	assert.True(t, errors.IsNetworkError(err))
	assert.Contains(t, err.Error(), "is a headless instance running")
}

func TestCloseIsIdempotent(t *testing.T) {
	logger := logging.NewNullLogger()
	port := startBridge(t)

	client, err := Connect(context.Background(), Options{Port: port}, logger)
	require.NoError(t, err)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
}
