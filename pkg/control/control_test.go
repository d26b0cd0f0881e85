package control

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/micro-manager/mmgocorex/pkg/democore"
	"github.com/micro-manager/mmgocorex/pkg/domain"
	"github.com/micro-manager/mmgocorex/pkg/errors"
	"github.com/micro-manager/mmgocorex/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `Device,Camera,DemoCamera,DCam
Property,Core,Camera,Camera
Property,Camera,OnCameraCCDXSize,32
Property,Camera,OnCameraCCDYSize,32
`

// setupClientAndServer serves a demo core on a loopback port and returns a
// remote gateway to it.
func setupClientAndServer(t *testing.T) (domain.Core, *democore.DemoCore) {
	t.Helper()

	logger := logging.NewNullLogger()

	core := democore.New(democore.Options{BufferSizeMB: 8}, logger)
	configPath := filepath.Join(t.TempDir(), "MMConfig_test.cfg")
	require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0o644))
	require.NoError(t, core.LoadSystemConfiguration(context.Background(), configPath))

	server, err := NewServer(ServerOptions{Port: 0}, logger)
	require.NoError(t, err)

	RegisterCoreServiceServer(server.GRPC(), core, logger)
	server.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Stop(ctx)
	})

	conn, err := NewConnection(ConnectionOptions{Port: server.Port()}, logger)
	require.NoError(t, err)
	t.Cleanup(conn.Shutdown)

	return NewCoreClientGateway(conn.GRPC(), logger), core
}

func TestGatewayPing(t *testing.T) {
	gateway, _ := setupClientAndServer(t)
	require.NoError(t, gateway.Ping(context.Background()))
}

func TestGatewayProperties(t *testing.T) {
	gateway, _ := setupClientAndServer(t)
	ctx := context.Background()

	value, err := gateway.GetProperty(ctx, "Camera", "OnCameraCCDXSize")
	require.NoError(t, err)
	assert.Equal(t, "32", value)

	require.NoError(t, gateway.SetProperty(ctx, "Camera", "Binning", "2"))

	value, err = gateway.GetProperty(ctx, "Camera", "Binning")
	require.NoError(t, err)
	assert.Equal(t, "2", value)

	names, err := gateway.GetDevicePropertyNames(ctx, "Camera")
	require.NoError(t, err)
	assert.Contains(t, names, "Exposure")

	devices, err := gateway.GetLoadedDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Camera"}, devices)
}

func TestGatewayErrorCategoriesSurviveTheWire(t *testing.T) {
	gateway, _ := setupClientAndServer(t)
	ctx := context.Background()

	_, err := gateway.GetProperty(ctx, "Laser", "Power")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))

	err = gateway.SetProperty(ctx, "Camera", "Binning", "3")
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))

	_, err = gateway.PopNextTaggedImage(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestGatewaySnapAndTaggedImage(t *testing.T) {
	gateway, _ := setupClientAndServer(t)
	ctx := context.Background()

	require.NoError(t, gateway.SnapImage(ctx))

	pix, err := gateway.GetImage(ctx)
	require.NoError(t, err)
	assert.Len(t, pix, 32*32)

	tagged, err := gateway.GetTaggedImage(ctx)
	require.NoError(t, err)
	require.NotNil(t, tagged)
	assert.Equal(t, pix, tagged.Pix)
	assert.Equal(t, "Camera", tagged.Tags[domain.TagCamera])

	width, err := gateway.GetImageWidth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 32, width)
}

func TestGatewaySequenceAcquisition(t *testing.T) {
	gateway, _ := setupClientAndServer(t)
	ctx := context.Background()

	require.NoError(t, gateway.StartSequenceAcquisition(ctx, 3, 0, true))

	require.Eventually(t, func() bool {
		running, err := gateway.IsSequenceRunning(ctx)
		return err == nil && !running
	}, 5*time.Second, 10*time.Millisecond)

	count, err := gateway.GetRemainingImageCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	img, err := gateway.PopNextTaggedImage(ctx)
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.NotEmpty(t, img.Pix)

	require.NoError(t, gateway.ClearCircularBuffer(ctx))
	count, err = gateway.GetRemainingImageCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestGatewayExposureAndFootprint(t *testing.T) {
	gateway, _ := setupClientAndServer(t)
	ctx := context.Background()

	require.NoError(t, gateway.SetExposure(ctx, 12.5))
	exposure, err := gateway.GetExposure(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12.5, exposure)

	require.NoError(t, gateway.SetCircularBufferMemoryFootprint(ctx, 16))
	footprint, err := gateway.GetCircularBufferMemoryFootprint(ctx)
	require.NoError(t, err)
	assert.Equal(t, 16, footprint)
}

func TestGatewayCallbacksStream(t *testing.T) {
	gateway, _ := setupClientAndServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source, ok := gateway.(domain.EventSource)
	require.True(t, ok, "gateway should implement domain.EventSource")

	events, err := source.Events(ctx)
	require.NoError(t, err)

	// The server-side subscription is established asynchronously after the
	// stream opens, so keep mutating until an event comes through.
	var event domain.CoreEvent
	received := false
	for attempt := 0; attempt < 50 && !received; attempt++ {
		require.NoError(t, gateway.SetProperty(ctx, "Camera", "Binning", "4"))
		select {
		case event = <-events:
			received = true
		case <-time.After(100 * time.Millisecond):
		}
	}
	require.True(t, received, "expected a property changed event over the stream")

	assert.Equal(t, domain.EventPropertyChanged, event.Type)
	assert.Equal(t, "Camera", event.Device)
	assert.Equal(t, "Binning", event.Property)
	assert.Equal(t, "4", event.Value)
}

func TestCodecRoundTripTaggedImage(t *testing.T) {
	original := &TaggedImageReply{
		Image: &domain.TaggedImage{
			Pix: []byte{1, 2, 3, 4},
			Tags: map[string]interface{}{
				domain.TagCamera: "Camera",
				domain.TagWidth:  2,
				domain.TagHeight: 2,
			},
		},
	}

	data, err := msgpackCodec{}.Marshal(original)
	require.NoError(t, err)

	decoded := &TaggedImageReply{}
	require.NoError(t, msgpackCodec{}.Unmarshal(data, decoded))

	assert.Equal(t, original.Image.Pix, decoded.Image.Pix)
	assert.Equal(t, "Camera", decoded.Image.Tags[domain.TagCamera])
}
