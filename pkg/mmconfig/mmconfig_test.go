package mmconfig

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/micro-manager/mmgocorex/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const demoConfig = `# Demo configuration
# Devices
Device,Camera,DemoCamera,DCam
Device,Objective,DemoCamera,DObjective
Device,Shutter,DemoCamera,DShutter

# Pre-init properties
Property,Core,Camera,Camera
Property,Camera,OnCameraCCDXSize,512
Property,Camera,OnCameraCCDYSize,512
Property,Camera,PixelType,8bit

Delay,Shutter,50.5

Label,Objective,0,Nikon 10X S Fluor
Label,Objective,1,Nikon 40X Plan Fluor ELWD

ConfigGroup,Channel,DAPI,Camera,Exposure,10
ConfigGroup,Channel,FITC,Camera,Exposure,25
`

func TestParseDemoConfig(t *testing.T) {
	config, err := Parse(strings.NewReader(demoConfig))
	require.NoError(t, err)

	require.Len(t, config.Devices, 3)
	assert.Equal(t, DeviceEntry{Label: "Camera", Library: "DemoCamera", Adapter: "DCam"}, config.Devices[0])

	require.Len(t, config.Properties, 4)
	assert.Equal(t, PropertyEntry{Label: "Core", Property: "Camera", Value: "Camera"}, config.Properties[0])

	require.Len(t, config.Labels, 2)
	assert.Equal(t, 1, config.Labels[1].State)
	assert.Equal(t, "Nikon 40X Plan Fluor ELWD", config.Labels[1].Name)

	require.Len(t, config.ConfigGroups, 2)
	assert.Equal(t, "Channel", config.ConfigGroups[0].Group)
	assert.Equal(t, "DAPI", config.ConfigGroups[0].Preset)

	require.Len(t, config.Delays, 1)
	assert.Equal(t, 50.5, config.Delays[0].DelayMs)
}

func TestParseSkipsCommentsAndBlankLines(t *testing.T) {
	config, err := Parse(strings.NewReader("# only comments\n\n  \n"))
	require.NoError(t, err)
	assert.Empty(t, config.Devices)
}

func TestParseUnknownCommand(t *testing.T) {
	_, err := Parse(strings.NewReader("Widget,A,B,C\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestParseRejectsUndeclaredDeviceReference(t *testing.T) {
	_, err := Parse(strings.NewReader("Property,Camera,Exposure,10\n"))
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestParseAllowsCoreLabelWithoutDeclaration(t *testing.T) {
	config, err := Parse(strings.NewReader("Property,Core,AutoShutter,1\n"))
	require.NoError(t, err)
	require.Len(t, config.Properties, 1)
}

func TestParseRejectsDuplicateDeviceLabels(t *testing.T) {
	input := "Device,Camera,DemoCamera,DCam\nDevice,Camera,DemoCamera,DCam\n"
	_, err := Parse(strings.NewReader(input))
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))
}

func TestParseRejectsReservedCoreDeviceLabel(t *testing.T) {
	_, err := Parse(strings.NewReader("Device,Core,DemoCamera,DCam\n"))
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestParsePropertyWithEmptyValue(t *testing.T) {
	config, err := Parse(strings.NewReader("Device,Camera,DemoCamera,DCam\nProperty,Camera,Description,\n"))
	require.NoError(t, err)
	require.Len(t, config.Properties, 1)
	assert.Equal(t, "", config.Properties[0].Value)
}

func TestParseBadDelay(t *testing.T) {
	_, err := Parse(strings.NewReader("Device,Shutter,DemoCamera,DShutter\nDelay,Shutter,fast\n"))
	require.Error(t, err)
}

func TestSaveThenParseRoundTrip(t *testing.T) {
	config, err := Parse(strings.NewReader(demoConfig))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "MMConfig_roundtrip.cfg")
	require.NoError(t, config.SaveFile(path))

	reparsed, err := ParseFile(path)
	require.NoError(t, err)

	assert.Equal(t, config.Devices, reparsed.Devices)
	assert.Equal(t, config.Properties, reparsed.Properties)
	assert.Equal(t, config.Labels, reparsed.Labels)
	assert.Equal(t, config.ConfigGroups, reparsed.ConfigGroups)
	assert.Equal(t, config.Delays, reparsed.Delays)
}

func TestParseFileMissing(t *testing.T) {
	_, err := ParseFile(filepath.Join(t.TempDir(), "nope.cfg"))
	require.Error(t, err)
	assert.True(t, errors.IsIOError(err))
}

func TestHelpers(t *testing.T) {
	config, err := Parse(strings.NewReader(demoConfig))
	require.NoError(t, err)

	assert.True(t, config.HasDevice("Camera"))
	assert.False(t, config.HasDevice("Laser"))

	props := config.PropertiesFor("Camera")
	require.Len(t, props, 3)
	assert.Equal(t, "OnCameraCCDXSize", props[0].Property)
}
