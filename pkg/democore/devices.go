package democore

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/micro-manager/mmgocorex/pkg/errors"
)

// DeviceType classifies a loaded device.
type DeviceType string

const (
	DeviceTypeCamera  DeviceType = "camera"
	DeviceTypeShutter DeviceType = "shutter"
	DeviceTypeStage   DeviceType = "stage"
	DeviceTypeState   DeviceType = "state"
	DeviceTypeGeneric DeviceType = "generic"
)

// demoLibraryName is the only device adapter library the demo core provides,
// mirroring the DemoCamera library shipped with the application.
const demoLibraryName = "DemoCamera"

// property holds the value and constraints of a single device property.
type property struct {
	value    string
	readOnly bool
	allowed  []string
	hasLimit bool
	min, max float64
}

// device is a loaded device instance: a label, a type and a property map.
type device struct {
	label      string
	library    string
	adapter    string
	deviceType DeviceType
	properties map[string]*property
	delayMs    float64

	// stateLabels maps state indices to names for state devices.
	stateLabels map[int]string
}

func (d *device) propertyNames() []string {
	names := make([]string, 0, len(d.properties))
	for name := range d.properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *device) getProperty(name string) (string, error) {
	prop, ok := d.properties[name]
	if !ok {
		return "", errors.NewNotFoundError("property not found", nil).
			WithContext("device", d.label).
			WithContext("property", name)
	}
	return prop.value, nil
}

func (d *device) setProperty(name, value string) error {
	prop, ok := d.properties[name]
	if !ok {
		return errors.NewNotFoundError("property not found", nil).
			WithContext("device", d.label).
			WithContext("property", name)
	}
	if prop.readOnly {
		return errors.NewValidationError("property is read-only", nil).
			WithContext("device", d.label).
			WithContext("property", name)
	}
	if len(prop.allowed) > 0 {
		ok := false
		for _, allowed := range prop.allowed {
			if value == allowed {
				ok = true
				break
			}
		}
		if !ok {
			return errors.NewValidationError("value not in allowed set", nil).
				WithContext("device", d.label).
				WithContext("property", name).
				WithContext("value", value)
		}
	}
	if prop.hasLimit {
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return errors.NewValidationError("property value must be numeric", err).
				WithContext("device", d.label).
				WithContext("property", name)
		}
		if v < prop.min || v > prop.max {
			return errors.NewValidationError(
				fmt.Sprintf("value out of limits [%g, %g]", prop.min, prop.max), nil).
				WithContext("device", d.label).
				WithContext("property", name).
				WithContext("value", value)
		}
	}
	prop.value = value
	return nil
}

// newDemoDevice instantiates an adapter from the demo library. Unknown
// libraries or adapters are validation errors, like loading a missing device
// adapter in the real engine.
func newDemoDevice(label, library, adapter string) (*device, error) {
	if library != demoLibraryName {
		return nil, errors.NewValidationError("unknown device adapter library", nil).
			WithContext("label", label).
			WithContext("library", library)
	}

	d := &device{
		label:       label,
		library:     library,
		adapter:     adapter,
		properties:  make(map[string]*property),
		stateLabels: make(map[int]string),
	}

	switch adapter {
	case "DCam":
		d.deviceType = DeviceTypeCamera
		d.properties["Name"] = &property{value: "Demo camera", readOnly: true}
		d.properties["OnCameraCCDXSize"] = &property{value: "512", hasLimit: true, min: 8, max: 4096}
		d.properties["OnCameraCCDYSize"] = &property{value: "512", hasLimit: true, min: 8, max: 4096}
		d.properties["Binning"] = &property{value: "1", allowed: []string{"1", "2", "4", "8"}}
		d.properties["PixelType"] = &property{value: "8bit", allowed: []string{"8bit", "16bit"}}
		d.properties["Exposure"] = &property{value: "10", hasLimit: true, min: 0, max: 10000}
		d.properties["FastImage"] = &property{value: "0", allowed: []string{"0", "1"}}
	case "DShutter":
		d.deviceType = DeviceTypeShutter
		d.properties["Name"] = &property{value: "Demo shutter", readOnly: true}
		d.properties["State"] = &property{value: "0", allowed: []string{"0", "1"}}
	case "DStage":
		d.deviceType = DeviceTypeStage
		d.properties["Name"] = &property{value: "Demo stage", readOnly: true}
		d.properties["Position"] = &property{value: "0", hasLimit: true, min: -10000, max: 10000}
	case "DObjective", "DWheel", "DStateDevice":
		d.deviceType = DeviceTypeState
		d.properties["Name"] = &property{value: "Demo state device", readOnly: true}
		d.properties["State"] = &property{value: "0", hasLimit: true, min: 0, max: 9}
		d.properties["Label"] = &property{value: ""}
	default:
		return nil, errors.NewValidationError("unknown device adapter", nil).
			WithContext("label", label).
			WithContext("adapter", adapter)
	}

	return d, nil
}
