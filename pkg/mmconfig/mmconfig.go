// Package mmconfig reads and writes Micro-Manager system configuration
// files: the line-oriented, comma-separated .cfg format that headless
// instances are initialized with (MMConfig_demo.cfg being the canonical
// example shipped with the application).
package mmconfig

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/micro-manager/mmgocorex/pkg/errors"
)

// DefaultConfigFileName is the demo configuration shipped with the
// application installer.
const DefaultConfigFileName = "MMConfig_demo.cfg"

// CoreLabel is the reserved device label addressing the core itself.
const CoreLabel = "Core"

// DeviceEntry loads a device adapter under a label.
type DeviceEntry struct {
	Label   string
	Library string
	Adapter string
}

// PropertyEntry sets a device property during initialization.
type PropertyEntry struct {
	Label    string
	Property string
	Value    string
}

// LabelEntry names a state of a state device.
type LabelEntry struct {
	Label string
	State int
	Name  string
}

// ConfigGroupEntry contributes one property setting to a preset within a
// configuration group.
type ConfigGroupEntry struct {
	Group    string
	Preset   string
	Label    string
	Property string
	Value    string
}

// DelayEntry sets an explicit action delay for a device, in milliseconds.
type DelayEntry struct {
	Label   string
	DelayMs float64
}

// SystemConfiguration is the parsed form of a .cfg file.
type SystemConfiguration struct {
	Devices      []DeviceEntry
	Properties   []PropertyEntry
	Labels       []LabelEntry
	ConfigGroups []ConfigGroupEntry
	Delays       []DelayEntry
}

// HasDevice reports whether a device with the given label is declared.
func (c *SystemConfiguration) HasDevice(label string) bool {
	for _, d := range c.Devices {
		if d.Label == label {
			return true
		}
	}
	return false
}

// PropertiesFor returns the initialization properties declared for a label.
func (c *SystemConfiguration) PropertiesFor(label string) []PropertyEntry {
	var props []PropertyEntry
	for _, p := range c.Properties {
		if p.Label == label {
			props = append(props, p)
		}
	}
	return props
}

// ParseFile parses a system configuration from a file.
func ParseFile(path string) (*SystemConfiguration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewIOError("failed to open system configuration", err).WithContext("path", path)
	}
	defer f.Close()

	config, err := Parse(f)
	if err != nil {
		return nil, errors.NewValidationError("failed to parse system configuration", err).WithContext("path", path)
	}
	return config, nil
}

// Parse parses a system configuration from a reader.
func Parse(r io.Reader) (*SystemConfiguration, error) {
	config := &SystemConfiguration{}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, ",")
		command := fields[0]
		args := fields[1:]

		var err error
		switch command {
		case "Device":
			err = config.parseDevice(args)
		case "Property":
			err = config.parseProperty(args)
		case "Label":
			err = config.parseLabel(args)
		case "ConfigGroup":
			err = config.parseConfigGroup(args)
		case "Delay":
			err = config.parseDelay(args)
		default:
			err = errors.NewValidationError("unknown configuration command", nil).WithContext("command", command)
		}
		if err != nil {
			return nil, errors.NewValidationError(fmt.Sprintf("invalid configuration at line %d", lineNo), err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.NewIOError("failed to read system configuration", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *SystemConfiguration) parseDevice(args []string) error {
	if len(args) != 3 {
		return errors.NewValidationError("Device requires label, library and adapter", nil)
	}
	c.Devices = append(c.Devices, DeviceEntry{Label: args[0], Library: args[1], Adapter: args[2]})
	return nil
}

func (c *SystemConfiguration) parseProperty(args []string) error {
	// A trailing empty value is legal (clears the property).
	if len(args) != 3 && len(args) != 2 {
		return errors.NewValidationError("Property requires label, property and value", nil)
	}
	value := ""
	if len(args) == 3 {
		value = args[2]
	}
	c.Properties = append(c.Properties, PropertyEntry{Label: args[0], Property: args[1], Value: value})
	return nil
}

func (c *SystemConfiguration) parseLabel(args []string) error {
	if len(args) != 3 {
		return errors.NewValidationError("Label requires label, state and name", nil)
	}
	state, err := strconv.Atoi(args[1])
	if err != nil {
		return errors.NewValidationError("Label state must be an integer", err).WithContext("state", args[1])
	}
	c.Labels = append(c.Labels, LabelEntry{Label: args[0], State: state, Name: args[2]})
	return nil
}

func (c *SystemConfiguration) parseConfigGroup(args []string) error {
	// A bare "ConfigGroup,<group>" line declares an empty group; tolerate it.
	if len(args) == 1 {
		return nil
	}
	if len(args) != 5 {
		return errors.NewValidationError("ConfigGroup requires group, preset, label, property and value", nil)
	}
	c.ConfigGroups = append(c.ConfigGroups, ConfigGroupEntry{
		Group:    args[0],
		Preset:   args[1],
		Label:    args[2],
		Property: args[3],
		Value:    args[4],
	})
	return nil
}

func (c *SystemConfiguration) parseDelay(args []string) error {
	if len(args) != 2 {
		return errors.NewValidationError("Delay requires label and milliseconds", nil)
	}
	delay, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return errors.NewValidationError("Delay milliseconds must be numeric", err).WithContext("delay", args[1])
	}
	c.Delays = append(c.Delays, DelayEntry{Label: args[0], DelayMs: delay})
	return nil
}

// Validate checks cross-references: every property, label, config-group
// entry and delay must address a declared device or the reserved Core label.
func (c *SystemConfiguration) Validate() error {
	declared := make(map[string]bool, len(c.Devices))
	for _, d := range c.Devices {
		if d.Label == CoreLabel {
			return errors.NewValidationError("device label Core is reserved", nil)
		}
		if declared[d.Label] {
			return errors.NewConflictError("duplicate device label", nil).WithContext("label", d.Label)
		}
		declared[d.Label] = true
	}

	check := func(label, kind string) error {
		if label == CoreLabel || declared[label] {
			return nil
		}
		return errors.NewValidationError("reference to undeclared device", nil).
			WithContext("label", label).
			WithContext("entry", kind)
	}

	for _, p := range c.Properties {
		if err := check(p.Label, "Property"); err != nil {
			return err
		}
	}
	for _, l := range c.Labels {
		if err := check(l.Label, "Label"); err != nil {
			return err
		}
	}
	for _, g := range c.ConfigGroups {
		if err := check(g.Label, "ConfigGroup"); err != nil {
			return err
		}
	}
	for _, d := range c.Delays {
		if err := check(d.Label, "Delay"); err != nil {
			return err
		}
	}
	return nil
}

// Save writes the configuration in canonical section order.
func (c *SystemConfiguration) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)

	writeLine := func(parts ...string) {
		bw.WriteString(strings.Join(parts, ","))
		bw.WriteString("\n")
	}

	bw.WriteString("# Generated by mmgocorex\n\n")

	bw.WriteString("# Devices\n")
	for _, d := range c.Devices {
		writeLine("Device", d.Label, d.Library, d.Adapter)
	}

	bw.WriteString("\n# Pre-initialization properties\n")
	for _, p := range c.Properties {
		writeLine("Property", p.Label, p.Property, p.Value)
	}

	bw.WriteString("\n# Delays\n")
	for _, d := range c.Delays {
		writeLine("Delay", d.Label, strconv.FormatFloat(d.DelayMs, 'f', -1, 64))
	}

	bw.WriteString("\n# Labels\n")
	for _, l := range c.Labels {
		writeLine("Label", l.Label, strconv.Itoa(l.State), l.Name)
	}

	bw.WriteString("\n# Configuration groups\n")
	for _, g := range c.ConfigGroups {
		writeLine("ConfigGroup", g.Group, g.Preset, g.Label, g.Property, g.Value)
	}

	if err := bw.Flush(); err != nil {
		return errors.NewIOError("failed to write system configuration", err)
	}
	return nil
}

// SaveFile writes the configuration to a file.
func (c *SystemConfiguration) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.NewIOError("failed to create system configuration file", err).WithContext("path", path)
	}
	defer f.Close()

	return c.Save(f)
}
