package launcher

import (
	"fmt"
	"os"
	"time"

	"github.com/micro-manager/mmgocorex/pkg/errors"

	"gopkg.in/yaml.v3"
)

// LaunchConfig represents the top-level launch profile file structure
type LaunchConfig struct {
	Launcher  LauncherConfigOptions `yaml:"launcher"`
	Instances []InstanceConfig      `yaml:"instances"`
}

// LauncherConfigOptions represents launcher-level configuration
type LauncherConfigOptions struct {
	StartTimeout    time.Duration `yaml:"start_timeout,omitempty"`
	GracefulTimeout time.Duration `yaml:"graceful_timeout,omitempty"`
	LogLevel        string        `yaml:"log_level,omitempty"`
}

// InstanceConfig represents a single core instance configuration
type InstanceConfig struct {
	Backend      Backend `yaml:"backend"`
	Port         int     `yaml:"port,omitempty"`
	AppPath      string  `yaml:"app_path,omitempty"`
	ConfigFile   string  `yaml:"config_file,omitempty"`
	ServerPath   string  `yaml:"server_path,omitempty"`
	JavaLocation string  `yaml:"java_location,omitempty"`
	BufferSizeMB int     `yaml:"buffer_size_mb,omitempty"`
	MaxMemoryMB  int     `yaml:"max_memory_mb,omitempty"`
	CoreLogPath  string  `yaml:"core_log_path,omitempty"`
	Enabled      *bool   `yaml:"enabled,omitempty"` // Pointer to distinguish unset from false
}

// LoadConfigFromFile loads a launch profile from a YAML file
func LoadConfigFromFile(filename string) (*LaunchConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read launch profile", err).WithContext("filename", filename)
	}

	var config LaunchConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML launch profile", err).WithContext("filename", filename)
	}

	setConfigDefaults(&config)

	return &config, nil
}

// ValidateConfig validates the entire launch profile structure
func ValidateConfig(config *LaunchConfig) error {
	if config == nil {
		return errors.NewValidationError("launch profile cannot be nil", nil)
	}

	seenPorts := make(map[int]int)
	for i, instance := range config.Instances {
		if err := validateInstanceConfig(&instance); err != nil {
			return errors.NewValidationError(
				fmt.Sprintf("invalid instance configuration at index %d", i),
				err,
			)
		}

		if instance.Backend == BackendRemote && instance.Port != 0 {
			if prevIndex, exists := seenPorts[instance.Port]; exists {
				return errors.NewValidationError(
					fmt.Sprintf("duplicate port %d found at indices %d and %d", instance.Port, prevIndex, i),
					nil,
				)
			}
			seenPorts[instance.Port] = i
		}
	}

	return nil
}

// CreateOptionsFromConfig expands enabled instance configurations into
// launch options, applying launcher-level timeouts.
func CreateOptionsFromConfig(config *LaunchConfig) ([]Options, error) {
	if config == nil {
		return nil, errors.NewValidationError("launch profile cannot be nil", nil)
	}

	var allOptions []Options
	for _, instance := range config.Instances {
		// Skip disabled instances (only skip if explicitly set to false)
		if instance.Enabled != nil && !*instance.Enabled {
			continue
		}

		allOptions = append(allOptions, Options{
			Backend:         instance.Backend,
			AppPath:         instance.AppPath,
			ConfigFile:      instance.ConfigFile,
			ServerPath:      instance.ServerPath,
			JavaLocation:    instance.JavaLocation,
			Port:            instance.Port,
			BufferSizeMB:    instance.BufferSizeMB,
			MaxMemoryMB:     instance.MaxMemoryMB,
			CoreLogPath:     instance.CoreLogPath,
			StartTimeout:    config.Launcher.StartTimeout,
			GracefulTimeout: config.Launcher.GracefulTimeout,
		})
	}

	return allOptions, nil
}

func setConfigDefaults(config *LaunchConfig) {
	if config.Launcher.StartTimeout == 0 {
		config.Launcher.StartTimeout = 30 * time.Second
	}
	if config.Launcher.GracefulTimeout == 0 {
		config.Launcher.GracefulTimeout = 10 * time.Second
	}
	if config.Launcher.LogLevel == "" {
		config.Launcher.LogLevel = "info"
	}

	for i := range config.Instances {
		instance := &config.Instances[i]
		if instance.Backend == "" {
			instance.Backend = BackendLocal
		}
		if instance.Backend == BackendRemote && instance.Port == 0 {
			instance.Port = DefaultBridgePort
		}
	}
}

func validateInstanceConfig(instance *InstanceConfig) error {
	switch instance.Backend {
	case BackendLocal, BackendRemote:
	default:
		return errors.NewValidationError(
			fmt.Sprintf("unsupported backend: %s", instance.Backend),
			nil,
		).WithContext("supported_backends", "local, remote")
	}

	if instance.Port < 0 || instance.Port > 65535 {
		return errors.NewValidationError(
			fmt.Sprintf("invalid port number: %d", instance.Port),
			nil,
		).WithContext("valid_range", "1-65535")
	}

	if instance.Backend == BackendLocal && instance.Port != 0 {
		return errors.NewValidationError("port is only meaningful for remote instances", nil)
	}

	if instance.BufferSizeMB < 0 {
		return errors.NewValidationError(
			fmt.Sprintf("invalid buffer size: %d", instance.BufferSizeMB),
			nil,
		)
	}

	return nil
}
