package launcher

import (
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/micro-manager/mmgocorex/pkg/errors"
	"github.com/micro-manager/mmgocorex/pkg/install"
)

// defaultMaxMemoryMB caps the JVM heap when MaxMemoryMB is unset.
const defaultMaxMemoryMB = 2000

// buildServerCommand prepares the headless server command for a remote
// instance. When ServerPath is set the native server profile is used;
// otherwise the JVM launch profile runs the application's bundled headless
// entry point.
func buildServerCommand(options Options, port int) (*exec.Cmd, error) {
	if options.ServerPath != "" {
		return buildNativeCommand(options, port)
	}
	return buildJVMCommand(options, port)
}

func buildNativeCommand(options Options, port int) (*exec.Cmd, error) {
	configPath := options.ConfigFile
	if configPath != "" && options.AppPath != "" {
		var err error
		configPath, err = resolveConfigPath(configPath, options.AppPath)
		if err != nil {
			return nil, err
		}
	}

	args := []string{"--port", strconv.Itoa(port)}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if options.BufferSizeMB > 0 {
		args = append(args, "--buffer-size-mb", strconv.Itoa(options.BufferSizeMB))
	}
	if options.CoreLogPath != "" {
		args = append(args, "--core-log-path", options.CoreLogPath)
	}

	return exec.Command(options.ServerPath, args...), nil
}

func buildJVMCommand(options Options, port int) (*exec.Cmd, error) {
	appPath, err := resolveAppPath(options.AppPath)
	if err != nil {
		return nil, err
	}

	java := options.JavaLocation
	if java == "" {
		if runtime.GOOS == "windows" {
			// The application bundles its own JRE on Windows.
			java = filepath.Join(appPath, "jre", "bin", "javaw.exe")
		} else {
			java = "java"
		}
	}

	configPath := ""
	if options.ConfigFile != "" {
		configPath, err = resolveConfigPath(options.ConfigFile, appPath)
		if err != nil {
			return nil, err
		}
	}

	maxMemoryMB := options.MaxMemoryMB
	if maxMemoryMB == 0 {
		maxMemoryMB = defaultMaxMemoryMB
	}
	bufferSizeMB := options.BufferSizeMB
	if bufferSizeMB == 0 {
		bufferSizeMB = 1024
	}

	classpath := filepath.Join(appPath, "plugins", "Micro-Manager", "*")

	cmd := exec.Command(java,
		"-classpath", classpath,
		"-Dsun.java2d.dpiaware=false",
		"-Xmx"+strconv.Itoa(maxMemoryMB)+"m",
		"org.micromanager.remote.HeadlessLauncher",
		strconv.Itoa(port),
		configPath,
		strconv.Itoa(bufferSizeMB),
		options.CoreLogPath,
	)
	cmd.Dir = appPath
	return cmd, nil
}

// resolveAppPath expands "auto" or empty to the newest existing install.
func resolveAppPath(appPath string) (string, error) {
	if appPath != "" && appPath != "auto" {
		return appPath, nil
	}

	found, err := install.FindExistingInstall()
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", errors.NewNotFoundError("no existing application install found", nil)
	}
	return found, nil
}

// resolveConfigPath makes a relative config path absolute against the
// application folder, matching where bundled demo configs live.
func resolveConfigPath(configFile, appPath string) (string, error) {
	if filepath.IsAbs(configFile) {
		return configFile, nil
	}
	if appPath == "" || appPath == "auto" {
		resolved, err := resolveAppPath(appPath)
		if err != nil {
			// No install to anchor against, use the path as given.
			return configFile, nil
		}
		appPath = resolved
	}
	return filepath.Join(appPath, configFile), nil
}
