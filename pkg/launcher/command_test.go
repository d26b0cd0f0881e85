package launcher

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildJVMCommand(t *testing.T) {
	appPath := t.TempDir()

	tests := []struct {
		name     string
		options  Options
		port     int
		wantArgs []string
	}{
		{
			name: "defaults",
			options: Options{
				AppPath:      appPath,
				JavaLocation: "java",
				ConfigFile:   "MMConfig_demo.cfg",
				CoreLogPath:  "/tmp/core.log",
			},
			port: 4827,
			wantArgs: []string{
				"java",
				"-classpath", filepath.Join(appPath, "plugins", "Micro-Manager", "*"),
				"-Dsun.java2d.dpiaware=false",
				"-Xmx2000m",
				"org.micromanager.remote.HeadlessLauncher",
				"4827",
				filepath.Join(appPath, "MMConfig_demo.cfg"),
				"1024",
				"/tmp/core.log",
			},
		},
		{
			name: "explicit memory and buffer",
			options: Options{
				AppPath:      appPath,
				JavaLocation: "java",
				MaxMemoryMB:  4096,
				BufferSizeMB: 512,
			},
			port: 5000,
			wantArgs: []string{
				"java",
				"-classpath", filepath.Join(appPath, "plugins", "Micro-Manager", "*"),
				"-Dsun.java2d.dpiaware=false",
				"-Xmx4096m",
				"org.micromanager.remote.HeadlessLauncher",
				"5000",
				"",
				"512",
				"",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := buildJVMCommand(tt.options, tt.port)
			require.NoError(t, err)
			assert.Equal(t, tt.wantArgs, cmd.Args)
			assert.Equal(t, appPath, cmd.Dir)
		})
	}
}

func TestBuildNativeCommand(t *testing.T) {
	appPath := t.TempDir()

	tests := []struct {
		name     string
		options  Options
		port     int
		wantArgs []string
	}{
		{
			name: "all flags",
			options: Options{
				ServerPath:   "/opt/mm/headless",
				ConfigFile:   "/cfg/demo.cfg",
				BufferSizeMB: 512,
				CoreLogPath:  "/tmp/core.log",
			},
			port: 5000,
			wantArgs: []string{
				"/opt/mm/headless",
				"--port", "5000",
				"--config", "/cfg/demo.cfg",
				"--buffer-size-mb", "512",
				"--core-log-path", "/tmp/core.log",
			},
		},
		{
			name:     "port only",
			options:  Options{ServerPath: "/opt/mm/headless"},
			port:     4827,
			wantArgs: []string{"/opt/mm/headless", "--port", "4827"},
		},
		{
			name: "relative config resolves against app path",
			options: Options{
				ServerPath: "/opt/mm/headless",
				AppPath:    appPath,
				ConfigFile: "MMConfig_demo.cfg",
			},
			port: 4827,
			wantArgs: []string{
				"/opt/mm/headless",
				"--port", "4827",
				"--config", filepath.Join(appPath, "MMConfig_demo.cfg"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := buildNativeCommand(tt.options, tt.port)
			require.NoError(t, err)
			assert.Equal(t, tt.wantArgs, cmd.Args)
		})
	}
}

func TestBuildServerCommandSelectsProfile(t *testing.T) {
	appPath := t.TempDir()

	native, err := buildServerCommand(Options{ServerPath: "/opt/mm/headless"}, 4827)
	require.NoError(t, err)
	assert.Equal(t, "/opt/mm/headless", native.Args[0])

	jvm, err := buildServerCommand(Options{AppPath: appPath, JavaLocation: "java"}, 4827)
	require.NoError(t, err)
	assert.Equal(t, "java", jvm.Args[0])
	assert.Contains(t, jvm.Args, "org.micromanager.remote.HeadlessLauncher")
}

func TestResolveAppPathExplicit(t *testing.T) {
	appPath, err := resolveAppPath("/apps/Micro-Manager")
	require.NoError(t, err)
	assert.Equal(t, "/apps/Micro-Manager", appPath)
}

func TestResolveConfigPath(t *testing.T) {
	appPath := t.TempDir()
	absolute := filepath.Join(t.TempDir(), "MMConfig_demo.cfg")

	resolved, err := resolveConfigPath(absolute, appPath)
	require.NoError(t, err)
	assert.Equal(t, absolute, resolved)

	resolved, err = resolveConfigPath("MMConfig_demo.cfg", appPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(appPath, "MMConfig_demo.cfg"), resolved)
}

func TestResolveConfigPathWithoutInstall(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		t.Skip("touches real install locations")
	}

	// No app path and no install to anchor against: the path passes through.
	resolved, err := resolveConfigPath("MMConfig_demo.cfg", "")
	require.NoError(t, err)
	assert.Equal(t, "MMConfig_demo.cfg", resolved)

	resolved, err = resolveConfigPath("MMConfig_demo.cfg", "auto")
	require.NoError(t, err)
	assert.Equal(t, "MMConfig_demo.cfg", resolved)
}
