// mmgctl manages Micro-Manager installs and headless core instances: list
// and install releases, launch instances from flags or a launch profile,
// and poke a running bridge (status, snap).
package main

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/micro-manager/mmgocorex/pkg/core"
	"github.com/micro-manager/mmgocorex/pkg/domain"
	"github.com/micro-manager/mmgocorex/pkg/install"
	"github.com/micro-manager/mmgocorex/pkg/launcher"
	"github.com/micro-manager/mmgocorex/pkg/logging"
	"github.com/micro-manager/mmgocorex/pkg/logging/zaplog"

	flags "github.com/jessevdk/go-flags"
)

type globalOptions struct {
	Debug bool `long:"debug" description:"Enable debug logging"`
}

var global globalOptions

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-client , ", module)
}

func newLogger() logging.Logger {
	sprintfLogger := zaplog.NewZapSprintfLogger(global.Debug)
	return logging.NewLogger(
		logPrefix("mmgocorex"), logging.LogFuncs{
			Debugf: sprintfLogger.Debugf,
			Infof:  sprintfLogger.Infof,
			Warnf:  sprintfLogger.Warnf,
			Errorf: sprintfLogger.Errorf,
		})
}

type versionsCommand struct {
	Channel string `long:"channel" default:"nightly" choice:"nightly" choice:"ci" description:"Release channel to list"`
}

func (c *versionsCommand) Execute(args []string) error {
	installer := install.NewInstaller(install.InstallerOptions{
		Channel: install.Channel(c.Channel),
	}, newLogger())

	versions, err := installer.ListAvailableVersions(context.Background())
	if err != nil {
		return err
	}

	for _, version := range versions {
		fmt.Println(version)
	}
	return nil
}

type installCommand struct {
	Channel      string `long:"channel" default:"nightly" choice:"nightly" choice:"ci" description:"Release channel"`
	Destination  string `long:"destination" description:"Install destination (defaults to the platform location)"`
	DownloadOnly bool   `long:"download-only" description:"Download the installer without running it"`
}

func (c *installCommand) Execute(args []string) error {
	installer := install.NewInstaller(install.InstallerOptions{
		Channel:     install.Channel(c.Channel),
		Destination: c.Destination,
	}, newLogger())

	ctx := context.Background()

	if c.DownloadOnly {
		path, err := installer.DownloadInstaller(ctx)
		if err != nil {
			return err
		}
		fmt.Println("Installer downloaded to", path)
		return nil
	}

	installedTo, err := installer.DownloadAndInstall(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Installed to", installedTo)
	return nil
}

type launchCommand struct {
	Profile      string `long:"profile" description:"Launch profile (YAML); overrides the instance flags"`
	Port         int    `long:"port" description:"Bridge port (0 picks a free port)"`
	AppPath      string `long:"app-path" default:"auto" description:"Application install folder"`
	ConfigFile   string `long:"config-file" description:"System configuration to load"`
	ServerPath   string `long:"server" description:"Headless server binary (default: JVM launch profile)"`
	BufferSizeMB int    `long:"buffer-size-mb" description:"Circular buffer footprint in megabytes"`
	MaxMemoryMB  int    `long:"max-memory-mb" description:"JVM heap cap in megabytes"`
	CoreLogPath  string `long:"core-log-path" description:"Core log file for the instance"`
}

func (c *launchCommand) Execute(args []string) error {
	logger := newLogger()
	manager := launcher.NewManager(logger)
	ctx := context.Background()

	var allOptions []launcher.Options
	if c.Profile != "" {
		config, err := launcher.LoadConfigFromFile(c.Profile)
		if err != nil {
			return err
		}
		if err := launcher.ValidateConfig(config); err != nil {
			return err
		}
		allOptions, err = launcher.CreateOptionsFromConfig(config)
		if err != nil {
			return err
		}
	} else {
		allOptions = []launcher.Options{{
			Backend:      launcher.BackendRemote,
			Port:         c.Port,
			AppPath:      c.AppPath,
			ConfigFile:   c.ConfigFile,
			ServerPath:   c.ServerPath,
			BufferSizeMB: c.BufferSizeMB,
			MaxMemoryMB:  c.MaxMemoryMB,
			CoreLogPath:  c.CoreLogPath,
		}}
	}

	for _, options := range allOptions {
		instance, err := manager.CreateCoreInstance(ctx, options)
		if err != nil {
			_ = manager.TerminateCoreInstances(ctx)
			return err
		}
		if instance.Backend == launcher.BackendRemote {
			fmt.Println("Headless instance serving on port", instance.Port)
		}
	}

	// Foreground until interrupted, then tear the instances down.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Infof("Stopping instances...")
	return manager.TerminateCoreInstances(ctx)
}

type terminateCommand struct {
	Port int `long:"port" description:"Bridge port of the instance to terminate"`
}

func (c *terminateCommand) Execute(args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := core.Connect(ctx, core.Options{
		Port:          c.Port,
		RetryAttempts: 3,
		RetryInterval: 500 * time.Millisecond,
	}, newLogger())
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	// The headless server stops serving once its core shuts down.
	if err := client.Shutdown(ctx); err != nil {
		return err
	}

	fmt.Println("Instance terminated")
	return nil
}

type statusCommand struct {
	Port int `long:"port" description:"Bridge port to check"`
}

func (c *statusCommand) Execute(args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := core.Connect(ctx, core.Options{
		Port:          c.Port,
		RetryAttempts: 3,
		RetryInterval: 500 * time.Millisecond,
	}, newLogger())
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	devices, err := client.GetLoadedDevices(ctx)
	if err != nil {
		return err
	}

	fmt.Println("Core is up, loaded devices:", strings.Join(devices, ", "))
	return nil
}

type snapCommand struct {
	Port   int    `long:"port" description:"Bridge port to snap from"`
	Output string `long:"output" short:"o" default:"snap.png" description:"Output PNG file"`
}

func (c *snapCommand) Execute(args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := core.Connect(ctx, core.Options{Port: c.Port}, newLogger())
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if err := client.SnapImage(ctx); err != nil {
		return err
	}
	img, err := client.GetTaggedImage(ctx)
	if err != nil {
		return err
	}

	width, err := client.GetImageWidth(ctx)
	if err != nil {
		return err
	}
	height, err := client.GetImageHeight(ctx)
	if err != nil {
		return err
	}
	bytesPerPixel, err := client.GetBytesPerPixel(ctx)
	if err != nil {
		return err
	}

	if err := writePNG(c.Output, img, width, height, bytesPerPixel); err != nil {
		return err
	}

	fmt.Printf("Saved %dx%d image to %s\n", width, height, c.Output)
	return nil
}

func writePNG(path string, img *domain.TaggedImage, width, height, bytesPerPixel int) error {
	var gray image.Image
	if bytesPerPixel == 2 {
		g := image.NewGray16(image.Rect(0, 0, width, height))
		for i := 0; i+1 < len(img.Pix) && i+1 < len(g.Pix); i += 2 {
			// Pixels arrive little-endian, Gray16 stores big-endian.
			g.Pix[i] = img.Pix[i+1]
			g.Pix[i+1] = img.Pix[i]
		}
		gray = g
	} else {
		g := image.NewGray(image.Rect(0, 0, width, height))
		copy(g.Pix, img.Pix)
		gray = g
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return png.Encode(f, gray)
}

func main() {
	parser := flags.NewNamedParser("mmgctl", flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.AddGroup("Global options", "", &global); err != nil {
		fmt.Printf("Command line setup failed: %v\n", err)
		os.Exit(1)
	}

	commands := []struct {
		name, short, long string
		command           interface{}
	}{
		{"versions", "List available versions", "List installer versions available on the selected release channel.", &versionsCommand{}},
		{"install", "Download and install", "Download the latest installer from the selected channel and run it.", &installCommand{}},
		{"launch", "Launch headless instances", "Launch headless core instances from flags or a YAML launch profile and manage them until interrupted.", &launchCommand{}},
		{"terminate", "Terminate a headless instance", "Shut down the core of a running headless instance over the bridge.", &terminateCommand{}},
		{"status", "Check a running bridge", "Ping a headless instance and list its loaded devices.", &statusCommand{}},
		{"snap", "Snap an image", "Snap an image over the bridge and save it as PNG.", &snapCommand{}},
	}
	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.short, c.long, c.command); err != nil {
			fmt.Printf("Command line setup failed: %v\n", err)
			os.Exit(1)
		}
	}

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Println(flagsErr.Message)
			os.Exit(0)
		}
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
}
