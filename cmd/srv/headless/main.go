package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/micro-manager/mmgocorex/pkg/control"
	"github.com/micro-manager/mmgocorex/pkg/democore"
	"github.com/micro-manager/mmgocorex/pkg/domain"
	"github.com/micro-manager/mmgocorex/pkg/launcher"
	"github.com/micro-manager/mmgocorex/pkg/logging"
	"github.com/micro-manager/mmgocorex/pkg/logging/zaplog"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Port         int    `long:"port" short:"p" description:"Bridge port to serve on (default 4827)"`
	Config       string `long:"config" short:"c" description:"System configuration file to load on startup"`
	BufferSizeMB int    `long:"buffer-size-mb" description:"Circular buffer footprint in megabytes"`
	CoreLogPath  string `long:"core-log-path" description:"Append the core log to this file"`
	Debug        bool   `long:"debug" description:"Enable debug logging"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-server , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v", err)
		os.Exit(1)
	}

	var sprintfLogger logging.Logger
	if opts.CoreLogPath != "" {
		sprintfLogger = zaplog.NewZapSprintfFileLogger(opts.CoreLogPath, opts.Debug)
	} else {
		sprintfLogger = zaplog.NewZapSprintfLogger(opts.Debug)
	}

	logger := logging.NewLogger(
		logPrefix("mmgocorex"), logging.LogFuncs{
			Debugf: sprintfLogger.Debugf,
			Infof:  sprintfLogger.Infof,
			Warnf:  sprintfLogger.Warnf,
			Errorf: sprintfLogger.Errorf,
		})

	if opts.Port == 0 {
		opts.Port = launcher.DefaultBridgePort
	}

	core := democore.New(democore.Options{BufferSizeMB: opts.BufferSizeMB}, logger)

	if opts.Config != "" {
		if err := core.LoadSystemConfiguration(context.Background(), opts.Config); err != nil {
			logger.Errorf("Failed to load system configuration: %v", err)
			os.Exit(1)
		}
	}

	server, err := control.NewServer(control.ServerOptions{Port: opts.Port}, logger)
	if err != nil {
		logger.Errorf("Failed to create server: %v", err)
		os.Exit(1)
	}

	control.RegisterCoreServiceServer(server.GRPC(), core, logger)
	server.Start()

	// Readiness token for the launcher, it scans stdout for this line.
	fmt.Println("STARTED serving on port", server.Port())

	// A Shutdown call over the bridge also brings the server down. The core
	// announces it before closing its event channels.
	events, err := core.Events(context.Background())
	if err != nil {
		logger.Errorf("Failed to subscribe to core events: %v", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	select {
	case receivedSignal := <-sig:
		logger.Infof("Received signal: %v", receivedSignal)
		if err := core.Shutdown(context.Background()); err != nil {
			logger.Errorf("Core shutdown failed: %v", err)
		}
	case <-shutdownCommencing(events):
		logger.Infof("Core shutdown requested over the bridge")
	}

	logger.Infof("Stopping...")

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()
	server.Stop(ctx)

	logger.Infof("Stopped")
}

// shutdownCommencing signals once the core announces shutdown or its event
// channel closes.
func shutdownCommencing(events <-chan domain.CoreEvent) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range events {
			if event.Type == domain.EventShutdownCommencing {
				return
			}
		}
	}()
	return done
}
