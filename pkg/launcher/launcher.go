// Package launcher starts, tracks and terminates headless core instances.
// Local instances run the in-process demo core; remote instances are child
// processes serving the core bridge on a loopback port.
package launcher

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/micro-manager/mmgocorex/pkg/democore"
	"github.com/micro-manager/mmgocorex/pkg/errors"
	"github.com/micro-manager/mmgocorex/pkg/logging"

	"github.com/phayes/freeport"
)

// DefaultBridgePort is the port headless instances serve on when none is
// configured.
const DefaultBridgePort = 4827

// startedToken is the readiness marker a headless server prints on stdout
// once it is serving. Driver chatter printed before it is skipped over.
const startedToken = "STARTED"

// Backend selects how a core instance runs.
type Backend string

const (
	// BackendLocal runs the core in this process.
	BackendLocal Backend = "local"

	// BackendRemote spawns a headless server process and serves the core
	// over the bridge port.
	BackendRemote Backend = "remote"
)

// Options configures a single core instance.
type Options struct {
	// Backend defaults to BackendLocal.
	Backend Backend

	// AppPath is the top level folder of the application installation.
	// "auto" or empty probes the default install locations. Only consulted
	// by the JVM launch profile and for resolving relative config paths.
	AppPath string

	// ConfigFile is the system configuration the core initializes with.
	// Relative paths resolve against AppPath. Empty skips initialization.
	ConfigFile string

	// ServerPath, when set, launches this binary as the headless server
	// instead of the JVM launch profile.
	ServerPath string

	// JavaLocation overrides the JVM executable for the JVM profile.
	JavaLocation string

	// Port is the bridge port for remote instances. Zero allocates a free
	// port.
	Port int

	// BufferSizeMB is the circular buffer footprint. Zero means the
	// democore default.
	BufferSizeMB int

	// MaxMemoryMB caps the JVM heap for the JVM profile. Zero means 2000.
	MaxMemoryMB int

	// CoreLogPath is where the headless server writes its core log.
	CoreLogPath string

	// StartTimeout bounds the wait for the readiness token. Zero means 30s.
	StartTimeout time.Duration

	// GracefulTimeout bounds termination before the process is killed.
	// Zero means 10s.
	GracefulTimeout time.Duration
}

// Instance is a created core instance.
type Instance struct {
	Backend Backend

	// Port is set for remote instances.
	Port int

	// Core is set for local instances.
	Core *democore.DemoCore

	cmd             *exec.Cmd
	done            chan struct{}
	gracefulTimeout time.Duration
}

// PID reports the process id of a remote instance, or zero.
func (i *Instance) PID() int {
	if i.cmd == nil || i.cmd.Process == nil {
		return 0
	}
	return i.cmd.Process.Pid
}

// Manager tracks active instances: remote ones keyed by bridge port, local
// ones in creation order.
type Manager struct {
	mu     sync.Mutex
	remote map[int]*Instance
	local  []*Instance
	logger logging.Logger
}

func NewManager(logger logging.Logger) *Manager {
	return &Manager{
		remote: make(map[int]*Instance),
		logger: logger,
	}
}

// CreateCoreInstance starts a core instance per the options and registers
// it. Remote instances return once the readiness token has been seen.
func (m *Manager) CreateCoreInstance(ctx context.Context, options Options) (*Instance, error) {
	if options.Backend == "" {
		options.Backend = BackendLocal
	}

	switch options.Backend {
	case BackendLocal:
		return m.createLocalInstance(ctx, options)
	case BackendRemote:
		return m.createRemoteInstance(ctx, options)
	default:
		return nil, errors.NewValidationError("unknown backend", nil).WithContext("backend", string(options.Backend))
	}
}

func (m *Manager) createLocalInstance(ctx context.Context, options Options) (*Instance, error) {
	core := democore.New(democore.Options{BufferSizeMB: options.BufferSizeMB}, m.logger)

	if options.ConfigFile != "" {
		configPath, err := resolveConfigPath(options.ConfigFile, options.AppPath)
		if err != nil {
			return nil, err
		}
		if err := core.LoadSystemConfiguration(ctx, configPath); err != nil {
			return nil, err
		}
	}

	instance := &Instance{
		Backend: BackendLocal,
		Core:    core,
	}

	m.mu.Lock()
	m.local = append(m.local, instance)
	m.mu.Unlock()

	m.logger.Infof("Local core instance created")
	return instance, nil
}

func (m *Manager) createRemoteInstance(ctx context.Context, options Options) (*Instance, error) {
	port := options.Port
	if port == 0 {
		var err error
		port, err = freeport.GetFreePort()
		if err != nil {
			return nil, errors.NewInternalError("failed to allocate free port", err)
		}
		m.logger.Debugf("Allocated free port: %d", port)
	}

	m.mu.Lock()
	if _, exists := m.remote[port]; exists {
		m.mu.Unlock()
		return nil, errors.NewConflictError("port already in use by a headless instance", nil).
			WithContext("port", strconv.Itoa(port))
	}
	// Reserve the port before the long-running spawn.
	m.remote[port] = nil
	m.mu.Unlock()

	instance, err := m.spawnRemote(ctx, options, port)

	m.mu.Lock()
	if err != nil {
		delete(m.remote, port)
	} else {
		m.remote[port] = instance
	}
	m.mu.Unlock()

	return instance, err
}

func (m *Manager) spawnRemote(ctx context.Context, options Options, port int) (*Instance, error) {
	cmd, err := buildServerCommand(options, port)
	if err != nil {
		return nil, err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.NewInternalError("failed to open stdout pipe", err)
	}
	cmd.Stderr = cmd.Stdout

	m.logger.Infof("Starting headless instance, port: %d, command: %s", port, strings.Join(cmd.Args, " "))

	if err := cmd.Start(); err != nil {
		return nil, errors.NewProcessError("failed to start headless instance", err).
			WithContext("port", strconv.Itoa(port))
	}

	gracefulTimeout := options.GracefulTimeout
	if gracefulTimeout == 0 {
		gracefulTimeout = 10 * time.Second
	}

	instance := &Instance{
		Backend:         BackendRemote,
		Port:            port,
		cmd:             cmd,
		done:            make(chan struct{}),
		gracefulTimeout: gracefulTimeout,
	}

	scanner := bufio.NewScanner(stdout)
	// Driver chatter can exceed the default 64 KiB line limit.
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	startTimeout := options.StartTimeout
	if startTimeout == 0 {
		startTimeout = 30 * time.Second
	}

	started := make(chan error, 1)
	go func() {
		// Skip driver status chatter until the readiness token appears.
		for scanner.Scan() {
			line := scanner.Text()
			m.logger.Debugf("headless[%d]: %s", port, line)
			if strings.Contains(line, startedToken) {
				started <- nil
				return
			}
		}
		started <- errors.NewProcessError("headless instance exited before becoming ready", scanner.Err()).
			WithContext("port", strconv.Itoa(port))
	}()

	select {
	case err := <-started:
		if err != nil {
			_ = cmd.Process.Kill()
			go func() { _ = cmd.Wait() }()
			return nil, err
		}
	case <-time.After(startTimeout):
		_ = cmd.Process.Kill()
		go func() { _ = cmd.Wait() }()
		return nil, errors.NewTimeoutError("timed out waiting for headless instance to start", nil).
			WithContext("port", strconv.Itoa(port))
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		go func() { _ = cmd.Wait() }()
		return nil, errors.NewCancelledError("cancelled while starting headless instance", ctx.Err())
	}

	// Keep forwarding child output. Wait closes the pipe once the process
	// exits, which unblocks the scanner.
	go func() {
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				m.logger.Debugf("headless[%d]: %s", port, line)
			}
		}
	}()
	go func() {
		_ = cmd.Wait()
		close(instance.done)
	}()

	m.logger.Infof("Headless instance started, port: %d, pid: %d", port, cmd.Process.Pid)
	return instance, nil
}

// IsLocalActive reports whether any local instance is active.
func (m *Manager) IsLocalActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.local) > 0
}

// IsRemoteActive reports whether any remote instance is active.
func (m *Manager) IsRemoteActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.remote) > 0
}

// IsPortAllocated reports whether a remote instance occupies the port.
func (m *Manager) IsPortAllocated(port int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.remote[port]
	return ok
}

// ActivePorts lists the bridge ports of active remote instances.
func (m *Manager) ActivePorts() []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	ports := make([]int, 0, len(m.remote))
	for port := range m.remote {
		ports = append(ports, port)
	}
	return ports
}

// ActiveLocalCore returns the first active local core, or nil. The unified
// accessor uses this to prefer an in-process core when one exists.
func (m *Manager) ActiveLocalCore() *democore.DemoCore {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.local) == 0 {
		return nil
	}
	return m.local[0].Core
}

// TerminateRemoteInstances stops remote instances. A zero port terminates
// all of them.
func (m *Manager) TerminateRemoteInstances(ctx context.Context, port int) error {
	if !m.IsRemoteActive() {
		m.logger.Debugf("No remote instances to stop")
		return nil
	}

	for _, activePort := range m.ActivePorts() {
		if port != 0 && port != activePort {
			continue
		}

		m.mu.Lock()
		instance := m.remote[activePort]
		m.mu.Unlock()
		if instance == nil {
			continue
		}

		if err := m.terminateProcess(instance); err != nil {
			return err
		}

		m.mu.Lock()
		delete(m.remote, activePort)
		m.mu.Unlock()

		m.logger.Infof("Headless instance terminated, port: %d", activePort)
	}
	return nil
}

func (m *Manager) terminateProcess(instance *Instance) error {
	m.logger.Debugf("Stopping headless process, pid: %d", instance.PID())

	if runtime.GOOS == "windows" {
		_ = instance.cmd.Process.Kill()
	} else {
		_ = instance.cmd.Process.Signal(os.Interrupt)
	}

	select {
	case <-instance.done:
	case <-time.After(instance.gracefulTimeout):
		m.logger.Warnf("Headless process did not stop in time, killing, pid: %d", instance.PID())
		_ = instance.cmd.Process.Kill()
		<-instance.done
	}

	m.logger.Debugf("Headless process stopped, pid: %d", instance.PID())
	return nil
}

// TerminateLocalInstances shuts down all local instances.
func (m *Manager) TerminateLocalInstances(ctx context.Context) error {
	m.mu.Lock()
	local := m.local
	m.local = nil
	m.mu.Unlock()

	if len(local) == 0 {
		m.logger.Debugf("No local instances to stop")
		return nil
	}

	m.logger.Debugf("Stopping %d local instances", len(local))
	for _, instance := range local {
		if err := instance.Core.UnloadAllDevices(ctx); err != nil {
			return err
		}
		if err := instance.Core.Shutdown(ctx); err != nil {
			return err
		}
	}
	m.logger.Debugf("Local instances stopped")
	return nil
}

// TerminateCoreInstances stops everything, remote and local.
func (m *Manager) TerminateCoreInstances(ctx context.Context) error {
	if err := m.TerminateRemoteInstances(ctx, 0); err != nil {
		return err
	}
	return m.TerminateLocalInstances(ctx)
}
