// Package launcher manages the lifecycle of the local tool server process:
// health probing, on-demand launch, readiness polling, and shutdown.
package launcher

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Yinuo-Yao/xhs-recipe/internal/config"
	"github.com/Yinuo-Yao/xhs-recipe/internal/errors"
)

const (
	pollInterval     = 250 * time.Millisecond
	startupTimeout   = 5 * time.Second
	foreignPortPolls = 5 // short re-probes before declaring the port foreign
)

// ProbeFunc checks endpoint health. Probe is the production implementation.
type ProbeFunc func(ctx context.Context, url string) error

// SpawnFunc starts the tool server binary. SpawnServer is the production
// implementation.
type SpawnFunc func(path string, args []string) (Process, error)

// PortOpenFunc reports whether something is listening at host:port.
type PortOpenFunc func(hostport string) bool

// Launcher drives the ConnectionState machine for the local tool server.
// Concurrent EnsureStarted calls coalesce into one physical attempt.
type Launcher struct {
	probe    ProbeFunc
	spawn    SpawnFunc
	portOpen PortOpenFunc
	logger   *log.Logger

	// overridable in tests
	pollEvery    time.Duration
	startupLimit time.Duration

	mu        sync.Mutex
	state     ConnectionState
	pending   *attempt
	child     Process
	childPath string
	observers []func(ConnectionState)
}

type attempt struct {
	done  chan struct{}
	state ConnectionState
}

// New creates a Launcher using the production probe and spawn implementations.
func New(logger *log.Logger) *Launcher {
	return &Launcher{
		probe:        Probe,
		spawn:        SpawnServer,
		portOpen:     portOpen,
		logger:       logger,
		pollEvery:    pollInterval,
		startupLimit: startupTimeout,
		state:        ConnectionState{Kind: StateIdle, Message: "not started"},
	}
}

// NewWithHooks creates a Launcher with injected probe/spawn/port checks.
func NewWithHooks(logger *log.Logger, probe ProbeFunc, spawn SpawnFunc, portCheck PortOpenFunc) *Launcher {
	l := New(logger)
	if probe != nil {
		l.probe = probe
	}
	if spawn != nil {
		l.spawn = spawn
	}
	if portCheck != nil {
		l.portOpen = portCheck
	}
	return l
}

// State returns the current connection state.
func (l *Launcher) State() ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Subscribe registers an observer invoked on every state transition.
func (l *Launcher) Subscribe(fn func(ConnectionState)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, fn)
}

// EnsureStarted makes sure the tool server endpoint is reachable, launching
// the configured binary if needed, and returns the resulting state. A call
// made while another attempt is in progress waits for and returns that
// attempt's outcome instead of starting a second one.
func (l *Launcher) EnsureStarted(ctx context.Context, cfg *config.Config, reason string) ConnectionState {
	l.mu.Lock()
	if l.pending != nil {
		p := l.pending
		l.mu.Unlock()
		select {
		case <-p.done:
			return p.state
		case <-ctx.Done():
			return l.State()
		}
	}
	p := &attempt{done: make(chan struct{})}
	l.pending = p
	l.mu.Unlock()

	l.logger.Debug("ensure tool server started", "reason", reason, "transport", cfg.Transport)
	state := l.run(ctx, cfg)

	l.mu.Lock()
	l.state = state
	l.pending = nil
	observers := append([]func(ConnectionState){}, l.observers...)
	l.mu.Unlock()

	p.state = state
	close(p.done)
	for _, fn := range observers {
		fn(state)
	}
	return state
}

func (l *Launcher) run(ctx context.Context, cfg *config.Config) ConnectionState {
	if cfg.Transport != config.TransportLocal {
		return stateDisabled(fmt.Sprintf("tool server is managed externally (transport %q)", cfg.Transport))
	}

	if cfg.ServerPath == "" {
		return stateNeedsPath()
	}

	if cfg.ServerURL == "" {
		return stateError(errors.ErrConfig,
			"tool server endpoint URL is not configured",
			"set server_url in config.json")
	}

	if _, err := os.Stat(cfg.ServerPath); err != nil {
		return stateError(errors.ErrFileNotFound,
			fmt.Sprintf("tool server executable not found: %s", cfg.ServerPath),
			err.Error())
	}

	// Never double-launch a healthy service.
	if err := l.probe(ctx, cfg.ServerURL); err == nil {
		return stateReady("tool server already running")
	}

	hostport := endpointHostPort(cfg.ServerURL)
	if hostport != "" && l.portOpen(hostport) {
		if state, ok := l.waitOutForeignPort(ctx, cfg.ServerURL, hostport); ok {
			return state
		}
	}

	l.mu.Lock()
	if l.child != nil && l.childPath != cfg.ServerPath {
		l.logger.Info("tool server path changed, terminating old child",
			"old", l.childPath, "new", cfg.ServerPath)
		l.child.Terminate()
		l.child = nil
	}
	child := l.child
	l.mu.Unlock()

	if child == nil {
		l.setTransient(stateStarting("launching tool server"))
		spawned, err := l.spawn(cfg.ServerPath, nil)
		if err != nil {
			return stateError(errors.ErrInternal,
				"failed to launch tool server", err.Error())
		}
		l.mu.Lock()
		l.child = spawned
		l.childPath = cfg.ServerPath
		l.mu.Unlock()
		child = spawned
	}

	return l.awaitReady(ctx, cfg.ServerURL, child)
}

// waitOutForeignPort re-probes an occupied port with short polls. If the
// occupant answers, it is our server; otherwise something else holds the port
// and spawning would fail anyway.
func (l *Launcher) waitOutForeignPort(ctx context.Context, url, hostport string) (ConnectionState, bool) {
	for i := 0; i < foreignPortPolls; i++ {
		if err := l.probe(ctx, url); err == nil {
			return stateReady("tool server already running"), true
		}
		select {
		case <-ctx.Done():
			return stateError(errors.ErrCancelled, "startup check cancelled", ""), true
		case <-time.After(l.pollEvery):
		}
	}
	return stateError(errors.ErrPortInUse,
		fmt.Sprintf("port at %s is held by another process", hostport),
		fmt.Sprintf("stop whatever is listening on %s or change server_url", hostport)), true
}

// awaitReady polls endpoint health until it answers, the child exits, the
// startup timeout elapses, or the context is cancelled.
func (l *Launcher) awaitReady(ctx context.Context, url string, child Process) ConnectionState {
	deadline := time.After(l.startupLimit)
	var lastErr error

	for {
		if err := l.probe(ctx, url); err == nil {
			return stateReady("tool server started")
		} else {
			lastErr = err
		}

		select {
		case status := <-child.Done():
			l.mu.Lock()
			l.child = nil
			l.mu.Unlock()
			return stateError(errors.ErrInternal,
				"tool server exited during startup",
				fmt.Sprintf("exit code %d: %s", status.Code, status.Detail))
		case <-deadline:
			detail := ""
			if lastErr != nil {
				detail = lastErr.Error()
			}
			return stateError(errors.ErrStartupTimeout,
				"tool server did not become ready in time", detail)
		case <-ctx.Done():
			return stateError(errors.ErrCancelled, "startup cancelled", "")
		case <-time.After(l.pollEvery):
		}
	}
}

// Shutdown terminates any tracked child. Idempotent.
func (l *Launcher) Shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.child != nil {
		l.child.Terminate()
		l.child = nil
		l.childPath = ""
	}
	l.state = ConnectionState{Kind: StateIdle, Message: "shut down"}
}

// setTransient publishes an intermediate state without ending the attempt.
func (l *Launcher) setTransient(state ConnectionState) {
	l.mu.Lock()
	l.state = state
	observers := append([]func(ConnectionState){}, l.observers...)
	l.mu.Unlock()
	for _, fn := range observers {
		fn(state)
	}
}

func endpointHostPort(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "https":
			host = net.JoinHostPort(u.Hostname(), "443")
		default:
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}
	return host
}

func portOpen(hostport string) bool {
	conn, err := net.DialTimeout("tcp", hostport, pollInterval)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
