package plugin

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/untoldecay/kira/internal/eventbus"
	"github.com/untoldecay/kira/internal/types"
	"github.com/untoldecay/kira/internal/vault"
)

const (
	DefaultMaxRestarts    = 3
	DefaultRestartWindow  = 300 * time.Second
	DefaultTerminateGrace = 5 * time.Second
)

// envWhitelist lists the host environment variables a plugin inherits.
var envWhitelist = []string{"PATH", "HOME", "LANG", "LC_ALL", "TZ", "TMPDIR"}

// State is the lifecycle state of a plugin process.
type State string

const (
	StateStopped  State = "stopped"
	StateRunning  State = "running"
	StateFailed   State = "failed"
	StateDisabled State = "disabled"
)

// Plugin supervises one sandboxed subprocess.
type Plugin struct {
	Manifest *Manifest

	host *Host
	bus  *eventbus.Bus
	log  zerolog.Logger

	mu       sync.Mutex
	writeMu  sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	state    State
	stopping bool
	restarts []time.Time

	maxRestarts    int
	restartWindow  time.Duration
	terminateGrace time.Duration
	now            func() time.Time
}

// Option configures a Plugin supervisor.
type Option func(*Plugin)

func WithRestartLimit(max int, window time.Duration) Option {
	return func(p *Plugin) {
		p.maxRestarts = max
		p.restartWindow = window
	}
}

func WithTerminateGrace(d time.Duration) Option {
	return func(p *Plugin) { p.terminateGrace = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Plugin) { p.now = now }
}

func New(m *Manifest, v *vault.Vault, log zerolog.Logger, opts ...Option) *Plugin {
	p := &Plugin{
		Manifest:       m,
		host:           NewHost(v, m.Policy(), log),
		bus:            v.Bus(),
		log:            log.With().Str("plugin", m.Name).Logger(),
		state:          StateStopped,
		maxRestarts:    DefaultMaxRestarts,
		restartWindow:  DefaultRestartWindow,
		terminateGrace: DefaultTerminateGrace,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State reports the current lifecycle state.
func (p *Plugin) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start launches the plugin subprocess with a sanitized environment and
// resource limits, then serves its RPC channel. Restarting more than the
// configured limit within the window disables the plugin.
func (p *Plugin) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateRunning {
		return nil
	}
	if p.state == StateDisabled {
		return fmt.Errorf("%w: plugin %s is disabled", types.ErrFatal, p.Manifest.Name)
	}
	if !p.allowRestartLocked() {
		p.state = StateDisabled
		p.bus.Publish(ctx, "plugin.failed", map[string]any{
			"plugin": p.Manifest.Name,
			"reason": "restart rate limit exceeded",
		})
		return fmt.Errorf("%w: plugin %s exceeded %d restarts in %s",
			types.ErrFatal, p.Manifest.Name, p.maxRestarts, p.restartWindow)
	}
	p.restarts = append(p.restarts, p.now())

	entry := p.Manifest.Entry
	cmd := exec.Command(entry[0], entry[1:]...)
	cmd.Env = p.sanitizedEnv()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: plugin stdin: %v", types.ErrIO, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: plugin stdout: %v", types.ErrIO, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: plugin stderr: %v", types.ErrIO, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: launching plugin %s: %v", types.ErrIO, p.Manifest.Name, err)
	}
	if err := applyResourceLimits(cmd.Process.Pid, p.Manifest.Sandbox); err != nil {
		p.log.Warn().Err(err).Msg("resource limits not applied")
	}

	p.cmd = cmd
	p.stdin = stdin
	p.state = StateRunning
	p.stopping = false

	go p.serve(ctx, bufio.NewReader(stdout))
	go p.drainStderr(stderr)
	go p.reap(ctx, cmd)

	p.bus.Publish(ctx, "plugin.activated", map[string]any{
		"plugin":  p.Manifest.Name,
		"version": p.Manifest.Version,
	})
	return nil
}

// Terminate stops the subprocess: SIGTERM, a grace period, then SIGKILL.
// force skips straight to SIGKILL.
func (p *Plugin) Terminate(force bool) error {
	p.mu.Lock()
	cmd := p.cmd
	p.stopping = true
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if force {
		_ = cmd.Process.Kill()
		return nil
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return nil // already gone
	}

	exited := make(chan struct{})
	go func() {
		for {
			if err := cmd.Process.Signal(syscall.Signal(0)); err != nil {
				close(exited)
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	}()
	select {
	case <-exited:
	case <-time.After(p.terminateGrace):
		p.log.Warn().Msg("plugin ignored SIGTERM, killing")
		_ = cmd.Process.Kill()
	}
	return nil
}

// Notify sends a fire-and-forget JSON-RPC notification to the plugin.
func (p *Plugin) Notify(method string, params any) error {
	p.mu.Lock()
	stdin := p.stdin
	state := p.state
	p.mu.Unlock()
	if state != StateRunning || stdin == nil {
		return fmt.Errorf("%w: plugin %s is not running", types.ErrIO, p.Manifest.Name)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return WriteFrame(stdin, map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	})
}

// serve dispatches the plugin's requests until its stdout closes.
func (p *Plugin) serve(ctx context.Context, r *bufio.Reader) {
	for {
		body, err := ReadFrame(r)
		if err != nil {
			if err != io.EOF {
				p.log.Debug().Err(err).Msg("rpc channel closed")
			}
			return
		}

		var req Request
		if err := json.Unmarshal(body, &req); err != nil {
			p.respond(errorResponse(nil, codeParseError, "unparseable request"))
			continue
		}

		resp := p.host.Dispatch(ctx, &req)
		if req.ID != nil {
			p.respond(resp)
		}
	}
}

func (p *Plugin) respond(resp *Response) {
	// reap clears stdin under p.mu when the process exits; the serve
	// goroutine can still be mid-dispatch at that point.
	p.mu.Lock()
	stdin := p.stdin
	p.mu.Unlock()
	if stdin == nil {
		return
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := WriteFrame(stdin, resp); err != nil {
		p.log.Debug().Err(err).Msg("dropping rpc response")
	}
}

// reap waits for process exit and classifies it.
func (p *Plugin) reap(ctx context.Context, cmd *exec.Cmd) {
	err := cmd.Wait()

	p.mu.Lock()
	deliberate := p.stopping
	if deliberate || err == nil {
		p.state = StateStopped
	} else {
		p.state = StateFailed
	}
	p.cmd = nil
	p.stdin = nil
	p.mu.Unlock()

	if !deliberate && err != nil {
		p.log.Warn().Err(err).Msg("plugin crashed")
		p.bus.Publish(ctx, "plugin.failed", map[string]any{
			"plugin": p.Manifest.Name,
			"reason": err.Error(),
		})
	}
}

func (p *Plugin) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.log.Debug().Str("stream", "stderr").Msg(scanner.Text())
	}
}

// allowRestartLocked prunes the window and checks the rate limit.
func (p *Plugin) allowRestartLocked() bool {
	cutoff := p.now().Add(-p.restartWindow)
	var recent []time.Time
	for _, t := range p.restarts {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	p.restarts = recent
	return len(recent) < p.maxRestarts
}

// sanitizedEnv builds the child environment: whitelisted host vars, the
// plugin identity, and proxy hints that blackhole traffic when the sandbox
// disallows network access.
func (p *Plugin) sanitizedEnv() []string {
	env := make([]string, 0, len(envWhitelist)+6)
	for _, key := range envWhitelist {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	env = append(env,
		"KIRA_PLUGIN="+p.Manifest.Name,
		"KIRA_PLUGIN_VERSION="+p.Manifest.Version,
	)
	if !p.Manifest.Sandbox.NetworkAccess || !p.host.policy.Has("net") {
		env = append(env,
			"HTTP_PROXY=http://127.0.0.1:9",
			"HTTPS_PROXY=http://127.0.0.1:9",
			"ALL_PROXY=http://127.0.0.1:9",
			"NO_PROXY=",
		)
	}
	return env
}
