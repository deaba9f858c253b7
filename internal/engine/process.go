// Package engine launches and supervises the game engine process.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/process"
)

// DefaultListenAddr is the loopback address the engine serves its API on.
const DefaultListenAddr = "127.0.0.1"

// terminateWait bounds how long Terminate waits for the killed process to be reaped.
const terminateWait = 5 * time.Second

// LaunchConfig holds everything needed to start one engine process.
type LaunchConfig struct {
	Executable  string
	ListenAddr  string
	Port        int
	DisplayMode int
	DataVersion string
	WorkDir     string

	// Env overrides individual variables of the inherited environment.
	Env map[string]string
}

// Args returns the engine command line, without the executable.
// An empty DataVersion lets the engine pick its own.
func (c LaunchConfig) Args() []string {
	addr := c.ListenAddr
	if addr == "" {
		addr = DefaultListenAddr
	}
	args := []string{
		"-listen", addr,
		"-port", strconv.Itoa(c.Port),
		"-displayMode", strconv.Itoa(c.DisplayMode),
	}
	if c.DataVersion != "" {
		args = append(args, "-dataVersion", c.DataVersion)
	}
	return args
}

// LaunchError reports that the engine executable could not be started.
type LaunchError struct {
	Executable string
	Err        error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch engine %q: %v", e.Executable, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Process is a running (or exited) engine process. It is owned by whoever
// called Launch and stays valid until Terminate returns.
type Process struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	proc   *process.Process
	pid    int
	logger zerolog.Logger

	running    bool
	terminated bool
	exitCode   int

	done chan struct{}
}

// Launch starts the engine. The process is not bound to ctx: it keeps running
// until Terminate is called or it exits on its own. ctx only aborts a launch
// that has not happened yet.
func Launch(ctx context.Context, cfg LaunchConfig) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Executable == "" {
		return nil, &LaunchError{Err: errors.New("no executable configured")}
	}

	cmd := exec.Command(cfg.Executable, cfg.Args()...)
	cmd.Dir = cfg.WorkDir
	if len(cfg.Env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), cfg.Env)
	}
	setPlatformProcessAttrs(cmd)

	p := &Process{
		cmd:      cmd,
		exitCode: -1,
		done:     make(chan struct{}),
		logger: log.With().
			Str("component", "engine").
			Int("port", cfg.Port).
			Logger(),
	}

	p.logger.Info().
		Str("executable", cfg.Executable).
		Strs("args", cmd.Args[1:]).
		Str("workdir", cfg.WorkDir).
		Msg("launching engine")

	if err := cmd.Start(); err != nil {
		p.logger.Error().Err(err).Msg("engine launch failed")
		return nil, &LaunchError{Executable: cfg.Executable, Err: err}
	}

	p.pid = cmd.Process.Pid
	p.running = true
	p.logger = p.logger.With().Int("pid", p.pid).Logger()

	if gp, err := process.NewProcess(int32(p.pid)); err == nil {
		p.proc = gp
	}

	p.logger.Info().Msg("engine process started")

	go p.monitor()

	return p, nil
}

// mergeEnv returns base with the given keys replaced, matching names
// case-insensitively.
func mergeEnv(base []string, overrides map[string]string) []string {
	keys := make(map[string]bool, len(overrides))
	for k := range overrides {
		keys[strings.ToUpper(k)] = true
	}
	env := make([]string, 0, len(base)+len(overrides))
	for _, e := range base {
		name, _, ok := strings.Cut(e, "=")
		if ok && keys[strings.ToUpper(name)] {
			continue
		}
		env = append(env, e)
	}
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}

// monitor reaps the process and records its exit status.
func (p *Process) monitor() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.running = false
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}
	exitCode := p.exitCode
	terminated := p.terminated
	p.mu.Unlock()

	close(p.done)

	if terminated {
		p.logger.Info().Int("exit_code", exitCode).Msg("engine process terminated")
	} else {
		p.logger.Warn().Err(err).Int("exit_code", exitCode).Msg("engine process exited on its own")
	}
}

// Terminate force-ends the process (and its process group where supported)
// and waits briefly for it to be reaped. Terminating an already exited
// process is not an error, and repeated calls are no-ops.
func (p *Process) Terminate() error {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return nil
	}
	p.terminated = true
	running := p.running
	pid := p.pid
	p.mu.Unlock()

	if !running {
		return nil
	}

	p.logger.Info().Msg("terminating engine process")

	if err := terminateProcessPlatform(p.cmd.Process, pid); err != nil {
		select {
		case <-p.done:
			return nil
		default:
		}
		return fmt.Errorf("failed to terminate engine pid %d: %w", pid, err)
	}

	select {
	case <-p.done:
	case <-time.After(terminateWait):
		p.logger.Warn().Dur("waited", terminateWait).Msg("engine process not reaped after kill")
	}
	return nil
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// IsRunning returns whether the process is still alive.
func (p *Process) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// PID returns the process ID.
func (p *Process) PID() int {
	return p.pid
}

// ExitCode returns the exit code of the process (-1 if still running or killed).
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// CPUPercent returns the CPU usage percentage of the process.
func (p *Process) CPUPercent() (float64, error) {
	if p.proc == nil {
		return 0, fmt.Errorf("process not available")
	}
	return p.proc.CPUPercent()
}

// MemoryMB returns the resident memory in megabytes.
func (p *Process) MemoryMB() (float64, error) {
	if p.proc == nil {
		return 0, fmt.Errorf("process not available")
	}
	memInfo, err := p.proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return float64(memInfo.RSS) / (1024 * 1024), nil
}
