// Package script executes event actions: external commands and
// embedded Lua scripts, both with the triggering entity's variables
// exposed.
package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"
)

// Errors returned by action execution.
var (
	ErrNoAction    = errors.New("action has nothing to execute")
	ErrLuaDisabled = errors.New("lua scripts are disabled")
)

// Action is one executable event payload.
type Action struct {
	// Command is a shell command line to run. Empty means no command.
	Command string

	// LuaPath is a .lua file to run in the embedded runtime.
	// Empty means no script.
	LuaPath string

	// Dir is the working directory for the command.
	Dir string

	// Env is the flat variable mapping contributed by the entity chain.
	// Keys are exported to commands prefixed with "KEYDECK_" and to Lua
	// as the global "deck" table.
	Env map[string]string

	// Detached runs the command without waiting for completion.
	Detached bool
}

// Runner executes actions with a bounded lifetime.
type Runner struct {
	timeout    time.Duration
	luaEnabled bool
	lua        *luaRunner
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout bounds a single action execution.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLua enables or disables the embedded Lua runtime.
func WithLua(enabled bool) Option {
	return func(r *Runner) {
		r.luaEnabled = enabled
	}
}

// NewRunner creates an action runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		timeout:    5 * time.Second,
		luaEnabled: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.luaEnabled {
		r.lua = newLuaRunner()
	}
	return r
}

// Close releases the embedded runtime.
func (r *Runner) Close() {
	if r.lua != nil {
		r.lua.close()
	}
}

// Run executes the action. Commands and Lua scripts are mutually
// exclusive; when both are set the command wins.
func (r *Runner) Run(ctx context.Context, action Action) error {
	switch {
	case action.Command != "":
		return r.runCommand(ctx, action)
	case action.LuaPath != "":
		if !r.luaEnabled {
			return ErrLuaDisabled
		}
		return r.lua.run(ctx, r.timeout, action)
	default:
		return ErrNoAction
	}
}

func (r *Runner) runCommand(ctx context.Context, action Action) error {
	runCtx := ctx
	var cancel context.CancelFunc
	if !action.Detached {
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", action.Command)
	cmd.Dir = action.Dir
	cmd.Env = append(os.Environ(), exportEnv(action.Env)...)

	// The shell may fork. Run it in its own process group and kill the
	// whole group on timeout so orphaned children cannot hold the
	// output pipe open past the deadline.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second

	if action.Detached {
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start command: %w", err)
		}
		// Reap in the background so the child never zombies.
		go func() { _ = cmd.Wait() }()
		return nil
	}

	if out, err := cmd.CombinedOutput(); err != nil {
		trimmed := strings.TrimSpace(string(out))
		if trimmed != "" {
			return fmt.Errorf("run command: %w: %s", err, trimmed)
		}
		return fmt.Errorf("run command: %w", err)
	}
	return nil
}

// exportEnv converts the variable map to KEYDECK_-prefixed env entries,
// sorted for deterministic process environments.
func exportEnv(vars map[string]string) []string {
	if len(vars) == 0 {
		return nil
	}
	entries := make([]string, 0, len(vars))
	for key, value := range vars {
		entries = append(entries, "KEYDECK_"+strings.ToUpper(key)+"="+value)
	}
	sort.Strings(entries)
	return entries
}
