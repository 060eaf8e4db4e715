package bridge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/ditkit/ditreport/internal/config"
	"github.com/ditkit/ditreport/internal/logging"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
	stopGrace      = 3 * time.Second
)

// Config holds the bridge process configuration.
type Config struct {
	PythonPath  string        // path to python binary; empty = auto-detect
	ModuleName  string        // default "ditreport_bridge"
	CallTimeout time.Duration // bound on a single call
	Logger      *slog.Logger
}

// ConfigFrom reads bridge settings from cfg.
func ConfigFrom(cfg config.Config, logger *slog.Logger) Config {
	return Config{
		PythonPath:  cfg.BridgePython(),
		ModuleName:  cfg.BridgeModule(),
		CallTimeout: cfg.BridgeTimeout(),
		Logger:      logger,
	}
}

// Process is a running `python -m <module> serve` bridge.
type Process struct {
	*Session

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *limitedWriter
	logger *slog.Logger

	waitOnce sync.Once
	waitErr  error
	exited   chan struct{}
}

// Start launches the bridge and confirms it answers a ping.
func Start(ctx context.Context, cfg Config) (*Process, error) {
	logger := logging.WithComponent(logging.OrDiscard(cfg.Logger), "bridge")
	python, err := resolvePython(cfg.PythonPath)
	if err != nil {
		return nil, fmt.Errorf("cannot locate python: %w", err)
	}
	module := cfg.ModuleName
	if module == "" {
		module = config.DefaultBridgeModule
	}

	cmd := exec.Command(python, "-m", module, "serve")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open bridge stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open bridge stdout: %w", err)
	}
	stderr := &limitedWriter{w: &bytes.Buffer{}, limit: maxStderrBytes}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start bridge: %w", err)
	}
	logger.Info("bridge started", "python", python, "module", module, "pid", cmd.Process.Pid)

	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		stderr: stderr,
		logger: logger,
		exited: make(chan struct{}),
	}
	client := NewClient(stdout, stdin, cfg.CallTimeout, logger)
	p.Session = NewSession(client)

	go func() {
		<-client.Done()
		p.wait()
	}()

	if err := client.Call(ctx, MethodPing, nil, nil); err != nil {
		p.Close()
		return nil, fmt.Errorf("bridge did not answer: %w (stderr: %s)", err, truncate(p.StderrTail(), 512))
	}
	return p, nil
}

func (p *Process) wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		close(p.exited)
		if p.waitErr != nil {
			p.logger.Warn("bridge exited", "error", p.waitErr, "stderr_tail", truncate(p.StderrTail(), 512))
		} else {
			p.logger.Info("bridge exited")
		}
	})
	return p.waitErr
}

// StderrTail returns the last bytes the bridge wrote to stderr.
func (p *Process) StderrTail() string {
	return p.stderr.String()
}

// Close asks the bridge to exit by closing its stdin, then kills it after a
// grace period.
func (p *Process) Close() error {
	p.stdin.Close()
	select {
	case <-p.exited:
	case <-time.After(stopGrace):
		p.logger.Warn("bridge did not exit, killing")
		_ = p.cmd.Process.Kill()
		<-p.exited
	}
	return nil
}

// resolvePython finds a usable python binary.
func resolvePython(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured python %q not found", preferred)
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no python binary found on PATH (tried python3, python)")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	mu    sync.Mutex
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}

func (lw *limitedWriter) String() string {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.String()
}
