package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dyluth/boardlink/internal/config"
)

// ExecController launches local processes. Each line a child writes to
// stdout or stderr is copied to Output prefixed with "[name] ". When RunDir
// is set, a pid file per process lets Cleanup reap leftovers of a previous
// bridge that died without stopping its children.
type ExecController struct {
	Output io.Writer
	RunDir string
}

// NewExecController creates an exec controller. output may be nil.
func NewExecController(output io.Writer, runDir string) *ExecController {
	return &ExecController{Output: output, RunDir: runDir}
}

func (c *ExecController) Launch(_ context.Context, name string, p config.Process) (Handle, error) {
	if len(p.Command) == 0 {
		return nil, errors.New("empty command")
	}
	path, err := exec.LookPath(p.Command[0])
	if err != nil {
		return nil, fmt.Errorf("required binary missing: %w", err)
	}

	cmd := exec.Command(path, p.Command[1:]...)
	cmd.Dir = p.WorkDir
	cmd.Env = append(os.Environ(), p.Environment...)
	setProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to capture stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to capture stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start: %w", err)
	}

	h := &execHandle{name: name, cmd: cmd, done: make(chan struct{}), pidFile: c.pidFile(name)}
	if h.pidFile != "" {
		if err := os.MkdirAll(c.RunDir, 0o755); err == nil {
			_ = os.WriteFile(h.pidFile, []byte(fmt.Sprintf("%d\n%s\n", cmd.Process.Pid, path)), 0o644)
		}
	}

	var pipes sync.WaitGroup
	pipes.Add(2)
	go c.capture(&pipes, name, stdout)
	go c.capture(&pipes, name, stderr)

	go func() {
		// Wait closes the pipes, so readers must finish first.
		pipes.Wait()
		if err := cmd.Wait(); err != nil {
			log.Printf("[DEBUG] [Supervisor] %s exited: %v", name, err)
		}
		close(h.done)
		h.removePidFile()
	}()

	return h, nil
}

func (c *ExecController) capture(wg *sync.WaitGroup, name string, r io.Reader) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if c.Output != nil {
			fmt.Fprintf(c.Output, "[%s] %s\n", name, scanner.Text())
		}
	}
}

func (c *ExecController) pidFile(name string) string {
	if c.RunDir == "" {
		return ""
	}
	return filepath.Join(c.RunDir, name+".pid")
}

// Cleanup kills the process recorded in name's pid file, if it is still
// alive and still runs the recorded command, and removes the file. A pid
// that now belongs to another program is left alone.
func (c *ExecController) Cleanup(_ context.Context, name string) error {
	path := c.pidFile(name)
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read pid file: %w", err)
	}
	defer os.Remove(path)

	pid, command := parsePidFile(data)
	if pid <= 0 || !pidAlive(pid) {
		return nil
	}

	running, err := processCommand(pid)
	if err != nil {
		log.Printf("[WARN] [Supervisor] Leaving stale %s (pid %d): %v", name, pid, err)
		return nil
	}
	if command == "" || filepath.Base(running) != filepath.Base(command) {
		log.Printf("[WARN] [Supervisor] Pid %d from %s's pid file now runs %q, not killing it", pid, name, running)
		return nil
	}

	log.Printf("[WARN] [Supervisor] Killing stale %s (pid %d) from a previous run", name, pid)
	return killTree(pid)
}

// parsePidFile reads "<pid>\n<command path>\n". The command line is optional.
func parsePidFile(data []byte) (int, string) {
	lines := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, ""
	}
	if len(lines) < 2 {
		return pid, ""
	}
	return pid, strings.TrimSpace(lines[1])
}

// processCommand returns argv[0] of a live process from procfs.
func processCommand(pid int) (string, error) {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return "", fmt.Errorf("cannot verify process command: %w", err)
	}
	argv0, _, _ := strings.Cut(string(data), "\x00")
	if argv0 == "" {
		return "", errors.New("cannot verify process command: empty cmdline")
	}
	return argv0, nil
}

type execHandle struct {
	name    string
	cmd     *exec.Cmd
	done    chan struct{}
	pidFile string
	once    sync.Once
}

func (h *execHandle) ID() string { return strconv.Itoa(h.PID()) }

func (h *execHandle) PID() int { return h.cmd.Process.Pid }

func (h *execHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *execHandle) Terminate(ctx context.Context, grace time.Duration) error {
	if !h.Alive() {
		return nil
	}
	if err := terminate(h.cmd.Process.Pid); err != nil {
		log.Printf("[DEBUG] [Supervisor] Terminate signal to %s failed: %v", h.name, err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-h.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := h.Kill(); err != nil {
		return err
	}
	select {
	case <-h.done:
		return nil
	case <-time.After(2 * time.Second):
		return fmt.Errorf("process %s did not exit after kill", h.name)
	}
}

func (h *execHandle) Kill() error {
	if !h.Alive() {
		return nil
	}
	return killTree(h.cmd.Process.Pid)
}

func (h *execHandle) removePidFile() {
	h.once.Do(func() {
		if h.pidFile != "" {
			_ = os.Remove(h.pidFile)
		}
	})
}
