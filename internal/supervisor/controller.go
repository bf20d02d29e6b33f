package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/boardlink/internal/config"
)

// ErrDependencyUnhealthy marks a startup that timed out waiting for a
// process to pass its readiness probe.
var ErrDependencyUnhealthy = errors.New("dependency unhealthy")

// ErrUnknownProcess is returned for names not in the configuration.
var ErrUnknownProcess = errors.New("unknown process")

// ExternalProcessError reports a launch or control failure of a managed
// process. It is returned straight to the caller and never retried.
type ExternalProcessError struct {
	Name string
	Op   string
	Err  error
}

func (e *ExternalProcessError) Error() string {
	return fmt.Sprintf("process %s: %s: %v", e.Name, e.Op, e.Err)
}

func (e *ExternalProcessError) Unwrap() error { return e.Err }

// Handle controls one launched process instance.
type Handle interface {
	// ID identifies the instance: a PID for exec, a container ID for docker.
	ID() string
	PID() int
	Alive() bool

	// Terminate asks the process to exit and waits up to grace before
	// forcing it.
	Terminate(ctx context.Context, grace time.Duration) error

	// Kill forces the process down without waiting.
	Kill() error
}

// Controller launches processes of one kind.
type Controller interface {
	Launch(ctx context.Context, name string, p config.Process) (Handle, error)

	// Cleanup removes leftovers of name from an earlier run. Best effort.
	Cleanup(ctx context.Context, name string) error
}

// HealthChecker answers whether a launched process is ready.
type HealthChecker interface {
	ProbeProcess(ctx context.Context, name string) (bool, string)
}
