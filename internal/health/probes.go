package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/dyluth/boardlink/internal/config"
	dockerpkg "github.com/dyluth/boardlink/internal/docker"
)

// Probe checks one dependency target. A nil error means healthy.
type Probe func(ctx context.Context, target string) error

// BinaryProbe checks that an executable exists. Targets containing a path
// separator are checked directly; bare names are looked up on PATH.
func BinaryProbe(_ context.Context, target string) error {
	if strings.ContainsRune(target, os.PathSeparator) || strings.Contains(target, "/") {
		info, err := os.Stat(target)
		if err != nil {
			return fmt.Errorf("binary not found: %w", err)
		}
		if info.IsDir() {
			return fmt.Errorf("binary path %s is a directory", target)
		}
		return nil
	}
	if _, err := exec.LookPath(target); err != nil {
		return fmt.Errorf("binary %s not on PATH", target)
	}
	return nil
}

// HTTPProbe expects a 2xx or 3xx response from a GET on target.
func HTTPProbe(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// TCPProbe expects target (host:port) to accept a connection.
func TCPProbe(ctx context.Context, target string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return fmt.Errorf("port unreachable: %w", err)
	}
	return conn.Close()
}

// RedisProbe pings the Redis server at target (a redis:// URL).
func RedisProbe(ctx context.Context, target string) error {
	opts, err := redis.ParseURL(target)
	if err != nil {
		return fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// DockerProbe checks that the Docker daemon answers. The target is unused;
// the daemon is located from the environment.
func DockerProbe(ctx context.Context, _ string) error {
	cli, err := dockerpkg.NewClient(ctx)
	if err != nil {
		return err
	}
	return cli.Close()
}

// DefaultProbes returns the built-in probe for each dependency kind.
func DefaultProbes() map[string]Probe {
	return map[string]Probe{
		config.ProbeBinary: BinaryProbe,
		config.ProbeHTTP:   HTTPProbe,
		config.ProbeTCP:    TCPProbe,
		config.ProbeRedis:  RedisProbe,
		config.ProbeDocker: DockerProbe,
	}
}
