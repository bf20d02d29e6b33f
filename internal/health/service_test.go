package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/boardlink/internal/config"
)

// switchProbe reports healthy only for targets marked up.
type switchProbe struct {
	mu sync.Mutex
	up map[string]bool
}

func (p *switchProbe) probe(_ context.Context, target string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.up[target] {
		return nil
	}
	return errors.New("down")
}

func (p *switchProbe) set(target string, up bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.up[target] = up
}

type fakeStarter struct {
	started []string
	err     error
	onStart func(name string)
}

func (f *fakeStarter) StartOne(_ context.Context, name string) error {
	f.started = append(f.started, name)
	if f.onStart != nil {
		f.onStart(name)
	}
	return f.err
}

type aliveSet map[string]bool

func (a aliveSet) ProcessAlive(name string) bool { return a[name] }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Processes: map[string]config.Process{
			"engine": {Kind: config.KindExec, Command: []string{"engine"}},
			"api":    {Kind: config.KindExec, Command: []string{"api"}, StartOrder: 1, Health: &config.ProcessHealth{Kind: config.ProbeHTTP, Target: "http://api"}},
		},
		Health: config.HealthConfig{Dependencies: map[string]config.Dependency{
			"b-engine": {Kind: config.ProbeTCP, Target: "engine:1", Process: "engine"},
			"a-tool":   {Kind: config.ProbeTCP, Target: "tool:1"},
		}},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestGetSystemStatus(t *testing.T) {
	probe := &switchProbe{up: map[string]bool{"tool:1": true}}
	svc := New(testConfig(t), WithProbe(config.ProbeTCP, probe.probe))

	status := svc.GetSystemStatus(context.Background())

	assert.False(t, status.Healthy)
	require.Len(t, status.Dependencies, 2)
	assert.Equal(t, "a-tool", status.Dependencies[0].Name)
	assert.True(t, status.Dependencies[0].Healthy)
	assert.Equal(t, "b-engine", status.Dependencies[1].Name)
	assert.False(t, status.Dependencies[1].Healthy)
	assert.Equal(t, "down", status.Dependencies[1].Message)

	r, ok := status.Lookup("b-engine")
	require.True(t, ok)
	assert.Equal(t, "engine:1", r.Target)
}

func TestProbe_Unknown(t *testing.T) {
	svc := New(testConfig(t))
	_, err := svc.Probe(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownDependency)
}

func TestPerformStartupChecks(t *testing.T) {
	t.Run("without auto start reports failure", func(t *testing.T) {
		probe := &switchProbe{up: map[string]bool{"tool:1": true}}
		svc := New(testConfig(t), WithProbe(config.ProbeTCP, probe.probe))
		starter := &fakeStarter{}
		svc.SetStarter(starter)

		ok, messages := svc.PerformStartupChecks(context.Background(), false)
		assert.False(t, ok)
		assert.Equal(t, []string{
			"a-tool: healthy (tcp tool:1)",
			"b-engine: unhealthy: down",
		}, messages)
		assert.Empty(t, starter.started)
	})

	t.Run("auto start brings dependency up", func(t *testing.T) {
		probe := &switchProbe{up: map[string]bool{"tool:1": true}}
		svc := New(testConfig(t), WithProbe(config.ProbeTCP, probe.probe))
		starter := &fakeStarter{onStart: func(string) { probe.set("engine:1", true) }}
		svc.SetStarter(starter)

		ok, messages := svc.PerformStartupChecks(context.Background(), true)
		assert.True(t, ok)
		assert.Equal(t, []string{"engine"}, starter.started)
		assert.Equal(t, []string{
			"a-tool: healthy (tcp tool:1)",
			"b-engine: unhealthy: down",
			"b-engine: starting process engine",
			"b-engine: healthy after auto-start",
		}, messages)
	})

	t.Run("auto start failure", func(t *testing.T) {
		probe := &switchProbe{up: map[string]bool{}}
		svc := New(testConfig(t), WithProbe(config.ProbeTCP, probe.probe))
		svc.SetStarter(&fakeStarter{err: errors.New("no binary")})

		ok, messages := svc.PerformStartupChecks(context.Background(), true)
		assert.False(t, ok)
		assert.Contains(t, messages, "a-tool: cannot auto-start, no managed process provides it")
		assert.Contains(t, messages, "b-engine: auto-start failed: no binary")
	})

	t.Run("no dependencies", func(t *testing.T) {
		cfg := &config.Config{}
		require.NoError(t, cfg.Validate())
		ok, messages := New(cfg).PerformStartupChecks(context.Background(), true)
		assert.True(t, ok)
		assert.Equal(t, []string{"no dependencies configured"}, messages)
	})
}

func TestProbeProcess(t *testing.T) {
	probe := &switchProbe{up: map[string]bool{}}
	svc := New(testConfig(t), WithProbe(config.ProbeHTTP, probe.probe))
	alive := aliveSet{"engine": true}
	svc.SetProcessState(alive)

	ok, msg := svc.ProbeProcess(context.Background(), "engine")
	assert.True(t, ok)
	assert.Equal(t, "alive", msg)

	ok, msg = svc.ProbeProcess(context.Background(), "api")
	assert.False(t, ok)
	assert.Equal(t, "process api is not alive", msg)

	alive["api"] = true
	ok, _ = svc.ProbeProcess(context.Background(), "api")
	assert.False(t, ok)

	probe.set("http://api", true)
	ok, _ = svc.ProbeProcess(context.Background(), "api")
	assert.True(t, ok)

	ok, _ = svc.ProbeProcess(context.Background(), "ghost")
	assert.False(t, ok)
}

func TestBuiltinProbes(t *testing.T) {
	ctx := context.Background()

	t.Run("http", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/broken" {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		assert.NoError(t, HTTPProbe(ctx, srv.URL+"/ok"))
		assert.Error(t, HTTPProbe(ctx, srv.URL+"/broken"))
		assert.Error(t, HTTPProbe(ctx, "://bad"))
	})

	t.Run("tcp", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := ln.Addr().String()

		assert.NoError(t, TCPProbe(ctx, addr))
		ln.Close()
		assert.Error(t, TCPProbe(ctx, addr))
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		assert.NoError(t, RedisProbe(ctx, "redis://"+mr.Addr()))
		assert.Error(t, RedisProbe(ctx, "not a url"))
	})

	t.Run("binary", func(t *testing.T) {
		dir := t.TempDir()
		bin := filepath.Join(dir, "tool")
		require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))

		assert.NoError(t, BinaryProbe(ctx, bin))
		assert.Error(t, BinaryProbe(ctx, dir))
		assert.Error(t, BinaryProbe(ctx, filepath.Join(dir, "missing")))
		assert.Error(t, BinaryProbe(ctx, "definitely-not-a-real-binary-name"))
	})
}
