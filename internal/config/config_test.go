package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "boardlink.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `version: "1.0"
session:
  name: "table-one"
  state_file: "/tmp/state.json"
listener:
  ticks_per_second: 20
processes:
  dolphin:
    kind: exec
    command: ["dolphin-emu", "--batch"]
    start_order: 0
  memory-engine:
    kind: exec
    command: ["memory-engine"]
    start_order: 1
    depends_on: ["dolphin"]
    health:
      kind: http
      target: "http://localhost:8081/health"
health:
  dependencies:
    emulator:
      kind: binary
      target: "dolphin-emu"
      process: dolphin
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "1.0", cfg.Version)
	assert.Equal(t, "table-one", cfg.Session.Name)
	assert.Equal(t, 20, cfg.Listener.TicksPerSecond)
	assert.Equal(t, 50*time.Millisecond, cfg.Listener.TickInterval())
	assert.Equal(t, []string{"dolphin", "memory-engine"}, cfg.ProcessNames())
	assert.Equal(t, "dolphin", cfg.PrimaryProcess())
	assert.Equal(t, ProbeProcess, cfg.Processes["dolphin"].Health.Kind)
	assert.Equal(t, ProbeHTTP, cfg.Processes["memory-engine"].Health.Kind)
	assert.Equal(t, 2*time.Second, cfg.Processes["memory-engine"].Health.TimeoutDuration())
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `version: "1.0"`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.Session.Name)
	assert.Equal(t, 30, cfg.Listener.TicksPerSecond)
	assert.Equal(t, 100*time.Millisecond, cfg.Listener.PlayerIntervalDuration())
	assert.Equal(t, "data/context/context.json", cfg.Context.File)
	assert.Equal(t, 200, cfg.Context.HistoryLimitValue())
	assert.Equal(t, 10*time.Second, cfg.Policy.TimeoutDuration())
	assert.Equal(t, "ANTHROPIC_API_KEY", cfg.Policy.APIKeyEnv)
	assert.Equal(t, 50, cfg.Policy.MaxTokens)
	assert.True(t, cfg.Policy.PolicyEnabled())
	assert.Equal(t, 30*time.Second, cfg.Supervisor.GracePeriodDuration())
	assert.Equal(t, 500*time.Millisecond, cfg.Supervisor.PollIntervalDuration())
	assert.Equal(t, 10*time.Second, cfg.Supervisor.StopTimeoutDuration())
	assert.Equal(t, 2*time.Second, cfg.Supervisor.WatchdogIntervalDuration())
	assert.Equal(t, ":5000", cfg.HTTP.Addr)
	assert.Nil(t, cfg.Redis)
	assert.Equal(t, "", cfg.PrimaryProcess())
}

func TestLoad_FileNotFound(t *testing.T) {
	cfg, err := Load("/nonexistent/boardlink.yml")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, `version: "1.0"
processes:
  - this is invalid
    yaml syntax
`)

	cfg, err := Load(path)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BOARDLINK_HTTP_ADDR", "127.0.0.1:7000")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	path := writeConfig(t, `version: "1.0"`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.HTTP.Addr)
	require.NotNil(t, cfg.Redis)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.Session.Name)
	assert.Empty(t, cfg.Processes)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		contains string
	}{
		{
			name:     "unsupported version",
			yaml:     `version: "2.0"`,
			contains: "unsupported version: 2.0",
		},
		{
			name:     "unknown top-level key",
			yaml:     "version: \"1.0\"\nagents: {}\n",
			contains: "unknown top-level keys",
		},
		{
			name:     "invalid session name",
			yaml:     "session:\n  name: Bad_Name\n",
			contains: "session: invalid name",
		},
		{
			name:     "bad duration",
			yaml:     "listener:\n  player_interval: soon\n",
			contains: "listener.player_interval",
		},
		{
			name:     "tick rate out of range",
			yaml:     "listener:\n  ticks_per_second: -1\n",
			contains: "ticks_per_second",
		},
		{
			name:     "exec without command",
			yaml:     "processes:\n  dolphin:\n    kind: exec\n",
			contains: "command is required",
		},
		{
			name:     "docker without image",
			yaml:     "processes:\n  redis:\n    kind: docker\n",
			contains: "image is required",
		},
		{
			name:     "unknown kind",
			yaml:     "processes:\n  dolphin:\n    kind: vm\n    command: [x]\n",
			contains: "invalid kind: vm",
		},
		{
			name:     "unknown dependency",
			yaml:     "processes:\n  engine:\n    command: [x]\n    depends_on: [dolphin]\n",
			contains: "unknown process 'dolphin'",
		},
		{
			name: "dependency not earlier",
			yaml: `processes:
  dolphin:
    command: [a]
    start_order: 2
  engine:
    command: [b]
    start_order: 1
    depends_on: [dolphin]
`,
			contains: "must have a lower start_order",
		},
		{
			name:     "http health without target",
			yaml:     "processes:\n  engine:\n    command: [x]\n    health:\n      kind: http\n",
			contains: "health.target is required",
		},
		{
			name:     "primary not declared",
			yaml:     "session:\n  primary: dolphin\n",
			contains: "session.primary 'dolphin'",
		},
		{
			name:     "dependency with unknown process",
			yaml:     "health:\n  dependencies:\n    emu:\n      kind: binary\n      target: dolphin-emu\n      process: dolphin\n",
			contains: "process 'dolphin' is not declared",
		},
		{
			name:     "dependency with bad kind",
			yaml:     "health:\n  dependencies:\n    emu:\n      kind: ftp\n      target: x\n",
			contains: "invalid kind: ftp",
		},
		{
			name:     "redis section without url",
			yaml:     "redis: {}\n",
			contains: "redis.url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.yaml)
			cfg, err := Load(path)
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "default", false},
		{"with hyphen", "table-one", false},
		{"single char", "a", false},
		{"empty", "", true},
		{"uppercase", "Table", true},
		{"leading hyphen", "-table", true},
		{"trailing hyphen", "table-", true},
		{"underscore", "table_one", true},
		{"too long", strings.Repeat("a", MaxNameLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := `# comment
export BOARDLINK_TEST_A="alpha"
BOARDLINK_TEST_B=beta
BOARDLINK_TEST_C=ignored
not a pair
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	t.Setenv("BOARDLINK_TEST_C", "kept")
	os.Unsetenv("BOARDLINK_TEST_A")
	os.Unsetenv("BOARDLINK_TEST_B")
	t.Cleanup(func() {
		os.Unsetenv("BOARDLINK_TEST_A")
		os.Unsetenv("BOARDLINK_TEST_B")
	})

	LoadDotEnv(path)

	assert.Equal(t, "alpha", os.Getenv("BOARDLINK_TEST_A"))
	assert.Equal(t, "beta", os.Getenv("BOARDLINK_TEST_B"))
	assert.Equal(t, "kept", os.Getenv("BOARDLINK_TEST_C"))

	LoadDotEnv(filepath.Join(t.TempDir(), "missing"))
}
