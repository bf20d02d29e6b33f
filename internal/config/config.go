package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file name looked up in the working directory.
const DefaultPath = "boardlink.yml"

// Process kinds
const (
	KindExec   = "exec"
	KindDocker = "docker"
)

// Health probe kinds. "process" only checks that the launched process is alive.
const (
	ProbeProcess = "process"
	ProbeHTTP    = "http"
	ProbeTCP     = "tcp"
	ProbeBinary  = "binary"
	ProbeRedis   = "redis"
	ProbeDocker  = "docker"
)

// MaxNameLength is the maximum length of a session or process name (DNS-compatible)
const MaxNameLength = 63

// NamePattern matches valid session and process names.
// Lowercase alphanumeric with hyphens, not at start or end.
var NamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// Config represents the top-level boardlink.yml configuration
type Config struct {
	Version    string             `yaml:"version"`
	Session    SessionConfig      `yaml:"session"`
	Listener   ListenerConfig     `yaml:"listener"`
	Context    ContextConfig      `yaml:"context"`
	Policy     PolicyConfig       `yaml:"policy"`
	Supervisor SupervisorConfig   `yaml:"supervisor"`
	Processes  map[string]Process `yaml:"processes,omitempty"`
	Health     HealthConfig       `yaml:"health,omitempty"`
	HTTP       HTTPConfig         `yaml:"http"`
	Redis      *RedisConfig       `yaml:"redis,omitempty"`
	Extra      map[string]any     `yaml:",inline"` // Unknown keys, rejected by Validate
}

// SessionConfig names the session and the state file the listener reads.
type SessionConfig struct {
	Name      string `yaml:"name"`
	StateFile string `yaml:"state_file"` // JSON document written by the memory-engine bridge
	Primary   string `yaml:"primary,omitempty"`
}

// ListenerConfig controls the two polling loops.
type ListenerConfig struct {
	TicksPerSecond int    `yaml:"ticks_per_second"` // Global tick rate, default 30
	PlayerInterval string `yaml:"player_interval"`  // Player refresh period, default 100ms
}

// ContextConfig controls aggregation and persistence.
type ContextConfig struct {
	File         string `yaml:"file"`
	HistoryLimit *int   `yaml:"history_limit,omitempty"`
	HistoryDB    string `yaml:"history_db,omitempty"` // Empty disables the sqlite archive
}

// PolicyConfig configures the decision backend.
type PolicyConfig struct {
	Enabled          *bool   `yaml:"enabled,omitempty"`
	Model            string  `yaml:"model"`
	Timeout          string  `yaml:"timeout"`
	APIKeyEnv        string  `yaml:"api_key_env"`
	MaxTokens        int     `yaml:"max_tokens"`
	RatePerSecond    float64 `yaml:"rate_per_second"`
	BreakerThreshold int     `yaml:"breaker_threshold"`
	BreakerCooldown  string  `yaml:"breaker_cooldown"`
}

// SupervisorConfig controls process startup and shutdown timing.
type SupervisorConfig struct {
	GracePeriod  string         `yaml:"grace_period"`
	PollInterval string         `yaml:"poll_interval"`
	StopTimeout  string         `yaml:"stop_timeout"`
	Watchdog     WatchdogConfig `yaml:"watchdog"`
}

// WatchdogConfig controls unexpected-exit detection.
type WatchdogConfig struct {
	Interval string `yaml:"interval"`
}

// Process describes one managed external process.
type Process struct {
	Kind        string         `yaml:"kind"`
	Command     []string       `yaml:"command,omitempty"`
	WorkDir     string         `yaml:"workdir,omitempty"`
	Image       string         `yaml:"image,omitempty"`
	Ports       []string       `yaml:"ports,omitempty"` // docker only, "host:container" form
	Environment []string       `yaml:"environment,omitempty"`
	StartOrder  int            `yaml:"start_order"`
	DependsOn   []string       `yaml:"depends_on,omitempty"`
	Health      *ProcessHealth `yaml:"health,omitempty"`
}

// ProcessHealth is the readiness probe used to gate startup.
type ProcessHealth struct {
	Kind    string `yaml:"kind"`
	Target  string `yaml:"target,omitempty"`
	Timeout string `yaml:"timeout,omitempty"`
}

// HealthConfig lists external dependencies checked by the health service.
type HealthConfig struct {
	Dependencies map[string]Dependency `yaml:"dependencies,omitempty"`
}

// Dependency is an external prerequisite. Process names the managed process
// that provides it, which lets auto-start bring it up.
type Dependency struct {
	Kind    string `yaml:"kind"`
	Target  string `yaml:"target"`
	Process string `yaml:"process,omitempty"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// RedisConfig enables the optional blackboard mirror.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// ValidateName checks that a session or process name is DNS-compatible.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	if len(name) > MaxNameLength {
		return fmt.Errorf("name too long: %d characters (max: %d)", len(name), MaxNameLength)
	}

	if !NamePattern.MatchString(name) {
		return fmt.Errorf("invalid name '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}

	return nil
}

// Validate performs strict validation and fills in defaults
func (c *Config) Validate() error {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if len(c.Extra) > 0 {
		keys := make([]string, 0, len(c.Extra))
		for k := range c.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return fmt.Errorf("unknown top-level keys: %v", keys)
	}

	if c.Session.Name == "" {
		c.Session.Name = "default"
	}
	if err := ValidateName(c.Session.Name); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if c.Session.StateFile == "" {
		c.Session.StateFile = "data/state/state.json"
	}

	if err := c.Listener.validate(); err != nil {
		return err
	}
	if err := c.Context.validate(); err != nil {
		return err
	}
	if err := c.Policy.validate(); err != nil {
		return err
	}
	if err := c.Supervisor.validate(); err != nil {
		return err
	}

	for name, p := range c.Processes {
		if err := p.Validate(name, c.Processes); err != nil {
			return err
		}
		c.Processes[name] = p
	}

	if c.Session.Primary != "" {
		if _, ok := c.Processes[c.Session.Primary]; !ok {
			return fmt.Errorf("session.primary '%s' is not a declared process", c.Session.Primary)
		}
	}

	for name, d := range c.Health.Dependencies {
		if err := d.Validate(name, c.Processes); err != nil {
			return err
		}
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":5000"
	}

	if c.Redis != nil && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when the redis section is present")
	}

	return nil
}

func (l *ListenerConfig) validate() error {
	if l.TicksPerSecond == 0 {
		l.TicksPerSecond = 30
	}
	if l.TicksPerSecond < 1 || l.TicksPerSecond > 1000 {
		return fmt.Errorf("listener.ticks_per_second must be between 1 and 1000, got %d", l.TicksPerSecond)
	}
	return defaultDuration("listener.player_interval", &l.PlayerInterval, "100ms")
}

func (cc *ContextConfig) validate() error {
	if cc.File == "" {
		cc.File = "data/context/context.json"
	}
	if cc.HistoryLimit == nil {
		limit := 200
		cc.HistoryLimit = &limit
	}
	if *cc.HistoryLimit < 1 {
		return fmt.Errorf("context.history_limit must be >= 1, got %d", *cc.HistoryLimit)
	}
	return nil
}

func (p *PolicyConfig) validate() error {
	if p.Enabled == nil {
		enabled := true
		p.Enabled = &enabled
	}
	if p.Model == "" {
		p.Model = "claude-3-5-haiku-latest"
	}
	if p.APIKeyEnv == "" {
		p.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = 50
	}
	if p.MaxTokens < 1 {
		return fmt.Errorf("policy.max_tokens must be >= 1, got %d", p.MaxTokens)
	}
	if p.RatePerSecond == 0 {
		p.RatePerSecond = 2
	}
	if p.RatePerSecond < 0 {
		return fmt.Errorf("policy.rate_per_second must be > 0, got %v", p.RatePerSecond)
	}
	if p.BreakerThreshold == 0 {
		p.BreakerThreshold = 5
	}
	if p.BreakerThreshold < 1 {
		return fmt.Errorf("policy.breaker_threshold must be >= 1, got %d", p.BreakerThreshold)
	}
	if err := defaultDuration("policy.breaker_cooldown", &p.BreakerCooldown, "30s"); err != nil {
		return err
	}
	return defaultDuration("policy.timeout", &p.Timeout, "10s")
}

func (s *SupervisorConfig) validate() error {
	if err := defaultDuration("supervisor.grace_period", &s.GracePeriod, "30s"); err != nil {
		return err
	}
	if err := defaultDuration("supervisor.poll_interval", &s.PollInterval, "500ms"); err != nil {
		return err
	}
	if err := defaultDuration("supervisor.stop_timeout", &s.StopTimeout, "10s"); err != nil {
		return err
	}
	return defaultDuration("supervisor.watchdog.interval", &s.Watchdog.Interval, "2s")
}

// Validate performs validation on a single process entry.
// All holds every declared process so depends_on can be checked.
func (p *Process) Validate(name string, all map[string]Process) error {
	if err := ValidateName(name); err != nil {
		return fmt.Errorf("process '%s': %w", name, err)
	}

	if p.Kind == "" {
		p.Kind = KindExec
	}

	switch p.Kind {
	case KindExec:
		if len(p.Command) == 0 {
			return fmt.Errorf("process '%s': command is required for kind 'exec'", name)
		}
		if len(p.Ports) > 0 {
			return fmt.Errorf("process '%s': ports are only supported for kind 'docker'", name)
		}
	case KindDocker:
		if p.Image == "" {
			return fmt.Errorf("process '%s': image is required for kind 'docker'", name)
		}
	default:
		return fmt.Errorf("process '%s': invalid kind: %s (must be 'exec' or 'docker')", name, p.Kind)
	}

	if p.StartOrder < 0 {
		return fmt.Errorf("process '%s': start_order must be >= 0, got %d", name, p.StartOrder)
	}

	for _, dep := range p.DependsOn {
		if dep == name {
			return fmt.Errorf("process '%s': cannot depend on itself", name)
		}
		other, ok := all[dep]
		if !ok {
			return fmt.Errorf("process '%s': depends_on references unknown process '%s'", name, dep)
		}
		if other.StartOrder >= p.StartOrder {
			return fmt.Errorf("process '%s': dependency '%s' must have a lower start_order (%d >= %d)",
				name, dep, other.StartOrder, p.StartOrder)
		}
	}

	if p.Health == nil {
		p.Health = &ProcessHealth{Kind: ProbeProcess}
	}
	switch p.Health.Kind {
	case ProbeProcess:
	case ProbeHTTP, ProbeTCP:
		if p.Health.Target == "" {
			return fmt.Errorf("process '%s': health.target is required for kind '%s'", name, p.Health.Kind)
		}
	default:
		return fmt.Errorf("process '%s': invalid health kind: %s (must be 'process', 'http' or 'tcp')", name, p.Health.Kind)
	}
	return defaultDuration(fmt.Sprintf("process '%s': health.timeout", name), &p.Health.Timeout, "2s")
}

// Validate performs validation on a health dependency.
func (d Dependency) Validate(name string, processes map[string]Process) error {
	switch d.Kind {
	case ProbeBinary, ProbeHTTP, ProbeTCP, ProbeRedis:
		if d.Target == "" {
			return fmt.Errorf("dependency '%s': target is required", name)
		}
	case ProbeDocker:
	default:
		return fmt.Errorf("dependency '%s': invalid kind: %s (must be 'binary', 'http', 'tcp', 'redis' or 'docker')", name, d.Kind)
	}

	if d.Process != "" {
		if _, ok := processes[d.Process]; !ok {
			return fmt.Errorf("dependency '%s': process '%s' is not declared", name, d.Process)
		}
	}
	return nil
}

func defaultDuration(field string, value *string, def string) error {
	if *value == "" {
		*value = def
	}
	d, err := time.ParseDuration(*value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, *value, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s: must be positive, got %s", field, *value)
	}
	return nil
}

// mustDuration parses a value already checked by Validate.
func mustDuration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}

// PlayerIntervalDuration returns the parsed player refresh period.
func (l ListenerConfig) PlayerIntervalDuration() time.Duration {
	return mustDuration(l.PlayerInterval)
}

// TickInterval returns the period of the global tick.
func (l ListenerConfig) TickInterval() time.Duration {
	return time.Second / time.Duration(l.TicksPerSecond)
}

func (p PolicyConfig) TimeoutDuration() time.Duration { return mustDuration(p.Timeout) }

func (p PolicyConfig) BreakerCooldownDuration() time.Duration { return mustDuration(p.BreakerCooldown) }

func (s SupervisorConfig) GracePeriodDuration() time.Duration { return mustDuration(s.GracePeriod) }

func (s SupervisorConfig) PollIntervalDuration() time.Duration { return mustDuration(s.PollInterval) }

func (s SupervisorConfig) StopTimeoutDuration() time.Duration { return mustDuration(s.StopTimeout) }

func (s SupervisorConfig) WatchdogIntervalDuration() time.Duration {
	return mustDuration(s.Watchdog.Interval)
}

func (h ProcessHealth) TimeoutDuration() time.Duration { return mustDuration(h.Timeout) }

// HistoryLimitValue returns the validated history cap.
func (cc ContextConfig) HistoryLimitValue() int {
	if cc.HistoryLimit == nil {
		return 200
	}
	return *cc.HistoryLimit
}

// PolicyEnabled reports whether the decision backend starts enabled.
func (p PolicyConfig) PolicyEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// PrimaryProcess returns the process whose liveness defines "running":
// session.primary if set, otherwise the earliest in start order.
func (c *Config) PrimaryProcess() string {
	if c.Session.Primary != "" {
		return c.Session.Primary
	}
	names := c.ProcessNames()
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// ProcessNames returns process names sorted by start_order then name.
func (c *Config) ProcessNames() []string {
	names := make([]string, 0, len(c.Processes))
	for name := range c.Processes {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := c.Processes[names[i]], c.Processes[names[j]]
		if a.StartOrder != b.StartOrder {
			return a.StartOrder < b.StartOrder
		}
		return names[i] < names[j]
	})
	return names
}

// DependencyNames returns health dependency names in sorted order.
func (c *Config) DependencyNames() []string {
	names := make([]string, 0, len(c.Health.Dependencies))
	for name := range c.Health.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns a validated configuration with no processes, used when no
// config file exists.
func Default() *Config {
	cfg := &Config{}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// Load reads and validates boardlink.yml from the specified path, then
// applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyEnv(&config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadOrDefault loads path if it exists and falls back to Default otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := &Config{}
		applyEnv(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}
	return Load(path)
}

func applyEnv(c *Config) {
	if v := os.Getenv("BOARDLINK_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("BOARDLINK_STATE_FILE"); v != "" {
		c.Session.StateFile = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis = &RedisConfig{URL: v}
	}
}
