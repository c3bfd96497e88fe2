// Package config loads uibridge settings from a YAML or TOML file with
// environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"uibridge/pkg/pipeline"
	"uibridge/pkg/protocol"
	"uibridge/pkg/supervisor"
	"uibridge/pkg/workerhost"
)

// Environment variables.
const (
	EnvHome          = "UIBRIDGE_HOME"           // state directory (default ~/.uibridge)
	EnvConfig        = "UIBRIDGE_CONFIG"         // config file path
	EnvDBPath        = "UIBRIDGE_DB_PATH"        // event log database
	EnvLogLevel      = "UIBRIDGE_LOG_LEVEL"      // debug|info|warn|error
	EnvWorkerCommand = "UIBRIDGE_WORKER_COMMAND" // worker executable
)

// Duration is a time.Duration written as "250ms", "3s" in config files.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// Config is the full configuration.
type Config struct {
	Worker   Worker   `yaml:"worker" toml:"worker"`
	Pipeline Pipeline `yaml:"pipeline" toml:"pipeline"`
	Log      Log      `yaml:"log" toml:"log"`
	EventLog EventLog `yaml:"event_log" toml:"event_log"`
}

// Worker configures the worker process and its host loop.
type Worker struct {
	Command         string   `yaml:"command,omitempty" toml:"command,omitempty"`
	Args            []string `yaml:"args,omitempty" toml:"args,omitempty"`
	Env             []string `yaml:"env,omitempty" toml:"env,omitempty"`
	Dir             string   `yaml:"dir,omitempty" toml:"dir,omitempty"`
	SettleDelay     Duration `yaml:"settle_delay" toml:"settle_delay"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	KillGrace       Duration `yaml:"kill_grace" toml:"kill_grace"`
	StderrLines     int      `yaml:"stderr_lines" toml:"stderr_lines"`
	HandlerTimeout  Duration `yaml:"handler_timeout" toml:"handler_timeout"`
	WatchExecutable bool     `yaml:"watch_executable" toml:"watch_executable"`
}

// Pipeline configures request escalation.
type Pipeline struct {
	DefaultTimeout Duration `yaml:"default_timeout" toml:"default_timeout"`
	LateWindow     Duration `yaml:"late_window" toml:"late_window"`
	MaxGrace       Duration `yaml:"max_grace" toml:"max_grace"`
}

// Log configures the logger.
type Log struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // auto|json|console
}

// EventLog configures the SQLite event log.
type EventLog struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path,omitempty" toml:"path,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{EventLog: EventLog{Enabled: true}}
	c.withDefaults()
	return c
}

func (c *Config) withDefaults() {
	if c.Worker.SettleDelay <= 0 {
		c.Worker.SettleDelay = Duration(250 * time.Millisecond)
	}
	if c.Worker.ShutdownTimeout <= 0 {
		c.Worker.ShutdownTimeout = Duration(3 * time.Second)
	}
	if c.Worker.KillGrace <= 0 {
		c.Worker.KillGrace = Duration(500 * time.Millisecond)
	}
	if c.Worker.StderrLines <= 0 {
		c.Worker.StderrLines = 50
	}
	if c.Pipeline.DefaultTimeout <= 0 {
		c.Pipeline.DefaultTimeout = Duration(30 * time.Second)
	}
	if c.Pipeline.LateWindow <= 0 {
		c.Pipeline.LateWindow = Duration(time.Second)
	}
	if c.Pipeline.MaxGrace <= 0 {
		c.Pipeline.MaxGrace = Duration(protocol.MaxGrace)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "auto"
	}
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q: want debug, info, warn or error", c.Log.Level))
	}
	switch c.Log.Format {
	case "auto", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want auto, json or console", c.Log.Format))
	}
	for _, kv := range c.Worker.Env {
		if !strings.Contains(kv, "=") {
			errs = append(errs, fmt.Errorf("worker.env entry %q: want KEY=VALUE", kv))
		}
	}
	return errors.Join(errs...)
}

// Load reads the config file at path. An empty path uses $UIBRIDGE_CONFIG,
// then config.yaml or config.toml in the home directory; when none exists
// the defaults apply. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		found, err := discover()
		if err != nil {
			return nil, err
		}
		path = found
	}

	cfg := &Config{EventLog: EventLog{Enabled: true}}
	if path != "" {
		//nolint:gosec // path is an operator-supplied config location
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		parsed, err := Parse(data, formatOf(path))
		if err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg = parsed
	}
	cfg.withDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse decodes data as "yaml" or "toml". Unknown keys are rejected.
func Parse(data []byte, format string) (*Config, error) {
	cfg := &Config{EventLog: EventLog{Enabled: true}}
	switch format {
	case "toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}
	case "yaml", "":
		if len(bytes.TrimSpace(data)) == 0 {
			break
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
	return cfg, nil
}

// YAML renders c as YAML.
func (c *Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDBPath); v != "" {
		c.EventLog.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvWorkerCommand); v != "" {
		c.Worker.Command = v
	}
}

// Supervisor returns the supervisor configuration.
func (c *Config) Supervisor() supervisor.Config {
	return supervisor.Config{
		Command:         c.Worker.Command,
		Args:            c.Worker.Args,
		Env:             c.Worker.Env,
		Dir:             c.Worker.Dir,
		SettleDelay:     c.Worker.SettleDelay.Std(),
		ShutdownTimeout: c.Worker.ShutdownTimeout.Std(),
		KillGrace:       c.Worker.KillGrace.Std(),
		StderrLines:     c.Worker.StderrLines,
	}
}

// Policy returns the pipeline escalation policy.
func (c *Config) Policy() pipeline.Policy {
	return pipeline.Policy{
		LateWindow: c.Pipeline.LateWindow.Std(),
		MaxGrace:   c.Pipeline.MaxGrace.Std(),
	}
}

// Host returns the worker host configuration.
func (c *Config) Host() workerhost.Config {
	return workerhost.Config{HandlerTimeout: c.Worker.HandlerTimeout.Std()}
}

// Home returns $UIBRIDGE_HOME or ~/.uibridge.
func Home() (string, error) {
	if v := os.Getenv(EnvHome); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, protocol.HomeDir), nil
}

// DBPath returns the event log path: the configured one, or events.db in
// the home directory.
func (c *Config) DBPath() (string, error) {
	if c.EventLog.Path != "" {
		return c.EventLog.Path, nil
	}
	home, err := Home()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "events.db"), nil
}

func discover() (string, error) {
	if v := os.Getenv(EnvConfig); v != "" {
		return v, nil
	}
	home, err := Home()
	if err != nil {
		return "", err
	}
	for _, name := range []string{"config.yaml", "config.yml", "config.toml"} {
		p := filepath.Join(home, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", p, err)
		}
	}
	return "", nil
}

func formatOf(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return "toml"
	}
	return "yaml"
}
