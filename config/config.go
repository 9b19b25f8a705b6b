// Package config provides configuration structures for the gateway and the
// fault injection engine. Both are loaded once at process start and treated
// as read-only afterwards; nothing in the request path mutates them.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// DefaultTimeoutMs is the upstream call deadline applied when none is
// configured.
const DefaultTimeoutMs = 30000

var (
	errMissingTarget     = errors.New("missing target")
	errRelativeTarget    = errors.New("target must be an absolute URL")
	errInvalidFrequency  = errors.New("frequency must be a positive integer")
	errInvalidDelayRange = errors.New("minDelayMs must not exceed maxDelayMs")
	errNegativeDelay     = errors.New("delay bounds must be non-negative")
)

// Rewrite is a single ordered path-rewrite entry: a regex pattern and its
// replacement. Rewrites are applied in order, each operating on the output of
// the previous one.
type Rewrite struct {
	Pattern     string `yaml:"pattern" json:"pattern"`
	Replacement string `yaml:"replacement" json:"replacement"`
}

// Proxy holds the configuration for the gateway forwarder.
type Proxy struct {
	Target       string    `yaml:"target" json:"target"`
	PathRewrites []Rewrite `yaml:"pathRewrite" json:"pathRewrite,omitempty"`
	TimeoutMs    int       `yaml:"timeoutMs" json:"timeoutMs,omitempty"`
}

// Fault holds the configuration for the fault injection engine. Frequency
// selects roughly one in N requests for delay injection.
type Fault struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	Frequency  int  `yaml:"frequency" json:"frequency"`
	MinDelayMs int  `yaml:"minDelayMs" json:"minDelayMs"`
	MaxDelayMs int  `yaml:"maxDelayMs" json:"maxDelayMs"`
}

// File is the on-disk configuration document.
type File struct {
	Proxy Proxy `yaml:"proxy" json:"proxy"`
	Fault Fault `yaml:"fault" json:"fault"`
}

// CreateProxy creates a Proxy configuration with defaults.
func CreateProxy() *Proxy {
	return &Proxy{
		Target:       "http://localhost:8080",
		PathRewrites: []Rewrite{},
		TimeoutMs:    DefaultTimeoutMs,
	}
}

// Validate checks the proxy configuration: the target must be an absolute
// URL and every rewrite pattern must compile.
func (p *Proxy) Validate() error {
	if p.Target == "" {
		return errMissingTarget
	}
	u, err := url.Parse(p.Target)
	if err != nil {
		return fmt.Errorf("invalid target URL: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return errRelativeTarget
	}
	if p.TimeoutMs < 0 {
		return fmt.Errorf("timeoutMs must be non-negative, got %d", p.TimeoutMs)
	}
	for _, r := range p.PathRewrites {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("invalid pathRewrite pattern %q: %w", r.Pattern, err)
		}
	}
	return nil
}

// Validate checks the fault injection configuration. A non-positive frequency
// on an enabled engine is rejected here so the engine never has to fail at
// call time.
func (f *Fault) Validate() error {
	if !f.Enabled {
		return nil
	}
	if f.Frequency <= 0 {
		return errInvalidFrequency
	}
	if f.MinDelayMs < 0 || f.MaxDelayMs < 0 {
		return errNegativeDelay
	}
	if f.MinDelayMs > f.MaxDelayMs {
		return errInvalidDelayRange
	}
	return nil
}

// LoadFile reads a configuration document from a YAML or JSON file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
	}

	if cfg.Proxy.TimeoutMs == 0 {
		cfg.Proxy.TimeoutMs = DefaultTimeoutMs
	}
	return &cfg, nil
}

// FaultFromEnv builds a Fault configuration from the four GREMLIN_* process
// environment variables. Unset variables keep their zero values.
func FaultFromEnv() (Fault, error) {
	f := Fault{
		Enabled: os.Getenv("GREMLIN_ENABLED") == "true",
	}

	var err error
	if f.Frequency, err = envInt("GREMLIN_FREQUENCY", f.Frequency); err != nil {
		return f, err
	}
	if f.MinDelayMs, err = envInt("GREMLIN_MIN_DELAY_MS", f.MinDelayMs); err != nil {
		return f, err
	}
	if f.MaxDelayMs, err = envInt("GREMLIN_MAX_DELAY_MS", f.MaxDelayMs); err != nil {
		return f, err
	}
	return f, nil
}

func envInt(name string, fallback int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}
