package scenario

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/streamcheck/conform"
)

// OpenOrder says whether the notification receiver is attached before the
// session is opened or after.
type OpenOrder string

const (
	// SetupThenOpen passes the receiver to the session at open time.
	SetupThenOpen OpenOrder = "setup-then-open"

	// OpenThenSetup opens the session with a relay callback and binds the
	// receiver afterwards. Notifications delivered in between are dropped.
	OpenThenSetup OpenOrder = "open-then-setup"
)

// Config is the suite configuration file.
//
//	stream:
//	  direction: output
//	  async: false
//	  frame_size_bytes: 4
//	  buffer_frames: 256
//	scenarios: [write, drain]
//	parallelism: 4
//	notify_timeout: 1s
//	command_timeout: 2s
//	open_order: setup-then-open
//	retry_suggested: true
//	graphs: [./graphs/custom.yaml]
//	store:
//	  driver: sqlite
//	  dsn: ./results.db
type Config struct {
	Stream         StreamConfig  `yaml:"stream"`
	Scenarios      []string      `yaml:"scenarios,omitempty"`
	Parallelism    int           `yaml:"parallelism,omitempty"`
	NotifyTimeout  time.Duration `yaml:"notify_timeout,omitempty"`
	CommandTimeout time.Duration `yaml:"command_timeout,omitempty"`
	OpenOrder      OpenOrder     `yaml:"open_order,omitempty"`
	RetrySuggested bool          `yaml:"retry_suggested,omitempty"`
	Graphs         []string      `yaml:"graphs,omitempty"`
	Store          StoreConfig   `yaml:"store,omitempty"`
}

// StreamConfig is the stream configuration requested from the session.
type StreamConfig struct {
	Direction      string `yaml:"direction"`
	Async          bool   `yaml:"async,omitempty"`
	FrameSizeBytes int    `yaml:"frame_size_bytes,omitempty"`
	BufferFrames   int    `yaml:"buffer_frames,omitempty"`
	NoDataQueue    bool   `yaml:"no_data_queue,omitempty"`
}

// StoreConfig selects where verdicts are written.
type StoreConfig struct {
	Driver string `yaml:"driver,omitempty"` // memory, sqlite or mysql
	DSN    string `yaml:"dsn,omitempty"`
}

// DefaultConfig returns a configuration for a synchronous output stream
// running every applicable scenario one at a time.
func DefaultConfig() Config {
	return Config{
		Stream: StreamConfig{
			Direction:      "output",
			FrameSizeBytes: 4,
			BufferFrames:   256,
		},
		Parallelism:    1,
		NotifyTimeout:  conform.DefaultWaitTimeout,
		CommandTimeout: 5 * time.Second,
		OpenOrder:      SetupThenOpen,
		RetrySuggested: true,
		Store:          StoreConfig{Driver: "memory"},
	}
}

// LoadConfig reads path over DefaultConfig, then applies STREAMCHECK_*
// environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("STREAMCHECK_PARALLELISM"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("STREAMCHECK_PARALLELISM: %w", err)
		}
		c.Parallelism = n
	}
	if v, ok := os.LookupEnv("STREAMCHECK_NOTIFY_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("STREAMCHECK_NOTIFY_TIMEOUT: %w", err)
		}
		c.NotifyTimeout = d
	}
	if v, ok := os.LookupEnv("STREAMCHECK_STORE_DRIVER"); ok {
		c.Store.Driver = v
	}
	if v, ok := os.LookupEnv("STREAMCHECK_STORE_DSN"); ok {
		c.Store.DSN = v
	}
	return nil
}

// Validate reports settings the suite cannot run with.
func (c Config) Validate() error {
	switch c.Stream.Direction {
	case "input", "output":
	default:
		return fmt.Errorf("stream direction must be input or output, got %q", c.Stream.Direction)
	}
	if c.Stream.FrameSizeBytes <= 0 {
		return fmt.Errorf("frame_size_bytes must be positive, got %d", c.Stream.FrameSizeBytes)
	}
	if c.Stream.BufferFrames <= 0 {
		return fmt.Errorf("buffer_frames must be positive, got %d", c.Stream.BufferFrames)
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("parallelism must be at least 1, got %d", c.Parallelism)
	}
	if c.NotifyTimeout < 0 || c.CommandTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	switch c.OpenOrder {
	case "", SetupThenOpen, OpenThenSetup:
	default:
		return fmt.Errorf("unknown open_order %q", c.OpenOrder)
	}
	switch c.Store.Driver {
	case "", "memory":
	case "sqlite", "mysql":
		if c.Store.DSN == "" {
			return fmt.Errorf("store driver %s needs a dsn", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	return nil
}

// Descriptor returns the stream parameters requested by the configuration.
func (c Config) Descriptor() conform.Descriptor {
	dir := conform.Output
	if c.Stream.Direction == "input" {
		dir = conform.Input
	}
	return conform.Descriptor{
		FrameSizeBytes: c.Stream.FrameSizeBytes,
		BufferFrames:   c.Stream.BufferFrames,
		Direction:      dir,
		Async:          c.Stream.Async,
		HasDataQueue:   !c.Stream.NoDataQueue,
	}
}
