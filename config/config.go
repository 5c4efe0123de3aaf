// Package config loads the server configuration from YAML and validates it.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/cyberinferno/linesink/linesplit"
	"github.com/cyberinferno/linesink/logger"
	"github.com/cyberinferno/linesink/sink"
	"gopkg.in/yaml.v3"
)

// Output types.
const (
	OutputStdout  = "stdout"
	OutputFile    = "file"
	OutputRedis   = "redis"
	OutputForward = "forward"
	OutputAMQP    = "amqp"
)

const (
	DefaultListen          = "0.0.0.0:9000"
	DefaultReadBufferBytes = 4096
	DefaultDrainTimeout    = 5 * time.Second
	DefaultService         = "linesink"
)

// Output describes one sink target.
type Output struct {
	Type   string `yaml:"type"`
	Format string `yaml:"format"`
	// AutoFlush flushes stdout and file targets after every record. Unset
	// means true.
	AutoFlush *bool  `yaml:"autoflush"`
	Path      string `yaml:"path"`
	Addr      string `yaml:"addr"`
	Key       string `yaml:"key"`
	// Batch is how many records a redis output buffers per RPUSH. A partly
	// filled batch is pushed after FlushInterval (default 1s).
	Batch         int           `yaml:"batch"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	// URL and Exchange are used by amqp outputs; Key is the routing key.
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// AutoFlushEnabled resolves AutoFlush.
func (o Output) AutoFlushEnabled() bool {
	return o.AutoFlush == nil || *o.AutoFlush
}

// Admission configures per-host connection rate limiting.
type Admission struct {
	// Rate is new connections per second per remote host; 0 disables.
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

// Log configures diagnostic logging.
type Log struct {
	Level   string `yaml:"level"`
	Dir     string `yaml:"dir"`
	Service string `yaml:"service"`
}

// Config is the full server configuration, loaded from YAML over Default.
type Config struct {
	Listen          string        `yaml:"listen"`
	MaxConnections  int           `yaml:"max_connections"`
	ReadBufferBytes int           `yaml:"read_buffer_bytes"`
	MaxLineBytes    int           `yaml:"max_line_bytes"`
	PartialPolicy   string        `yaml:"partial_policy"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	DrainTimeout    time.Duration `yaml:"drain_timeout"`
	AdminAddr       string        `yaml:"admin_addr"`
	Admission       Admission     `yaml:"admission"`
	Outputs         []Output      `yaml:"outputs"`
	Log             Log           `yaml:"log"`
}

// Default returns the configuration used when no file is given: listen on
// 0.0.0.0:9000, write raw records to stdout, discard partial tails.
func Default() Config {
	return Config{
		Listen:          DefaultListen,
		ReadBufferBytes: DefaultReadBufferBytes,
		MaxLineBytes:    linesplit.DefaultMaxLineBytes,
		PartialPolicy:   linesplit.PartialDiscard.String(),
		DrainTimeout:    DefaultDrainTimeout,
		Admission:       Admission{Burst: 1},
		Outputs:         []Output{{Type: OutputStdout, Format: sink.FormatRaw.String()}},
		Log:             Log{Level: "info", Service: DefaultService},
	}
}

// Load reads the YAML file at path over Default. Unknown keys are an error.
//
// Parameters:
//   - path: Path to the YAML file
//
// Returns:
//   - The merged configuration, not yet validated
//   - An error if the file cannot be read or parsed
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// Parse decodes YAML over Default. An empty document yields Default.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}

	return cfg, nil
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error

	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		errs = append(errs, fmt.Errorf("listen %q: %w", c.Listen, err))
	}
	if c.AdminAddr != "" {
		if _, _, err := net.SplitHostPort(c.AdminAddr); err != nil {
			errs = append(errs, fmt.Errorf("admin_addr %q: %w", c.AdminAddr, err))
		}
	}
	if c.MaxConnections < 0 {
		errs = append(errs, errors.New("max_connections must not be negative"))
	}
	if c.ReadBufferBytes <= 0 {
		errs = append(errs, errors.New("read_buffer_bytes must be positive"))
	}
	if c.MaxLineBytes <= 0 {
		errs = append(errs, errors.New("max_line_bytes must be positive"))
	}
	if _, err := linesplit.ParsePartialPolicy(c.PartialPolicy); err != nil {
		errs = append(errs, err)
	}
	if c.IdleTimeout < 0 {
		errs = append(errs, errors.New("idle_timeout must not be negative"))
	}
	if c.DrainTimeout < 0 {
		errs = append(errs, errors.New("drain_timeout must not be negative"))
	}
	if c.Admission.Rate < 0 {
		errs = append(errs, errors.New("admission.rate must not be negative"))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	if len(c.Outputs) == 0 {
		errs = append(errs, errors.New("at least one output is required"))
	}
	for i, o := range c.Outputs {
		if err := o.validate(); err != nil {
			errs = append(errs, fmt.Errorf("outputs[%d]: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

func (o Output) validate() error {
	if _, err := sink.ParseFormat(o.Format); err != nil {
		return err
	}

	switch o.Type {
	case OutputStdout:
	case OutputFile:
		if o.Path == "" {
			return errors.New("file output requires path")
		}
	case OutputRedis, OutputForward:
		if _, _, err := net.SplitHostPort(o.Addr); err != nil {
			return fmt.Errorf("%s output addr %q: %w", o.Type, o.Addr, err)
		}
		if o.Batch < 0 {
			return errors.New("batch must not be negative")
		}
	case OutputAMQP:
		if !strings.HasPrefix(o.URL, "amqp://") && !strings.HasPrefix(o.URL, "amqps://") {
			return errors.New("amqp output requires an amqp:// or amqps:// url")
		}
		if o.Key == "" {
			return errors.New("amqp output requires key")
		}
	default:
		return fmt.Errorf("unknown output type %q", o.Type)
	}

	return nil
}
