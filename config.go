// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package peerconn

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config carries the settings of a connection.
type Config struct {
	// QueueSize is the capacity of the outbound message queue. Senders block
	// while it is full.
	QueueSize int `toml:"queue_size"`

	// MaxFrameSize is the largest payload, in bytes, carried by one frame.
	// Larger messages are fragmented.
	MaxFrameSize int `toml:"max_frame_size"`

	// RPCTimeout is how long an outbound call waits for its response.
	RPCTimeout Duration `toml:"rpc_timeout"`

	// RPCSweepInterval is how often pending calls are checked for expiry.
	RPCSweepInterval Duration `toml:"rpc_sweep_interval"`
}

// DefaultConfig returns the default connection settings.
func DefaultConfig() Config {
	return Config{
		QueueSize:        1024,
		MaxFrameSize:     4 << 20,
		RPCTimeout:       Duration(10 * time.Second),
		RPCSweepInterval: Duration(100 * time.Millisecond),
	}
}

// maxFrameLimit bounds MaxFrameSize so that a frame length always fits the
// 30-bit length encoding.
const maxFrameLimit = 1<<30 - 1 - FrameOverhead

// Validate reports an error if c is not usable.
func (c Config) Validate() error {
	var errs []error
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("queue size must be positive (got %d)", c.QueueSize))
	}
	if c.MaxFrameSize <= 0 || c.MaxFrameSize > maxFrameLimit {
		errs = append(errs, fmt.Errorf("max frame size must be in 1..%d (got %d)", maxFrameLimit, c.MaxFrameSize))
	}
	if c.RPCTimeout <= 0 {
		errs = append(errs, fmt.Errorf("rpc timeout must be positive (got %v)", c.RPCTimeout))
	}
	if c.RPCSweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("rpc sweep interval must be positive (got %v)", c.RPCSweepInterval))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadConfig reads a TOML config file from path. Settings not named in the
// file keep their default values. Unknown keys are an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := checkUndecoded(md); err != nil {
		return Config{}, fmt.Errorf("load config %q: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// ParseConfig parses a TOML config from text, as [LoadConfig] does for a file.
func ParseConfig(text string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.Decode(text, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := checkUndecoded(md); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

func checkUndecoded(md toml.MetaData) error {
	if keys := md.Undecoded(); len(keys) != 0 {
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(names, ", "))
	}
	return nil
}

// WriteTo writes c to w in TOML format.
func (c Config) WriteTo(w io.Writer) (int64, error) {
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return 0, err
	}
	n, err := io.WriteString(w, buf.String())
	return int64(n), err
}

// Duration is a [time.Duration] that encodes as a string like "1.5s".
type Duration time.Duration

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements the [encoding.TextMarshaler] interface.
func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements the [encoding.TextUnmarshaler] interface.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
