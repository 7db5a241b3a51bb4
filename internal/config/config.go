// MIT License
// Copyright (c) 2025 Cezame
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package config defines the engine's configuration surface: flag
// defaults, the mapstructure-tagged struct viper unmarshals into, and
// validation of the combined flag/env/file result.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// BindMode selects how the AF_XDP socket binds to the interface queue.
type BindMode int

const (
	BindAuto BindMode = iota
	BindCopy
	BindZeroCopy
)

func (m BindMode) String() string {
	switch m {
	case BindCopy:
		return "copy"
	case BindZeroCopy:
		return "zerocopy"
	default:
		return "auto"
	}
}

// XDPMode selects the attach mode for the redirect program.
type XDPMode int

const (
	XDPAuto XDPMode = iota
	XDPNative
	XDPGeneric
)

func (m XDPMode) String() string {
	switch m {
	case XDPNative:
		return "native"
	case XDPGeneric:
		return "generic"
	default:
		return "auto"
	}
}

const (
	// DefaultProgramPath is where the loader looks for the redirect
	// object when -f is not given. No object ships with this module
	// (there is no eBPF toolchain available to build one); operators
	// must supply one satisfying the contract documented in
	// internal/xdpload/testdata/redirect.c.
	DefaultProgramPath  = "/usr/local/lib/afxdp/xdp_redirect.o"
	DefaultProgramEntry = "xdp_redirect_port"

	DefaultFrameSize     = 2048
	DefaultNumFrames     = 16384
	DefaultRingSize      = 2048
	DefaultRXBatchSize   = 64
	DefaultMaxFQRetries  = 1024
	DefaultDrainDeadline = 100 * time.Millisecond
)

// Config is the fully resolved configuration for one engine run.
type Config struct {
	Interface string `mapstructure:"interface"`
	QueueID   uint32 `mapstructure:"queue_id"`

	XDPMode  XDPMode  `mapstructure:"-"`
	BindMode BindMode `mapstructure:"-"`

	Generic  bool `mapstructure:"generic"`
	Native   bool `mapstructure:"native"`
	Copy     bool `mapstructure:"copy"`
	ZeroCopy bool `mapstructure:"zerocopy"`

	Cooperative bool `mapstructure:"cooperative"`

	ProgramPath  string `mapstructure:"program_path"`
	ProgramEntry string `mapstructure:"program_entry"`

	StatsEnabled bool `mapstructure:"stats_enabled"`
	TUI          bool `mapstructure:"tui"`

	TTL      time.Duration `mapstructure:"ttl"`
	PktLimit uint64        `mapstructure:"pkt_limit"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	LogFormat   string `mapstructure:"log_format"`

	FrameSize    uint64 `mapstructure:"frame_size"`
	NumFrames    uint32 `mapstructure:"num_frames"`
	RingSize     uint32 `mapstructure:"ring_size"`
	RXBatchSize  uint32 `mapstructure:"rx_batch_size"`
	MaxFQRetries int    `mapstructure:"max_fq_retries"`

	// CPUCore pins the datapath goroutine via SchedSetaffinity. -1
	// (the default) leaves scheduling to the Go runtime.
	CPUCore int `mapstructure:"cpu_core"`
}

// Load layers defaults, an optional config file, environment variables
// under the AFXDP_ prefix, and already-bound cobra flags (via v),
// returning the unmarshaled and validated Config.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	v.SetDefault("interface", "eth0")
	v.SetDefault("queue_id", 0)
	v.SetDefault("program_path", DefaultProgramPath)
	v.SetDefault("program_entry", DefaultProgramEntry)
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("log_format", "")
	v.SetDefault("frame_size", DefaultFrameSize)
	v.SetDefault("num_frames", DefaultNumFrames)
	v.SetDefault("ring_size", DefaultRingSize)
	v.SetDefault("rx_batch_size", DefaultRXBatchSize)
	v.SetDefault("max_fq_retries", DefaultMaxFQRetries)
	v.SetDefault("cpu_core", -1)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("AFXDP")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	switch {
	case cfg.Native:
		cfg.XDPMode = XDPNative
	case cfg.Generic:
		cfg.XDPMode = XDPGeneric
	default:
		cfg.XDPMode = XDPAuto
	}

	switch {
	case cfg.ZeroCopy:
		cfg.BindMode = BindZeroCopy
	case cfg.Copy || cfg.Generic: // generic (SKB) mode has no zero-copy path
		cfg.BindMode = BindCopy
	default:
		cfg.BindMode = BindAuto
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the resolved configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Interface == "" {
		return fmt.Errorf("interface name is required")
	}
	if c.Native && c.Generic {
		return fmt.Errorf("-N and -S are mutually exclusive")
	}
	if c.Copy && c.ZeroCopy {
		return fmt.Errorf("-c and -z are mutually exclusive")
	}
	if c.Generic && c.ZeroCopy {
		return fmt.Errorf("-S (generic mode) has no zero-copy path; -z is incompatible with -S")
	}
	if c.TUI && !c.StatsEnabled {
		return fmt.Errorf("--tui requires -v")
	}
	if c.RingSize == 0 || c.RingSize&(c.RingSize-1) != 0 {
		return fmt.Errorf("ring_size must be a power of two, got %d", c.RingSize)
	}
	minFrames := 4*c.RingSize + c.RXBatchSize
	if c.NumFrames < minFrames {
		return fmt.Errorf("num_frames (%d) must be >= 4*ring_size + batch (%d)", c.NumFrames, minFrames)
	}
	if _, err := os.Stat(c.ProgramPath); err != nil {
		return fmt.Errorf("program_path %q: %w", c.ProgramPath, err)
	}
	return nil
}
