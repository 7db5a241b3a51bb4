package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// newTestViper returns a Viper bound to a single "interface" flag, the
// same way newRootCmd in cmd/afxdp-bounce wires cobra flags in, with
// flagDefault as that flag's default. Callers supply a real program
// path (via v.Set or the config file) so Validate's os.Stat check
// always has somewhere real to look.
func newTestViper(t *testing.T, flagDefault string) (*viper.Viper, *pflag.FlagSet) {
	t.Helper()
	v := viper.New()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.StringP("interface", "d", flagDefault, "interface name")
	if err := v.BindPFlag("interface", flags.Lookup("interface")); err != nil {
		t.Fatalf("BindPFlag: %v", err)
	}
	return v, flags
}

func existingFile(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "redirect.o")
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func writeConfigFile(t *testing.T, iface, progPath string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "afxdp.yaml")
	body := "interface: " + iface + "\nprogram_path: " + progPath + "\n"
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

// TestLoadPrecedence exercises the flag > env > file > default layering
// Load builds on top of viper, one override at a time.
func TestLoadPrecedence(t *testing.T) {
	prog := existingFile(t)

	t.Run("default", func(t *testing.T) {
		v, _ := newTestViper(t, "eth0")
		v.Set("program_path", prog)
		cfg, err := Load(v, "")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Interface != "eth0" {
			t.Errorf("Interface = %q, want eth0 (default)", cfg.Interface)
		}
	})

	t.Run("file overrides default", func(t *testing.T) {
		v, _ := newTestViper(t, "eth0")
		cfgPath := writeConfigFile(t, "eth1", prog)
		cfg, err := Load(v, cfgPath)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Interface != "eth1" {
			t.Errorf("Interface = %q, want eth1 (from file)", cfg.Interface)
		}
	})

	t.Run("env overrides file", func(t *testing.T) {
		v, _ := newTestViper(t, "eth0")
		cfgPath := writeConfigFile(t, "eth1", prog)
		t.Setenv("AFXDP_INTERFACE", "eth2")
		cfg, err := Load(v, cfgPath)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Interface != "eth2" {
			t.Errorf("Interface = %q, want eth2 (from env)", cfg.Interface)
		}
	})

	t.Run("flag overrides env", func(t *testing.T) {
		v, flags := newTestViper(t, "eth0")
		cfgPath := writeConfigFile(t, "eth1", prog)
		t.Setenv("AFXDP_INTERFACE", "eth2")
		if err := flags.Set("interface", "eth3"); err != nil {
			t.Fatalf("flags.Set: %v", err)
		}
		cfg, err := Load(v, cfgPath)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Interface != "eth3" {
			t.Errorf("Interface = %q, want eth3 (from flag)", cfg.Interface)
		}
	})
}

func TestLoadResolvesBindMode(t *testing.T) {
	prog := existingFile(t)
	cases := []struct {
		name     string
		zeroCopy bool
		copy     bool
		generic  bool
		want     BindMode
	}{
		{"auto", false, false, false, BindAuto},
		{"explicit copy", false, true, false, BindCopy},
		{"explicit zerocopy", true, false, false, BindZeroCopy},
		{"generic implies copy", false, false, true, BindCopy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, flags := newTestViper(t, "eth0")
			flags.Bool("zerocopy", false, "")
			flags.Bool("copy", false, "")
			flags.Bool("generic", false, "")
			flags.Bool("native", false, "")
			for _, b := range []struct {
				name string
				v    bool
			}{{"zerocopy", tc.zeroCopy}, {"copy", tc.copy}, {"generic", tc.generic}} {
				if b.v {
					if err := flags.Set(b.name, "true"); err != nil {
						t.Fatalf("flags.Set(%s): %v", b.name, err)
					}
				}
			}
			for _, key := range []string{"zerocopy", "copy", "generic", "native"} {
				if err := v.BindPFlag(key, flags.Lookup(key)); err != nil {
					t.Fatalf("BindPFlag(%s): %v", key, err)
				}
			}
			v.Set("program_path", prog)
			cfg, err := Load(v, "")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.BindMode != tc.want {
				t.Errorf("BindMode = %v, want %v", cfg.BindMode, tc.want)
			}
		})
	}
}

func TestValidateRejectsIncompatibleFlags(t *testing.T) {
	base := func() Config {
		return Config{
			Interface:    "eth0",
			RingSize:     2048,
			NumFrames:    DefaultNumFrames,
			RXBatchSize:  DefaultRXBatchSize,
			ProgramPath:  existingFile(t),
			MaxFQRetries: DefaultMaxFQRetries,
		}
	}

	t.Run("ok", func(t *testing.T) {
		c := base()
		if err := c.Validate(); err != nil {
			t.Errorf("Validate() = %v, want nil", err)
		}
	})

	t.Run("missing interface", func(t *testing.T) {
		c := base()
		c.Interface = ""
		if err := c.Validate(); err == nil {
			t.Error("Validate() = nil, want error")
		}
	})

	t.Run("native and generic", func(t *testing.T) {
		c := base()
		c.Native, c.Generic = true, true
		if err := c.Validate(); err == nil {
			t.Error("Validate() = nil, want error")
		}
	})

	t.Run("copy and zerocopy", func(t *testing.T) {
		c := base()
		c.Copy, c.ZeroCopy = true, true
		if err := c.Validate(); err == nil {
			t.Error("Validate() = nil, want error")
		}
	})

	t.Run("generic and zerocopy", func(t *testing.T) {
		c := base()
		c.Generic, c.ZeroCopy = true, true
		if err := c.Validate(); err == nil {
			t.Error("Validate() = nil, want error")
		}
	})

	t.Run("tui without stats", func(t *testing.T) {
		c := base()
		c.TUI = true
		if err := c.Validate(); err == nil {
			t.Error("Validate() = nil, want error")
		}
	})

	t.Run("ring size not power of two", func(t *testing.T) {
		c := base()
		c.RingSize = 1000
		if err := c.Validate(); err == nil {
			t.Error("Validate() = nil, want error")
		}
	})

	t.Run("num frames too small", func(t *testing.T) {
		c := base()
		c.NumFrames = 1
		if err := c.Validate(); err == nil {
			t.Error("Validate() = nil, want error")
		}
	})

	t.Run("program path missing", func(t *testing.T) {
		c := base()
		c.ProgramPath = filepath.Join(t.TempDir(), "does-not-exist.o")
		if err := c.Validate(); err == nil {
			t.Error("Validate() = nil, want error")
		}
	})
}
