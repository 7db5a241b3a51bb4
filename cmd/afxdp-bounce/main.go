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

// Command afxdp-bounce binds one AF_XDP socket to an interface queue
// and bounces every received frame back out the same queue.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rajmodi8905/afxdp-path-manager/internal/affinity"
	"github.com/rajmodi8905/afxdp-path-manager/internal/config"
	"github.com/rajmodi8905/afxdp-path-manager/internal/engine"
	"github.com/rajmodi8905/afxdp-path-manager/internal/metrics"
	"github.com/rajmodi8905/afxdp-path-manager/internal/rollback"
	"github.com/rajmodi8905/afxdp-path-manager/internal/stats"
	"github.com/rajmodi8905/afxdp-path-manager/internal/xdpload"
	"github.com/rajmodi8905/afxdp-path-manager/internal/xsk"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var configPath string

	cmd := &cobra.Command{
		Use:   "afxdp-bounce",
		Short: "Zero-copy AF_XDP receive/transmit bounce on one interface queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	// -h prints usage and exits with status 1.
	defaultHelp := cmd.HelpFunc()
	cmd.SetHelpFunc(func(c *cobra.Command, args []string) {
		defaultHelp(c, args)
		os.Exit(1)
	})

	flags := cmd.Flags()
	flags.StringP("interface", "d", "eth0", "interface name")
	flags.Uint32P("queue-id", "Q", 0, "RX queue index")
	flags.BoolP("generic", "S", false, "attach in generic (SKB) mode, implies copy")
	flags.BoolP("native", "N", false, "attach in native driver mode")
	flags.BoolP("copy", "c", false, "force copy bind")
	flags.BoolP("zerocopy", "z", false, "force zero-copy bind; fail if unsupported")
	flags.BoolP("cooperative", "p", false, "cooperative wait mode (default busy-wait)")
	flags.StringP("program-path", "f", config.DefaultProgramPath, "redirect program object file")
	flags.StringP("program-entry", "P", config.DefaultProgramEntry, "program entry name")
	flags.BoolP("stats-enabled", "v", false, "enable stats reporter")
	flags.Bool("tui", false, "render stats reporter as a live terminal UI (requires -v)")
	flags.DurationP("ttl", "t", 0, "TTL auto-shutdown (0 = unlimited)")
	flags.Uint64P("pkt-limit", "l", 0, "packet-count auto-shutdown (0 = unlimited)")
	flags.Int("cpu-core", -1, "pin the datapath goroutine to this CPU core (-1 = unpinned)")
	flags.String("metrics-addr", ":9090", "bind address for /metrics and /healthz")
	flags.String("log-format", "", "log formatter: text or json (default: text on a TTY, json otherwise)")
	flags.StringVar(&configPath, "config", "", "optional YAML/TOML config file layered under flags")

	bind(v, flags, map[string]string{
		"interface":     "interface",
		"queue-id":      "queue_id",
		"generic":       "generic",
		"native":        "native",
		"copy":          "copy",
		"zerocopy":      "zerocopy",
		"cooperative":   "cooperative",
		"program-path":  "program_path",
		"program-entry": "program_entry",
		"stats-enabled": "stats_enabled",
		"tui":           "tui",
		"ttl":           "ttl",
		"pkt-limit":     "pkt_limit",
		"cpu-core":      "cpu_core",
		"metrics-addr":  "metrics_addr",
		"log-format":    "log_format",
	})

	return cmd
}

func bind(v *viper.Viper, flags *pflag.FlagSet, names map[string]string) {
	for flag, key := range names {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("afxdp-bounce: binding flag %q: %v", flag, err))
		}
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	runID := uuid.New().String()
	log := newLogger(cfg).WithField("run_id", runID)

	if err := rlimit.RemoveMemlock(); err != nil {
		return fmt.Errorf("removing memlock limit: %w", err)
	}

	ctx, cancel := signalContext(ctx)
	defer cancel()

	var teardown rollback.Stack
	defer teardown.Unwind()

	loader, err := xdpload.Load(cfg, log)
	if err != nil {
		return fmt.Errorf("loading xdp program: %w", err)
	}
	teardown.Push(func() {
		if err := loader.Close(); err != nil {
			log.WithError(err).Warn("closing xdp loader")
		}
	})

	sock, err := xsk.Open(cfg)
	if err != nil {
		return fmt.Errorf("opening af_xdp socket: %w", err)
	}
	teardown.Push(func() {
		if err := sock.Close(); err != nil {
			log.WithError(err).Warn("closing af_xdp socket")
		}
	})

	if err := loader.RegisterSocket(cfg.QueueID, sock.FD()); err != nil {
		return fmt.Errorf("registering socket in xsks_map: %w", err)
	}

	eng := engine.New(sock, cfg, log)
	metricsReg := metrics.New(eng.Counters, cfg.MetricsAddr, log)
	metricsReg.Serve()
	teardown.Push(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsReg.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("shutting down metrics server")
		}
	})

	if cfg.CPUCore >= 0 {
		go func() {
			if err := affinity.Pin(cfg.CPUCore); err != nil {
				log.WithError(err).Warn("cpu affinity pin failed")
			}
			runEngine(ctx, eng, cfg, log, loader.StatsMap)
		}()
	} else {
		go runEngine(ctx, eng, cfg, log, loader.StatsMap)
	}

	log.WithFields(logrus.Fields{
		"interface": cfg.Interface,
		"queue_id":  cfg.QueueID,
		"bind_mode": cfg.BindMode.String(),
		"xdp_mode":  cfg.XDPMode.String(),
	}).Info("afxdp-bounce running")

	<-ctx.Done()
	eng.RequestStop()
	waitTerminated(eng)
	return nil
}

// runEngine pins its own OS thread (via affinity.Pin when configured)
// so the polling loop never migrates cores mid-run; it returns once
// Engine.Run observes shutdown.
func runEngine(ctx context.Context, eng *engine.Engine, cfg *config.Config, log *logrus.Entry, statsMap *ebpf.Map) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if cfg.StatsEnabled {
		reporter := stats.New(eng.Counters, log).WithKernelStatsMap(statsMap)
		reporterCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if cfg.TUI {
			go func() {
				if err := reporter.RunTUI(reporterCtx); err != nil {
					log.WithError(err).Warn("stats tui exited")
				}
			}()
		} else {
			go reporter.Run(reporterCtx)
		}
	}

	if err := eng.Run(ctx); err != nil {
		log.WithError(err).Error("engine run returned an error")
	}
}

func waitTerminated(eng *engine.Engine) {
	for eng.State() != engine.Terminated {
		time.Sleep(time.Millisecond)
	}
}

func newLogger(cfg *config.Config) *logrus.Entry {
	log := logrus.New()
	format := cfg.LogFormat
	if format == "" {
		if isTTY(os.Stderr) {
			format = "text"
		} else {
			format = "json"
		}
	}
	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logrus.NewEntry(log)
}

// isTTY reports whether f is a character device, the same check a
// terminal-aware formatter uses to decide between human-readable and
// structured output, without pulling in a terminal-handling library
// for a single stat check.
func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// signalContext derives a cancelable context from parent that is also
// canceled on SIGINT/SIGTERM, built before the signal relay is armed
// so no signal can be observed against a half-initialized handle.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// exitCode maps an initialization error to a process exit status: the
// negated errno when the failing syscall supplied one, 1 otherwise.
func exitCode(err error) int {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return -int(errno)
	}
	return 1
}
