//go:build linux

// Package xdpload loads the in-kernel redirect program and attaches
// it to an interface, exposing the socket-map so sockets can register
// themselves for redirection. The program itself is an opaque
// collaborator: this package only requires that the object satisfy
// the map/program contract documented in testdata/redirect.c.
package xdpload

import (
	"fmt"
	"net"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/sirupsen/logrus"

	"github.com/rajmodi8905/afxdp-path-manager/internal/config"
	"github.com/rajmodi8905/afxdp-path-manager/internal/xdperr"
)

const xsksMapName = "xsks_map"
const statsMapName = "stats_map"

// Loader owns the loaded eBPF collection, the attached link, and the
// resolved socket-map.
type Loader struct {
	coll     *ebpf.Collection
	prog     *ebpf.Program
	link     link.Link
	XsksMap  *ebpf.Map
	StatsMap *ebpf.Map // optional; nil if the object does not define it
}

// Load reads the object at cfg.ProgramPath, resolves the program
// named cfg.ProgramEntry and the xsks_map contract, and attaches the
// program to cfg.Interface at cfg.XDPMode. On XDPAuto, a native-mode
// attach failure triggers exactly one retry in generic mode; an
// explicit mode is never retried.
func Load(cfg *config.Config, log *logrus.Entry) (*Loader, error) {
	ifi, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return nil, &xdperr.ConfigError{Field: "interface", Err: err}
	}

	spec, err := ebpf.LoadCollectionSpec(cfg.ProgramPath)
	if err != nil {
		return nil, &xdperr.ProgramError{Reason: fmt.Sprintf("loading spec from %s: %v", cfg.ProgramPath, err)}
	}
	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, &xdperr.ProgramError{Reason: fmt.Sprintf("creating collection: %v", err)}
	}

	prog := coll.Programs[cfg.ProgramEntry]
	if prog == nil {
		coll.Close()
		return nil, &xdperr.ProgramError{Reason: fmt.Sprintf("program %q not found in %s", cfg.ProgramEntry, cfg.ProgramPath)}
	}
	xsksMap := coll.Maps[xsksMapName]
	if xsksMap == nil {
		coll.Close()
		return nil, &xdperr.ProgramError{Reason: fmt.Sprintf("map %q not found in %s", xsksMapName, cfg.ProgramPath)}
	}
	statsMap := coll.Maps[statsMapName] // optional

	l, err := attach(prog, ifi.Index, cfg.XDPMode, log)
	if err != nil {
		coll.Close()
		return nil, err
	}

	return &Loader{coll: coll, prog: prog, link: l, XsksMap: xsksMap, StatsMap: statsMap}, nil
}

func attach(prog *ebpf.Program, ifindex int, mode config.XDPMode, log *logrus.Entry) (link.Link, error) {
	flags := func(m config.XDPMode) link.XDPAttachFlags {
		switch m {
		case config.XDPGeneric:
			return link.XDPGenericMode
		case config.XDPNative:
			return link.XDPDriverMode
		default:
			return link.XDPDriverMode
		}
	}(mode)

	l, err := link.AttachXDP(link.XDPOptions{Program: prog, Interface: ifindex, Flags: flags})
	if err == nil {
		return l, nil
	}
	if mode != config.XDPAuto {
		return nil, &xdperr.KernelError{Op: "attach xdp", Errno: err}
	}

	log.WithError(err).Warn("native xdp attach failed, falling back to generic mode")
	l, err = link.AttachXDP(link.XDPOptions{Program: prog, Interface: ifindex, Flags: link.XDPGenericMode})
	if err != nil {
		return nil, &xdperr.KernelError{Op: "attach xdp (generic fallback)", Errno: err}
	}
	return l, nil
}

// RegisterSocket inserts fd into the xsks_map at the given queue
// index, the step that makes the kernel program actually redirect
// packets for that queue to this socket.
func (l *Loader) RegisterSocket(queueID uint32, fd int) error {
	if err := l.XsksMap.Update(queueID, uint32(fd), ebpf.UpdateAny); err != nil {
		return &xdperr.KernelError{Op: "xsks_map update", Errno: err}
	}
	return nil
}

// Close detaches the program and releases the collection.
func (l *Loader) Close() error {
	var firstErr error
	if err := l.link.Close(); err != nil {
		firstErr = err
	}
	l.coll.Close()
	return firstErr
}
