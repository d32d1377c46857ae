package jshost

import (
	"fmt"
	"io"

	"github.com/cryguy/jshost/internal/core"
	"github.com/cryguy/jshost/internal/webapi"
)

// installStep is one stage of Initialize. Stages run in slice order on the
// owning goroutine; the first failure aborts initialization.
type installStep struct {
	name string
	fn   func(c *hostCore, rt core.JSRuntime) error
}

var installSteps = []installStep{
	{"platform", bridge(webapi.SetupPlatform)},
	{"crypto", bridge(webapi.SetupCrypto)},
	{"compression", bridge(webapi.SetupCompression)},
	{"fs", installFileSystem},
	{"storage", installStorage},
	{"fetch", installFetch},
	{"sockets", installSockets},
	{"console", bridge(webapi.SetupConsole)},
	{"timers", bridge(webapi.SetupTimers)},
	{"performance", bridge(webapi.SetupPerformance)},
	{"bootstrap", installBootstrap},
}

func bridge(setup func(core.JSRuntime, core.Host) error) func(*hostCore, core.JSRuntime) error {
	return func(c *hostCore, rt core.JSRuntime) error {
		return setup(rt, c)
	}
}

// subsystem is a bridge that holds resources released during Close.
type subsystem struct {
	name string
	io.Closer
}

// addSubsystem records s before its Setup runs, so a failing Setup still
// gets it closed.
func (c *hostCore) addSubsystem(name string, s io.Closer) {
	c.subsystems = append(c.subsystems, subsystem{name: name, Closer: s})
}

func installFileSystem(c *hostCore, rt core.JSRuntime) error {
	if c.cfg.FSRoot == "" {
		return nil
	}
	fsys, err := webapi.NewFileSystem(c, c.cfg.FSRoot, c.cfg.MaxOpenFiles)
	if err != nil {
		return err
	}
	c.addSubsystem("fs", fsys)
	return fsys.Setup(rt)
}

func installStorage(c *hostCore, rt core.JSRuntime) error {
	s, err := webapi.NewStorage(c.cfg.StoragePath)
	if err != nil {
		return err
	}
	c.addSubsystem("storage", s)
	return s.Setup(rt)
}

func installFetch(c *hostCore, rt core.JSRuntime) error {
	f, err := webapi.NewFetch(c, c.httpClient)
	if err != nil {
		return err
	}
	c.addSubsystem("fetch", f)
	return f.Setup(rt)
}

func installSockets(c *hostCore, rt core.JSRuntime) error {
	s := webapi.NewSockets(c)
	c.addSubsystem("sockets", s)
	return s.Setup(rt)
}

func installBootstrap(c *hostCore, rt core.JSRuntime) error {
	if c.cfg.BootstrapScript == "" {
		return nil
	}
	src, err := transformBootstrap(c.cfg.BootstrapScript, c.cfg.BootstrapLoader)
	if err != nil {
		return err
	}
	if err := rt.Eval(src); err != nil {
		return fmt.Errorf("evaluating bootstrap script: %w", err)
	}
	rt.RunMicrotasks()
	return nil
}
