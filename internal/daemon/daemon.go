// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-smartcard.
//
// go-smartcard is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package daemon runs the reader watch loop behind scwatchd: it logs
// reader arrivals and removals, and optionally opens a session against
// each arriving reader to log the applet identity.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jeremyhahn/go-smartcard/internal/config"
	"github.com/jeremyhahn/go-smartcard/pkg/logging"
	"github.com/jeremyhahn/go-smartcard/pkg/pcsc"
	"github.com/jeremyhahn/go-smartcard/pkg/piv"
	"github.com/jeremyhahn/go-smartcard/pkg/u2f"
)

// Daemon consumes reader events and reacts per the configuration.
type Daemon struct {
	cfg     *config.Config
	log     *logging.Logger
	watcher *pcsc.Watcher

	// probe is swapped out by tests.
	probe func(reader string)

	done chan struct{}
}

// New builds a daemon around the given configuration. Call Start to
// begin watching.
func New(cfg *config.Config, log *logging.Logger) *Daemon {
	d := &Daemon{
		cfg:  cfg,
		log:  log,
		done: make(chan struct{}),
	}
	d.probe = d.probeApplet
	return d
}

// Start lists readers once to surface a broken PC/SC stack early, then
// begins watching.
func (d *Daemon) Start() error {
	readers, err := pcsc.Readers()
	if err != nil {
		return fmt.Errorf("daemon: pcsc stack unavailable: %w", err)
	}
	d.log.Debugf("%d readers attached at startup", len(readers))

	d.watcher = pcsc.NewWatcher(d.cfg.Watch.Interval())
	go d.run(d.watcher.Events())

	d.log.Info("watching readers", "interval", d.cfg.Watch.Interval().String())
	return nil
}

// Shutdown stops the watcher and waits for the event loop to drain.
func (d *Daemon) Shutdown() error {
	if d.watcher == nil {
		return nil
	}
	d.watcher.Stop()
	<-d.done
	d.log.Info("watcher stopped")
	return nil
}

func (d *Daemon) run(events <-chan pcsc.Event) {
	defer close(d.done)
	for ev := range events {
		d.handle(ev)
	}
}

func (d *Daemon) handle(ev pcsc.Event) {
	if !d.cfg.Watch.Matches(ev.Reader) {
		d.log.Debugf("ignoring %s reader: %s", ev.Kind, ev.Reader)
		return
	}
	switch ev.Kind {
	case pcsc.Arrived:
		d.log.Info("reader arrived", "reader", ev.Reader)
		if d.cfg.Probe.Enabled {
			d.probe(ev.Reader)
		}
	case pcsc.Removed:
		d.log.Info("reader removed", "reader", ev.Reader)
	}
}

// probeApplet opens a session against the arriving reader and logs the
// applet identity. Failures are logged, never fatal; an empty reader or
// a card without the applet is normal during hotplug.
func (d *Daemon) probeApplet(reader string) {
	card, err := pcsc.Connect(reader)
	if err != nil {
		d.log.Errorf("probe %s: %v", reader, err)
		return
	}
	defer func() { d.log.MaybeError(card.Close()) }()

	switch strings.ToLower(d.cfg.Probe.Applet) {
	case "u2f":
		s, err := u2f.NewSession(card)
		if err != nil {
			d.log.Errorf("probe %s: %v", reader, err)
			return
		}
		version, err := s.Version()
		if err != nil {
			d.log.Errorf("probe %s: %v", reader, err)
			return
		}
		d.log.Info("U2F applet present", "reader", reader, "version", version)
	default:
		s, err := piv.NewSession(card)
		if err != nil {
			d.log.Errorf("probe %s: %v", reader, err)
			return
		}
		defer func() { d.log.MaybeError(s.Close()) }()
		serial, err := s.Serial()
		if err != nil {
			d.log.Errorf("probe %s: %v", reader, err)
			return
		}
		d.log.Info("PIV applet present",
			"reader", reader,
			"version", s.Version().String(),
			"serial", serial)
	}
}

// SetupSignalHandler returns a context that is cancelled on SIGINT or
// SIGTERM.
func SetupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		slog.Info("Received shutdown signal")
		cancel()
	}()

	return ctx
}
