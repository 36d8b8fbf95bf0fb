// Copyright The Platformd Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package broker implements the root of the platform device-access
// broker: it owns the shared device inventory, the translation
// provider and the DMA allocator, resolves client labels against the
// configured policy table, and hands out per-client sessions. The
// broker keeps every open session consistent across configuration
// reloads and platform topology changes.
package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/platformd/platformd/pkg/broker/session"
	"github.com/platformd/platformd/pkg/devices"
	"github.com/platformd/platformd/pkg/dmamem"
	"github.com/platformd/platformd/pkg/healthz"
	"github.com/platformd/platformd/pkg/hotplug"
	"github.com/platformd/platformd/pkg/instrumentation/tracing"
	"github.com/platformd/platformd/pkg/iommu"
	logger "github.com/platformd/platformd/pkg/log"
)

var log = logger.Get("broker")

// client is one open session together with its live policy binding.
type client struct {
	session *session.Session
	policy  *rulePolicy
}

// rulePolicy adapts one resolved policy rule to the session's Policy
// interface. The broker swaps the rule on configuration reload, so
// visibility answers always reflect the current policy table.
type rulePolicy struct {
	sync.RWMutex
	rule *Rule
}

// Visible implements the session.Policy interface.
func (p *rulePolicy) Visible(label, device string) bool {
	p.RLock()
	defer p.RUnlock()

	return p.rule != nil && p.rule.Covers(device)
}

func (p *rulePolicy) update(rule *Rule) {
	p.Lock()
	defer p.Unlock()

	p.rule = rule
}

// Broker is the root of the device broker.
type Broker struct {
	sync.RWMutex
	cfg       *Config
	model     *devices.Model
	provider  iommu.Provider
	alloc     dmamem.Allocator
	clients   map[string]*client
	sink      Notifier
	notify    *notifier
	monitor   *hotplug.Monitor
	running   bool
	reloadErr error
}

// Option is an option which can be applied to a Broker.
type Option func(*Broker) error

// WithModel makes the broker serve devices from the given model
// instead of reading the configured board description.
func WithModel(m *devices.Model) Option {
	return func(b *Broker) error {
		b.model = m
		return nil
	}
}

// WithProvider makes the broker maintain translation domains through
// the given provider.
func WithProvider(p iommu.Provider) Option {
	return func(b *Broker) error {
		b.provider = p
		return nil
	}
}

// WithAllocator makes the broker allocate DMA memory from the given
// allocator instead of creating the configured one.
func WithAllocator(a dmamem.Allocator) Option {
	return func(b *Broker) error {
		b.alloc = a
		return nil
	}
}

// WithNotifier makes the broker deliver report change notifications
// to the given sink.
func WithNotifier(n Notifier) Option {
	return func(b *Broker) error {
		b.sink = n
		return nil
	}
}

// New creates a broker for the given configuration.
func New(cfg *Config, options ...Option) (*Broker, error) {
	if err := cfg.Verify(); err != nil {
		return nil, err
	}

	b := &Broker{
		cfg:     cfg,
		clients: make(map[string]*client),
	}
	for _, o := range options {
		if err := o(b); err != nil {
			return nil, err
		}
	}

	if b.model == nil {
		devs, err := cfg.Board.inventory()
		if err != nil {
			return nil, err
		}
		m, err := devices.NewModel(devs...)
		if err != nil {
			return nil, errors.Wrap(err, "failed to set up device inventory")
		}
		b.model = m
	}
	if b.provider == nil && cfg.IOMMU {
		b.provider = iommu.NewSoftTable()
	}
	if b.alloc == nil {
		a, err := dmamem.NewAllocator(cfg.Allocator)
		if err != nil {
			return nil, errors.Wrap(err, "failed to set up DMA allocator")
		}
		b.alloc = a
	}
	b.notify = newNotifier(b.sink, cfg.notifyInterval())

	registerInstrumentation(b)

	log.Info("created broker: policy version %q, %d devices, %d policy rules",
		cfg.Version, b.model.Size(), len(cfg.Policies))

	return b, nil
}

// Start starts the broker's background services: coalesced report
// change notification and, when configured, hotplug monitoring.
func (b *Broker) Start() error {
	b.Lock()
	defer b.Unlock()

	if b.running {
		return nil
	}

	b.notify.start()

	if b.cfg.Hotplug.Enabled {
		if err := b.startHotplug(); err != nil {
			b.notify.stop()
			return err
		}
	}

	b.running = true
	log.Info("up and running")

	return nil
}

// Stop closes all open sessions and stops the background services.
func (b *Broker) Stop() {
	b.Lock()
	defer b.Unlock()

	for label, c := range b.clients {
		if err := c.session.Close(); err != nil {
			log.Error("failed to close session %q: %v", label, err)
		}
		delete(b.clients, label)
	}

	b.stopHotplug()
	b.notify.stop()
	b.running = false
}

// OpenSession opens a session for the given client label. The label
// must be covered by the policy table and have no session open yet.
func (b *Broker) OpenSession(label string) (s *session.Session, err error) {
	_, span := tracing.StartSpan(context.Background(), "Broker.OpenSession",
		tracing.WithAttributes(tracing.Attribute("client.label", label)))
	defer func() { span.End(tracing.WithStatus(err)) }()

	b.Lock()
	defer b.Unlock()

	if _, ok := b.clients[label]; ok {
		return nil, fmt.Errorf("%w: %q", ErrSessionExists, label)
	}

	rule := b.cfg.Resolve(label)
	if rule == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoPolicy, label)
	}

	policy := &rulePolicy{rule: rule}
	s, err = session.New(session.Config{
		Label:    label,
		MemQuota: rule.MemQuota,
		CapQuota: rule.CapQuota,
		Info:     rule.Info,
		Debug:    rule.Debug,
		Version:  b.cfg.Version,
		IOMMU:    b.cfg.IOMMU,
		Notify:   func() { b.notify.reportChanged(label) },
	}, b.model, b.provider, b.alloc, policy)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create session for %q", label)
	}

	b.clients[label] = &client{session: s, policy: policy}

	log.Info("opened session %q (%s)", label, rule)

	return s, nil
}

// CloseSession closes the open session of the given client label.
func (b *Broker) CloseSession(label string) (err error) {
	_, span := tracing.StartSpan(context.Background(), "Broker.CloseSession",
		tracing.WithAttributes(tracing.Attribute("client.label", label)))
	defer func() { span.End(tracing.WithStatus(err)) }()

	b.Lock()
	defer b.Unlock()

	c, ok := b.clients[label]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSession, label)
	}
	delete(b.clients, label)

	if err := c.session.Close(); err != nil {
		return errors.Wrapf(err, "failed to close session %q", label)
	}

	log.Info("closed session %q", label)

	return nil
}

// Session returns the open session of the given client label, nil if
// there is none.
func (b *Broker) Session(label string) *session.Session {
	b.RLock()
	defer b.RUnlock()

	if c, ok := b.clients[label]; ok {
		return c.session
	}
	return nil
}

// Sessions returns the labels of all open sessions, sorted.
func (b *Broker) Sessions() []string {
	b.RLock()
	defer b.RUnlock()

	labels := make([]string, 0, len(b.clients))
	for label := range b.clients {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// UpgradeSession donates additional quota to an open session.
func (b *Broker) UpgradeSession(label string, mem, caps uint64) (err error) {
	_, span := tracing.StartSpan(context.Background(), "Broker.UpgradeSession",
		tracing.WithAttributes(tracing.Attribute("client.label", label)))
	defer func() { span.End(tracing.WithStatus(err)) }()

	b.RLock()
	c, ok := b.clients[label]
	b.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSession, label)
	}
	return c.session.GrantQuota(mem, caps)
}

// Reconfigure activates a new configuration: the device inventory is
// re-read, every open session is re-resolved against the new policy
// table, grants no longer covered are revoked, and translation
// domains follow the new topology. On failure the previous
// configuration is re-applied.
func (b *Broker) Reconfigure(cfg *Config) (err error) {
	_, span := tracing.StartSpan(context.Background(), "Broker.Reconfigure")
	defer func() { span.End(tracing.WithStatus(err)) }()

	if err := cfg.Verify(); err != nil {
		return err
	}

	b.Lock()
	defer b.Unlock()

	err = b.applyConfig(cfg)
	b.reloadErr = err
	if err == nil {
		b.cfg = cfg
		log.Info("activated configuration: policy version %q, %d policy rules",
			cfg.Version, len(cfg.Policies))
		return nil
	}

	log.Error("failed to activate new configuration: %v", err)
	if revertErr := b.applyConfig(b.cfg); revertErr != nil {
		log.Warn("failed to revert to previous configuration: %v", revertErr)
	}

	return err
}

// Rescan re-reads the configured board description and re-validates
// every open session against the resulting topology. The hotplug
// monitor triggers it when the platform bus changes.
func (b *Broker) Rescan() (err error) {
	_, span := tracing.StartSpan(context.Background(), "Broker.Rescan")
	defer func() { span.End(tracing.WithStatus(err)) }()

	b.Lock()
	defer b.Unlock()

	if err := b.replaceInventory(b.cfg); err != nil {
		return err
	}

	var errs *multierror.Error
	for _, c := range b.clients {
		errs = multierror.Append(errs, c.session.UpdateControlDevices())
	}
	return errs.ErrorOrNil()
}

// applyConfig pushes one configuration down to the device inventory
// and every open session. Callers must hold the broker lock.
func (b *Broker) applyConfig(cfg *Config) error {
	if err := b.replaceInventory(cfg); err != nil {
		return err
	}

	var errs *multierror.Error
	for label, c := range b.clients {
		rule := cfg.Resolve(label)
		c.policy.update(rule)

		c.session.UpdatePolicy(rule != nil && rule.Info, cfg.Version)

		for _, name := range c.session.OwnedDevices() {
			if rule == nil || !rule.Covers(name) {
				log.Info("session %q: %q no longer covered, revoking", label, name)
				errs = multierror.Append(errs, c.session.RevokeDevice(name))
			}
		}

		errs = multierror.Append(errs, c.session.UpdateControlDevices())
	}

	return errs.ErrorOrNil()
}

// replaceInventory swaps in the device inventory the configuration
// describes and revokes grants for devices that vanished. Callers must
// hold the broker lock.
func (b *Broker) replaceInventory(cfg *Config) error {
	devs, err := cfg.Board.inventory()
	if err != nil {
		return err
	}
	if devs == nil {
		return nil
	}

	orphaned, err := b.model.Replace(devs)
	if err != nil {
		return errors.Wrap(err, "failed to replace device inventory")
	}

	for _, name := range orphaned {
		for label, c := range b.clients {
			if err := c.session.RevokeDevice(name); err != nil {
				log.Error("failed to revoke vanished %q from session %q: %v",
					name, label, err)
			}
		}
	}
	return nil
}

// startHotplug sets up hotplug monitoring and the event loop folding
// events into topology rescans. Callers must hold the broker lock.
func (b *Broker) startHotplug() error {
	monitor, err := hotplug.NewMonitor(
		hotplug.WithSubsystems(b.cfg.Hotplug.subsystems()...),
		hotplug.WithActions(hotplug.ActionAdd, hotplug.ActionRemove,
			hotplug.ActionChange),
	)
	if err != nil {
		return errors.Wrap(err, "failed to set up hotplug monitoring")
	}

	events := make(chan *hotplug.Event, 16)
	go b.hotplugLoop(events)
	monitor.Start(events)
	b.monitor = monitor

	log.Info("monitoring hotplug events for subsystems %v",
		b.cfg.Hotplug.subsystems())

	return nil
}

func (b *Broker) stopHotplug() {
	if b.monitor == nil {
		return
	}

	// closing the monitor ends event delivery and the loop with it
	if err := b.monitor.Stop(); err != nil {
		log.Warn("failed to stop hotplug monitor: %v", err)
	}
	b.monitor = nil
}

func (b *Broker) hotplugLoop(events <-chan *hotplug.Event) {
	for evt := range events {
		log.Info("hotplug event: %s", evt)
		if err := b.Rescan(); err != nil {
			log.Error("failed to rescan after hotplug event %s: %v", evt, err)
		}
	}
}

// healthCheck reports the broker's health for the healthz endpoint.
func (b *Broker) healthCheck() (healthz.Status, error) {
	b.RLock()
	defer b.RUnlock()

	switch {
	case !b.running:
		return healthz.NonFunctional, fmt.Errorf("broker is not running")
	case b.reloadErr != nil:
		return healthz.Degraded,
			errors.Wrap(b.reloadErr, "last configuration reload failed")
	}
	return healthz.Healthy, nil
}
