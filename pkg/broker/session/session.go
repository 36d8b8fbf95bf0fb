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

// Package session implements the per-client session of the platform
// device broker: exclusive device acquisition and release, the DMA
// buffer registry, lazily maintained translation domains mirroring that
// registry, quota-guarded allocation, and the cached device status
// report. A Session is the single entry point for one client; its
// mutex serializes all operations, and every operation either fully
// applies or fully rolls back.
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	libquota "github.com/platformd/platformd/pkg/broker/lib/quota"
	"github.com/platformd/platformd/pkg/broker/report"
	"github.com/platformd/platformd/pkg/devices"
	"github.com/platformd/platformd/pkg/dmamem"
	"github.com/platformd/platformd/pkg/iommu"
	logger "github.com/platformd/platformd/pkg/log"
)

// sessionLogger returns the diagnostic logger of one session. Every
// session logs under its own source so that debugging can be turned on
// per client.
func sessionLogger(label string, debug bool) logger.Logger {
	l := logger.Get("session/" + label)
	if debug {
		l.EnableDebug(true)
	}
	return l
}

// Policy resolves which devices a client label may use. Implementations
// reflect the broker's current policy table, so visibility answers
// change when the broker reloads its configuration.
type Policy interface {
	Visible(label, device string) bool
}

// PolicyFunc is a function adapter for the Policy interface.
type PolicyFunc func(label, device string) bool

// Visible implements the Policy interface.
func (f PolicyFunc) Visible(label, device string) bool {
	return f(label, device)
}

// Config configures one session.
type Config struct {
	// Label is the client label the session is bound to.
	Label string
	// MemQuota is the DMA memory budget in bytes.
	MemQuota uint64
	// CapQuota is the device capability budget.
	CapQuota uint64
	// Info selects full device metadata in status reports.
	Info bool
	// Debug enables diagnostic logging for the session.
	Debug bool
	// Version is the policy version the session was resolved under.
	Version string
	// IOMMU selects translation domain maintenance for owned devices.
	IOMMU bool
	// Notify, if set, is invoked whenever the device report becomes
	// stale. It runs with the session lock held and must not call
	// back into the session.
	Notify func()
}

// DeviceGrant is the capability handed out for one acquired device. It
// is only usable with the session that issued it and is revoked on
// release or session close.
type DeviceGrant struct {
	session *Session
	id      uint64
	device  string
	domain  string
}

// Device returns the name of the granted device.
func (g *DeviceGrant) Device() string {
	return g.device
}

// String returns the grant formatted for diagnostics.
func (g *DeviceGrant) String() string {
	if g == nil {
		return "<nil grant>"
	}
	return fmt.Sprintf("grant #%d for %q", g.id, g.device)
}

// Session is one client's session. All methods are safe for concurrent
// use; the session serializes them internally.
type Session struct {
	sync.Mutex
	log     logger.Logger
	label   string
	info    bool
	version string
	iommu   bool
	notify  func()
	closed  bool

	model    *devices.Model
	provider iommu.Provider
	alloc    dmamem.Allocator
	policy   Policy
	owner    *devices.Owner

	mem  *libquota.Guard
	caps *libquota.Guard

	nextGrant uint64
	grants    map[uint64]*DeviceGrant
	order     []*DeviceGrant
	buffers   map[dmamem.Handle]*buffer
	domains   map[string]*domain

	dirty  bool
	cached *report.Devices
}

// New creates a session for the given client against the shared device
// model, translation provider and DMA allocator. The provider may be
// nil when cfg.IOMMU is unset.
func New(cfg Config, model *devices.Model, provider iommu.Provider,
	alloc dmamem.Allocator, policy Policy) (*Session, error) {

	switch {
	case cfg.Label == "":
		return nil, fmt.Errorf("%w: session without a label", ErrInternal)
	case model == nil:
		return nil, fmt.Errorf("%w: session %q without a device model",
			ErrInternal, cfg.Label)
	case alloc == nil:
		return nil, fmt.Errorf("%w: session %q without a DMA allocator",
			ErrInternal, cfg.Label)
	case policy == nil:
		return nil, fmt.Errorf("%w: session %q without a policy",
			ErrInternal, cfg.Label)
	case cfg.IOMMU && provider == nil:
		return nil, fmt.Errorf("%w: session %q without a translation provider",
			ErrInternal, cfg.Label)
	}

	s := &Session{
		log:      sessionLogger(cfg.Label, cfg.Debug),
		label:    cfg.Label,
		info:     cfg.Info,
		version:  cfg.Version,
		iommu:    cfg.IOMMU,
		notify:   cfg.Notify,
		model:    model,
		provider: provider,
		alloc:    alloc,
		policy:   policy,
		owner:    devices.NewOwner(cfg.Label),
		mem:      libquota.NewGuard("memory", cfg.MemQuota),
		caps:     libquota.NewGuard("capabilities", cfg.CapQuota),
		grants:   make(map[uint64]*DeviceGrant),
		buffers:  make(map[dmamem.Handle]*buffer),
		domains:  make(map[string]*domain),
		dirty:    true,
	}

	s.log.Info("created, quota %s, %s, iommu %v", s.mem, s.caps, s.iommu)

	return s, nil
}

// Label returns the client label of the session.
func (s *Session) Label() string {
	return s.label
}

// AcquireDevice acquires exclusive use of the named device.
func (s *Session) AcquireDevice(name string) (*DeviceGrant, error) {
	s.Lock()
	defer s.Unlock()

	return s.acquire(name)
}

// AcquireSingleDevice acquires the sole device the session's policy
// grants. It fails if the policy grants none or more than one.
func (s *Session) AcquireSingleDevice() (*DeviceGrant, error) {
	s.Lock()
	defer s.Unlock()

	var visible []string
	s.model.ForEach(func(d *devices.Device) bool {
		if s.policy.Visible(s.label, d.Name) {
			visible = append(visible, d.Name)
		}
		return len(visible) < 2
	})

	switch len(visible) {
	case 0:
		return nil, fmt.Errorf("%w: no device visible to %q", ErrNotFound, s.label)
	case 1:
		return s.acquire(visible[0])
	}
	return nil, fmt.Errorf("%w: more than one device visible to %q",
		ErrAmbiguous, s.label)
}

// ReleaseDevice releases a previously acquired device. Unknown, foreign
// and already released grants are ignored.
func (s *Session) ReleaseDevice(g *DeviceGrant) error {
	s.Lock()
	defer s.Unlock()

	if g == nil || g.session != s {
		return nil
	}
	if _, live := s.grants[g.id]; !live {
		return nil
	}

	return s.release(g)
}

// RevokeDevice force-releases the named device if the session owns it.
// The broker uses it to withdraw devices a reloaded policy no longer
// grants. Unowned names are ignored.
func (s *Session) RevokeDevice(name string) error {
	s.Lock()
	defer s.Unlock()

	for _, g := range s.order {
		if g.device == name {
			s.log.Info("revoking %s", g)
			return s.release(g)
		}
	}
	return nil
}

// Matches returns true if the session's policy covers the device. The
// broker uses it as a predicate when re-scanning devices after a
// policy change.
func (s *Session) Matches(d *devices.Device) bool {
	if d == nil {
		return false
	}
	return s.policy.Visible(s.label, d.Name)
}

// UpdatePolicy updates the report verbosity and policy version after a
// policy reload. The report is invalidated even if nothing changed.
func (s *Session) UpdatePolicy(info bool, version string) {
	s.Lock()
	defer s.Unlock()

	s.info, s.version = info, version
	s.invalidate()

	s.log.Debug("policy updated, info %v, version %q", info, version)
}

// UpdateControlDevices re-validates the translation domains of all
// owned devices after an external topology change: devices whose
// domain membership changed get their new domain created and seeded
// with all buffers, and domains no longer referenced are destroyed.
func (s *Session) UpdateControlDevices() error {
	s.Lock()
	defer s.Unlock()

	var errs *multierror.Error

	changed := false
	for _, g := range s.order {
		want := ""
		if s.iommu {
			if dev, ok := s.model.Lookup(g.device); ok {
				want = dev.Domain
			}
		}
		if want == g.domain {
			continue
		}

		if want != "" {
			if err := s.refDomain(want); err != nil {
				// keep the stale domain rather than leaving
				// the device untranslated
				errs = multierror.Append(errs, err)
				continue
			}
		}
		if g.domain != "" {
			if err := s.unrefDomain(g.domain); err != nil {
				errs = multierror.Append(errs, err)
			}
		}

		s.log.Debug("%s moved from domain %q to %q", g, g.domain, want)
		g.domain = want
		changed = true
	}

	if changed {
		s.invalidate()
	}

	return errs.ErrorOrNil()
}

// Close tears the session down: every buffer is freed with its ranges
// withdrawn from all live domains first, then every device is released
// with its domain destroyed when last. Afterwards the quota guards are
// back at their initial state. Closing twice is harmless.
func (s *Session) Close() error {
	s.Lock()
	defer s.Unlock()

	if s.closed {
		return nil
	}

	var errs *multierror.Error

	for _, entry := range s.bufferTeardownOrder() {
		errs = multierror.Append(errs, s.freeBuffer(entry))
	}
	for len(s.order) > 0 {
		errs = multierror.Append(errs, s.release(s.order[0]))
	}
	if len(s.domains) > 0 {
		errs = multierror.Append(errs, fmt.Errorf(
			"%w: %d domains left after teardown", ErrInternal, len(s.domains)))
	}

	s.closed = true
	s.invalidate()

	s.log.Info("closed, quota %s, %s", s.mem, s.caps)

	return errs.ErrorOrNil()
}

// QuotaUsage returns the used and granted amounts of the memory and
// capability budgets.
func (s *Session) QuotaUsage() (memUsed, memGranted, capsUsed, capsGranted uint64) {
	s.Lock()
	defer s.Unlock()

	return s.mem.Used(), s.mem.Granted(), s.caps.Used(), s.caps.Granted()
}

// GrantQuota raises the session's budgets by the given amounts. The
// broker calls it when the client donates additional quota to a
// session that has run out.
func (s *Session) GrantQuota(mem, caps uint64) error {
	s.Lock()
	defer s.Unlock()

	if s.closed {
		return fmt.Errorf("%w: session %q is closed", ErrInternal, s.label)
	}

	// an upgrade applies to both budgets or to neither
	if s.mem.Granted()+mem < s.mem.Granted() || s.caps.Granted()+caps < s.caps.Granted() {
		return fmt.Errorf("%w: upgrade by %d bytes, %d caps overflows",
			libquota.ErrInvalidGrant, mem, caps)
	}
	if err := s.mem.Grant(mem); err != nil {
		return err
	}
	if err := s.caps.Grant(caps); err != nil {
		return err
	}

	s.log.Info("quota upgraded to %s, %s", s.mem, s.caps)

	return nil
}

// OwnedDevices returns the names of all owned devices in acquisition
// order.
func (s *Session) OwnedDevices() []string {
	s.Lock()
	defer s.Unlock()

	names := make([]string, 0, len(s.order))
	for _, g := range s.order {
		names = append(names, g.device)
	}
	return names
}

// acquire claims a device, reserves capability quota and sets up
// domain translation, rolling everything back on failure. Callers must
// hold the session lock.
func (s *Session) acquire(name string) (*DeviceGrant, error) {
	if s.closed {
		return nil, fmt.Errorf("%w: session %q is closed", ErrInternal, s.label)
	}

	if _, ok := s.model.Lookup(name); !ok {
		return nil, fmt.Errorf("%w: device %q", ErrNotFound, name)
	}
	if !s.policy.Visible(s.label, name) {
		return nil, fmt.Errorf("%w: device %q not granted to %q",
			ErrPolicyDenied, name, s.label)
	}

	dev, err := s.model.Claim(name, s.owner)
	if err != nil {
		switch {
		case errors.Is(err, devices.ErrUnknownDevice):
			return nil, fmt.Errorf("%w: device %q", ErrNotFound, name)
		case errors.Is(err, devices.ErrDeviceBusy):
			return nil, fmt.Errorf("%w: %v", ErrAlreadyOwned, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	if err := s.caps.Reserve(1); err != nil {
		s.model.Yield(name, s.owner)
		return nil, fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}

	domainName := ""
	if s.iommu && dev.Domain != "" {
		if err := s.refDomain(dev.Domain); err != nil {
			s.caps.Release(1)
			s.model.Yield(name, s.owner)
			return nil, err
		}
		domainName = dev.Domain
	}

	s.nextGrant++
	g := &DeviceGrant{
		session: s,
		id:      s.nextGrant,
		device:  name,
		domain:  domainName,
	}
	s.grants[g.id] = g
	s.order = append(s.order, g)
	s.invalidate()

	s.log.Debug("acquired %s as %s", dev, g)

	return g, nil
}

// release undoes one live grant: ownership is yielded, the domain
// reference dropped and the capability quota returned. Callers must
// hold the session lock and have verified the grant is live.
func (s *Session) release(g *DeviceGrant) error {
	var errs *multierror.Error

	delete(s.grants, g.id)
	for i, og := range s.order {
		if og == g {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	if err := s.model.Yield(g.device, s.owner); err != nil {
		// a vanished device has nothing left to yield
		if !errors.Is(err, devices.ErrUnknownDevice) {
			errs = multierror.Append(errs,
				fmt.Errorf("%w: %v", ErrInternal, err))
		}
	}

	if g.domain != "" {
		if err := s.unrefDomain(g.domain); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	s.caps.Release(1)
	s.invalidate()

	s.log.Debug("released %s", g)

	return errs.ErrorOrNil()
}

// invalidate marks the device report stale and fires the change
// notification. Callers must hold the session lock.
func (s *Session) invalidate() {
	s.dirty = true
	if s.notify != nil {
		s.notify()
	}
}
