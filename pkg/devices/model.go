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

package devices

import (
	"fmt"
	"sort"
	"sync"
)

// Model is the shared device inventory. It arbitrates exclusive
// ownership: a device is owned by at most one Owner at a time, and the
// second claimant of a busy device fails immediately instead of
// queuing. Devices can be replaced wholesale when the platform topology
// changes, carrying ownership over by device name.
type Model struct {
	sync.RWMutex
	devices map[string]*Device
	names   []string
}

// NewModel creates a device model from the given devices.
func NewModel(devs ...*Device) (*Model, error) {
	m := &Model{}
	if err := m.install(devs); err != nil {
		return nil, err
	}
	return m, nil
}

// Lookup returns the device with the given name.
func (m *Model) Lookup(name string) (*Device, bool) {
	m.RLock()
	defer m.RUnlock()

	d, ok := m.devices[name]
	return d, ok
}

// ForEach visits every device in name order until the visitor returns
// false.
func (m *Model) ForEach(fn func(*Device) bool) {
	m.RLock()
	defer m.RUnlock()

	for _, name := range m.names {
		if !fn(m.devices[name]) {
			return
		}
	}
}

// Size returns the number of devices in the model.
func (m *Model) Size() int {
	m.RLock()
	defer m.RUnlock()
	return len(m.devices)
}

// Claim makes owner the exclusive owner of the named device. It fails
// if the device is unknown or any owner, including this one, already
// holds it.
func (m *Model) Claim(name string, owner *Owner) (*Device, error) {
	if owner == nil {
		return nil, fmt.Errorf("%w: claim of %q without an owner", ErrNotOwner, name)
	}

	m.Lock()
	defer m.Unlock()

	d, ok := m.devices[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDevice, name)
	}
	if d.owner != nil {
		return nil, fmt.Errorf("%w: %q owned by %s", ErrDeviceBusy, name, d.owner)
	}

	d.owner = owner
	log.Debug("%s claimed by %s", d, owner)

	return d, nil
}

// Yield releases the named device from the given owner.
func (m *Model) Yield(name string, owner *Owner) error {
	m.Lock()
	defer m.Unlock()

	d, ok := m.devices[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, name)
	}
	if d.owner != owner {
		return fmt.Errorf("%w: %q owned by %s, yielded by %s",
			ErrNotOwner, name, d.owner, owner)
	}

	d.owner = nil
	log.Debug("%s yielded by %s", d, owner)

	return nil
}

// OwnerOf returns the current owner of the named device, nil if the
// device is unknown or unowned.
func (m *Model) OwnerOf(name string) *Owner {
	m.RLock()
	defer m.RUnlock()

	if d, ok := m.devices[name]; ok {
		return d.owner
	}
	return nil
}

// Owned returns the number of currently owned devices.
func (m *Model) Owned() int {
	m.RLock()
	defer m.RUnlock()

	owned := 0
	for _, d := range m.devices {
		if d.owner != nil {
			owned++
		}
	}
	return owned
}

// Replace swaps in a new device inventory after a topology change.
// Ownership carries over by device name. It returns the names of
// devices which vanished while owned; their owners must be revoked by
// the caller. On a validation error the model is left unchanged.
func (m *Model) Replace(devs []*Device) ([]string, error) {
	m.Lock()
	defer m.Unlock()

	old := m.devices
	if err := m.install(devs); err != nil {
		return nil, err
	}

	var orphaned []string
	for name, d := range old {
		if d.owner == nil {
			continue
		}
		if kept, ok := m.devices[name]; ok {
			kept.owner = d.owner
		} else {
			// the struct may be reinstalled by a configuration revert,
			// it must not carry a stale owner back in
			d.owner = nil
			orphaned = append(orphaned, name)
		}
	}
	sort.Strings(orphaned)

	log.Info("device inventory replaced: %d devices, %d orphaned owners",
		len(m.devices), len(orphaned))

	return orphaned, nil
}

// install validates and indexes a device set, leaving the model
// untouched on error. Callers must hold the model lock.
func (m *Model) install(devs []*Device) error {
	if err := validate(devs); err != nil {
		return err
	}

	m.devices = make(map[string]*Device, len(devs))
	m.names = make([]string, 0, len(devs))
	for _, d := range devs {
		m.devices[d.Name] = d
		m.names = append(m.names, d.Name)
	}
	sort.Strings(m.names)

	return nil
}
