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

package session

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/platformd/platformd/pkg/iommu"
)

// domain is one live translation domain of the session, reference
// counted by the number of owned devices naming it. Domains always
// mirror the full buffer registry, so there is no per-buffer membership
// bookkeeping: creation seeds every registered buffer, destruction
// withdraws every one before the domain itself is closed.
type domain struct {
	dom  iommu.Domain
	refs int
}

// refDomain takes one device reference on the named domain, creating
// it on first use. A freshly created domain is seeded with the ranges
// of all registered buffers; any seeding failure closes the domain
// again and fails the reference. Callers must hold the session lock.
func (s *Session) refDomain(name string) error {
	if d, ok := s.domains[name]; ok {
		d.refs++
		return nil
	}

	dom, err := s.provider.CreateDomain(name)
	if err != nil {
		return fmt.Errorf("%w: failed to create domain %q: %v",
			ErrInternal, name, err)
	}

	var seeded []iommu.Range
	for _, entry := range s.buffers {
		rng := entry.busRange()
		if err := dom.AddRange(rng); err != nil {
			for _, r := range seeded {
				dom.RemoveRange(r)
			}
			dom.Close()
			return fmt.Errorf("%w: failed to seed domain %q with %s: %v",
				ErrInternal, name, rng, err)
		}
		seeded = append(seeded, rng)
	}

	s.domains[name] = &domain{dom: dom, refs: 1}

	s.log.Debug("created domain %q with %d buffer ranges", name, len(seeded))

	return nil
}

// unrefDomain drops one device reference from the named domain and
// destroys it when the last reference is gone. Callers must hold the
// session lock.
func (s *Session) unrefDomain(name string) error {
	d, ok := s.domains[name]
	if !ok {
		return fmt.Errorf("%w: dropping reference on unknown domain %q",
			ErrInternal, name)
	}

	d.refs--
	if d.refs > 0 {
		return nil
	}

	delete(s.domains, name)
	return s.destroyDomain(name, d)
}

// destroyDomain withdraws every buffer range from the domain and then
// closes it. The withdrawal must come first so no device attached to
// the domain can still address buffer memory once the domain's
// translation resources are released.
func (s *Session) destroyDomain(name string, d *domain) error {
	var errs *multierror.Error

	for _, entry := range s.buffers {
		if err := d.dom.RemoveRange(entry.busRange()); err != nil {
			errs = multierror.Append(errs, fmt.Errorf(
				"%w: failed to withdraw %s from domain %q: %v",
				ErrInternal, entry.busRange(), name, err))
		}
	}
	if err := d.dom.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf(
			"%w: failed to close domain %q: %v", ErrInternal, name, err))
	}

	s.log.Debug("destroyed domain %q", name)

	return errs.ErrorOrNil()
}
