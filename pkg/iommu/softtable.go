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

package iommu

import (
	"fmt"
	"sync"

	"github.com/google/btree"

	logger "github.com/platformd/platformd/pkg/log"
)

var log = logger.Get("iommu")

// SoftTable is an in-memory Provider. It maintains software translation
// tables with the exact semantics sessions rely on from real translation
// hardware: range insertion with overlap detection, exact-match
// withdrawal, and strict use-after-close errors. It backs platforms
// without a programmable IOMMU and all of our tests.
type SoftTable struct {
	sync.Mutex
	domains map[string][]*SoftDomain
}

// SoftDomain is a single software translation table.
type SoftDomain struct {
	sync.Mutex
	table  *SoftTable
	name   string
	ranges *btree.BTreeG[Range]
	closed bool
}

var (
	_ Provider = (*SoftTable)(nil)
	_ Domain   = (*SoftDomain)(nil)
)

// rangeDegree is the btree degree of per-domain range sets. Sessions
// hold at most a few dozen buffers, so a shallow tree is plenty.
const rangeDegree = 8

// NewSoftTable creates an empty software translation table provider.
func NewSoftTable() *SoftTable {
	return &SoftTable{
		domains: make(map[string][]*SoftDomain),
	}
}

// CreateDomain implements the Provider interface.
func (t *SoftTable) CreateDomain(name string) (Domain, error) {
	if name == "" {
		return nil, fmt.Errorf("iommu: empty domain name")
	}

	t.Lock()
	defer t.Unlock()

	d := &SoftDomain{
		table:  t,
		name:   name,
		ranges: btree.NewG(rangeDegree, baseOrder),
	}
	t.domains[name] = append(t.domains[name], d)

	log.Debug("created domain %q (%d live for this name)", name, len(t.domains[name]))

	return d, nil
}

// Live returns the number of live domains in the table.
func (t *SoftTable) Live() int {
	t.Lock()
	defer t.Unlock()

	live := 0
	for _, domains := range t.domains {
		live += len(domains)
	}
	return live
}

// Lookup returns the live domains created for the given name.
func (t *SoftTable) Lookup(name string) []*SoftDomain {
	t.Lock()
	defer t.Unlock()

	domains := make([]*SoftDomain, len(t.domains[name]))
	copy(domains, t.domains[name])
	return domains
}

func (t *SoftTable) drop(d *SoftDomain) {
	t.Lock()
	defer t.Unlock()

	live := t.domains[d.name]
	for i, domain := range live {
		if domain == d {
			t.domains[d.name] = append(live[:i], live[i+1:]...)
			break
		}
	}
	if len(t.domains[d.name]) == 0 {
		delete(t.domains, d.name)
	}
}

func baseOrder(a, b Range) bool {
	return a.Base < b.Base
}

// Name implements the Domain interface.
func (d *SoftDomain) Name() string {
	return d.name
}

// AddRange implements the Domain interface. It fails if the range is
// malformed, the domain is closed, or the range overlaps one already in
// the table.
func (d *SoftDomain) AddRange(r Range) error {
	if err := checkRange(r); err != nil {
		return err
	}

	d.Lock()
	defer d.Unlock()

	if d.closed {
		return fmt.Errorf("%w: domain %q, adding %s", ErrClosed, d.name, r)
	}

	if conflict, ok := d.overlap(r); ok {
		return fmt.Errorf("%w: domain %q, %s overlaps %s", ErrOverlap, d.name, r, conflict)
	}

	d.ranges.ReplaceOrInsert(r)
	log.Debug("domain %q: added range %s", d.name, r)

	return nil
}

// RemoveRange implements the Domain interface. Only exact matches of
// previously added ranges can be withdrawn.
func (d *SoftDomain) RemoveRange(r Range) error {
	if err := checkRange(r); err != nil {
		return err
	}

	d.Lock()
	defer d.Unlock()

	if d.closed {
		return fmt.Errorf("%w: domain %q, removing %s", ErrClosed, d.name, r)
	}

	have, ok := d.ranges.Get(Range{Base: r.Base})
	if !ok || have.Size != r.Size {
		return fmt.Errorf("%w: domain %q, removing %s", ErrUnknownRange, d.name, r)
	}

	d.ranges.Delete(have)
	log.Debug("domain %q: removed range %s", d.name, r)

	return nil
}

// Close implements the Domain interface. A domain must be fully drained
// of ranges before its translation resources are released; closing a
// non-empty or already closed domain is an error.
func (d *SoftDomain) Close() error {
	d.Lock()
	defer d.Unlock()

	if d.closed {
		return fmt.Errorf("%w: domain %q closed twice", ErrClosed, d.name)
	}
	if d.ranges.Len() > 0 {
		return fmt.Errorf("%w: domain %q closed with %d ranges mapped",
			ErrNotEmpty, d.name, d.ranges.Len())
	}

	d.closed = true
	d.table.drop(d)
	log.Debug("closed domain %q", d.name)

	return nil
}

// Closed returns true if the domain has been closed.
func (d *SoftDomain) Closed() bool {
	d.Lock()
	defer d.Unlock()
	return d.closed
}

// Ranges returns the ranges currently mapped in the domain in bus
// address order.
func (d *SoftDomain) Ranges() []Range {
	d.Lock()
	defer d.Unlock()

	ranges := make([]Range, 0, d.ranges.Len())
	d.ranges.Ascend(func(r Range) bool {
		ranges = append(ranges, r)
		return true
	})
	return ranges
}

// HasRange returns true if the exact range is mapped in the domain.
func (d *SoftDomain) HasRange(r Range) bool {
	d.Lock()
	defer d.Unlock()

	have, ok := d.ranges.Get(Range{Base: r.Base})
	return ok && have.Size == r.Size
}

// overlap returns a mapped range overlapping r, if any. Only the
// nearest neighbors by base address can overlap. Callers must hold the
// domain lock.
func (d *SoftDomain) overlap(r Range) (Range, bool) {
	var (
		conflict Range
		found    bool
	)

	d.ranges.DescendLessOrEqual(Range{Base: r.Base}, func(prev Range) bool {
		if prev.Overlaps(r) {
			conflict, found = prev, true
		}
		return false
	})
	if found {
		return conflict, true
	}

	d.ranges.AscendGreaterOrEqual(Range{Base: r.Base}, func(next Range) bool {
		if next.Overlaps(r) {
			conflict, found = next, true
		}
		return false
	})

	return conflict, found
}

func checkRange(r Range) error {
	if r.Size == 0 {
		return fmt.Errorf("%w: %s has zero size", ErrInvalidRange, r)
	}
	if r.End() < r.Base {
		return fmt.Errorf("%w: %s wraps around", ErrInvalidRange, r)
	}
	return nil
}
