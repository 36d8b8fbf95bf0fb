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
	"github.com/platformd/platformd/pkg/broker/report"
)

// DevicesReport returns the client's device status document. The
// document is cached and only regenerated after an ownership or policy
// change invalidated it. Callers must treat the returned document as
// read-only.
func (s *Session) DevicesReport() *report.Devices {
	s.Lock()
	defer s.Unlock()

	if !s.dirty && s.cached != nil {
		return s.cached
	}

	doc := &report.Devices{
		Label:   s.label,
		Version: s.version,
		Devices: []report.Device{},
	}

	for _, g := range s.order {
		entry := report.Device{Name: g.device}
		if dev, ok := s.model.Lookup(g.device); ok {
			entry.Type = dev.Type
			entry.Domain = dev.Domain
			if s.info {
				entry.Regions = dev.Regions
				entry.Interrupts = dev.Interrupts
				entry.Clocks = dev.Clocks
				entry.Properties = dev.Properties
			}
		}
		doc.Devices = append(doc.Devices, entry)
	}

	s.cached, s.dirty = doc, false

	s.log.Debug("regenerated device report, %d devices", len(doc.Devices))

	return doc
}
