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

package hotplug

import (
	"io"
	"path"
	"slices"
)

// MonitorOption is an option which can be applied to a Monitor.
type MonitorOption func(*Monitor)

// WithSubsystems restricts monitoring to events of the given kernel
// subsystems.
func WithSubsystems(subsystems ...string) MonitorOption {
	return func(m *Monitor) {
		m.subsystems = append(m.subsystems, subsystems...)
	}
}

// WithActions restricts monitoring to events with the given actions.
func WithActions(actions ...Action) MonitorOption {
	return func(m *Monitor) {
		m.actions = append(m.actions, actions...)
	}
}

// WithPropertyGlobs filters events by property glob patterns. Patterns
// within a map have AND semantics: the map matches an event if every
// key's pattern matches the corresponding property. Multiple maps have
// OR semantics: one matching map passes the event through.
func WithPropertyGlobs(globs ...map[string]string) MonitorOption {
	return func(m *Monitor) {
		m.globs = append(m.globs, globs...)
	}
}

// WithReader makes the monitor read raw event data from the given
// source instead of the kernel. Tests use it to inject synthetic
// events.
func WithReader(r io.ReadCloser) MonitorOption {
	return func(m *Monitor) {
		m.r = NewEventReaderFromReader(r)
	}
}

// Monitor monitors kernel hotplug events, delivering the ones passing
// its filters.
type Monitor struct {
	r          *EventReader
	subsystems []string
	actions    []Action
	globs      []map[string]string
}

// NewMonitor creates a hotplug monitor with the given options.
func NewMonitor(options ...MonitorOption) (*Monitor, error) {
	m := &Monitor{}
	for _, o := range options {
		o(m)
	}

	if m.r == nil {
		r, err := NewEventReader()
		if err != nil {
			return nil, err
		}
		m.r = r
	}

	return m, nil
}

// Start starts event monitoring and delivery. The events channel is
// closed once the event source is exhausted or the monitor stopped.
func (m *Monitor) Start(events chan *Event) {
	if len(m.subsystems) == 0 && len(m.actions) == 0 && len(m.globs) == 0 {
		go m.reader(events)
		return
	}

	unfiltered := make(chan *Event, 64)
	go m.filterer(unfiltered, events)
	go m.reader(unfiltered)
}

// Stop stops event monitoring.
func (m *Monitor) Stop() error {
	return m.r.Close()
}

func (m *Monitor) reader(events chan<- *Event) {
	for {
		evt, err := m.r.Read()
		if err != nil {
			if err != io.EOF {
				log.Errorf("failed to read hotplug event: %v", err)
			}
			m.r.Close()
			close(events)
			return
		}

		events <- evt
	}
}

func (m *Monitor) filterer(unfiltered <-chan *Event, filtered chan<- *Event) {
	var stuck bool

	for evt := range unfiltered {
		if !m.filter(evt) {
			continue
		}

		select {
		case filtered <- evt:
			if stuck {
				log.Warnf("receiver reading again, delivering events (%s)...", evt)
				stuck = false
			}
		default:
			if !stuck {
				log.Warnf("receiver stuck, dropping events (%s)...", evt)
				stuck = true
			}
		}
	}

	close(filtered)
}

func (m *Monitor) filter(evt *Event) bool {
	if len(m.subsystems) > 0 && !slices.Contains(m.subsystems, evt.Subsystem) {
		return false
	}
	if len(m.actions) > 0 && !slices.Contains(m.actions, evt.Action) {
		return false
	}
	if len(m.globs) == 0 {
		return true
	}

	for _, glob := range m.globs {
		match := true
		for k, p := range glob {
			ok, err := path.Match(p, evt.Properties[k])
			if err != nil {
				log.Errorf("failed to match event property %q=%q by pattern %q: %v",
					k, evt.Properties[k], p, err)
				delete(glob, k)
				continue
			}
			if !ok {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}

	return false
}
