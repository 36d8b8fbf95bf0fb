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

package metrics

import (
	"path"

	"github.com/prometheus/client_golang/prometheus"

	logger "github.com/platformd/platformd/pkg/log"
)

var (
	log  = logger.Get("metrics")
	clog = logger.Get("collector")
)

// State represents the configuration of a collector or a group of collectors.
type State int

const (
	// Enabled marks a collector as enabled.
	Enabled State = 1 << iota
	// Polled marks a collector as polled. A polled collector serves cached
	// metrics gathered during the last polling cycle. This suits metrics
	// which are too expensive to produce on every external scrape.
	Polled
	// NamespacePrefix marks a collector's metrics for prefixing with a
	// common namespace.
	NamespacePrefix
	// SubsystemPrefix marks a collector's metrics for prefixing with the
	// name of the group the collector belongs to.
	SubsystemPrefix

	// DefaultGroup is the name of the default group, an alias for "".
	DefaultGroup = "default"
)

// IsEnabled returns true if the state has the Enabled bit set.
func (s State) IsEnabled() bool {
	return s&Enabled != 0
}

// IsPolled returns true if the state has the Polled bit set.
func (s State) IsPolled() bool {
	return s&Polled != 0
}

// NeedsNamespace returns true if the state has the NamespacePrefix bit set.
func (s State) NeedsNamespace() bool {
	return s&NamespacePrefix != 0
}

// NeedsSubsystem returns true if the state has the SubsystemPrefix bit set.
func (s State) NeedsSubsystem() bool {
	return s&SubsystemPrefix != 0
}

// String returns a string representation of the state.
func (s State) String() string {
	str := "disabled"
	if s.IsEnabled() {
		str = "enabled"
	}
	if s.IsPolled() {
		str += ",polled"
	}
	if s.NeedsNamespace() {
		str += ",namespace-prefixed"
	}
	if s.NeedsSubsystem() {
		str += ",subsystem-prefixed"
	}
	return str
}

// Collector is a registered prometheus.Collector together with its state.
type Collector struct {
	collector prometheus.Collector
	name      string
	group     string
	State
	lastpoll []prometheus.Metric
}

// CollectorOption is an option for a Collector.
type CollectorOption func(*Collector)

// WithoutNamespace disables namespace prefixing for a collector.
func WithoutNamespace() CollectorOption {
	return func(c *Collector) {
		c.State &^= NamespacePrefix
	}
}

// WithoutSubsystem disables group prefixing for a collector.
func WithoutSubsystem() CollectorOption {
	return func(c *Collector) {
		c.State &^= SubsystemPrefix
	}
}

// WithPolled marks a collector polled.
func WithPolled() CollectorOption {
	return func(c *Collector) {
		c.State |= Polled
	}
}

// NewCollector wraps the given prometheus collector under the given name.
func NewCollector(name string, collector prometheus.Collector, options ...CollectorOption) *Collector {
	c := &Collector{
		name:      name,
		collector: collector,
		State:     Enabled | NamespacePrefix | SubsystemPrefix,
	}

	for _, o := range options {
		o(c)
	}

	return c
}

// Name returns the full group-qualified name of the collector.
func (c *Collector) Name() string {
	return c.group + "/" + c.name
}

// Matches returns true if the collector matches the given glob pattern.
// A pattern is matched against the group, the plain name, and the full
// group-qualified name of the collector.
func (c *Collector) Matches(glob string) bool {
	for _, name := range []string{c.group, c.name, c.Name()} {
		if glob == name {
			return true
		}
		ok, err := path.Match(glob, name)
		if err != nil {
			log.Warnf("invalid glob pattern %q (matching %s): %v", glob, name, err)
			return false
		}
		if ok {
			return true
		}
	}
	return false
}

// Describe implements the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.collector.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	switch {
	case !c.IsEnabled():
		return

	case !c.IsPolled():
		clog.Debug("collecting %q", c.Name())
		c.collector.Collect(ch)

	default:
		clog.Debug("collecting (polled) %q", c.Name())
		for _, m := range c.lastpoll {
			ch <- m
		}
	}
}

// Poll caches the current metrics of the collector if it is polled.
func (c *Collector) Poll() {
	if !c.IsEnabled() || !c.IsPolled() {
		return
	}

	clog.Debug("polling %q", c.Name())

	ch := make(chan prometheus.Metric, 32)
	go func() {
		c.collector.Collect(ch)
		close(ch)
	}()

	polled := make([]prometheus.Metric, 0, 16)
	for m := range ch {
		polled = append(polled, m)
	}

	c.lastpoll = polled
}

// Enable enables or disables the collector.
func (c *Collector) Enable(state bool) {
	if state {
		c.State |= Enabled
	} else {
		c.State &^= Enabled
	}
}

// Polled marks the collector polled or normally collected.
func (c *Collector) Polled(state bool) {
	if state {
		c.State |= Polled
	} else {
		c.State &^= Polled
	}
}

func (c *Collector) state() State {
	return c.State
}
