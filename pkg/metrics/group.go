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
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Group is a named collection of collectors which can be enabled,
// disabled and prefixed together.
type Group struct {
	name       string
	collectors []*Collector
}

func newGroup(name string) *Group {
	return &Group{name: name}
}

// Describe implements the prometheus.Collector interface.
func (g *Group) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range g.collectors {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (g *Group) Collect(ch chan<- prometheus.Metric) {
	clog.Debug("collecting group %s", g.name)
	for _, c := range g.collectors {
		c.Collect(ch)
	}
}

func (g *Group) poll() {
	if !g.state().IsPolled() {
		return
	}

	clog.Debug("polling group %s", g.name)

	wg := sync.WaitGroup{}
	for _, c := range g.collectors {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Poll()
		}()
	}
	wg.Wait()
}

func (g *Group) state() State {
	var state State
	for _, c := range g.collectors {
		state |= c.state()
	}
	return state
}

func (g *Group) add(c *Collector) {
	c.group = g.name
	g.collectors = append(g.collectors, c)
	log.Info("registered collector %q", c.Name())
}

// register registers the collectors of the group with the plain or the
// namespaced registerer, further prefixed by the group name for collectors
// which want a subsystem prefix.
func (g *Group) register(plain, ns prometheus.Registerer) error {
	var (
		plainGrp = prefixedRegisterer(g.name, plain)
		nsGrp    = prefixedRegisterer(g.name, ns)
	)

	for _, c := range g.collectors {
		var reg prometheus.Registerer

		switch {
		case c.NeedsNamespace() && c.NeedsSubsystem():
			reg = nsGrp
		case c.NeedsNamespace():
			reg = ns
		case c.NeedsSubsystem():
			reg = plainGrp
		default:
			reg = plain
		}

		if err := reg.Register(c); err != nil {
			return err
		}
	}

	return nil
}

// configure enables the collectors of the group matching any of the given
// globs, recording matched globs in match.
func (g *Group) configure(enabled, polled []string, match map[string]struct{}) State {
	for _, c := range g.collectors {
		c.Enable(false)
	}

	state := State(0)
	for _, c := range g.collectors {
		for _, glob := range enabled {
			if c.Matches(glob) {
				match[glob] = struct{}{}
				c.Enable(true)
				log.Info("collector %q now %s", c.Name(), c.state())
			}
			state |= c.state()
		}
		for _, glob := range polled {
			if c.Matches(glob) {
				match[glob] = struct{}{}
				c.Enable(true)
				if !c.IsPolled() {
					// There is no way back: once forced to polled
					// mode a collector stays polled.
					log.Warn("permanently forcing collector %q to polled mode", c.Name())
				}
				c.Polled(true)
				log.Info("collector %q now %s", c.Name(), c.state())
			}
			state |= c.state()
		}
	}

	log.Info("group %q now %s", g.name, state)

	return state
}
