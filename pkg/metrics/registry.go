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
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is a collection of collector groups.
type Registry struct {
	groups map[string]*Group
	state  State
}

// RegisterOptions are options for registering a collector.
type RegisterOptions struct {
	group string
	copts []CollectorOption
}

// RegisterOption is an option for registering a collector.
type RegisterOption func(*RegisterOptions)

// WithGroup registers a collector into the named group.
func WithGroup(name string) RegisterOption {
	return func(o *RegisterOptions) {
		if name == "" {
			name = DefaultGroup
		}
		o.group = name
	}
}

// WithCollectorOptions registers a collector with the given options.
func WithCollectorOptions(opts ...CollectorOption) RegisterOption {
	return func(o *RegisterOptions) {
		o.copts = append(o.copts, opts...)
	}
}

// NewRegistry creates a new registry.
func NewRegistry() *Registry {
	return &Registry{
		groups: make(map[string]*Group),
	}
}

// Register registers a collector with the registry.
func (r *Registry) Register(name string, collector prometheus.Collector, opts ...RegisterOption) error {
	options := &RegisterOptions{group: DefaultGroup}
	for _, o := range opts {
		o(options)
	}

	grp, ok := r.groups[options.group]
	if !ok {
		grp = newGroup(options.group)
		r.groups[grp.name] = grp
	}

	grp.add(NewCollector(name, collector, options.copts...))
	r.state = 0

	return nil
}

// Configure enables the collectors matching any of the given globs. Any
// collector matching any glob in polled is forced to polled mode. It is
// an error if a glob matches no collector at all.
func (r *Registry) Configure(enabled, polled []string) (State, error) {
	log.Info("configuring registry with collectors enabled=[%s], polled=[%s]",
		strings.Join(enabled, ","), strings.Join(polled, ","))

	match := make(map[string]struct{})
	r.state = 0
	for _, g := range r.groups {
		r.state |= g.configure(enabled, polled, match)
	}

	var unmatched []string
	for _, glob := range append(enabled, polled...) {
		if _, ok := match[glob]; !ok {
			unmatched = append(unmatched, glob)
		}
	}

	if len(unmatched) > 0 {
		return r.state, fmt.Errorf("no collectors match globs %s", strings.Join(unmatched, ", "))
	}

	return r.state, nil
}

// Poll all enabled collectors which are in polled mode.
func (r *Registry) Poll() {
	wg := sync.WaitGroup{}
	for _, g := range r.groups {
		g := g
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.poll()
		}()
	}
	wg.Wait()
}

// State returns the collective state of all collectors in the registry.
func (r *Registry) State() State {
	if r.state == 0 {
		for _, g := range r.groups {
			r.state |= g.state()
		}
	}
	return r.state
}

// Gatherer returns a gatherer for the registry, configured with the given
// options.
func (r *Registry) Gatherer(opts ...GathererOption) (*Gatherer, error) {
	return r.NewGatherer(opts...)
}

func prefixedRegisterer(prefix string, reg prometheus.Registerer) prometheus.Registerer {
	if prefix != "" {
		return prometheus.WrapRegistererWithPrefix(prefix+"_", reg)
	}
	return reg
}

var defaultRegistry *Registry

// Default returns the default registry.
func Default() *Registry {
	if defaultRegistry == nil {
		defaultRegistry = NewRegistry()
	}
	return defaultRegistry
}

// Register registers a collector with the default registry.
func Register(name string, collector prometheus.Collector, opts ...RegisterOption) error {
	return Default().Register(name, collector, opts...)
}

// MustRegister registers a collector with the default registry, panicking
// on failure.
func MustRegister(name string, collector prometheus.Collector, opts ...RegisterOption) {
	if err := Register(name, collector, opts...); err != nil {
		panic(err)
	}
}

// NewGatherer creates a new gatherer for the default registry.
func NewGatherer(opts ...GathererOption) (*Gatherer, error) {
	return Default().Gatherer(opts...)
}
