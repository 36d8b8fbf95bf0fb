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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	model "github.com/prometheus/client_model/go"
)

const (
	// MinPollInterval is the most frequent allowed polling interval.
	MinPollInterval = 5 * time.Second
	// DefaultPollInterval is the default interval for polling collectors.
	DefaultPollInterval = 30 * time.Second
)

// Gatherer is a prometheus gatherer for a registry. It takes care of
// registering the collectors of the registry with the right prefixes and
// of periodically polling collectors in polled mode.
type Gatherer struct {
	*prometheus.Registry
	r            *Registry
	namespace    string
	ticker       *time.Ticker
	pollInterval time.Duration
	stopCh       chan chan struct{}
	lock         sync.Mutex
	enabled      []string
	polled       []string
}

// GathererOption is an option for a Gatherer.
type GathererOption func(*Gatherer)

// WithNamespace sets the common namespace prefix for gathered collectors.
func WithNamespace(namespace string) GathererOption {
	return func(g *Gatherer) {
		g.namespace = namespace
	}
}

// WithPollInterval sets the polling interval for the gatherer. Intervals
// below MinPollInterval are clamped to it.
func WithPollInterval(interval time.Duration) GathererOption {
	return func(g *Gatherer) {
		if interval < MinPollInterval {
			g.pollInterval = MinPollInterval
		} else {
			g.pollInterval = interval
		}
	}
}

// WithoutPolling disables internally triggered polling for the gatherer.
func WithoutPolling() GathererOption {
	return func(g *Gatherer) {
		g.pollInterval = 0
	}
}

// WithMetrics sets which groups or collectors are enabled and which of
// them are polled.
func WithMetrics(enabled, polled []string) GathererOption {
	return func(g *Gatherer) {
		g.enabled = enabled
		g.polled = polled
	}
}

// NewGatherer creates a new gatherer for the registry.
func (r *Registry) NewGatherer(opts ...GathererOption) (*Gatherer, error) {
	g := &Gatherer{
		r:            r,
		Registry:     prometheus.NewPedanticRegistry(),
		pollInterval: DefaultPollInterval,
	}

	for _, o := range opts {
		o(g)
	}

	if _, err := r.Configure(g.enabled, g.polled); err != nil {
		return nil, err
	}

	nsg := prefixedRegisterer(g.namespace, g.Registry)

	for _, grp := range r.groups {
		if err := grp.register(g.Registry, nsg); err != nil {
			return nil, err
		}
	}

	g.start()

	return g, nil
}

// Gather implements the prometheus.Gatherer interface.
func (g *Gatherer) Gather() ([]*model.MetricFamily, error) {
	g.Block()
	defer g.Unblock()

	return g.Registry.Gather()
}

// Block the gatherer from polling collectors.
func (g *Gatherer) Block() {
	g.lock.Lock()
}

// Unblock the gatherer to poll collectors again.
func (g *Gatherer) Unblock() {
	g.lock.Unlock()
}

// Poll all enabled collectors in polled mode in the registry.
func (g *Gatherer) Poll() {
	g.Block()
	g.r.Poll()
	g.Unblock()
}

// Stop stops periodic polling.
func (g *Gatherer) Stop() {
	g.Block()
	defer g.Unblock()

	if g.stopCh == nil {
		return
	}

	doneCh := make(chan struct{})
	g.stopCh <- doneCh
	<-doneCh

	g.stopCh = nil
}

func (g *Gatherer) start() {
	g.Block()
	defer g.Unblock()

	if !g.r.State().IsPolled() {
		log.Info("no polling (no collectors in polled mode)")
		return
	}

	if g.pollInterval == 0 {
		log.Info("no polling (internally triggered polling disabled)")
		return
	}

	log.Info("will poll periodically (some collectors in polled mode)")

	g.stopCh = make(chan chan struct{})
	g.ticker = time.NewTicker(g.pollInterval)

	g.r.Poll()
	go g.poller()
}

func (g *Gatherer) poller() {
	for {
		select {
		case doneCh := <-g.stopCh:
			g.ticker.Stop()
			g.ticker = nil
			close(doneCh)
			return
		case <-g.ticker.C:
			g.Poll()
		}
	}
}
