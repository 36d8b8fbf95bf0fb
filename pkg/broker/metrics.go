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

package broker

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/platformd/platformd/pkg/healthz"
	"github.com/platformd/platformd/pkg/metrics"
)

var (
	sessionsDesc = prometheus.NewDesc(
		"sessions",
		"Number of open client sessions.",
		nil, nil,
	)
	devicesDesc = prometheus.NewDesc(
		"devices",
		"Number of platform devices by ownership state.",
		[]string{"state"}, nil,
	)
	sessionMemDesc = prometheus.NewDesc(
		"session_mem_bytes",
		"Per-session DMA memory quota in bytes, granted and used.",
		[]string{"session", "amount"}, nil,
	)
	sessionCapsDesc = prometheus.NewDesc(
		"session_caps",
		"Per-session capability quota, granted and used.",
		[]string{"session", "amount"}, nil,
	)
	sessionBuffersDesc = prometheus.NewDesc(
		"session_dma_buffers",
		"Number of live DMA buffers per session.",
		[]string{"session"}, nil,
	)
)

// Metrics and health checks register against package-global
// registries, so they track the most recently created broker instead
// of being tied to one instance.
var active struct {
	sync.Mutex
	once   sync.Once
	broker *Broker
}

func registerInstrumentation(b *Broker) {
	active.Lock()
	active.broker = b
	active.Unlock()

	active.once.Do(func() {
		if err := metrics.Register("broker", collector{},
			metrics.WithGroup("broker")); err != nil {
			log.Error("failed to register broker metrics: %v", err)
		}
		healthz.RegisterHealthChecker("broker", checkHealth)
	})
}

func currentBroker() *Broker {
	active.Lock()
	defer active.Unlock()
	return active.broker
}

func checkHealth() (healthz.Status, error) {
	b := currentBroker()
	if b == nil {
		return healthz.NonFunctional, fmt.Errorf("no broker instance")
	}
	return b.healthCheck()
}

type collector struct{}

// Describe implements the prometheus.Collector interface.
func (collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- sessionsDesc
	ch <- devicesDesc
	ch <- sessionMemDesc
	ch <- sessionCapsDesc
	ch <- sessionBuffersDesc
}

// Collect implements the prometheus.Collector interface.
func (collector) Collect(ch chan<- prometheus.Metric) {
	b := currentBroker()
	if b == nil {
		return
	}
	b.collect(ch)
}

func (b *Broker) collect(ch chan<- prometheus.Metric) {
	b.RLock()
	defer b.RUnlock()

	ch <- prometheus.MustNewConstMetric(sessionsDesc,
		prometheus.GaugeValue, float64(len(b.clients)))

	owned := b.model.Owned()
	ch <- prometheus.MustNewConstMetric(devicesDesc,
		prometheus.GaugeValue, float64(owned), "owned")
	ch <- prometheus.MustNewConstMetric(devicesDesc,
		prometheus.GaugeValue, float64(b.model.Size()-owned), "free")

	for label, c := range b.clients {
		memUsed, memGranted, capsUsed, capsGranted := c.session.QuotaUsage()
		ch <- prometheus.MustNewConstMetric(sessionMemDesc,
			prometheus.GaugeValue, float64(memUsed), label, "used")
		ch <- prometheus.MustNewConstMetric(sessionMemDesc,
			prometheus.GaugeValue, float64(memGranted), label, "granted")
		ch <- prometheus.MustNewConstMetric(sessionCapsDesc,
			prometheus.GaugeValue, float64(capsUsed), label, "used")
		ch <- prometheus.MustNewConstMetric(sessionCapsDesc,
			prometheus.GaugeValue, float64(capsGranted), label, "granted")
		ch <- prometheus.MustNewConstMetric(sessionBuffersDesc,
			prometheus.GaugeValue, float64(c.session.DMABufferCount()), label)
	}
}
