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

package instrumentation

import (
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platformd/platformd/pkg/metrics"

	// register standard process, runtime and build collectors
	_ "github.com/platformd/platformd/pkg/metrics/collectors"
)

const (
	// metricsNamespace is the common prefix of our exported metrics.
	metricsNamespace = "platformd"
	// metricsPath is where /metrics is served on our HTTP endpoint.
	metricsPath = "/metrics"
)

// Our active metrics gatherer, nil when metrics are disabled.
var gatherer *metrics.Gatherer

// startMetrics configures the default metrics registry according to the
// active configuration and mounts a Prometheus scrape handler for it.
func startMetrics() error {
	if !cfg.PrometheusExport {
		log.Info("Prometheus export disabled, metrics collection off")
		return nil
	}

	var enabled, polled []string
	if cfg.Metrics != nil {
		enabled, polled = cfg.Metrics.Enabled, cfg.Metrics.Polled
	}

	g, err := metrics.NewGatherer(
		metrics.WithNamespace(metricsNamespace),
		metrics.WithMetrics(enabled, polled),
		metrics.WithPollInterval(cfg.ReportPeriod.Duration),
	)
	if err != nil {
		return err
	}

	gatherer = g
	srv.GetMux().Handle(metricsPath, promhttp.HandlerFor(
		gatherer,
		promhttp.HandlerOpts{
			ErrorLog:      log,
			ErrorHandling: promhttp.ContinueOnError,
		},
	))

	return nil
}

// stopMetrics unmounts the scrape handler and stops polling.
func stopMetrics() {
	if gatherer == nil {
		return
	}

	srv.GetMux().Unregister(metricsPath)
	gatherer.Stop()
	gatherer = nil
}
