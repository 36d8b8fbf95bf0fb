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

// Package metrics provides a thin framework for collecting and exporting
// metrics, implemented as a set of wrappers around prometheus types. The
// wrappers enforce metrics namespacing, allow grouping related collectors,
// let the set of collected metrics be reconfigured at runtime, and support
// periodic polling of metrics which are too expensive to produce on every
// external scrape.
//
// Collectors are registered under a name, optionally into a named group.
// A Gatherer created for a registry selects collectors using glob patterns
// matched against collector and group names, and serves as the gathering
// point for a promhttp handler:
//
//	metrics.MustRegister("requests", requestCounter,
//	    metrics.WithGroup("session"))
//	metrics.MustRegister("slow", expensiveCollector,
//	    metrics.WithGroup("session"),
//	    metrics.WithCollectorOptions(metrics.WithPolled()))
//
//	g, err := metrics.NewGatherer(
//	    metrics.WithNamespace("platformd"),
//	    metrics.WithMetrics([]string{"session/*"}, nil),
//	)
//	if err != nil {
//	    ...
//	}
//	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
package metrics
