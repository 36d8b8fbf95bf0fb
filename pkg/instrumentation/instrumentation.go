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
	"sync"

	"github.com/platformd/platformd/pkg/http"
	"github.com/platformd/platformd/pkg/instrumentation/tracing"
	logger "github.com/platformd/platformd/pkg/log"
)

const (
	// ServiceName is our service name in external tracing and metrics services.
	ServiceName = "platformd"
)

// KeyValue aliases tracing.KeyValue, for SetIdentity().
type KeyValue = tracing.KeyValue

var (
	// Our runtime configuration.
	cfg = DefaultConfig()
	// Lock to protect against reconfiguration.
	lock sync.RWMutex
	// Our HTTP server instance.
	srv = http.NewServer()
	// Our logger instance.
	log = logger.NewLogger("instrumentation")

	// Our identity for instrumentation.
	identity []KeyValue

	// Attribute aliases tracing.Attribute(), for SetIdentity().
	Attribute = tracing.Attribute
)

// HTTPServer returns our HTTP server. Other packages can register extra
// handlers on its mux before Start.
func HTTPServer() *http.Server {
	return srv
}

// SetIdentity sets extra process identity attributes for tracing.
func SetIdentity(attrs ...KeyValue) {
	identity = attrs
}

// Start our instrumentation services.
func Start() error {
	log.Info("starting instrumentation services...")

	lock.Lock()
	defer lock.Unlock()

	return start()
}

// Stop our instrumentation services.
func Stop() {
	lock.Lock()
	defer lock.Unlock()

	stop()
}

// Restart our instrumentation services.
func Restart() error {
	lock.Lock()
	defer lock.Unlock()

	stop()
	return start()
}

// Reconfigure our instrumentation services.
func Reconfigure(newCfg *Config) error {
	lock.Lock()
	defer lock.Unlock()

	if newCfg == nil {
		newCfg = DefaultConfig()
	}
	cfg = newCfg

	stop()
	return start()
}

func start() error {
	if err := srv.Start(cfg.HTTPEndpoint); err != nil {
		return instrumentationError("failed to start HTTP server: %v", err)
	}

	err := tracing.Start(
		tracing.WithServiceName(ServiceName),
		tracing.WithCollectorEndpoint(cfg.TracingCollector),
		tracing.WithSamplingRatio(cfg.Sampling.Ratio()),
		tracing.WithIdentity(identity...),
	)
	if err != nil {
		return instrumentationError("failed to start tracing: %v", err)
	}

	if err := startMetrics(); err != nil {
		return instrumentationError("failed to start metrics: %v", err)
	}

	return nil
}

func stop() {
	stopMetrics()
	tracing.Stop()
	srv.Stop()
}
