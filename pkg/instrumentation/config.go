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
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/platformd/platformd/pkg/utils"
)

// Config provides runtime configuration for instrumentation.
type Config struct {
	// HTTPEndpoint is the address of our HTTP server. This server hosts
	// all HTTP services of the daemon: Prometheus metrics, health checks
	// and device status reports. An empty endpoint disables the server.
	HTTPEndpoint string `json:"httpEndpoint,omitempty"`
	// PrometheusExport enables exporting /metrics on the HTTP endpoint.
	PrometheusExport bool `json:"prometheusExport,omitempty"`
	// Metrics selects the metrics collectors to enable and to poll.
	Metrics *MetricsConfig `json:"metrics,omitempty"`
	// ReportPeriod is the interval for polling polled metrics collectors.
	ReportPeriod utils.Duration `json:"reportPeriod,omitempty"`
	// TracingCollector is the endpoint for exporting trace data. It can
	// be a plain scheme ("otlp-http", "otlp-grpc") to use the collector
	// library defaults, or a full URL.
	TracingCollector string `json:"tracingCollector,omitempty"`
	// Sampling is the sampling frequency for traces.
	Sampling Sampling `json:"sampling,omitempty"`
}

// MetricsConfig selects enabled and polled metrics collectors by glob
// patterns matched against collector and group names.
type MetricsConfig struct {
	// Enabled lists the glob patterns of enabled collectors.
	Enabled []string `json:"enabled,omitempty"`
	// Polled lists the glob patterns of collectors forced to polled mode.
	Polled []string `json:"polled,omitempty"`
}

// DefaultConfig returns instrumentation configuration with all services
// disabled.
func DefaultConfig() *Config {
	return &Config{
		ReportPeriod: utils.Duration{Duration: 30 * time.Second},
		Sampling:     Disabled,
		Metrics: &MetricsConfig{
			Enabled: []string{"*"},
		},
	}
}

// Sampling defines how often trace samples are taken.
type Sampling float64

const (
	// Disabled is the sampling ratio that disables tracing altogether.
	Disabled Sampling = 0.0
	// Production is the sampling ratio for production environments.
	Production Sampling = 0.1
	// Testing is the sampling ratio for test environments.
	Testing Sampling = 1.0
)

// MarshalJSON is the JSON marshaller for Sampling values.
func (s Sampling) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON is the JSON unmarshaller for Sampling values.
func (s *Sampling) UnmarshalJSON(raw []byte) error {
	var obj interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return instrumentationError("failed to unmarshal Sampling value: %v", err)
	}
	switch v := obj.(type) {
	case string:
		return s.Parse(v)
	case float64:
		*s = Sampling(v)
	default:
		return instrumentationError("invalid Sampling value of type %T: %v", obj, obj)
	}
	return nil
}

// Parse parses the given string to a Sampling value.
func (s *Sampling) Parse(value string) error {
	switch strings.ToLower(value) {
	case "disabled":
		*s = Disabled
	case "production":
		*s = Production
	case "testing":
		*s = Testing
	default:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return instrumentationError("invalid Sampling value %q: %v", value, err)
		}
		*s = Sampling(f)
	}
	return nil
}

// String returns the Sampling value as a string.
func (s Sampling) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Production:
		return "production"
	case Testing:
		return "testing"
	}
	return strconv.FormatFloat(float64(s), 'f', -1, 64)
}

// Ratio returns the sampling ratio for the Sampling value.
func (s Sampling) Ratio() float64 {
	return float64(s)
}

// instrumentationError returns a package-specific formatted error.
func instrumentationError(format string, args ...interface{}) error {
	return fmt.Errorf("instrumentation: "+format, args...)
}
