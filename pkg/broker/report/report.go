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

// Package report defines the device status document a session publishes
// to its client: the devices the client currently owns, with full
// hardware metadata when the session's policy asks for it.
package report

import (
	"encoding/json"
	"fmt"

	"sigs.k8s.io/yaml"

	"github.com/platformd/platformd/pkg/devices"
)

// Devices is one session's device status document.
type Devices struct {
	// Label is the client label of the session.
	Label string `json:"label"`
	// Version is the policy version the session runs under.
	Version string `json:"version,omitempty"`
	// Devices are the devices the session currently owns, in
	// acquisition order.
	Devices []Device `json:"devices"`
}

// Device is one owned device in the document.
type Device struct {
	// Name identifies the device.
	Name string `json:"name"`
	// Type is the device type.
	Type string `json:"type,omitempty"`
	// Domain is the translation group of the device, if any.
	Domain string `json:"domain,omitempty"`
	// Regions, Interrupts, Clocks and Properties carry the full
	// hardware metadata. Only present when the session's info flag
	// is set.
	Regions    []devices.Region    `json:"regions,omitempty"`
	Interrupts []devices.Interrupt `json:"interrupts,omitempty"`
	Clocks     []devices.Clock     `json:"clocks,omitempty"`
	Properties map[string]string   `json:"properties,omitempty"`
}

// JSON renders the document as JSON.
func (d *Devices) JSON() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("report: failed to render JSON: %w", err)
	}
	return data, nil
}

// YAML renders the document as YAML.
func (d *Devices) YAML() ([]byte, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("report: failed to render YAML: %w", err)
	}
	return data, nil
}
