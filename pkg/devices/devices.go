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

// Package devices implements the platform device model: the shared,
// long-lived inventory of devices a board offers, their hardware
// metadata, and their ownership state. Sessions claim and yield devices
// through a Model, which arbitrates exclusive ownership; the board
// inventory itself is parsed from a YAML description.
package devices

import (
	"fmt"

	logger "github.com/platformd/platformd/pkg/log"
)

var log = logger.Get("devices")

// Region is one MMIO register window of a device.
type Region struct {
	// Base is the physical base address of the window.
	Base uint64 `json:"base"`
	// Size is the size of the window in bytes.
	Size uint64 `json:"size"`
}

// String returns the region formatted for diagnostics.
func (r Region) String() string {
	return fmt.Sprintf("[0x%x-0x%x)", r.Base, r.Base+r.Size)
}

// Interrupt is one interrupt line of a device.
type Interrupt struct {
	// Number is the global interrupt line number.
	Number int `json:"number"`
	// Trigger is the optional trigger mode (edge, level).
	Trigger string `json:"trigger,omitempty"`
}

// Clock is one clock feeding a device.
type Clock struct {
	// Name is the clock name.
	Name string `json:"name"`
	// Rate is the optional nominal rate in Hz.
	Rate uint64 `json:"rate,omitempty"`
}

// Device is one schedulable platform device. Its metadata is immutable
// once the device is part of a Model; ownership state is maintained by
// the Model.
type Device struct {
	// Name identifies the device. Unique within a Model.
	Name string `json:"name"`
	// Type is the device type or compatible string.
	Type string `json:"type,omitempty"`
	// Domain is the translation group the device belongs to, empty
	// for untranslated devices with static mappings.
	Domain string `json:"domain,omitempty"`
	// Regions are the MMIO register windows of the device.
	Regions []Region `json:"regions,omitempty"`
	// Interrupts are the interrupt lines of the device.
	Interrupts []Interrupt `json:"interrupts,omitempty"`
	// Clocks are the clocks feeding the device.
	Clocks []Clock `json:"clocks,omitempty"`
	// Properties are free-form extra attributes of the device.
	Properties map[string]string `json:"properties,omitempty"`

	owner *Owner
}

// String returns the device formatted for diagnostics.
func (d *Device) String() string {
	if d == nil {
		return "<nil device>"
	}
	if d.Domain == "" {
		return fmt.Sprintf("device %q (%s)", d.Name, d.Type)
	}
	return fmt.Sprintf("device %q (%s, domain %q)", d.Name, d.Type, d.Domain)
}

// Owner is the identity a session claims devices under. Owners are
// compared by pointer identity; the label only serves diagnostics.
type Owner struct {
	label string
}

// NewOwner creates a new distinct owner identity.
func NewOwner(label string) *Owner {
	return &Owner{label: label}
}

// String returns the owner's label.
func (o *Owner) String() string {
	if o == nil {
		return "<nobody>"
	}
	return o.label
}
