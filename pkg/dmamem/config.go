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

package dmamem

import "fmt"

// Kind selects an Allocator implementation.
type Kind string

const (
	// KindSim selects the simulated allocator.
	KindSim Kind = "sim"
	// KindHost selects the host-backed allocator.
	KindHost Kind = "host"
)

// AllocatorConfig is the allocator section of the broker configuration.
type AllocatorConfig struct {
	// Kind selects the allocator implementation, KindSim by default.
	Kind Kind `json:"kind,omitempty"`
	// Window is the bus address aperture buffers are carved from. The
	// zero window selects DefaultWindow.
	Window Window `json:"window,omitempty"`
	// NUMANode binds host buffer memory to the given NUMA node.
	NUMANode *int `json:"numaNode,omitempty"`
	// NoMemoryLocking disables locking host buffer pages into memory.
	NoMemoryLocking bool `json:"noMemoryLocking,omitempty"`
}

// Verify checks the configuration for errors.
func (c *AllocatorConfig) Verify() error {
	switch c.Kind {
	case "", KindSim, KindHost:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidKind, c.Kind)
	}
	if c.NUMANode != nil && *c.NUMANode < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidNode, *c.NUMANode)
	}
	if c.Window != (Window{}) && c.Window.Size == 0 {
		return fmt.Errorf("%w: %s", ErrInvalidWindow, c.Window)
	}
	return nil
}
