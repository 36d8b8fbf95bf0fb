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

package devices

import (
	"fmt"
	"os"

	idset "github.com/intel/goresctrl/pkg/utils"
	"sigs.k8s.io/yaml"
)

// Board is a YAML-parsable description of a platform's device
// inventory.
type Board struct {
	// Name identifies the board.
	Name string `json:"name,omitempty"`
	// Devices are the devices the board offers.
	Devices []*Device `json:"devices"`
}

// ParseBoard parses a YAML board description into a device model.
func ParseBoard(data []byte) (*Model, error) {
	board := &Board{}
	if err := yaml.UnmarshalStrict(data, board); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBoard, err)
	}

	m, err := NewModel(board.Devices...)
	if err != nil {
		return nil, err
	}

	log.Info("board %q: %d devices", board.Name, m.Size())

	return m, nil
}

// ReadBoard reads and parses a YAML board description file.
func ReadBoard(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBoard, err)
	}
	return ParseBoard(data)
}

// ParseBoardDevices parses a YAML board description into its device
// list without building a model. For offline inspection tools.
func ParseBoardDevices(data []byte) (*Board, error) {
	board := &Board{}
	if err := yaml.UnmarshalStrict(data, board); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBoard, err)
	}
	if err := validate(board.Devices); err != nil {
		return nil, err
	}
	return board, nil
}

// validate checks a device set for consistency: unique nonempty names,
// sane MMIO regions, and no interrupt line wired to two devices.
func validate(devs []*Device) error {
	names := make(map[string]struct{}, len(devs))
	irqs := idset.NewIDSet()

	for _, d := range devs {
		if d == nil {
			return fmt.Errorf("%w: nil device", ErrInvalidBoard)
		}
		if d.Name == "" {
			return fmt.Errorf("%w: device without a name", ErrInvalidBoard)
		}
		if _, dup := names[d.Name]; dup {
			return fmt.Errorf("%w: duplicate device %q", ErrInvalidBoard, d.Name)
		}
		names[d.Name] = struct{}{}

		for _, r := range d.Regions {
			if r.Size == 0 || r.Base+r.Size < r.Base {
				return fmt.Errorf("%w: %q: bad region %s", ErrInvalidBoard, d.Name, r)
			}
		}
		for _, irq := range d.Interrupts {
			if irq.Number < 0 {
				return fmt.Errorf("%w: %q: bad interrupt %d",
					ErrInvalidBoard, d.Name, irq.Number)
			}
			id := idset.ID(irq.Number)
			if irqs.Has(id) {
				return fmt.Errorf("%w: %q: interrupt %d wired twice",
					ErrInvalidBoard, d.Name, irq.Number)
			}
			irqs.Add(id)
		}
		for _, clk := range d.Clocks {
			if clk.Name == "" {
				return fmt.Errorf("%w: %q: clock without a name",
					ErrInvalidBoard, d.Name)
			}
		}
	}

	return nil
}
