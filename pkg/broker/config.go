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
	"os"
	"path"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/platformd/platformd/pkg/devices"
	"github.com/platformd/platformd/pkg/dmamem"
	"github.com/platformd/platformd/pkg/instrumentation"
	logger "github.com/platformd/platformd/pkg/log"
	"github.com/platformd/platformd/pkg/utils"
)

// Rule is one policy table entry: the devices and resource budgets
// granted to clients whose label matches the rule.
type Rule struct {
	// Label is the client label pattern the rule applies to, in
	// path.Match syntax. Resolution picks the first matching rule.
	Label string `json:"label"`
	// Devices are the device name patterns the rule grants.
	Devices []string `json:"devices,omitempty"`
	// MemQuota is the DMA memory budget in bytes.
	MemQuota uint64 `json:"memQuota,omitempty"`
	// CapQuota is the device capability budget.
	CapQuota uint64 `json:"capQuota,omitempty"`
	// Info selects full device metadata in status reports.
	Info bool `json:"info,omitempty"`
	// Debug enables diagnostic logging for matched sessions.
	Debug bool `json:"debug,omitempty"`
}

// Matches returns true if the rule applies to the given client label.
func (r *Rule) Matches(label string) bool {
	ok, err := path.Match(r.Label, label)
	return err == nil && ok
}

// Covers returns true if the rule grants the named device.
func (r *Rule) Covers(device string) bool {
	for _, pattern := range r.Devices {
		if ok, err := path.Match(pattern, device); err == nil && ok {
			return true
		}
	}
	return false
}

// String returns the rule formatted for diagnostics.
func (r *Rule) String() string {
	return fmt.Sprintf("policy %q: devices %v, quota %d bytes, %d caps",
		r.Label, r.Devices, r.MemQuota, r.CapQuota)
}

func (r *Rule) verify() error {
	if r == nil {
		return fmt.Errorf("%w: nil policy rule", ErrInvalidConfig)
	}
	if r.Label == "" {
		return fmt.Errorf("%w: policy rule without a label", ErrInvalidConfig)
	}
	for _, pattern := range append([]string{r.Label}, r.Devices...) {
		if _, err := path.Match(pattern, ""); err != nil {
			return fmt.Errorf("%w: bad pattern %q in %s",
				ErrInvalidConfig, pattern, r)
		}
	}
	return nil
}

// BoardConfig locates the platform's device inventory, either a board
// description file or an inline device list.
type BoardConfig struct {
	// Path is a board description file.
	Path string `json:"path,omitempty"`
	// Name identifies an inline board.
	Name string `json:"name,omitempty"`
	// Devices is an inline device inventory.
	Devices []*devices.Device `json:"devices,omitempty"`
}

func (b *BoardConfig) verify() error {
	if b.Path != "" && len(b.Devices) > 0 {
		return fmt.Errorf("%w: both board file and inline devices set",
			ErrInvalidConfig)
	}
	return nil
}

// inventory returns the configured device inventory, nil when the
// board is left unconfigured.
func (b *BoardConfig) inventory() ([]*devices.Device, error) {
	switch {
	case b.Path != "":
		data, err := os.ReadFile(b.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read board %q: %v",
				ErrInvalidConfig, b.Path, err)
		}
		board, err := devices.ParseBoardDevices(data)
		if err != nil {
			return nil, err
		}
		return board.Devices, nil

	case len(b.Devices) > 0:
		return b.Devices, nil
	}
	return nil, nil
}

// HotplugConfig configures platform bus hotplug monitoring.
type HotplugConfig struct {
	// Enabled turns hotplug monitoring on.
	Enabled bool `json:"enabled,omitempty"`
	// Subsystems are the kernel subsystems monitored, "platform" when
	// left empty.
	Subsystems []string `json:"subsystems,omitempty"`
}

func (h *HotplugConfig) subsystems() []string {
	if len(h.Subsystems) > 0 {
		return h.Subsystems
	}
	return []string{"platform"}
}

// Config is the broker's configuration.
type Config struct {
	// Version is the opaque policy version reported to clients.
	Version string `json:"version,omitempty"`
	// IOMMU selects translation domain maintenance for owned devices.
	IOMMU bool `json:"iommu,omitempty"`
	// Board locates the device inventory.
	Board BoardConfig `json:"board,omitempty"`
	// Allocator configures DMA memory allocation.
	Allocator dmamem.AllocatorConfig `json:"allocator,omitempty"`
	// Policies is the policy table.
	Policies []*Rule `json:"policies,omitempty"`
	// Hotplug configures platform bus hotplug monitoring.
	Hotplug HotplugConfig `json:"hotplug,omitempty"`
	// NotifyInterval is the minimum delay between report change
	// delivery rounds, "100ms" when left zero.
	NotifyInterval utils.Duration `json:"notifyInterval,omitempty"`
}

// Verify checks the configuration for errors.
func (c *Config) Verify() error {
	if c == nil {
		return fmt.Errorf("%w: no configuration", ErrInvalidConfig)
	}
	for _, r := range c.Policies {
		if err := r.verify(); err != nil {
			return err
		}
	}
	if err := c.Board.verify(); err != nil {
		return err
	}
	if err := c.Allocator.Verify(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.NotifyInterval.Duration < 0 {
		return fmt.Errorf("%w: negative notify interval %s",
			ErrInvalidConfig, c.NotifyInterval)
	}
	return nil
}

// Resolve returns the first policy rule matching the client label, nil
// if none does.
func (c *Config) Resolve(label string) *Rule {
	for _, r := range c.Policies {
		if r.Matches(label) {
			return r
		}
	}
	return nil
}

func (c *Config) notifyInterval() time.Duration {
	if c.NotifyInterval.Duration > 0 {
		return c.NotifyInterval.Duration
	}
	return defaultNotifyInterval
}

// DaemonConfig is the full on-disk configuration of platformd: the
// broker section plus the ambient logging and instrumentation
// sections.
type DaemonConfig struct {
	// Broker is the broker's own configuration.
	Broker *Config `json:"broker,omitempty"`
	// Log configures logging.
	Log *logger.Config `json:"log,omitempty"`
	// Instrumentation configures metrics and tracing.
	Instrumentation *instrumentation.Config `json:"instrumentation,omitempty"`
}

// ParseDaemonConfig parses a YAML daemon configuration.
func ParseDaemonConfig(data []byte) (*DaemonConfig, error) {
	cfg := &DaemonConfig{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.Broker == nil {
		return nil, fmt.Errorf("%w: no broker section", ErrInvalidConfig)
	}
	if err := cfg.Broker.Verify(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadDaemonConfig reads and parses a YAML daemon configuration file.
func ReadDaemonConfig(file string) (*DaemonConfig, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return ParseDaemonConfig(data)
}
