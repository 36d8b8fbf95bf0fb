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

package libquota

import (
	"fmt"

	logger "github.com/platformd/platformd/pkg/log"
)

var log = logger.Get("libquota")

// Guard tracks a consumable budget of one resource kind.
type Guard struct {
	resource string
	granted  uint64
	used     uint64
}

// NewGuard creates a guard for the named resource with the given budget.
func NewGuard(resource string, granted uint64) *Guard {
	return &Guard{
		resource: resource,
		granted:  granted,
	}
}

// Reserve takes the given amount out of the remaining budget. It fails
// with ErrExceeded, leaving the guard unchanged, if the budget would be
// overdrawn.
func (g *Guard) Reserve(amount uint64) error {
	if amount > g.granted-g.used {
		return fmt.Errorf("%w: %s reservation of %d, %d of %d in use",
			ErrExceeded, g.resource, amount, g.used, g.granted)
	}

	g.used += amount
	log.Debug("%s: reserved %d, %d of %d now in use", g.resource, amount, g.used, g.granted)

	return nil
}

// Release returns a previously reserved amount to the budget. Releasing
// more than is currently reserved is a programmer error and panics.
func (g *Guard) Release(amount uint64) {
	if amount > g.used {
		log.Panic("%s: release of %d underflows guard, only %d in use",
			g.resource, amount, g.used)
	}

	g.used -= amount
	log.Debug("%s: released %d, %d of %d now in use", g.resource, amount, g.used, g.granted)
}

// Grant raises the granted budget by the given amount. Sessions receive
// such budget upgrades from their client after running out of quota.
func (g *Guard) Grant(amount uint64) error {
	if g.granted+amount < g.granted {
		return fmt.Errorf("%w: %s grant of %d overflows budget of %d",
			ErrInvalidGrant, g.resource, amount, g.granted)
	}

	g.granted += amount
	log.Info("%s: budget raised by %d to %d", g.resource, amount, g.granted)

	return nil
}

// Granted returns the granted budget.
func (g *Guard) Granted() uint64 {
	return g.granted
}

// Used returns the amount currently reserved.
func (g *Guard) Used() uint64 {
	return g.used
}

// Remaining returns the amount still available for reservation.
func (g *Guard) Remaining() uint64 {
	return g.granted - g.used
}

// String returns the guard formatted for diagnostics.
func (g *Guard) String() string {
	return fmt.Sprintf("%s: %d/%d used", g.resource, g.used, g.granted)
}
