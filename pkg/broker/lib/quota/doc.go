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

// Package libquota implements budget tracking for consumable session
// resources. The primary interface to libquota is the Guard type.
//
// # Guards
//
// A Guard tracks one resource kind as a granted budget and a used
// amount. Reservations fail with ErrExceeded once the budget would be
// overdrawn; releases return previously reserved amounts to the budget.
// A session composes independent guards, one per resource kind it
// accounts for (memory bytes, capability slots).
//
// Allocation paths must reserve before performing the underlying
// allocation and release only after the underlying resource is fully
// torn down. This ordering makes a guard a reliable upper bound on the
// real resource usage even when an allocation fails halfway through.
//
// Releasing more than is currently reserved is a programmer error and
// panics: a guard that silently underflowed would keep admitting
// allocations past the budget without any caller noticing.
//
// Guards do no locking of their own. Each guard belongs to a single
// session and relies on the session's operation serialization.
package libquota
