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

package session

import "fmt"

var (
	// ErrNotFound is returned for devices unknown to the model.
	ErrNotFound = fmt.Errorf("session: not found")
	// ErrAlreadyOwned is returned when a device is held by any owner.
	ErrAlreadyOwned = fmt.Errorf("session: device already owned")
	// ErrPolicyDenied is returned for devices the policy withholds.
	ErrPolicyDenied = fmt.Errorf("session: denied by policy")
	// ErrQuotaExceeded is returned when a quota budget is exhausted.
	ErrQuotaExceeded = fmt.Errorf("session: quota exceeded")
	// ErrOutOfMemory is returned when the DMA allocator is exhausted.
	ErrOutOfMemory = fmt.Errorf("session: out of memory")
	// ErrAmbiguous is returned when a single-device request matches
	// more than one device.
	ErrAmbiguous = fmt.Errorf("session: ambiguous device selection")
	// ErrInternal flags invariant violations. Continuing past one
	// could leave a device able to address foreign memory, so the
	// triggering operation fails instead.
	ErrInternal = fmt.Errorf("session: internal error")
)
