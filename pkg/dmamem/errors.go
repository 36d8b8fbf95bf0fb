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

var (
	ErrNoMemory      = fmt.Errorf("dmamem: out of memory")
	ErrInvalidSize   = fmt.Errorf("dmamem: invalid size")
	ErrInvalidPolicy = fmt.Errorf("dmamem: invalid cache policy")
	ErrInvalidWindow = fmt.Errorf("dmamem: invalid window")
	ErrInvalidKind   = fmt.Errorf("dmamem: invalid allocator kind")
	ErrInvalidNode   = fmt.Errorf("dmamem: invalid NUMA node")
	ErrUnknownBuffer = fmt.Errorf("dmamem: unknown buffer")
)
