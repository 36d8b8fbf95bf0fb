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

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAllocator(t *testing.T) {
	// the zero configuration selects the simulated allocator
	a, err := NewAllocator(AllocatorConfig{})
	require.NoError(t, err)
	require.IsType(t, &SimAllocator{}, a)

	a, err = NewAllocator(AllocatorConfig{
		Kind:   KindSim,
		Window: Window{Base: 0x1000, Size: 0x2000},
	})
	require.NoError(t, err)
	buf, err := a.Alloc(0x100, Cached)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1000), buf.BusAddr())
	require.NoError(t, a.Free(buf))

	_, err = NewAllocator(AllocatorConfig{Kind: "bogus"})
	require.ErrorIs(t, err, ErrInvalidKind)

	node := -1
	_, err = NewAllocator(AllocatorConfig{NUMANode: &node})
	require.ErrorIs(t, err, ErrInvalidNode)

	_, err = NewAllocator(AllocatorConfig{Window: Window{Base: 0x1000}})
	require.ErrorIs(t, err, ErrInvalidWindow)
}
