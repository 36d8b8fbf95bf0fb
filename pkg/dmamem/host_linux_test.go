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

//go:build linux

package dmamem

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHostAllocation(t *testing.T) {
	a, err := NewHostAllocator(Window{})
	require.NoError(t, err)

	pageSize := uint64(os.Getpagesize())

	buf, err := a.Alloc(1, Cached)
	require.NoError(t, err)
	require.Equal(t, DefaultWindow.Base, buf.BusAddr())
	require.Equal(t, pageSize, buf.Size(), "allocations round up to page size")

	// the backing memory is writable for the full allocated size
	mem := buf.Bytes()
	require.Len(t, mem, int(pageSize))
	mem[0], mem[len(mem)-1] = 0xa5, 0x5a
	require.Equal(t, byte(0xa5), mem[0])
	require.Equal(t, byte(0x5a), mem[len(mem)-1])

	require.Equal(t, 1, a.Live())
	require.Equal(t, pageSize, a.UsedBytes())

	require.NoError(t, a.Free(buf))
	require.Equal(t, 0, a.Live())
	require.ErrorIs(t, a.Free(buf), ErrUnknownBuffer)
}

func TestHostAllocationUnlocked(t *testing.T) {
	a, err := NewHostAllocator(Window{}, WithoutMemoryLocking())
	require.NoError(t, err)

	buf, err := a.Alloc(2*uint64(os.Getpagesize()), Uncached)
	require.NoError(t, err)
	require.NotNil(t, buf.Bytes())
	require.NoError(t, a.Free(buf))
}
