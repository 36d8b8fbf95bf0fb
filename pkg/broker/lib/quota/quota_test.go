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

package libquota_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	libquota "github.com/platformd/platformd/pkg/broker/lib/quota"
)

func TestReserveRelease(t *testing.T) {
	type testCase struct {
		name    string
		granted uint64
		reserve []uint64
		release []uint64
		used    uint64
	}

	for _, tc := range []*testCase{
		{
			name:    "single reservation",
			granted: 64 * 1024,
			reserve: []uint64{32 * 1024},
			used:    32 * 1024,
		},
		{
			name:    "budget fully consumed",
			granted: 4,
			reserve: []uint64{1, 1, 1, 1},
			used:    4,
		},
		{
			name:    "every reservation released",
			granted: 64 * 1024,
			reserve: []uint64{16 * 1024, 32 * 1024, 8 * 1024},
			release: []uint64{16 * 1024, 32 * 1024, 8 * 1024},
			used:    0,
		},
		{
			name:    "zero reservation",
			granted: 0,
			reserve: []uint64{0},
			used:    0,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			g := libquota.NewGuard("memory", tc.granted)
			for _, amount := range tc.reserve {
				require.NoError(t, g.Reserve(amount))
			}
			for _, amount := range tc.release {
				g.Release(amount)
			}
			require.Equal(t, tc.used, g.Used())
			require.Equal(t, tc.granted, g.Granted())
			require.Equal(t, tc.granted-tc.used, g.Remaining())
		})
	}
}

func TestReserveExceeded(t *testing.T) {
	g := libquota.NewGuard("memory", 64*1024)

	err := g.Reserve(100 * 1024)
	require.ErrorIs(t, err, libquota.ErrExceeded)
	require.Equal(t, uint64(0), g.Used(), "failed reservation leaves guard unchanged")

	require.NoError(t, g.Reserve(64*1024))
	err = g.Reserve(1)
	require.ErrorIs(t, err, libquota.ErrExceeded)
	require.Equal(t, uint64(64*1024), g.Used())
}

func TestReleaseUnderflowPanics(t *testing.T) {
	g := libquota.NewGuard("caps", 4)
	require.NoError(t, g.Reserve(2))

	require.Panics(t, func() {
		g.Release(3)
	})
}

func TestGrant(t *testing.T) {
	g := libquota.NewGuard("memory", 64*1024)
	require.NoError(t, g.Reserve(64*1024))
	require.ErrorIs(t, g.Reserve(1), libquota.ErrExceeded)

	require.NoError(t, g.Grant(32*1024))
	require.NoError(t, g.Reserve(32*1024))
	require.Equal(t, uint64(96*1024), g.Used())
	require.Equal(t, uint64(0), g.Remaining())

	err := g.Grant(^uint64(0))
	require.ErrorIs(t, err, libquota.ErrInvalidGrant)
	require.Equal(t, uint64(96*1024), g.Granted())
}
