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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNodeMask(t *testing.T) {
	mask, err := nodeMask(0)
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, mask)

	mask, err = nodeMask(5)
	require.NoError(t, err)
	require.Equal(t, []uint64{1 << 5}, mask)

	mask, err = nodeMask(64)
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 1}, mask)

	mask, err = nodeMask(130)
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 0, 1 << 2}, mask)

	_, err = nodeMask(-1)
	require.ErrorIs(t, err, ErrInvalidNode)
}
