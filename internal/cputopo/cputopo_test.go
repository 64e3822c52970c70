/*
 * Copyright (c) 2024, the amd-gres-builder authors.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cputopo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiscover(t *testing.T) {
	lscpuOut := `# The following is the parsable format, which can be fed to other
# programs. Each different item in every column has an unique ID
# starting usually from zero.
# NODE,CPU
0,0
0,1
0,2
0,3
1,4
1,5
1,6
1,7
`
	execf := func(_ context.Context, name string, args ...string) ([]byte, error) {
		require.Equal(t, "lscpu", name)
		require.Equal(t, []string{"--parse=NODE,CPU"}, args)
		return []byte(lscpuOut), nil
	}

	topo, err := Discover(context.Background(), execf)
	require.NoError(t, err)
	require.Equal(t, 8, topo.CPUCount())

	cores, ok := topo.CPURange(0)
	require.True(t, ok)
	require.Equal(t, "0-3", cores)

	cores, ok = topo.CPURange(1)
	require.True(t, ok)
	require.Equal(t, "4-7", cores)

	_, ok = topo.CPURange(2)
	require.False(t, ok)
}

func TestParseMalformedLine(t *testing.T) {
	testCases := []struct {
		description string
		out         string
	}{
		{
			description: "missing CPU column",
			out:         "0\n",
		},
		{
			description: "non numeric node",
			out:         "zero,0\n",
		},
		{
			description: "non numeric cpu",
			out:         "0,zero\n",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			_, err := parse(tc.out)
			require.Error(t, err)
		})
	}
}

func TestRangeString(t *testing.T) {
	testCases := []struct {
		description string
		ids         []int
		expected    string
	}{
		{
			description: "contiguous run collapses to a range",
			ids:         []int{2, 3, 4, 5},
			expected:    "2-5",
		},
		{
			description: "unsorted contiguous run still collapses",
			ids:         []int{5, 2, 4, 3},
			expected:    "2-5",
		},
		{
			description: "non contiguous ids stay a sorted list",
			ids:         []int{2, 3, 5},
			expected:    "2,3,5",
		},
		{
			description: "sorting is numeric not lexicographic",
			ids:         []int{2, 10, 5},
			expected:    "2,5,10",
		},
		{
			description: "single id",
			ids:         []int{7},
			expected:    "7-7",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			require.Equal(t, tc.expected, rangeString(tc.ids))
		})
	}
}
