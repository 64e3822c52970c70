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

package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	cli "github.com/urfave/cli/v2"
)

func TestValidateFlags(t *testing.T) {
	testCases := []struct {
		strategy    string
		expectError bool
	}{
		{strategy: "series"},
		{strategy: "gfx"},
		{strategy: "", expectError: true},
		{strategy: "product", expectError: true},
	}

	for _, tc := range testCases {
		t.Run(tc.strategy, func(t *testing.T) {
			err := validateFlags(&Config{typeStrategy: tc.strategy})
			if tc.expectError {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestStartMissingBinaryExitCode(t *testing.T) {
	config := &Config{
		rocmPath:     t.TempDir(),
		typeStrategy: "series",
		oneshot:      true,
	}

	err := start(context.Background(), config)
	require.Error(t, err)

	var exitErr cli.ExitCoder
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, missingBinaryExitCode, exitErr.ExitCode())
	require.Contains(t, exitErr.Error(), "ROCM_PATH")
}
