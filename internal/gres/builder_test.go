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

package gres

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/p-gerhard/amd-gres-builder/internal/logger"
)

type fakeSource struct {
	facets Facets
}

func (s *fakeSource) DeviceFiles(context.Context) (map[string]string, error) {
	return s.facets.Files, nil
}

func (s *fakeSource) Types(context.Context) (map[string]string, error) {
	return s.facets.Types, nil
}

func (s *fakeSource) Links(context.Context) (map[string][]int, error) {
	return s.facets.Links, nil
}

func (s *fakeSource) NUMANodes(context.Context) (map[string]int, error) {
	return s.facets.NUMANodes, nil
}

func (s *fakeSource) Serials(context.Context) (map[string]string, error) {
	return s.facets.Serials, nil
}

func (s *fakeSource) UniqueIDs(context.Context) (map[string]string, error) {
	return s.facets.UniqueIDs, nil
}

func twoGPUSource() *fakeSource {
	facets := twoGPUFacets()
	// card0 carries the greater serial so that identity sorting swaps the
	// discovery order.
	facets.Serials = map[string]string{
		"card0": "0x00b",
		"card1": "0x00a",
	}
	facets.UniqueIDs = map[string]string{
		"card0": "0x9d9d841980e9a221",
		"card1": "0x1f2e3d4c5b6a7988",
	}
	return &fakeSource{facets: facets}
}

func TestBuildWithIdentity(t *testing.T) {
	devices, err := Build(context.Background(), twoGPUSource(), twoNodeTopology(), true, logger.Discard)
	require.NoError(t, err)

	require.Len(t, devices, 2)
	require.Equal(t, "card1", devices[0].CardKey)
	require.Equal(t, "card0", devices[1].CardKey)
	require.Equal(t, "0x00a", devices[0].Serial)
	require.Equal(t, "16-31", devices[0].Cores)
	require.Equal(t, "0-15", devices[1].Cores)

	// The link vectors were permuted together with the records.
	require.Equal(t, []int{-1, 0}, devices[0].Links)
	require.Equal(t, []int{0, -1}, devices[1].Links)
}

func TestBuildWithoutIdentity(t *testing.T) {
	devices, err := Build(context.Background(), twoGPUSource(), twoNodeTopology(), false, logger.Discard)
	require.NoError(t, err)

	// Discovery order, no serial/uuid collected.
	require.Equal(t, "card0", devices[0].CardKey)
	require.Equal(t, "card1", devices[1].CardKey)
	require.Empty(t, devices[0].Serial)
	require.Empty(t, devices[0].UUID)
}

func TestBuildRenderEndToEnd(t *testing.T) {
	devices, err := Build(context.Background(), twoGPUSource(), twoNodeTopology(), true, logger.Discard)
	require.NoError(t, err)

	cfg := Config{
		NodeName:   "node01",
		Name:       "gpu",
		Autodetect: "off",
		Count:      1,
		Flags:      "amd_gpu_env",
	}

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, cfg, devices, RenderOptions{}))

	expected := "NodeName=node01 Name=gpu Type=mi250x Autodetect=off Count=1 Cores=16-31 Links=-1,0 Flags=amd_gpu_env File=/dev/dri/renderD129\n" +
		"NodeName=node01 Name=gpu Type=mi250x Autodetect=off Count=1 Cores=0-15 Links=0,-1 Flags=amd_gpu_env File=/dev/dri/renderD128\n"
	require.Equal(t, expected, buf.String())

	// Two runs over the same inputs are byte-identical.
	var again bytes.Buffer
	devices, err = Build(context.Background(), twoGPUSource(), twoNodeTopology(), true, logger.Discard)
	require.NoError(t, err)
	require.NoError(t, Render(&again, cfg, devices, RenderOptions{}))
	require.Equal(t, buf.Bytes(), again.Bytes())
}
