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
	"context"

	"github.com/p-gerhard/amd-gres-builder/internal/cputopo"
	"github.com/p-gerhard/amd-gres-builder/internal/logger"
)

// Source is the device-facet query surface backed by rocm-smi.
type Source interface {
	DeviceFiles(ctx context.Context) (map[string]string, error)
	Types(ctx context.Context) (map[string]string, error)
	Links(ctx context.Context) (map[string][]int, error)
	NUMANodes(ctx context.Context) (map[string]int, error)
	Serials(ctx context.Context) (map[string]string, error)
	UniqueIDs(ctx context.Context) (map[string]string, error)
}

// Build queries every facet, joins them into one record per GPU, and
// returns the devices in their final output order. With identity enabled
// the serial and unique-id facets are collected and the result is sorted
// by serial; otherwise discovery order is kept.
func Build(ctx context.Context, src Source, topo *cputopo.Topology, identity bool, log logger.Interface) ([]Device, error) {
	facets := Facets{}

	var err error
	if facets.Files, err = src.DeviceFiles(ctx); err != nil {
		return nil, err
	}
	if facets.Types, err = src.Types(ctx); err != nil {
		return nil, err
	}
	if facets.Links, err = src.Links(ctx); err != nil {
		return nil, err
	}
	if facets.NUMANodes, err = src.NUMANodes(ctx); err != nil {
		return nil, err
	}
	if identity {
		if facets.Serials, err = src.Serials(ctx); err != nil {
			return nil, err
		}
		if facets.UniqueIDs, err = src.UniqueIDs(ctx); err != nil {
			return nil, err
		}
	}

	devices, err := Join(facets, topo)
	if err != nil {
		return nil, err
	}
	log.Infof("Discovered %d AMD GPU(s)", len(devices))

	if identity {
		devices = SortBySerial(devices)
	}
	return devices, nil
}
