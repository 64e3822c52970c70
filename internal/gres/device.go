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

// Package gres joins the per-facet GPU mappings into one record per card
// and renders them as SLURM gres.conf lines.
package gres

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/p-gerhard/amd-gres-builder/internal/cputopo"
)

// Device is the fully joined description of one GPU.
type Device struct {
	// CardKey is the card index key assigned by rocm-smi ("card0", ...).
	// Not stable across reboots; Serial is the stable identity.
	CardKey string
	File    string
	Type    string
	Cores   string
	Links   []int
	Serial  string
	UUID    string
}

// Facets carries the partial per-card views returned by the rocm-smi
// queries. Serials and UniqueIDs are optional; every other facet must
// cover the same card keys.
type Facets struct {
	Files     map[string]string
	Types     map[string]string
	Links     map[string][]int
	NUMANodes map[string]int
	Serials   map[string]string
	UniqueIDs map[string]string
}

// Join merges the facets into one Device per card, in card-index order.
// The card key sets are required to match exactly: the facets are
// independent queries of the same hardware, and a divergence means the
// tool output cannot be trusted. Mismatches fail naming the stray keys
// rather than silently dropping records.
func Join(f Facets, topo *cputopo.Topology) ([]Device, error) {
	keys := make([]string, 0, len(f.Files))
	for key := range f.Files {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return cardIndex(keys[i]) < cardIndex(keys[j])
	})

	if err := checkKeys("type", keys, f.Types); err != nil {
		return nil, err
	}
	if err := checkKeys("link topology", keys, f.Links); err != nil {
		return nil, err
	}
	if err := checkKeys("NUMA node", keys, f.NUMANodes); err != nil {
		return nil, err
	}
	if f.Serials != nil {
		if err := checkKeys("serial", keys, f.Serials); err != nil {
			return nil, err
		}
	}
	if f.UniqueIDs != nil {
		if err := checkKeys("unique id", keys, f.UniqueIDs); err != nil {
			return nil, err
		}
	}

	devices := make([]Device, 0, len(keys))
	for _, key := range keys {
		node := f.NUMANodes[key]
		cores, ok := topo.CPURange(node)
		if !ok {
			return nil, fmt.Errorf("%s reports NUMA node %d but lscpu assigned no CPUs to it", key, node)
		}
		devices = append(devices, Device{
			CardKey: key,
			File:    f.Files[key],
			Type:    f.Types[key],
			Cores:   cores,
			Links:   f.Links[key],
			Serial:  f.Serials[key],
			UUID:    f.UniqueIDs[key],
		})
	}
	return devices, nil
}

// checkKeys verifies that a facet covers exactly the reference card keys.
func checkKeys[V any](facet string, ref []string, m map[string]V) error {
	var missing []string
	for _, key := range ref {
		if _, ok := m[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s facet is missing %s", facet, strings.Join(missing, ", "))
	}
	if len(m) != len(ref) {
		known := make(map[string]bool, len(ref))
		for _, key := range ref {
			known[key] = true
		}
		var extra []string
		for key := range m {
			if !known[key] {
				extra = append(extra, key)
			}
		}
		sort.Strings(extra)
		return fmt.Errorf("%s facet reports unknown %s", facet, strings.Join(extra, ", "))
	}
	return nil
}

// SortBySerial orders devices by serial number so the output is stable
// across reboots and rocm versions, and permutes every link vector with
// the same ordering, so that link index j keeps referring to the j-th
// device of the sorted output. No-op when any device lacks a serial.
func SortBySerial(devices []Device) []Device {
	for _, dev := range devices {
		if dev.Serial == "" {
			return devices
		}
	}

	perm := make([]int, len(devices))
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(i, j int) bool {
		return devices[perm[i]].Serial < devices[perm[j]].Serial
	})

	sorted := make([]Device, len(devices))
	for i, from := range perm {
		dev := devices[from]
		links := make([]int, len(dev.Links))
		for j, to := range perm {
			links[j] = dev.Links[to]
		}
		dev.Links = links
		sorted[i] = dev
	}
	return sorted
}

func cardIndex(key string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(key, "card"))
	if err != nil {
		return -1
	}
	return n
}
