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

package rsmi

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// DeviceFiles resolves the DRM render device path of every GPU from its PCI
// bus id, through the by-path symlink maintained by udev. A missing symlink
// reflects a driver or udev misconfiguration and is fatal.
func (c *Client) DeviceFiles(ctx context.Context) (map[string]string, error) {
	raw, err := c.query(ctx, "--showbus")
	if err != nil {
		return nil, err
	}

	res := make(map[string]string)
	for _, card := range cardKeys(raw) {
		bus, err := field(raw, "--showbus", card, "pci bus")
		if err != nil {
			return nil, err
		}

		link := filepath.Join(c.deviceRoot, "by-path", fmt.Sprintf("pci-%s-render", strings.ToLower(bus)))
		path, err := filepath.EvalSymlinks(link)
		if err != nil {
			return nil, fmt.Errorf("resolving device symlink for %s: %v", card, err)
		}
		res[card] = path
	}
	return res, nil
}

// Types derives the gres Type tag of every GPU according to the configured
// strategy.
func (c *Client) Types(ctx context.Context) (map[string]string, error) {
	raw, err := c.query(ctx, "--showproductname")
	if err != nil {
		return nil, err
	}

	res := make(map[string]string)
	for _, card := range cardKeys(raw) {
		var tag string
		switch c.typeStrategy {
		case TypeStrategyGFX:
			version, err := field(raw, "--showproductname", card, "gfx version")
			if err != nil {
				return nil, err
			}
			tag, err = gfxShortName(version)
			if err != nil {
				return nil, fmt.Errorf("%s: %v", card, err)
			}
		default:
			series, err := field(raw, "--showproductname", card, "card series")
			if err != nil {
				return nil, err
			}
			tag = seriesShortName(series)
		}
		res[card] = tag
	}
	return res, nil
}

// seriesShortName maps a card series to its short code, falling back to a
// lower-cased underscore-joined slug for series the table does not know.
func seriesShortName(series string) string {
	if short, ok := cardSeriesShortNames[series]; ok {
		return short
	}
	return strings.ToLower(strings.ReplaceAll(series, " ", "_"))
}

// gfxShortName rewrites a raw GFX version so that its two-digit decimal
// suffix becomes a single hex digit, per the vendor architecture naming
// convention (e.g. "gfx9010" refers to the gfx90a architecture).
func gfxShortName(version string) (string, error) {
	if len(version) < 2 {
		return "", fmt.Errorf("gfx version %q is too short", version)
	}
	minor, err := strconv.Atoi(version[len(version)-2:])
	if err != nil {
		return "", fmt.Errorf("gfx version %q does not end in a decimal revision", version)
	}
	return strings.ToLower(fmt.Sprintf("%s%x", version[:len(version)-2], minor)), nil
}

// Links builds the square adjacency matrix of inter-GPU link codes, one row
// per card. The diagonal holds LinkSelf. rocm-smi reports at most one
// direction per pair, so both the (i,j) and (j,i) keys are read and
// combined by taking the maximum code; the matrix is symmetric by
// construction.
func (c *Client) Links(ctx context.Context) (map[string][]int, error) {
	raw, err := c.query(ctx, "--showtopo")
	if err != nil {
		return nil, err
	}

	system, ok := raw["system"]
	if !ok {
		return nil, fmt.Errorf("%s --showtopo reported no system section", binaryName)
	}

	cards := cardKeys(raw)
	n := len(cards)

	res := make(map[string][]int, n)
	for i, card := range cards {
		row := make([]int, n)
		row[i] = LinkSelf
		res[card] = row
	}

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			value, ok := system[fmt.Sprintf("(topology) link type between drm devices %d and %d", i, j)]
			if !ok {
				continue
			}
			code, err := linkCode(value)
			if err != nil {
				return nil, err
			}
			if code > res[cards[i]][j] {
				res[cards[i]][j] = code
			}
			if code > res[cards[j]][i] {
				res[cards[j]][i] = code
			}
		}
	}
	return res, nil
}

func linkCode(value string) (int, error) {
	switch value {
	case "PCIE":
		return LinkPCIe, nil
	case "XGMI":
		return LinkXGMI, nil
	}
	return 0, fmt.Errorf("unknown link type %q", value)
}

// NUMANodes reports the NUMA node index of every GPU.
func (c *Client) NUMANodes(ctx context.Context) (map[string]int, error) {
	raw, err := c.query(ctx, "--showtoponuma")
	if err != nil {
		return nil, err
	}

	res := make(map[string]int)
	for _, card := range cardKeys(raw) {
		value, err := field(raw, "--showtoponuma", card, "(topology) numa node")
		if err != nil {
			return nil, err
		}
		node, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%s reported NUMA node %q for %s", binaryName, value, card)
		}
		res[card] = node
	}
	return res, nil
}

// Serials reports the serial number of every GPU, as an opaque string.
func (c *Client) Serials(ctx context.Context) (map[string]string, error) {
	return c.stringFacet(ctx, "--showserial", "serial number")
}

// UniqueIDs reports the unique id of every GPU, as an opaque string.
func (c *Client) UniqueIDs(ctx context.Context) (map[string]string, error) {
	return c.stringFacet(ctx, "--showuniqueid", "unique id")
}

func (c *Client) stringFacet(ctx context.Context, flag, name string) (map[string]string, error) {
	raw, err := c.query(ctx, flag)
	if err != nil {
		return nil, err
	}

	res := make(map[string]string)
	for _, card := range cardKeys(raw) {
		value, err := field(raw, flag, card, name)
		if err != nil {
			return nil, err
		}
		res[card] = value
	}
	return res, nil
}
