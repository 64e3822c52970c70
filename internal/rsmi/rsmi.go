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

// Package rsmi queries the ROCm System Management Interface CLI and turns
// its per-facet JSON output into typed per-card mappings.
package rsmi

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/p-gerhard/amd-gres-builder/internal/osexec"
)

const (
	// DefaultROCmPath is the ROCm installation path assumed when the
	// ROCM_PATH environment variable is not set.
	DefaultROCmPath = "/opt/rocm"

	// DefaultDeviceRoot is where the DRM render nodes live.
	DefaultDeviceRoot = "/dev/dri"

	binaryName = "rocm-smi"

	// cardKeyPattern identifies GPU entries among the top-level keys of
	// the rocm-smi JSON output ("card0", "card1", ...).
	cardKeyPattern = "card"
)

// Link codes reported in the Links vector of a gres.conf line.
const (
	LinkSelf = -1
	LinkPCIe = 0
	LinkXGMI = 1
)

// TypeStrategy selects how the gres Type tag is derived.
type TypeStrategy string

const (
	// TypeStrategySeries maps the reported card series to a short code
	// through a static table, slugifying unrecognized names.
	TypeStrategySeries TypeStrategy = "series"

	// TypeStrategyGFX derives the tag from the raw GFX version string,
	// converting its two-digit decimal suffix to one hex digit.
	TypeStrategyGFX TypeStrategy = "gfx"
)

// cardSeriesShortNames maps the card series reported by rocm-smi to the
// short type codes used in gres.conf.
var cardSeriesShortNames = map[string]string{
	"Instinct MI100":  "mi100",
	"Instinct MI210":  "mi210",
	"Instinct MI250":  "mi250",
	"Instinct MI250X": "mi250x",
	"Instinct MI300A": "mi300a",
	"Instinct MI300X": "mi300x",
}

// BinaryNotFoundError reports that the rocm-smi binary is absent from the
// configured ROCm installation.
type BinaryNotFoundError struct {
	Path string
}

func (e *BinaryNotFoundError) Error() string {
	return fmt.Sprintf("binary file %q does not exist", e.Path)
}

// LookupBinary resolves the rocm-smi binary under the given ROCm
// installation path and verifies that it exists.
func LookupBinary(rocmPath string) (string, error) {
	bin := filepath.Join(rocmPath, "bin", binaryName)
	if _, err := os.Stat(bin); err != nil {
		if os.IsNotExist(err) {
			return "", &BinaryNotFoundError{Path: bin}
		}
		return "", fmt.Errorf("checking for %s: %v", bin, err)
	}
	return bin, nil
}

// Client invokes rocm-smi and parses its JSON facets.
type Client struct {
	bin          string
	exec         osexec.ExecFunc
	deviceRoot   string
	typeStrategy TypeStrategy
}

// Option configures a Client.
type Option func(*Client)

// WithExec overrides how the rocm-smi process is run.
func WithExec(f osexec.ExecFunc) Option {
	return func(c *Client) { c.exec = f }
}

// WithDeviceRoot overrides the DRM device root used to resolve device files.
func WithDeviceRoot(root string) Option {
	return func(c *Client) { c.deviceRoot = root }
}

// WithTypeStrategy selects the Type derivation strategy.
func WithTypeStrategy(s TypeStrategy) Option {
	return func(c *Client) { c.typeStrategy = s }
}

// New creates a Client for the given rocm-smi binary path.
func New(bin string, opts ...Option) *Client {
	c := &Client{
		bin:          bin,
		exec:         osexec.Execute,
		deviceRoot:   DefaultDeviceRoot,
		typeStrategy: TypeStrategySeries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// query runs rocm-smi with the given facet flag and returns the parsed JSON
// with every key lower-cased. rocm-smi is not consistent about key casing
// across versions, so canonicalization happens once, here.
func (c *Client) query(ctx context.Context, flag string) (map[string]map[string]string, error) {
	out, err := c.exec(ctx, c.bin, flag, "--json")
	if err != nil {
		return nil, err
	}

	var raw map[string]map[string]string
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s %s output: %v", binaryName, flag, err)
	}

	res := make(map[string]map[string]string, len(raw))
	for key, fields := range raw {
		lowered := make(map[string]string, len(fields))
		for name, value := range fields {
			lowered[strings.ToLower(name)] = value
		}
		res[strings.ToLower(key)] = lowered
	}
	return res, nil
}

// cardKeys returns the GPU entries of a parsed facet, ordered by card index.
func cardKeys(m map[string]map[string]string) []string {
	var keys []string
	for k := range m {
		if strings.Contains(k, cardKeyPattern) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return cardIndex(keys[i]) < cardIndex(keys[j])
	})
	return keys
}

// cardIndex extracts the numeric suffix of a card key. Keys without one
// sort first; they do not occur in practice.
func cardIndex(key string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(key, cardKeyPattern))
	if err != nil {
		return -1
	}
	return n
}

// field returns a required value from a parsed facet. The data source is
// authoritative: a missing field means a broken driver or an unsupported
// rocm-smi version, not a recoverable condition.
func field(m map[string]map[string]string, flag, card, name string) (string, error) {
	value, ok := m[card][name]
	if !ok {
		return "", fmt.Errorf("%s %s reported no %q for %s", binaryName, flag, name, card)
	}
	return value, nil
}
