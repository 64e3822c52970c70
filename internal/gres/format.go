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
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the constant gres.conf fields shared by every line.
type Config struct {
	NodeName   string
	Name       string
	Autodetect string
	Count      int
	Flags      string
}

// DefaultConfig returns the constant fields for the local node. The node
// name is the host name with its domain suffix stripped, as SLURM expects.
func DefaultConfig() (Config, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return Config{}, fmt.Errorf("getting hostname: %v", err)
	}
	short, _, _ := strings.Cut(hostname, ".")
	return Config{
		NodeName:   short,
		Name:       "gpu",
		Autodetect: "off",
		Count:      1,
		Flags:      "amd_gpu_env",
	}, nil
}

// fieldOrder is the gres.conf field order SLURM documentation uses; the
// scheduler does not care but diffs between generated fragments should.
var fieldOrder = []string{
	"NodeName",
	"Name",
	"Type",
	"Autodetect",
	"Count",
	"Cores",
	"Links",
	"Flags",
	"File",
}

// Line renders one gres.conf line for a device. Fields without a value are
// omitted. The link vector is joined here, at the very end: it must stay
// index-addressable until all reordering is done.
func Line(cfg Config, dev Device) string {
	values := map[string]string{
		"NodeName":   cfg.NodeName,
		"Name":       cfg.Name,
		"Type":       dev.Type,
		"Autodetect": cfg.Autodetect,
		"Count":      strconv.Itoa(cfg.Count),
		"Cores":      dev.Cores,
		"Links":      linksString(dev.Links),
		"Flags":      cfg.Flags,
		"File":       dev.File,
	}

	pairs := make([]string, 0, len(fieldOrder))
	for _, name := range fieldOrder {
		if values[name] == "" {
			continue
		}
		pairs = append(pairs, name+"="+values[name])
	}
	return strings.Join(pairs, " ")
}

func linksString(links []int) string {
	codes := make([]string, len(links))
	for i, code := range links {
		codes[i] = strconv.Itoa(code)
	}
	return strings.Join(codes, ",")
}

// RenderOptions controls the presentation around the gres.conf lines.
type RenderOptions struct {
	// Banner wraps the block in comment lines naming the host and the
	// generating tool.
	Banner bool

	// NoTimestamp omits the generation time from the banner, for
	// byte-reproducible output.
	NoTimestamp bool

	// Generator names the tool in the banner.
	Generator string

	// Hostname is the full host name shown in the banner.
	Hostname string

	// Now supplies the banner timestamp; nil means time.Now.
	Now func() time.Time
}

const bannerRule = "################################################################################"

// Render writes the configured block of gres.conf lines, one per device,
// in the order devices are given.
func Render(w io.Writer, cfg Config, devices []Device, opts RenderOptions) error {
	if opts.Banner {
		fmt.Fprintln(w, bannerRule)
		fmt.Fprintf(w, "# AMD GPU 'gres.conf' for host '%s'\n", opts.Hostname)
		if opts.NoTimestamp {
			fmt.Fprintf(w, "# Generated by %s\n", opts.Generator)
		} else {
			now := time.Now
			if opts.Now != nil {
				now = opts.Now
			}
			fmt.Fprintf(w, "# Generated by %s on %s\n", opts.Generator, now().Format("2006-01-02 15:04:05"))
		}
	}

	for i, dev := range devices {
		if opts.Banner && (dev.UUID != "" || dev.Serial != "") {
			fmt.Fprintf(w, "# GPU %d with uuid=%s and serial=%s\n", i, dev.UUID, dev.Serial)
		}
		if _, err := fmt.Fprintln(w, Line(cfg, dev)); err != nil {
			return err
		}
	}

	if opts.Banner {
		fmt.Fprintln(w, bannerRule)
	}
	return nil
}
