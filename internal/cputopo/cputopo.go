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

// Package cputopo maps NUMA nodes to the CPU ranges local to them, as
// reported by lscpu.
package cputopo

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"

	"github.com/p-gerhard/amd-gres-builder/internal/logger"
	"github.com/p-gerhard/amd-gres-builder/internal/osexec"
)

// Topology holds the NUMA node to CPU assignment of the local machine.
type Topology struct {
	ranges map[int]string
	total  int
}

// Discover runs lscpu once and groups CPU ids by NUMA node.
func Discover(ctx context.Context, execf osexec.ExecFunc) (*Topology, error) {
	out, err := execf(ctx, "lscpu", "--parse=NODE,CPU")
	if err != nil {
		return nil, err
	}
	return parse(string(out))
}

// parse reads the two-column lscpu listing. Lines starting with '#' are
// headers and skipped.
func parse(out string) (*Topology, error) {
	cpus := make(map[int][]int)
	for _, line := range strings.Split(out, "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		columns := strings.Split(line, ",")
		if len(columns) < 2 {
			return nil, fmt.Errorf("malformed lscpu line %q", line)
		}
		node, err := strconv.Atoi(strings.TrimSpace(columns[0]))
		if err != nil {
			return nil, fmt.Errorf("malformed lscpu NUMA node in line %q", line)
		}
		cpu, err := strconv.Atoi(strings.TrimSpace(columns[1]))
		if err != nil {
			return nil, fmt.Errorf("malformed lscpu CPU id in line %q", line)
		}
		cpus[node] = append(cpus[node], cpu)
	}
	return New(cpus), nil
}

// New creates a Topology from an explicit NUMA node to CPU id assignment.
func New(cpus map[int][]int) *Topology {
	t := &Topology{
		ranges: make(map[int]string, len(cpus)),
	}
	for node, ids := range cpus {
		if len(ids) == 0 {
			continue
		}
		t.ranges[node] = rangeString(ids)
		t.total += len(ids)
	}
	return t
}

// rangeString collapses a CPU id set to "min-max" when the ids form a
// contiguous run, and to a comma-joined sorted list otherwise.
func rangeString(ids []int) string {
	sort.Ints(ids)

	contiguous := true
	for i := 1; i < len(ids); i++ {
		if ids[i] != ids[i-1]+1 {
			contiguous = false
			break
		}
	}
	if contiguous {
		return fmt.Sprintf("%d-%d", ids[0], ids[len(ids)-1])
	}

	list := make([]string, len(ids))
	for i, id := range ids {
		list[i] = strconv.Itoa(id)
	}
	return strings.Join(list, ",")
}

// CPURange returns the CPU range string of a NUMA node.
func (t *Topology) CPURange(node int) (string, bool) {
	r, ok := t.ranges[node]
	return r, ok
}

// CPUCount returns the number of CPUs lscpu assigned to NUMA nodes.
func (t *Topology) CPUCount() int {
	return t.total
}

// VerifyOnlineCPUs warns when the NUMA map covers a different number of
// CPUs than /proc/cpuinfo reports online. The disagreement signals a
// misconfigured node; the run itself proceeds.
func (t *Topology) VerifyOnlineCPUs(log logger.Interface) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		log.Warningf("Skipping online CPU check: %v", err)
		return
	}
	info, err := fs.CPUInfo()
	if err != nil {
		log.Warningf("Skipping online CPU check: %v", err)
		return
	}
	if len(info) != t.total {
		log.Warningf("lscpu assigned %d CPUs to NUMA nodes but /proc/cpuinfo reports %d online", t.total, len(info))
	}
}
