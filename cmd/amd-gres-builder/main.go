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
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/p-gerhard/amd-gres-builder/internal/cputopo"
	"github.com/p-gerhard/amd-gres-builder/internal/gres"
	"github.com/p-gerhard/amd-gres-builder/internal/info"
	"github.com/p-gerhard/amd-gres-builder/internal/logger"
	"github.com/p-gerhard/amd-gres-builder/internal/osexec"
	"github.com/p-gerhard/amd-gres-builder/internal/rsmi"
	"github.com/p-gerhard/amd-gres-builder/internal/watch"
)

// missingBinaryExitCode is the distinct status for the preflight failure,
// so provisioning scripts can tell "ROCm not installed" from a bad run.
const missingBinaryExitCode = 2

// Config holds configurable settings as set via the CLI.
type Config struct {
	rocmPath      string
	deviceRoot    string
	outputFile    string
	typeStrategy  string
	oneshot       bool
	sleepInterval time.Duration
	noBanner      bool
	noTimestamp   bool
	noIdentity    bool
}

func main() {
	config := &Config{}

	c := cli.NewApp()
	c.Name = "amd-gres-builder"
	c.Usage = "generate SLURM 'gres.conf' lines for the AMD GPUs of this node"
	c.Version = info.GetVersionString()
	c.Action = func(ctx *cli.Context) error {
		return start(ctx.Context, config)
	}

	c.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "rocm-path",
			Value:       rsmi.DefaultROCmPath,
			Usage:       "the ROCm installation path; rocm-smi is looked up under <path>/bin",
			Destination: &config.rocmPath,
			EnvVars:     []string{"ROCM_PATH"},
		},
		&cli.StringFlag{
			Name:        "device-root",
			Value:       rsmi.DefaultDeviceRoot,
			Usage:       "the DRM device root used to resolve per-GPU device files",
			Destination: &config.deviceRoot,
			EnvVars:     []string{"GRES_BUILDER_DEVICE_ROOT"},
		},
		&cli.StringFlag{
			Name:        "output-file",
			Aliases:     []string{"output", "o"},
			Usage:       "write the generated fragment to this file instead of stdout",
			Destination: &config.outputFile,
			EnvVars:     []string{"GRES_BUILDER_OUTPUT_FILE"},
		},
		&cli.StringFlag{
			Name:        "type-strategy",
			Value:       string(rsmi.TypeStrategySeries),
			Usage:       "the strategy used to derive the gres Type tag: 'series' or 'gfx'",
			Destination: &config.typeStrategy,
			EnvVars:     []string{"GRES_BUILDER_TYPE_STRATEGY"},
		},
		&cli.BoolFlag{
			Name:        "oneshot",
			Value:       true,
			Usage:       "generate once and exit; disable to regenerate on device changes",
			Destination: &config.oneshot,
			EnvVars:     []string{"GRES_BUILDER_ONESHOT"},
		},
		&cli.DurationFlag{
			Name:        "sleep-interval",
			Value:       60 * time.Second,
			Usage:       "time to sleep between regenerations when not in oneshot mode",
			Destination: &config.sleepInterval,
			EnvVars:     []string{"GRES_BUILDER_SLEEP_INTERVAL"},
		},
		&cli.BoolFlag{
			Name:        "no-banner",
			Usage:       "omit the banner and per-GPU comment lines",
			Destination: &config.noBanner,
			EnvVars:     []string{"GRES_BUILDER_NO_BANNER"},
		},
		&cli.BoolFlag{
			Name:        "no-timestamp",
			Usage:       "omit the generation timestamp from the banner",
			Destination: &config.noTimestamp,
			EnvVars:     []string{"GRES_BUILDER_NO_TIMESTAMP"},
		},
		&cli.BoolFlag{
			Name:        "no-identity",
			Usage:       "skip the serial/unique-id queries and keep discovery order",
			Destination: &config.noIdentity,
			EnvVars:     []string{"GRES_BUILDER_NO_IDENTITY"},
		},
	}

	if err := c.Run(os.Args); err != nil {
		klog.Error(err)
		os.Exit(1)
	}
}

func validateFlags(config *Config) error {
	switch rsmi.TypeStrategy(config.typeStrategy) {
	case rsmi.TypeStrategySeries, rsmi.TypeStrategyGFX:
	default:
		return fmt.Errorf("invalid --type-strategy option %q", config.typeStrategy)
	}
	return nil
}

func start(ctx context.Context, config *Config) error {
	if err := validateFlags(config); err != nil {
		return err
	}

	bin, err := rsmi.LookupBinary(config.rocmPath)
	if err != nil {
		var notFound *rsmi.BinaryNotFoundError
		if errors.As(err, &notFound) {
			msg := fmt.Sprintf("%v\n"+
				"Please set the ROCM_PATH environment variable to the proper installation path of ROCm\n"+
				"Example: export ROCM_PATH=/opt/rocm", err)
			return cli.Exit(msg, missingBinaryExitCode)
		}
		return err
	}

	client := rsmi.New(bin,
		rsmi.WithDeviceRoot(config.deviceRoot),
		rsmi.WithTypeStrategy(rsmi.TypeStrategy(config.typeStrategy)),
	)

	if config.oneshot {
		return run(ctx, config, client)
	}

	klog.Info("Starting FS watcher.")
	watcher, err := watch.Files(config.deviceRoot)
	if err != nil {
		return fmt.Errorf("failed to create FS watcher for %s: %v", config.deviceRoot, err)
	}
	defer watcher.Close()

	klog.Info("Starting OS watcher.")
	sigs := watch.Signals(syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	for {
		if err := run(ctx, config, client); err != nil {
			return err
		}

		select {
		case event := <-watcher.Events:
			klog.Infof("inotify: %s, regenerating", event)
		case err := <-watcher.Errors:
			klog.Warningf("inotify: %v", err)
		case s := <-sigs:
			switch s {
			case syscall.SIGHUP:
				klog.Info("Received SIGHUP, regenerating")
			default:
				klog.Infof("Received signal %q, shutting down", s)
				return nil
			}
		case <-time.After(config.sleepInterval):
		}
	}
}

// run performs one full pass: topology discovery, facet queries, join,
// render, output.
func run(ctx context.Context, config *Config, client *rsmi.Client) error {
	log := logger.ToKlog

	topo, err := cputopo.Discover(ctx, osexec.Execute)
	if err != nil {
		return err
	}
	topo.VerifyOnlineCPUs(log)

	devices, err := gres.Build(ctx, client, topo, !config.noIdentity, log)
	if err != nil {
		return err
	}

	gresConfig, err := gres.DefaultConfig()
	if err != nil {
		return err
	}

	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("getting hostname: %v", err)
	}

	var buf bytes.Buffer
	opts := gres.RenderOptions{
		Banner:      !config.noBanner,
		NoTimestamp: config.noTimestamp,
		Generator:   "amd-gres-builder",
		Hostname:    hostname,
	}
	if err := gres.Render(&buf, gresConfig, devices, opts); err != nil {
		return err
	}

	return gres.ToFile(config.outputFile).Output(buf.Bytes())
}
