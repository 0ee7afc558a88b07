// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// A tool for mounting the sample file systems.
//
// Settings come from an optional config file (--config), overridden by
// environment variables prefixed with LLFUSE_, overridden in turn by flags.
// For example:
//
//	mount_sample --type memfs --mount-point /tmp/mnt
//	LLFUSE_TYPE=passthroughfs LLFUSE_ROOT=/srv mount_sample --mount-point /tmp/mnt
package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/jacobsa/timeutil"
	"github.com/llfuse/fuse"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	v := newViper()

	cmd := &cobra.Command{
		Use:   "mount_sample",
		Short: "Mount one of the sample file systems",
		Long: `Mounts one of the sample file systems and serves it until it is
unmounted, either externally or by one of the configured signals.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}

			cfg, err := LoadConfig(v, path)
			if err != nil {
				return err
			}

			return run(cmd, cfg)
		},
	}

	registerFlags(cmd.Flags())
	cobra.CheckErr(bindFlags(v, cmd.Flags()))

	return cmd
}

func serveMetrics(addr string, reg *prometheus.Registry, logger logrus.FieldLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	go func() {
		err := http.ListenAndServe(addr, mux)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server")
		}
	}()
}

func run(cmd *cobra.Command, cfg *Config) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return err
	}

	server, err := NewServer(cfg, logger, timeutil.RealClock())
	if err != nil {
		return fmt.Errorf("creating %s: %w", cfg.Type, err)
	}

	var reg *prometheus.Registry
	if cfg.MetricsAddr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		serveMetrics(cfg.MetricsAddr, reg, logger)
	}

	mountCfg := cfg.MountConfig(logger, nil)
	if reg != nil {
		mountCfg.MetricsRegisterer = reg
	}

	mfs, err := fuse.Mount(cfg.MountPoint, server, mountCfg)
	if err != nil {
		return fmt.Errorf("Mount: %w", err)
	}

	sigs, err := fuse.ParseSignals(cfg.UnmountSignals)
	if err != nil {
		return err
	}

	stop := mfs.SetSignalHandlers(sigs...)
	defer stop()

	logger.WithFields(logrus.Fields{
		"type":        cfg.Type,
		"mount_point": mfs.Dir(),
	}).Info("Mounted")

	// Wait for it to be unmounted.
	if err := mfs.Join(cmd.Context()); err != nil {
		return fmt.Errorf("Join: %w", err)
	}

	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
