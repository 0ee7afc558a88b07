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

package main

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/llfuse/fuse"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sys/unix"
)

// Environment variables override flags and the config file, e.g.
// LLFUSE_MOUNT_POINT.
const envPrefix = "LLFUSE"

// Config is everything mount_sample needs to mount one sample file system.
type Config struct {
	// The samples/ sub-dir to serve.
	Type string `mapstructure:"type" validate:"required,oneof=hellofs memfs passthroughfs flushfs interruptfs"`

	MountPoint string `mapstructure:"mount_point" validate:"required"`

	// The host directory mirrored by passthroughfs.
	Root string `mapstructure:"root" validate:"required_if=Type passthroughfs"`

	FSName   string `mapstructure:"fsname"`
	Subtype  string `mapstructure:"subtype"`
	ReadOnly bool   `mapstructure:"read_only"`

	LogLevel  string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"required,oneof=text json"`
	Debug     bool   `mapstructure:"debug"`

	HandleErrorPolicy       fuse.HandleErrorPolicy `mapstructure:"handle_error_policy"`
	MaxRead                 uint32                 `mapstructure:"max_read" validate:"lte=1048576"`
	MaxReadahead            uint32                 `mapstructure:"max_readahead"`
	DisableWritebackCaching bool                   `mapstructure:"disable_writeback_caching"`
	ParallelDirOps          bool                   `mapstructure:"parallel_dir_ops"`

	// Extra -o options, as key=value pairs.
	Options map[string]string `mapstructure:"options"`

	// Signals that unmount the file system, by name or number.
	UnmountSignals []string `mapstructure:"unmount_signals" validate:"dive,required"`

	// Where to serve /metrics, e.g. "localhost:9100". Empty disables it.
	MetricsAddr string `mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`

	// Error numbers flushfs returns from flush and fsync. Zero means success.
	FlushErrno int `mapstructure:"flush_errno" validate:"gte=0"`
	FsyncErrno int `mapstructure:"fsync_errno" validate:"gte=0"`
}

var validate = validator.New()

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("handle_error_policy", fuse.ReportFlushErrors.String())
	v.SetDefault("unmount_signals", []string{"INT", "TERM", "HUP"})
}

// registerFlags adds a flag for each scalar config key.
func registerFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to a config file (yaml, json or toml).")
	flags.String("type", "", "The name of the samples/ sub-dir to mount.")
	flags.String("mount-point", "", "Path to mount point.")
	flags.String("root", "", "Host directory for passthroughfs.")
	flags.String("fsname", "", "File system name shown by mount(8).")
	flags.String("subtype", "", "File system subtype, shown as fuse.<subtype>.")
	flags.Bool("read-only", false, "Mount read-only.")
	flags.String("log-level", "info", "One of debug, info, warn, error.")
	flags.String("log-format", "text", "One of text, json.")
	flags.Bool("debug", false, "Log every op and reply.")
	flags.String("handle-error-policy", fuse.ReportFlushErrors.String(), "One of report-flush, report-all, suppress.")
	flags.Uint32("max-read", 0, "The max_read mount option.")
	flags.Uint32("max-readahead", 0, "The largest readahead to allow.")
	flags.Bool("disable-writeback-caching", false, "Make each write(2) reach the file system.")
	flags.Bool("parallel-dir-ops", false, "Allow concurrent lookups and readdirs in one directory.")
	flags.StringSlice("unmount-signals", []string{"INT", "TERM", "HUP"}, "Signals that unmount the file system.")
	flags.String("metrics-addr", "", "Address to serve Prometheus metrics on.")
	flags.Int("flush-errno", 0, "Error number flushfs returns from flush.")
	flags.Int("fsync-errno", 0, "Error number flushfs returns from fsync.")
}

// bindFlags makes each flag the source for the config key of the same name,
// with dashes replaced by underscores.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || err != nil {
			return
		}

		err = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})

	return err
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	return v
}

// Decode a policy name into a fuse.HandleErrorPolicy.
func handleErrorPolicyHook() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf(fuse.HandleErrorPolicy(0))

	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != target {
			return data, nil
		}

		return fuse.ParseHandleErrorPolicy(data.(string))
	}
}

// LoadConfig reads the config file (if any), then decodes and validates
// everything v knows.
func LoadConfig(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		handleErrorPolicyHook(),
		mapstructure.StringToSliceHookFunc(","),
	))

	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, formatValidationError(err)
	}

	if _, err := fuse.ParseSignals(cfg.UnmountSignals); err != nil {
		return nil, fmt.Errorf("unmount_signals: %w", err)
	}

	return &cfg, nil
}

func formatValidationError(err error) error {
	var errs validator.ValidationErrors
	if errors.As(err, &errs) && len(errs) > 0 {
		e := errs[0]
		return fmt.Errorf(
			"%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}

	return err
}

// NewLogger builds the logger described by cfg.
func NewLogger(cfg *Config) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(level)

	switch cfg.LogFormat {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger, nil
}

// MountConfig translates cfg for fuse.Mount.
func (cfg *Config) MountConfig(
	logger logrus.FieldLogger,
	reg prometheus.Registerer) *fuse.MountConfig {
	mc := &fuse.MountConfig{
		FSName:                  cfg.FSName,
		Subtype:                 cfg.Subtype,
		ReadOnly:                cfg.ReadOnly,
		ErrorLogger:             logger,
		HandleErrorPolicy:       cfg.HandleErrorPolicy,
		MaxRead:                 cfg.MaxRead,
		MaxReadahead:            cfg.MaxReadahead,
		DisableWritebackCaching: cfg.DisableWritebackCaching,
		EnableParallelDirOps:    cfg.ParallelDirOps,
		Options:                 cfg.Options,
		MetricsRegisterer:       reg,
	}

	if cfg.Debug {
		mc.DebugLogger = logger
	}

	return mc
}

// errnoOrNil converts a configured error number to an error.
func errnoOrNil(n int) error {
	if n == 0 {
		return nil
	}

	return unix.Errno(n)
}
