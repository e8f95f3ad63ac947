// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package config assembles the settings of every censusrunner component
// from defaults, an optional config file and CENSUSRUNNER_* variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/cardinalhq/censusrunner/internal/checkpoint"
	"github.com/cardinalhq/censusrunner/internal/ingest"
	"github.com/cardinalhq/censusrunner/internal/loader"
	"github.com/cardinalhq/censusrunner/internal/source"
)

// Config groups the per-package settings. Each package owns its section
// and its defaults.
type Config struct {
	Source     source.Config     `mapstructure:"source"`
	Loader     loader.Config     `mapstructure:"loader"`
	Ingest     ingest.Config     `mapstructure:"ingest"`
	Checkpoint checkpoint.Config `mapstructure:"checkpoint"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	cfg := &Config{
		Source:     source.DefaultConfig(),
		Loader:     loader.DefaultConfig(),
		Ingest:     ingest.DefaultConfig(),
		Checkpoint: checkpoint.DefaultConfig(),
	}
	cfg.Checkpoint.Pipeline = DefaultPipeline
	return cfg
}

// Load layers, lowest first: defaults, the config file, then environment
// variables. The file is CENSUSRUNNER_CONFIG when set, which must then
// exist, or ./config.yaml when present. A key such as ingest.batch_size
// is read from CENSUSRUNNER_INGEST_BATCH_SIZE.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range leafKeys(reflect.TypeOf(Config{}), "") {
		_ = v.BindEnv(key)
	}

	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no run could succeed with.
func (c *Config) Validate() error {
	var errs []error
	if c.Ingest.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("ingest.batch_size must be positive, got %d", c.Ingest.BatchSize))
	}
	if c.Source.PageSize <= 0 || c.Source.PageSize > c.Source.MaxPageSize {
		errs = append(errs, fmt.Errorf("source.page_size must be in 1..%d, got %d", c.Source.MaxPageSize, c.Source.PageSize))
	}
	switch c.Checkpoint.Backend {
	case checkpoint.BackendPostgres, checkpoint.BackendFile:
	case checkpoint.BackendS3:
		if c.Checkpoint.S3.Bucket == "" {
			errs = append(errs, errors.New("checkpoint.s3.bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown checkpoint.backend %q", c.Checkpoint.Backend))
	}
	if c.Checkpoint.Pipeline == "" {
		errs = append(errs, errors.New("checkpoint.pipeline must not be empty"))
	}
	return errors.Join(errs...)
}

// leafKeys lists the dotted mapstructure keys of every non-struct field
// reachable from t. Fields tagged "-" are skipped; untagged fields use
// their lowercased name.
func leafKeys(t reflect.Type, prefix string) []string {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	var keys []string
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		name := f.Tag.Get("mapstructure")
		switch name {
		case "-":
			continue
		case "":
			name = strings.ToLower(f.Name)
		}
		if prefix != "" {
			name = prefix + "." + name
		}
		if f.Type.Kind() == reflect.Struct {
			keys = append(keys, leafKeys(f.Type, name)...)
			continue
		}
		keys = append(keys, name)
	}
	return keys
}
