// Copyright (C) 2025-2026 CardinalHQ, Inc
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

// Package config loads broker configuration from files and environment
// variables.
package config

import (
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config aggregates configuration for the application.
type Config struct {
	Broker BrokerConfig `mapstructure:"broker"`
}

// BrokerConfig holds the request-pipeline knobs.
type BrokerConfig struct {
	// ID identifies this broker in statistics and logs. Defaults to the
	// hostname.
	ID string `mapstructure:"id"`
	// Port is the HTTP listen port for the query surface.
	Port int `mapstructure:"port"`
	// Timeout is the total per-request budget; whatever is left after
	// routing is handed to the execution stage.
	Timeout time.Duration `mapstructure:"timeout"`
	// QueryResponseLimit caps TOP/LIMIT values accepted at validation.
	QueryResponseLimit int64 `mapstructure:"query_response_limit"`
	// QueryLogLength truncates query text in log lines.
	QueryLogLength int `mapstructure:"query_log_length"`
	// ValidateQueries enables schema-backed column validation.
	ValidateQueries bool `mapstructure:"validate_queries"`
	// SchemaCacheTTL bounds staleness of cached table schemas.
	SchemaCacheTTL time.Duration `mapstructure:"schema_cache_ttl"`
	// DefaultTableQPS is the per-table query quota; <= 0 disables it.
	DefaultTableQPS float64 `mapstructure:"default_table_qps"`
	// QuotaBurst is the per-table token bucket size.
	QuotaBurst int `mapstructure:"quota_burst"`
}

// DefaultBrokerConfig returns the defaults applied before file and env
// overrides.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		ID:                 defaultBrokerID(),
		Port:               8099,
		Timeout:            10 * time.Second,
		QueryResponseLimit: 100_000,
		QueryLogLength:     512,
		ValidateQueries:    true,
		SchemaCacheTTL:     5 * time.Minute,
		DefaultTableQPS:    0,
		QuotaBurst:         5,
	}
}

func defaultBrokerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "broker-" + uuid.NewString()
	}
	return host
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "QUERYBROKER" and the dot character
// in keys is replaced by an underscore. For example, "broker.timeout"
// becomes "QUERYBROKER_BROKER_TIMEOUT".
func Load() (*Config, error) {
	cfg := &Config{
		Broker: DefaultBrokerConfig(),
	}

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("QUERYBROKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
