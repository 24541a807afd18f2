/*
 * Copyright 2025 tomoncle.
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

package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment keys read by LoadConfig, e.g.
// DIME_CONNECTION_CONFIG_HOST.
const EnvPrefix = "DIME"

// LoadConfig reads a yaml, json or toml file (path may be empty) merged over
// DefaultConfig, with DIME_* environment variables taking precedence.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setConfigDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

func setConfigDefaults(v *viper.Viper, def *Config) {
	c := def.ConnectionConfig
	for key, value := range map[string]interface{}{
		"type":                  c.Type,
		"driver":                c.Driver,
		"host":                  c.Host,
		"port":                  c.Port,
		"username":              c.Username,
		"password":              c.Password,
		"dbname":                c.DBName,
		"sslmode":               c.SSLMode,
		"max_idle_conns":        c.MaxIdleConns,
		"max_open_conns":        c.MaxOpenConns,
		"conn_max_lifetime":     c.ConnMaxLifetime,
		"conn_max_idle_time":    c.ConnMaxIdleTime,
		"connect_timeout":       c.ConnectTimeout,
		"read_timeout":          c.ReadTimeout,
		"write_timeout":         c.WriteTimeout,
		"health_check_interval": c.HealthCheckInterval,
		"enable_query_log":      c.EnableQueryLog,
		"slow_query_time":       c.SlowQueryTime,
		"enable_metrics":        c.EnableMetrics,
		"charset":               c.Charset,
	} {
		v.SetDefault("connection_config."+key, value)
	}
	v.SetDefault("query_config.stable_ordering", def.QueryConfig.StableOrdering)
	v.SetDefault("query_config.max_page_size", def.QueryConfig.MaxPageSize)
}

// WriteFile exports the configuration as YAML, creating parent directories.
func (c *Config) WriteFile(outputPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
