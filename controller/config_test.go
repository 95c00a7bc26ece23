// Copyright 2025 The proxyd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	var cfg Config
	cfg.Host = "127.0.0.1"
	cfg.Port = 8888
	cfg.Origin = "https://dummyjson.com"
	cfg.Cache.SizeLimit = 10
	cfg.Cache.CleanInterval = 0
	cfg.Cache.EvictionPolicy = "lru"
	cfg.Cache.HitTTL = 10
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name  string
		mutic func(*Config)
		fails bool
	}{
		{
			name:  "Valid",
			mutic: func(c *Config) {},
		},
		{
			name:  "UnlimitedHitTTL",
			mutic: func(c *Config) { c.Cache.HitTTL = -1 },
		},
		{
			name:  "ZeroSizeLimit",
			mutic: func(c *Config) { c.Cache.SizeLimit = 0 },
		},
		{
			name:  "MissingHost",
			mutic: func(c *Config) { c.Host = "" },
			fails: true,
		},
		{
			name:  "InvalidPort",
			mutic: func(c *Config) { c.Port = 0 },
			fails: true,
		},
		{
			name:  "NegativeSizeLimit",
			mutic: func(c *Config) { c.Cache.SizeLimit = -1 },
			fails: true,
		},
		{
			name:  "NegativeCleanInterval",
			mutic: func(c *Config) { c.Cache.CleanInterval = -time.Second },
			fails: true,
		},
		{
			name:  "ZeroHitTTL",
			mutic: func(c *Config) { c.Cache.HitTTL = 0 },
			fails: true,
		},
		{
			name:  "UnknownPolicy",
			mutic: func(c *Config) { c.Cache.EvictionPolicy = "fifo" },
			fails: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutic(&cfg)
			err := cfg.Validate()
			if tt.fails {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
