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

package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxyd/proxyd/confengine"
	"github.com/proxyd/proxyd/controller"
)

func TestServeConfigYaml(t *testing.T) {
	c := serveCmdConfig{
		Host:               "127.0.0.1",
		Port:               8888,
		Origin:             "https://dummyjson.com",
		CacheSizeLimit:     5,
		CacheCleanInterval: 30,
		EvictionPolicy:     "entire",
		HitTTL:             -1,
		AdminAddress:       "127.0.0.1:9090",
	}

	conf, err := confengine.LoadContent(c.Yaml())
	require.NoError(t, err)

	var cfg controller.Config
	require.NoError(t, conf.UnpackChild("proxy", &cfg))
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 8888, cfg.Port)
	assert.Equal(t, "https://dummyjson.com", cfg.Origin)
	assert.Equal(t, 5, cfg.Cache.SizeLimit)
	assert.Equal(t, 30*time.Second, cfg.Cache.CleanInterval)
	assert.Equal(t, "entire", cfg.Cache.EvictionPolicy)
	assert.Equal(t, -1, cfg.Cache.HitTTL)
	assert.NoError(t, cfg.Validate())
}

func TestServeConfigValidate(t *testing.T) {
	valid := serveCmdConfig{
		Origin:             "http://example.com",
		CacheSizeLimit:     10,
		CacheCleanInterval: 0,
		EvictionPolicy:     "lru",
		HitTTL:             10,
	}

	tests := []struct {
		name  string
		mutic func(*serveCmdConfig)
		fails bool
	}{
		{
			name:  "Valid",
			mutic: func(c *serveCmdConfig) {},
		},
		{
			name:  "NegativeSizeLimit",
			mutic: func(c *serveCmdConfig) { c.CacheSizeLimit = -1 },
			fails: true,
		},
		{
			name:  "NegativeCleanInterval",
			mutic: func(c *serveCmdConfig) { c.CacheCleanInterval = -5 },
			fails: true,
		},
		{
			name:  "ZeroHitTTL",
			mutic: func(c *serveCmdConfig) { c.HitTTL = 0 },
			fails: true,
		},
		{
			name:  "UnknownPolicy",
			mutic: func(c *serveCmdConfig) { c.EvictionPolicy = "random" },
			fails: true,
		},
		{
			name:  "OriginWithoutScheme",
			mutic: func(c *serveCmdConfig) { c.Origin = "dummyjson.com" },
			fails: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutic(&c)
			err := c.validate()
			if tt.fails {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
