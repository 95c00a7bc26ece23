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
	"time"

	"github.com/pkg/errors"

	"github.com/proxyd/proxyd/cache"
)

// Config proxy 配置段
type Config struct {
	Host   string `config:"host"`
	Port   int    `config:"port"`
	Origin string `config:"origin"`

	Cache struct {
		SizeLimit      int           `config:"sizeLimit"`
		CleanInterval  time.Duration `config:"cleanInterval"`
		EvictionPolicy string        `config:"evictionPolicy"`
		HitTTL         int           `config:"hitTTL"`
	} `config:"cache"`

	Options map[string]any `config:"options"`
}

// Validate 校验配置 返回首个不合法项
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("controller: proxy host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("controller: invalid proxy port %d", c.Port)
	}
	if c.Cache.SizeLimit < 0 {
		return errors.Errorf("controller: cache sizeLimit can not be negative, got %d", c.Cache.SizeLimit)
	}
	if c.Cache.CleanInterval < 0 {
		return errors.Errorf("controller: cache cleanInterval can not be negative, got %s", c.Cache.CleanInterval)
	}
	if c.Cache.HitTTL == 0 {
		return errors.New("controller: cache hitTTL can not be 0, to disable caching set sizeLimit to 0")
	}
	if _, err := cache.ParsePolicy(c.Cache.EvictionPolicy); err != nil {
		return err
	}
	return nil
}
