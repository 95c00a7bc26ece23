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

package cache

import (
	"context"
	"time"

	"github.com/proxyd/proxyd/logger"
)

// Cleaner 周期性地对缓存执行淘汰的后台任务
//
// 与请求处理协程并发运行 只会操作 Cache 本身
// interval 为 0 时任务被禁用
type Cleaner struct {
	cache    *Cache
	interval time.Duration
}

// NewCleaner 创建并返回 *Cleaner 实例
func NewCleaner(cache *Cache, interval time.Duration) *Cleaner {
	return &Cleaner{
		cache:    cache,
		interval: interval,
	}
}

// Run 周期性执行淘汰直至 ctx 被取消
func (c *Cleaner) Run(ctx context.Context) {
	if c.interval <= 0 {
		logger.Infof("periodic cache cleaner is disabled")
		return
	}

	logger.Infof("periodic cache cleaner started with interval: %s", c.interval)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if c.cache.Size() == 0 {
				logger.Infof("periodic cache cleaner: nothing to clear")
				continue
			}
			c.cache.Evict()
			logger.Infof("periodic cache cleaner: eviction applied")

		case <-ctx.Done():
			return
		}
	}
}
