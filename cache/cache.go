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
	"container/list"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/proxyd/proxyd/common"
	"github.com/proxyd/proxyd/logger"
)

var (
	hitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "cache_hits_total",
			Help:      "Cache lookup hits total",
		},
	)

	missesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "cache_misses_total",
			Help:      "Cache lookup misses total",
		},
	)

	insertionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "cache_insertions_total",
			Help:      "Cache entry insertions total",
		},
	)

	evictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "cache_evictions_total",
			Help:      "Cache entry evictions total",
		},
	)

	expirationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "cache_expirations_total",
			Help:      "Cache entry hit-ttl expirations total",
		},
	)
)

// Policy 缓存满时的淘汰策略
type Policy string

const (
	// PolicyEntire 清空整个缓存
	PolicyEntire Policy = "entire"

	// PolicyLRU 淘汰最久未读取的条目
	PolicyLRU Policy = "lru"

	// PolicyNone 不做淘汰 缓存可能超出容量限制
	PolicyNone Policy = "none"
)

// ParsePolicy 解析并校验淘汰策略
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyEntire, PolicyLRU, PolicyNone:
		return Policy(s), nil
	}
	return "", errors.Errorf("cache: unknown eviction policy %q", s)
}

// Entry 缓存的响应内容 持有原始的 header 与 body 字节
//
// 不存储解析后的消息 命中时只需 Raw 方式重建
// 既省去了重复解析的开销 也保留了 origin 的原始字节布局
type Entry struct {
	Header []byte
	Body   []byte
}

type item struct {
	key           string
	value         Entry
	remainingHits int
}

// Cache 有界的 key→响应 内存缓存
//
// 条目按访问新旧有序 链表头为最久未读取 链表尾为最近读取
// 每个条目携带剩余可读取次数 负数代表不限次数 读取到 0 次后过期
// 所有操作均在一把互斥锁内完成 内部不存在阻塞点
type Cache struct {
	mut       sync.Mutex
	ll        *list.List
	items     map[string]*list.Element
	sizeLimit int
	policy    Policy
	hitTTL    int
}

// New 创建并返回 *Cache 实例
//
// sizeLimit 为 0 时缓存被完全禁用 hitTTL 不允许为 0
func New(sizeLimit int, policy Policy, hitTTL int) *Cache {
	return &Cache{
		ll:        list.New(),
		items:     make(map[string]*list.Element),
		sizeLimit: sizeLimit,
		policy:    policy,
		hitTTL:    hitTTL,
	}
}

// Has 返回 key 是否命中
//
// 剩余读取次数为 0 的条目视为过期 会被立即移除并返回未命中
func (c *Cache) Has(key string) bool {
	c.mut.Lock()
	defer c.mut.Unlock()

	el, ok := c.items[key]
	if !ok {
		logger.Debugf("cache miss (no entry) for key: %s", key)
		missesTotal.Inc()
		return false
	}

	it := el.Value.(*item)
	if it.remainingHits == 0 {
		logger.Infof("cache expired for key: %s, removing from cache", key)
		c.removeElement(el)
		expirationsTotal.Inc()
		missesTotal.Inc()
		return false
	}

	logger.Debugf("cache hit for key: %s with remainingHits=%d", key, it.remainingHits)
	hitsTotal.Inc()
	return true
}

// Get 读取 key 对应的条目 要求此前 Has 已经命中
//
// 每次读取扣减一次剩余次数 负数代表不限次数不做扣减
// 条目同时被移动到最近读取的一端
func (c *Cache) Get(key string) (Entry, bool) {
	c.mut.Lock()
	defer c.mut.Unlock()

	el, ok := c.items[key]
	if !ok {
		return Entry{}, false
	}

	it := el.Value.(*item)
	if it.remainingHits > 0 {
		it.remainingHits--
		logger.Debugf("decremented remainingHits for key: %s to %d", key, it.remainingHits)
	}
	c.ll.MoveToBack(el)
	return it.value, true
}

// Put 写入一个新条目 剩余读取次数被重置为 hitTTL
//
// sizeLimit 为 0 时不做任何事情
// 容量已满时先执行一次淘汰再写入 策略为 none 时写入后会超出容量
func (c *Cache) Put(key string, value Entry) {
	c.mut.Lock()
	defer c.mut.Unlock()

	if c.sizeLimit == 0 {
		logger.Debugf("cache size limit set to 0 (response will not be cached)")
		return
	}

	if c.ll.Len() >= c.sizeLimit {
		logger.Infof("cache size limit reached; applying eviction policy")
		c.evict()
	}

	logger.Infof("caching response for key: %s with hitTTL=%d", key, c.hitTTL)
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
	c.items[key] = c.ll.PushBack(&item{key: key, value: value, remainingHits: c.hitTTL})
	insertionsTotal.Inc()
}

// Remove 删除 key 对应的条目
func (c *Cache) Remove(key string) {
	c.mut.Lock()
	defer c.mut.Unlock()

	if el, ok := c.items[key]; ok {
		logger.Debugf("removing key from cache: %s", key)
		c.removeElement(el)
	}
}

// Evict 按照策略执行一次淘汰
func (c *Cache) Evict() {
	c.mut.Lock()
	defer c.mut.Unlock()

	c.evict()
}

// Size 返回当前条目数量
func (c *Cache) Size() int {
	c.mut.Lock()
	defer c.mut.Unlock()

	return c.ll.Len()
}

// Flush 清空整个缓存
func (c *Cache) Flush() {
	c.mut.Lock()
	defer c.mut.Unlock()

	c.clear()
}

// Stats 缓存的即时状态
type Stats struct {
	Size      int    `json:"size"`
	SizeLimit int    `json:"sizeLimit"`
	Policy    string `json:"policy"`
	HitTTL    int    `json:"hitTTL"`
}

func (c *Cache) Stats() Stats {
	c.mut.Lock()
	defer c.mut.Unlock()

	return Stats{
		Size:      c.ll.Len(),
		SizeLimit: c.sizeLimit,
		Policy:    string(c.policy),
		HitTTL:    c.hitTTL,
	}
}

// evict 调用方需持有锁
func (c *Cache) evict() {
	switch c.policy {
	case PolicyEntire:
		logger.Debugf("eviction policy: entire, clearing entire cache")
		c.clear()

	case PolicyLRU:
		if el := c.ll.Front(); el != nil {
			logger.Debugf("eviction policy: lru, removed: %s", el.Value.(*item).key)
			c.removeElement(el)
			evictionsTotal.Inc()
		}

	case PolicyNone:
		logger.Warnf("eviction policy is 'none'; skipping eviction")
	}
}

func (c *Cache) clear() {
	n := c.ll.Len()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
	evictionsTotal.Add(float64(n))
}

// removeElement 调用方需持有锁
func (c *Cache) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*item).key)
}
