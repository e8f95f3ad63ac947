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

// Package cache is the expiring, bounded cache injected into the source
// client and the batch loader. Entries expire after TTL and the least
// recently used entries are evicted once Capacity is reached.
package cache

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

type Config struct {
	TTL      time.Duration `mapstructure:"ttl"`
	Capacity uint64        `mapstructure:"capacity"`
}

type Cache[K comparable, V any] struct {
	items *ttlcache.Cache[K, V]

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	mu        sync.Mutex
}

// New builds a cache. A zero TTL means entries never expire and a zero
// Capacity means the cache is unbounded.
func New[K comparable, V any](cfg Config) *Cache[K, V] {
	opts := []ttlcache.Option[K, V]{
		ttlcache.WithDisableTouchOnHit[K, V](),
	}
	if cfg.TTL > 0 {
		opts = append(opts, ttlcache.WithTTL[K, V](cfg.TTL))
	}
	if cfg.Capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[K, V](cfg.Capacity))
	}
	return &Cache[K, V]{items: ttlcache.New(opts...)}
}

// Start launches the background expiry loop. Safe to call more than once.
func (c *Cache[K, V]) Start() {
	c.startOnce.Do(func() {
		c.mu.Lock()
		c.started = true
		c.mu.Unlock()
		go c.items.Start()
	})
}

// Stop ends the expiry loop if it was started.
func (c *Cache[K, V]) Stop() {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return
	}
	c.stopOnce.Do(c.items.Stop)
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	item := c.items.Get(key)
	if item == nil || item.IsExpired() {
		var zero V
		return zero, false
	}
	return item.Value(), true
}

func (c *Cache[K, V]) Set(key K, value V) {
	c.items.Set(key, value, ttlcache.DefaultTTL)
}

func (c *Cache[K, V]) Has(key K) bool {
	_, ok := c.Get(key)
	return ok
}

func (c *Cache[K, V]) Delete(key K) {
	c.items.Delete(key)
}

func (c *Cache[K, V]) Reset() {
	c.items.DeleteAll()
}

func (c *Cache[K, V]) Len() int {
	return c.items.Len()
}
