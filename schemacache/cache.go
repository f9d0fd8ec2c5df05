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

// Package schemacache provides TTL-cached access to table schemas for
// broker-side column validation.
package schemacache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/cardinalhq/querybroker/broker"
)

// Loader fetches a table schema from its source of truth.
type Loader func(ctx context.Context, tableName string) (*broker.Schema, error)

// Cache keeps table schemas with a TTL and refreshes misses in the
// background. Lookups never block on the loader: a miss returns absent
// and the caller is expected to skip schema-dependent work for that
// request.
type Cache struct {
	cache      *ttlcache.Cache[string, *broker.Schema]
	loader     Loader
	refreshTTL time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New builds a cache. A nil loader disables refreshes, which turns the
// cache into a permanently-empty view (validation is then always skipped).
func New(loader Loader, ttl time.Duration) *Cache {
	c := &Cache{
		cache: ttlcache.New(
			ttlcache.WithTTL[string, *broker.Schema](ttl),
			ttlcache.WithDisableTouchOnHit[string, *broker.Schema](),
		),
		loader:     loader,
		refreshTTL: ttl,
		inflight:   map[string]struct{}{},
	}
	go c.cache.Start()
	return c
}

// SchemaIfPresent returns the cached schema for the table, if any.
func (c *Cache) SchemaIfPresent(tableName string) (*broker.Schema, bool) {
	item := c.cache.Get(tableName)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// RefreshAsync loads the table's schema in the background. Concurrent
// refreshes of the same table are collapsed into one load.
func (c *Cache) RefreshAsync(tableName string) {
	if c.loader == nil {
		return
	}
	c.mu.Lock()
	if _, busy := c.inflight[tableName]; busy {
		c.mu.Unlock()
		return
	}
	c.inflight[tableName] = struct{}{}
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.inflight, tableName)
			c.mu.Unlock()
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		schema, err := c.loader(ctx, tableName)
		if err != nil {
			slog.Warn("failed to refresh table schema",
				slog.String("table", tableName),
				slog.Any("error", err))
			return
		}
		c.cache.Set(tableName, schema, c.refreshTTL)
	}()
}

// Put stores a schema directly, mainly for startup priming and tests.
func (c *Cache) Put(schema *broker.Schema) {
	c.cache.Set(schema.Table, schema, c.refreshTTL)
}

// Close stops the cache's expiry loop.
func (c *Cache) Close() {
	c.cache.Stop()
}
