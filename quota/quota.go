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

// Package quota rations queries per table with independent token buckets,
// so one hot table cannot starve the others.
package quota

import (
	"sync"

	"golang.org/x/time/rate"
)

// Manager hands out per-table query permits. Each table gets its own
// token bucket; TryAcquire never blocks. A zero or negative default rate
// disables quota enforcement for tables without an explicit override.
type Manager struct {
	defaultRate  rate.Limit
	defaultBurst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewManager builds a manager with the given default per-table rate.
func NewManager(defaultRate rate.Limit, defaultBurst int) *Manager {
	if defaultBurst <= 0 {
		defaultBurst = 1
	}
	return &Manager{
		defaultRate:  defaultRate,
		defaultBurst: defaultBurst,
		limiters:     map[string]*rate.Limiter{},
	}
}

// SetTableQuota overrides the quota for one table. A zero or negative
// rate removes enforcement for that table.
func (m *Manager) SetTableQuota(tableName string, r rate.Limit, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r <= 0 {
		m.limiters[tableName] = nil
		return
	}
	if burst <= 0 {
		burst = 1
	}
	m.limiters[tableName] = rate.NewLimiter(r, burst)
}

// TryAcquire consumes one permit for the table if available. The token
// take is atomic; concurrent callers against the same table cannot
// double-spend a permit.
func (m *Manager) TryAcquire(tableName string) bool {
	m.mu.Lock()
	limiter, ok := m.limiters[tableName]
	if !ok {
		if m.defaultRate <= 0 {
			limiter = nil
		} else {
			limiter = rate.NewLimiter(m.defaultRate, m.defaultBurst)
		}
		m.limiters[tableName] = limiter
	}
	m.mu.Unlock()

	if limiter == nil {
		return true
	}
	return limiter.Allow()
}
