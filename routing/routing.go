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

// Package routing maintains the broker's view of which servers serve
// which segments of each physical table, plus per-table time boundaries.
// Reads come from every request; writes arrive from a low-frequency
// cluster-event stream.
package routing

import (
	"log/slog"
	"sync"

	"github.com/cardinalhq/querybroker/broker"
)

// View is a mutable, concurrency-safe topology snapshot. It implements
// broker.RoutingProvider and broker.TimeBoundaryService.
type View struct {
	mu         sync.RWMutex
	routes     map[string]broker.RoutingTable
	boundaries map[string]broker.TimeBoundaryInfo
}

func NewView() *View {
	return &View{
		routes:     map[string]broker.RoutingTable{},
		boundaries: map[string]broker.TimeBoundaryInfo{},
	}
}

// RoutingTableExists reports whether the physical table has any live
// routing entry.
func (v *View) RoutingTableExists(tableNameWithType string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rt, ok := v.routes[tableNameWithType]
	return ok && len(rt) > 0
}

// GetRoutingTable returns a copy of the server-to-segments mapping for the
// sub-request's table. The copy keeps callers isolated from concurrent
// topology updates.
func (v *View) GetRoutingTable(req *broker.BrokerRequest) broker.RoutingTable {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rt, ok := v.routes[req.QuerySource.TableName]
	if !ok {
		return nil
	}
	out := make(broker.RoutingTable, len(rt))
	for server, segments := range rt {
		out[server] = append([]string(nil), segments...)
	}
	return out
}

// TimeBoundary returns the offline table's time boundary, when known.
func (v *View) TimeBoundary(offlineTableName string) (broker.TimeBoundaryInfo, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	tb, ok := v.boundaries[offlineTableName]
	return tb, ok
}

// SetRoute replaces the routing table for one physical table. An empty
// table removes the entry.
func (v *View) SetRoute(tableNameWithType string, rt broker.RoutingTable) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(rt) == 0 {
		delete(v.routes, tableNameWithType)
		slog.Debug("routing entry removed", slog.String("table", tableNameWithType))
		return
	}
	v.routes[tableNameWithType] = rt
	slog.Debug("routing entry updated",
		slog.String("table", tableNameWithType),
		slog.Int("servers", len(rt)))
}

// SetTimeBoundary replaces the time boundary for one offline table.
func (v *View) SetTimeBoundary(offlineTableName string, tb broker.TimeBoundaryInfo) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.boundaries[offlineTableName] = tb
}

// RemoveTimeBoundary drops the time boundary for one offline table.
func (v *View) RemoveTimeBoundary(offlineTableName string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.boundaries, offlineTableName)
}
