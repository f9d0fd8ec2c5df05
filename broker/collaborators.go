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

package broker

import (
	"context"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// RequesterIdentity names the caller of one request for access-control
// decisions and audit logging.
type RequesterIdentity struct {
	Principal string
	ClientIP  string
}

// Compiler turns raw query text into a BrokerRequest.
type Compiler interface {
	Compile(query string) (*BrokerRequest, error)
}

// CompilerFunc adapts a function to the Compiler interface.
type CompilerFunc func(query string) (*BrokerRequest, error)

func (f CompilerFunc) Compile(query string) (*BrokerRequest, error) { return f(query) }

// AccessControl decides whether an identity may run a compiled request.
type AccessControl interface {
	HasAccess(ctx context.Context, identity *RequesterIdentity, req *BrokerRequest) bool
}

// AccessControlFunc adapts a function to the AccessControl interface.
type AccessControlFunc func(ctx context.Context, identity *RequesterIdentity, req *BrokerRequest) bool

func (f AccessControlFunc) HasAccess(ctx context.Context, identity *RequesterIdentity, req *BrokerRequest) bool {
	return f(ctx, identity, req)
}

// RoutingTable maps a server endpoint to the segments that server must
// scan for one sub-request.
type RoutingTable map[string][]string

// RoutingProvider is the broker's view of the cluster topology. Both
// methods must be safe under arbitrary concurrent readers and a
// low-frequency concurrent writer.
type RoutingProvider interface {
	// RoutingTableExists reports whether any routing entry is live for the
	// physical table name.
	RoutingTableExists(tableNameWithType string) bool
	// GetRoutingTable returns the server-to-segments mapping for one
	// sub-request. An empty mapping means no eligible server right now.
	GetRoutingTable(req *BrokerRequest) RoutingTable
}

// TimeBoundaryInfo is the per-offline-table dividing timestamp: the
// offline copy is authoritative strictly below TimeValue, the realtime
// copy at and above it.
type TimeBoundaryInfo struct {
	TimeColumn string
	TimeValue  string
}

// TimeBoundaryService supplies the time boundary for an offline physical
// table, when one is known.
type TimeBoundaryService interface {
	TimeBoundary(offlineTableName string) (TimeBoundaryInfo, bool)
}

// QuotaGate rations queries per table. TryAcquire is non-blocking and
// must not starve other tables.
type QuotaGate interface {
	TryAcquire(tableName string) bool
}

// Schema is the broker's validation view of a table: just the known
// column names.
type Schema struct {
	Table   string
	Columns []string
}

// ColumnSet returns the schema's columns as a set.
func (s *Schema) ColumnSet() mapset.Set[string] {
	return mapset.NewThreadUnsafeSet(s.Columns...)
}

// SchemaCache serves schemas for column validation. A miss triggers an
// asynchronous refresh rather than blocking the request.
type SchemaCache interface {
	SchemaIfPresent(tableName string) (*Schema, bool)
	RefreshAsync(tableName string)
}

// Optimizer rewrites a sub-request into a more efficient equivalent form
// without changing its semantics.
type Optimizer interface {
	Optimize(req *BrokerRequest, timeColumn string) *BrokerRequest
}

// ExecuteParams carries everything the scatter-gather executor needs for
// one request. Either leg may be nil; at least one is set.
type ExecuteParams struct {
	RequestID       int64
	Original        *BrokerRequest
	Offline         *BrokerRequest
	OfflineRouting  RoutingTable
	Realtime        *BrokerRequest
	RealtimeRouting RoutingTable
	Timeout         time.Duration
}

// Executor scatters sub-requests to servers and gathers the merged
// response. The context carries the remaining timeout budget.
type Executor interface {
	Execute(ctx context.Context, params *ExecuteParams) (*Response, error)
}
