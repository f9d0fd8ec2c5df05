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
	"log/slog"

	"github.com/cardinalhq/querybroker/internal/logctx"
)

// Synthetic filter node IDs used when the broker injects a time-boundary
// predicate. The tree-to-flat-map codec only ever emits non-negative IDs,
// so negative IDs cannot collide with compiled filters. Load-bearing
// invariant, covered by tests.
const (
	timeBoundaryFilterID    = -1
	timeBoundaryAndFilterID = -2
)

// timeBoundaryRange encodes the half-open range literal for one side of
// the boundary: offline keeps time < value, realtime keeps time >= value.
func timeBoundaryRange(timeValue string, offline bool) string {
	if offline {
		return "(*\t\t" + timeValue + ")"
	}
	return "[" + timeValue + "\t\t*)"
}

// AttachTimeBoundary ANDs a time-range predicate onto the request's filter
// so that the offline and realtime specializations of a hybrid query serve
// disjoint time windows. When the boundary is unknown the request is left
// untouched: the query degrades to unioning both copies, which is the
// accepted fallback, and a warning is logged.
func AttachTimeBoundary(ctx context.Context, req *BrokerRequest, tb TimeBoundaryInfo, offline bool) {
	if tb.TimeColumn == "" || tb.TimeValue == "" {
		logctx.FromContext(ctx).Warn("no time boundary info for hybrid table, querying both copies unfiltered",
			slog.String("table", ExtractRawTableName(req.QuerySource.TableName)))
		return
	}

	timeFilter := &FilterQuery{
		ID:       timeBoundaryFilterID,
		Column:   tb.TimeColumn,
		Value:    []string{timeBoundaryRange(tb.TimeValue, offline)},
		Operator: FilterOpRange,
	}

	current := req.FilterQuery
	if current == nil {
		req.FilterQuery = timeFilter
		req.FilterSubQueryMap = FilterQueryMap{timeBoundaryFilterID: timeFilter}
		return
	}

	andFilter := &FilterQuery{
		ID:                   timeBoundaryAndFilterID,
		Operator:             FilterOpAnd,
		NestedFilterQueryIDs: []int{current.ID, timeFilter.ID},
	}
	if req.FilterSubQueryMap == nil {
		req.FilterSubQueryMap = FilterQueryMap{current.ID: current}
	}
	req.FilterSubQueryMap[timeBoundaryFilterID] = timeFilter
	req.FilterSubQueryMap[timeBoundaryAndFilterID] = andFilter
	req.FilterQuery = andFilter
}
