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

// Package broker implements the request-handling pipeline of the query
// broker: compiling, authorizing, resolving, validating, splitting and
// routing one analytical query into per-table-type sub-requests.
package broker

import (
	"fmt"
	"strings"

	"github.com/jinzhu/copier"
)

// FilterOperator identifies the predicate kind of one filter node.
// Leaf operators compare a column against literal values; AND/OR/NOT
// combine child nodes and carry no column of their own.
type FilterOperator string

const (
	FilterOpAnd      FilterOperator = "AND"
	FilterOpOr       FilterOperator = "OR"
	FilterOpNot      FilterOperator = "NOT"
	FilterOpEquality FilterOperator = "EQUALITY"
	FilterOpNotEq    FilterOperator = "NOT_EQUALITY"
	FilterOpRange    FilterOperator = "RANGE"
	FilterOpRegexp   FilterOperator = "REGEXP_LIKE"
	FilterOpIn       FilterOperator = "IN"
	FilterOpNotIn    FilterOperator = "NOT_IN"
)

// IsCombinator reports whether the operator combines child nodes rather
// than testing a column.
func (op FilterOperator) IsCombinator() bool {
	return op == FilterOpAnd || op == FilterOpOr || op == FilterOpNot
}

// QuerySource names the table a request reads from. The table name starts
// out as the raw logical name and is rewritten to the physical
// _OFFLINE/_REALTIME form when the request is specialized.
type QuerySource struct {
	TableName string `json:"tableName"`
}

// FilterQuery is one node of the flat, ID-indexed filter representation.
// NestedFilterQueryIDs reference sibling entries in the enclosing
// FilterQueryMap; an empty list marks a leaf.
type FilterQuery struct {
	ID                   int            `json:"id"`
	Column               string         `json:"column,omitempty"`
	Value                []string       `json:"value,omitempty"`
	Operator             FilterOperator `json:"operator"`
	NestedFilterQueryIDs []int          `json:"nestedFilterQueryIds,omitempty"`
}

// FilterQueryMap indexes every node of one flat filter by ID.
type FilterQueryMap map[int]*FilterQuery

// HavingFilterQuery is the having-clause analogue of FilterQuery: leaves
// test an aggregation result instead of a column.
type HavingFilterQuery struct {
	ID                   int              `json:"id"`
	Aggregation          *AggregationInfo `json:"aggregation,omitempty"`
	Value                []string         `json:"value,omitempty"`
	Operator             FilterOperator   `json:"operator"`
	NestedFilterQueryIDs []int            `json:"nestedFilterQueryIds,omitempty"`
}

// HavingFilterQueryMap indexes every node of one flat having filter by ID.
type HavingFilterQueryMap map[int]*HavingFilterQuery

// AggregationInfo describes one aggregation in the select list, e.g.
// SUM(col3). Params carries function arguments keyed by name; the target
// expression lives under the "column" key.
type AggregationInfo struct {
	AggregationType string            `json:"aggregationType"`
	Params          map[string]string `json:"params,omitempty"`
}

const (
	aggregationColumnKey = "column"
	aggregationCount     = "count"
)

// Column returns the aggregation's target expression, or "" for COUNT.
func (a *AggregationInfo) Column() string {
	return a.Params[aggregationColumnKey]
}

// IsCount reports whether the aggregation is COUNT, which references no
// column.
func (a *AggregationInfo) IsCount() bool {
	return strings.EqualFold(a.AggregationType, aggregationCount)
}

// GroupBy holds the group-by expressions and the result-size cap (TOP).
type GroupBy struct {
	Expressions []string `json:"expressions"`
	TopN        int64    `json:"topN"`
}

// SelectionSort is one entry of a selection's ORDER BY sequence.
type SelectionSort struct {
	Column string `json:"column"`
	IsAsc  bool   `json:"isAsc"`
}

// Selection holds the projected columns, sort sequence and result-size
// cap (LIMIT) of a selection-only query.
type Selection struct {
	Columns []string        `json:"columns"`
	Sort    []SelectionSort `json:"sort,omitempty"`
	Size    int             `json:"size"`
	Offset  int             `json:"offset,omitempty"`
}

// BrokerRequest is the compiled form of one query. It is owned by a single
// pipeline execution and never shared across requests; hybrid fan-out
// deep-copies it so that the offline and realtime specializations cannot
// observe each other's mutations.
type BrokerRequest struct {
	QuerySource             QuerySource          `json:"querySource"`
	FilterQuery             *FilterQuery         `json:"filterQuery,omitempty"`
	FilterSubQueryMap       FilterQueryMap       `json:"filterSubQueryMap,omitempty"`
	Aggregations            []AggregationInfo    `json:"aggregations,omitempty"`
	GroupBy                 *GroupBy             `json:"groupBy,omitempty"`
	Selections              *Selection           `json:"selections,omitempty"`
	HavingFilterQuery       *HavingFilterQuery   `json:"havingFilterQuery,omitempty"`
	HavingFilterSubQueryMap HavingFilterQueryMap `json:"havingFilterSubQueryMap,omitempty"`
	EnableTrace             bool                 `json:"enableTrace,omitempty"`
	DebugOptions            map[string]string    `json:"debugOptions,omitempty"`
}

// Clone returns an independent deep copy of the request. Mutating the copy
// (table rewrite, time-boundary surgery) must never be visible through the
// original.
func (r *BrokerRequest) Clone() (*BrokerRequest, error) {
	var cp BrokerRequest
	if err := copier.CopyWithOption(&cp, r, copier.Option{DeepCopy: true}); err != nil {
		return nil, fmt.Errorf("clone broker request: %w", err)
	}
	// The deep copy produces the root node and its map entry as two
	// objects; re-point the roots at their map entries so a mutation
	// through one stays visible through the other.
	if cp.FilterQuery != nil {
		if root, ok := cp.FilterSubQueryMap[cp.FilterQuery.ID]; ok {
			cp.FilterQuery = root
		}
	}
	if cp.HavingFilterQuery != nil {
		if root, ok := cp.HavingFilterSubQueryMap[cp.HavingFilterQuery.ID]; ok {
			cp.HavingFilterQuery = root
		}
	}
	return &cp, nil
}

// HasAggregations reports whether the request is an aggregation query.
func (r *BrokerRequest) HasAggregations() bool {
	return len(r.Aggregations) > 0
}
