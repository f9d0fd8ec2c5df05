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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenOptimizer_NestedAnd(t *testing.T) {
	// AND(a, AND(b, c)) -> AND(a, b, c)
	req := &BrokerRequest{QuerySource: QuerySource{TableName: "t"}}
	GenerateFilterFromTree(combine(FilterOpAnd,
		leaf("a", FilterOpEquality, "1"),
		combine(FilterOpAnd,
			leaf("b", FilterOpEquality, "2"),
			leaf("c", FilterOpEquality, "3"),
		),
	), req)

	NewFlattenOptimizer().Optimize(req, "")

	root := req.FilterQuery
	require.Len(t, root.NestedFilterQueryIDs, 3)
	tree, err := GenerateFilterQueryTree(req)
	require.NoError(t, err)
	require.Len(t, tree.Children, 3)
	assert.Equal(t, "a", tree.Children[0].Column)
	assert.Equal(t, "b", tree.Children[1].Column)
	assert.Equal(t, "c", tree.Children[2].Column)
}

func TestFlattenOptimizer_MixedOperatorsUntouched(t *testing.T) {
	// AND(a, OR(b, c)) keeps its shape.
	req := &BrokerRequest{QuerySource: QuerySource{TableName: "t"}}
	GenerateFilterFromTree(combine(FilterOpAnd,
		leaf("a", FilterOpEquality, "1"),
		combine(FilterOpOr,
			leaf("b", FilterOpEquality, "2"),
			leaf("c", FilterOpEquality, "3"),
		),
	), req)

	NewFlattenOptimizer().Optimize(req, "")

	tree, err := GenerateFilterQueryTree(req)
	require.NoError(t, err)
	require.Len(t, tree.Children, 2)
	assert.Equal(t, FilterOpOr, tree.Children[1].Operator)
}

func TestFlattenOptimizer_PreservesSyntheticIDs(t *testing.T) {
	req := &BrokerRequest{QuerySource: QuerySource{TableName: "t_OFFLINE"}}
	GenerateFilterFromTree(leaf("a", FilterOpEquality, "1"), req)
	AttachTimeBoundary(context.Background(), req, TimeBoundaryInfo{TimeColumn: "ts", TimeValue: "1000"}, true)

	NewFlattenOptimizer().Optimize(req, "ts")

	assert.Equal(t, -2, req.FilterQuery.ID)
	assert.NotNil(t, req.FilterSubQueryMap[-1])
	assert.Equal(t, []int{0, -1}, req.FilterQuery.NestedFilterQueryIDs)
}

func TestFlattenOptimizer_DecodedRequest(t *testing.T) {
	// A request decoded from the wire holds a root object distinct from its
	// map entry. Flattening must leave root and map telling the same story,
	// or the serialized sub-request no longer rebuilds into a tree.
	payload := `{
		"querySource": {"tableName": "t"},
		"filterQuery": {"id": 0, "operator": "AND", "nestedFilterQueryIds": [1, 4]},
		"filterSubQueryMap": {
			"0": {"id": 0, "operator": "AND", "nestedFilterQueryIds": [1, 4]},
			"1": {"id": 1, "operator": "AND", "nestedFilterQueryIds": [2, 3]},
			"2": {"id": 2, "column": "a", "operator": "EQUALITY", "value": ["1"]},
			"3": {"id": 3, "column": "b", "operator": "EQUALITY", "value": ["2"]},
			"4": {"id": 4, "column": "c", "operator": "EQUALITY", "value": ["3"]}
		}
	}`
	var req BrokerRequest
	require.NoError(t, json.Unmarshal([]byte(payload), &req))
	require.NotSame(t, req.FilterQuery, req.FilterSubQueryMap[0])

	NewFlattenOptimizer().Optimize(&req, "")

	assert.Same(t, req.FilterQuery, req.FilterSubQueryMap[0])
	assert.Equal(t, []int{2, 3, 4}, req.FilterQuery.NestedFilterQueryIDs)
	tree, err := GenerateFilterQueryTree(&req)
	require.NoError(t, err)
	require.Len(t, tree.Children, 3)
	assert.Equal(t, "a", tree.Children[0].Column)
	assert.Equal(t, "c", tree.Children[2].Column)
}

func TestFlattenOptimizer_NoFilter(t *testing.T) {
	req := &BrokerRequest{QuerySource: QuerySource{TableName: "t"}}
	assert.Same(t, req, NewFlattenOptimizer().Optimize(req, ""))
}
