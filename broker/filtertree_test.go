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
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(column string, op FilterOperator, values ...string) *FilterQueryTree {
	return &FilterQueryTree{Column: column, Operator: op, Value: values}
}

func combine(op FilterOperator, children ...*FilterQueryTree) *FilterQueryTree {
	return &FilterQueryTree{Operator: op, Children: children}
}

func TestTreeToFlatMap_PreOrderIDs(t *testing.T) {
	// AND(a=1, OR(b=2, c=3))
	tree := combine(FilterOpAnd,
		leaf("a", FilterOpEquality, "1"),
		combine(FilterOpOr,
			leaf("b", FilterOpEquality, "2"),
			leaf("c", FilterOpEquality, "3"),
		),
	)

	rootID, m := TreeToFlatMap(tree)
	require.Equal(t, 0, rootID)
	require.Len(t, m, 4)

	root := m[0]
	require.NotNil(t, root)
	assert.Equal(t, FilterOpAnd, root.Operator)
	assert.Equal(t, []int{1, 2}, root.NestedFilterQueryIDs)

	assert.Equal(t, "a", m[1].Column)
	assert.Equal(t, FilterOpOr, m[2].Operator)
	assert.Equal(t, []int{3, 4}, m[2].NestedFilterQueryIDs)
	assert.Equal(t, "b", m[3].Column)
	assert.Equal(t, "c", m[4].Column)
}

func TestTreeToFlatMap_SiblingSubtreeNumbering(t *testing.T) {
	// A child's ID is allocated before its own descendants', so the second
	// child's ID lands after the first child's whole subtree.
	tree := combine(FilterOpAnd,
		combine(FilterOpOr,
			leaf("a", FilterOpEquality, "1"),
			leaf("b", FilterOpEquality, "2"),
		),
		leaf("c", FilterOpEquality, "3"),
	)

	_, m := TreeToFlatMap(tree)
	require.Len(t, m, 5)
	assert.Equal(t, []int{1, 4}, m[0].NestedFilterQueryIDs)
	assert.Equal(t, []int{2, 3}, m[1].NestedFilterQueryIDs)
	assert.Equal(t, "c", m[4].Column)
}

func randomTree(r *rand.Rand, depth int) *FilterQueryTree {
	if depth == 0 || r.IntN(3) == 0 {
		col := fmt.Sprintf("col%d", r.IntN(20))
		return leaf(col, FilterOpEquality, fmt.Sprintf("%d", r.IntN(100)))
	}
	op := FilterOpAnd
	if r.IntN(2) == 0 {
		op = FilterOpOr
	}
	n := 1 + r.IntN(4)
	children := make([]*FilterQueryTree, 0, n)
	for range n {
		children = append(children, randomTree(r, depth-1))
	}
	return &FilterQueryTree{Operator: op, Children: children}
}

func TestFlatMap_RoundTrip(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for range 200 {
		tree := randomTree(r, 4)
		rootID, m := TreeToFlatMap(tree)

		for id := range m {
			assert.GreaterOrEqual(t, id, 0, "codec must never emit negative IDs")
		}

		back, err := FlatMapToTree(rootID, m)
		require.NoError(t, err)
		assert.Equal(t, tree, back, "round trip must preserve structure and child order")
	}
}

func TestFlatMapToTree_DanglingReference(t *testing.T) {
	m := FilterQueryMap{
		0: {ID: 0, Operator: FilterOpAnd, NestedFilterQueryIDs: []int{1, 7}},
		1: {ID: 1, Column: "a", Operator: FilterOpEquality, Value: []string{"1"}},
	}

	_, err := FlatMapToTree(0, m)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedFilter)
	assert.Contains(t, err.Error(), "7")
}

func TestFlatMapToTree_EmptyChildListIsLeaf(t *testing.T) {
	m := FilterQueryMap{
		0: {ID: 0, Column: "a", Operator: FilterOpEquality, Value: []string{"1"}},
	}
	tree, err := FlatMapToTree(0, m)
	require.NoError(t, err)
	assert.Empty(t, tree.Children)
	assert.Equal(t, "a", tree.Column)
}

func TestGenerateFilterFromTree(t *testing.T) {
	req := &BrokerRequest{QuerySource: QuerySource{TableName: "t"}}
	GenerateFilterFromTree(leaf("a", FilterOpEquality, "1"), req)

	require.NotNil(t, req.FilterQuery)
	assert.Equal(t, 0, req.FilterQuery.ID)
	assert.Same(t, req.FilterQuery, req.FilterSubQueryMap[0])

	tree, err := GenerateFilterQueryTree(req)
	require.NoError(t, err)
	assert.Equal(t, "a", tree.Column)
}

func TestGenerateFilterQueryTree_NoFilter(t *testing.T) {
	req := &BrokerRequest{QuerySource: QuerySource{TableName: "t"}}
	tree, err := GenerateFilterQueryTree(req)
	require.NoError(t, err)
	assert.Nil(t, tree)
}

func TestHavingCodec_RoundTrip(t *testing.T) {
	sum := &AggregationInfo{AggregationType: "SUM", Params: map[string]string{"column": "col3"}}
	cnt := &AggregationInfo{AggregationType: "COUNT"}
	tree := &HavingQueryTree{
		Operator: FilterOpAnd,
		Children: []*HavingQueryTree{
			{Aggregation: sum, Operator: FilterOpRange, Value: []string{"(10\t\t*)"}},
			{Aggregation: cnt, Operator: FilterOpEquality, Value: []string{"5"}},
		},
	}

	rootID, m := HavingTreeToFlatMap(tree)
	require.Equal(t, 0, rootID)
	require.Len(t, m, 3)
	for id := range m {
		assert.GreaterOrEqual(t, id, 0)
	}

	back, err := HavingFlatMapToTree(rootID, m)
	require.NoError(t, err)
	assert.Equal(t, tree, back)
}

func TestHavingFlatMapToTree_DanglingReference(t *testing.T) {
	m := HavingFilterQueryMap{
		0: {ID: 0, Operator: FilterOpOr, NestedFilterQueryIDs: []int{3}},
	}
	_, err := HavingFlatMapToTree(0, m)
	assert.ErrorIs(t, err, ErrMalformedFilter)
}
