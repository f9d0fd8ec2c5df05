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
	"errors"
	"fmt"
)

// ErrMalformedFilter marks an internal invariant violation in the flat
// filter representation, such as a child ID with no entry in the map.
var ErrMalformedFilter = errors.New("malformed filter")

// FilterQueryTree is the recursive form of a filter predicate. Leaves carry
// a column and literal values; combinator nodes (AND/OR/NOT) carry only
// children.
type FilterQueryTree struct {
	Column   string
	Value    []string
	Operator FilterOperator
	Children []*FilterQueryTree
}

// HavingQueryTree is the recursive form of a having-clause predicate.
// Leaves test an aggregation result rather than a column.
type HavingQueryTree struct {
	Aggregation *AggregationInfo
	Value       []string
	Operator    FilterOperator
	Children    []*HavingQueryTree
}

// GenerateFilterFromTree flattens tree into the request's filter fields.
// IDs are assigned in pre-order starting at 0: a node's ID is allocated the
// moment it is first referenced as a child, before any of its own
// descendants receive theirs. All generated IDs are non-negative; negative
// IDs are reserved for predicates injected later by the broker.
func GenerateFilterFromTree(tree *FilterQueryTree, req *BrokerRequest) {
	rootID, m := TreeToFlatMap(tree)
	req.FilterQuery = m[rootID]
	req.FilterSubQueryMap = m
}

// GenerateHavingFromTree is the having-clause analogue of
// GenerateFilterFromTree.
func GenerateHavingFromTree(tree *HavingQueryTree, req *BrokerRequest) {
	rootID, m := HavingTreeToFlatMap(tree)
	req.HavingFilterQuery = m[rootID]
	req.HavingFilterSubQueryMap = m
}

// TreeToFlatMap converts a filter tree to its flat ID-indexed form and
// returns the root ID.
func TreeToFlatMap(tree *FilterQueryTree) (int, FilterQueryMap) {
	m := FilterQueryMap{}
	next := 1
	flattenFilterTree(tree, 0, m, &next)
	return 0, m
}

func flattenFilterTree(t *FilterQueryTree, id int, m FilterQueryMap, next *int) {
	q := &FilterQuery{
		ID:       id,
		Column:   t.Column,
		Value:    t.Value,
		Operator: t.Operator,
	}
	m[id] = q
	for _, child := range t.Children {
		childID := *next
		*next++
		q.NestedFilterQueryIDs = append(q.NestedFilterQueryIDs, childID)
		flattenFilterTree(child, childID, m, next)
	}
}

// HavingTreeToFlatMap converts a having tree to its flat ID-indexed form
// and returns the root ID. Same numbering contract as TreeToFlatMap.
func HavingTreeToFlatMap(tree *HavingQueryTree) (int, HavingFilterQueryMap) {
	m := HavingFilterQueryMap{}
	next := 1
	flattenHavingTree(tree, 0, m, &next)
	return 0, m
}

func flattenHavingTree(t *HavingQueryTree, id int, m HavingFilterQueryMap, next *int) {
	q := &HavingFilterQuery{
		ID:          id,
		Aggregation: t.Aggregation,
		Value:       t.Value,
		Operator:    t.Operator,
	}
	m[id] = q
	for _, child := range t.Children {
		childID := *next
		*next++
		q.NestedFilterQueryIDs = append(q.NestedFilterQueryIDs, childID)
		flattenHavingTree(child, childID, m, next)
	}
}

// FlatMapToTree rebuilds the recursive filter form from a root ID and a
// flat map. A child ID with no map entry is a dangling reference and fails
// with ErrMalformedFilter.
func FlatMapToTree(id int, m FilterQueryMap) (*FilterQueryTree, error) {
	q, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("%w: dangling filter node id %d", ErrMalformedFilter, id)
	}
	t := &FilterQueryTree{
		Column:   q.Column,
		Value:    q.Value,
		Operator: q.Operator,
	}
	for _, childID := range q.NestedFilterQueryIDs {
		child, err := FlatMapToTree(childID, m)
		if err != nil {
			return nil, err
		}
		t.Children = append(t.Children, child)
	}
	return t, nil
}

// HavingFlatMapToTree is the having-clause analogue of FlatMapToTree.
func HavingFlatMapToTree(id int, m HavingFilterQueryMap) (*HavingQueryTree, error) {
	q, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("%w: dangling having node id %d", ErrMalformedFilter, id)
	}
	t := &HavingQueryTree{
		Aggregation: q.Aggregation,
		Value:       q.Value,
		Operator:    q.Operator,
	}
	for _, childID := range q.NestedFilterQueryIDs {
		child, err := HavingFlatMapToTree(childID, m)
		if err != nil {
			return nil, err
		}
		t.Children = append(t.Children, child)
	}
	return t, nil
}

// GenerateFilterQueryTree rebuilds the recursive filter from the request's
// flat fields, or returns nil when the request has no filter.
func GenerateFilterQueryTree(req *BrokerRequest) (*FilterQueryTree, error) {
	if req.FilterQuery == nil || req.FilterSubQueryMap == nil {
		return nil, nil
	}
	return FlatMapToTree(req.FilterQuery.ID, req.FilterSubQueryMap)
}
