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

// FlattenOptimizer collapses nested AND-under-AND and OR-under-OR filter
// nodes in place. Node IDs are preserved, including the negative IDs of
// broker-injected predicates, so optimization never disturbs the
// time-boundary surgery.
type FlattenOptimizer struct{}

func NewFlattenOptimizer() *FlattenOptimizer { return &FlattenOptimizer{} }

// Optimize rewrites the request's filter into an equivalent flatter form.
// The time column is accepted for parity with richer optimizers but the
// flattening pass does not need it.
func (o *FlattenOptimizer) Optimize(req *BrokerRequest, _ string) *BrokerRequest {
	if req.FilterQuery == nil || req.FilterSubQueryMap == nil {
		return req
	}
	// A decoded request may hold a root object distinct from its map entry;
	// flattening must mutate one object or the map goes stale.
	if root, ok := req.FilterSubQueryMap[req.FilterQuery.ID]; ok {
		req.FilterQuery = root
	}
	o.flatten(req.FilterQuery, req.FilterSubQueryMap)
	return req
}

func (o *FlattenOptimizer) flatten(node *FilterQuery, m FilterQueryMap) {
	if !node.Operator.IsCombinator() {
		return
	}
	merged := make([]int, 0, len(node.NestedFilterQueryIDs))
	for _, childID := range node.NestedFilterQueryIDs {
		child, ok := m[childID]
		if !ok {
			// Dangling references are caught by the codec; leave the ID for
			// it to report.
			merged = append(merged, childID)
			continue
		}
		o.flatten(child, m)
		if child.Operator == node.Operator && node.Operator != FilterOpNot {
			merged = append(merged, child.NestedFilterQueryIDs...)
			delete(m, childID)
			continue
		}
		merged = append(merged, childID)
	}
	node.NestedFilterQueryIDs = merged
}
