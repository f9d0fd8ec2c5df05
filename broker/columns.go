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
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// ExtractColumns returns the set of column names a request references:
// every leaf of the row filter, the target expression of each non-COUNT
// aggregation, every group-by expression, and the selection list plus its
// sort sequence. The wildcard selector is ignored. Deterministic and
// order-independent.
func ExtractColumns(req *BrokerRequest) (mapset.Set[string], error) {
	columns := mapset.NewThreadUnsafeSet[string]()

	tree, err := GenerateFilterQueryTree(req)
	if err != nil {
		return nil, err
	}
	if tree != nil {
		extractFilterColumns(tree, columns)
	}

	for i := range req.Aggregations {
		agg := &req.Aggregations[i]
		if agg.IsCount() {
			continue
		}
		extractExpressionColumns(agg.Column(), columns)
	}

	if req.GroupBy != nil {
		for _, expr := range req.GroupBy.Expressions {
			extractExpressionColumns(expr, columns)
		}
	}

	if sel := req.Selections; sel != nil {
		for _, col := range sel.Columns {
			if col != "*" {
				columns.Add(col)
			}
		}
		for _, sort := range sel.Sort {
			columns.Add(sort.Column)
		}
	}

	return columns, nil
}

func extractFilterColumns(node *FilterQueryTree, into mapset.Set[string]) {
	if len(node.Children) == 0 {
		if node.Column != "" {
			into.Add(node.Column)
		}
		return
	}
	for _, child := range node.Children {
		extractFilterColumns(child, into)
	}
}

// extractExpressionColumns pulls column identifiers out of a transform
// expression such as "col4" or "timeConvert(ts,'MILLISECONDS','HOURS')".
// Quoted and numeric arguments are literals, not columns.
func extractExpressionColumns(expr string, into mapset.Set[string]) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return
	}
	open := strings.IndexByte(expr, '(')
	if open < 0 {
		if isColumnIdentifier(expr) {
			into.Add(expr)
		}
		return
	}
	end := strings.LastIndexByte(expr, ')')
	if end < open {
		return
	}
	for _, arg := range splitArgs(expr[open+1 : end]) {
		extractExpressionColumns(arg, into)
	}
}

// splitArgs splits a function argument list on top-level commas only.
func splitArgs(s string) []string {
	var args []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, s[start:i])
				start = i + 1
			}
		}
	}
	if start <= len(s) {
		args = append(args, s[start:])
	}
	return args
}

func isColumnIdentifier(s string) bool {
	if s == "" || s == "*" {
		return false
	}
	if s[0] == '\'' || s[0] == '"' {
		return false
	}
	if s[0] >= '0' && s[0] <= '9' {
		return false
	}
	if s[0] == '-' || s[0] == '+' {
		return false
	}
	return true
}
