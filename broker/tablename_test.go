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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableNames(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		tableType TableType
	}{
		{"myTable", "myTable", TableTypeHybrid},
		{"myTable_OFFLINE", "myTable", TableTypeOffline},
		{"myTable_REALTIME", "myTable", TableTypeRealtime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.raw, ExtractRawTableName(tt.name))
			assert.Equal(t, tt.tableType, TableTypeFromName(tt.name))
		})
	}
}

func TestTableNameBuilders(t *testing.T) {
	assert.Equal(t, "t_OFFLINE", OfflineTableName("t"))
	assert.Equal(t, "t_REALTIME", RealtimeTableName("t"))
}
