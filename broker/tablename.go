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

import "strings"

// TableType says which physical copy a table name addresses.
type TableType int

const (
	// TableTypeHybrid is a raw name with no type suffix; both copies may
	// apply.
	TableTypeHybrid TableType = iota
	TableTypeOffline
	TableTypeRealtime
)

const (
	offlineSuffix  = "_OFFLINE"
	realtimeSuffix = "_REALTIME"
)

// ExtractRawTableName strips a physical type suffix, if any.
func ExtractRawTableName(tableName string) string {
	if raw, ok := strings.CutSuffix(tableName, offlineSuffix); ok {
		return raw
	}
	if raw, ok := strings.CutSuffix(tableName, realtimeSuffix); ok {
		return raw
	}
	return tableName
}

// OfflineTableName returns the physical offline name for a raw table name.
func OfflineTableName(rawTableName string) string {
	return rawTableName + offlineSuffix
}

// RealtimeTableName returns the physical realtime name for a raw table name.
func RealtimeTableName(rawTableName string) string {
	return rawTableName + realtimeSuffix
}

// TableTypeFromName classifies a table name by its suffix.
func TableTypeFromName(tableName string) TableType {
	switch {
	case strings.HasSuffix(tableName, offlineSuffix):
		return TableTypeOffline
	case strings.HasSuffix(tableName, realtimeSuffix):
		return TableTypeRealtime
	default:
		return TableTypeHybrid
	}
}
