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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.Broker.ID)
	assert.Equal(t, 8099, cfg.Broker.Port)
	assert.Equal(t, 10*time.Second, cfg.Broker.Timeout)
	assert.Equal(t, int64(100_000), cfg.Broker.QueryResponseLimit)
	assert.Equal(t, 512, cfg.Broker.QueryLogLength)
	assert.True(t, cfg.Broker.ValidateQueries)
	assert.Equal(t, 5*time.Minute, cfg.Broker.SchemaCacheTTL)
	assert.Zero(t, cfg.Broker.DefaultTableQPS)
	assert.Equal(t, 5, cfg.Broker.QuotaBurst)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("QUERYBROKER_BROKER_ID", "broker-7")
	t.Setenv("QUERYBROKER_BROKER_PORT", "9000")
	t.Setenv("QUERYBROKER_BROKER_TIMEOUT", "3s")
	t.Setenv("QUERYBROKER_BROKER_QUERY_RESPONSE_LIMIT", "500")
	t.Setenv("QUERYBROKER_BROKER_VALIDATE_QUERIES", "false")
	t.Setenv("QUERYBROKER_BROKER_DEFAULT_TABLE_QPS", "2.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "broker-7", cfg.Broker.ID)
	assert.Equal(t, 9000, cfg.Broker.Port)
	assert.Equal(t, 3*time.Second, cfg.Broker.Timeout)
	assert.Equal(t, int64(500), cfg.Broker.QueryResponseLimit)
	assert.False(t, cfg.Broker.ValidateQueries)
	assert.InDelta(t, 2.5, cfg.Broker.DefaultTableQPS, 0.0001)
	// Untouched keys keep their defaults.
	assert.Equal(t, 5*time.Minute, cfg.Broker.SchemaCacheTTL)
}
