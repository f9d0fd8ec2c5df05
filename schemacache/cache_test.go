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

package schemacache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/querybroker/broker"
)

func TestSchemaIfPresent_MissAndPut(t *testing.T) {
	c := New(nil, time.Minute)
	defer c.Close()

	_, ok := c.SchemaIfPresent("t_OFFLINE")
	assert.False(t, ok)

	c.Put(&broker.Schema{Table: "t_OFFLINE", Columns: []string{"a", "ts"}})
	schema, ok := c.SchemaIfPresent("t_OFFLINE")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "ts"}, schema.Columns)
}

func TestRefreshAsync_LoadsInBackground(t *testing.T) {
	loaded := make(chan struct{})
	c := New(func(_ context.Context, tableName string) (*broker.Schema, error) {
		defer close(loaded)
		return &broker.Schema{Table: tableName, Columns: []string{"a"}}, nil
	}, time.Minute)
	defer c.Close()

	c.RefreshAsync("t_OFFLINE")

	select {
	case <-loaded:
	case <-time.After(5 * time.Second):
		t.Fatal("loader never ran")
	}
	assert.Eventually(t, func() bool {
		_, ok := c.SchemaIfPresent("t_OFFLINE")
		return ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRefreshAsync_CollapsesConcurrentRefreshes(t *testing.T) {
	var loads atomic.Int64
	release := make(chan struct{})
	c := New(func(_ context.Context, tableName string) (*broker.Schema, error) {
		loads.Add(1)
		<-release
		return &broker.Schema{Table: tableName}, nil
	}, time.Minute)
	defer c.Close()

	for range 10 {
		c.RefreshAsync("t_OFFLINE")
	}
	assert.Eventually(t, func() bool { return loads.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(release)
	// Still one load once everything drains.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), loads.Load())
}

func TestRefreshAsync_LoaderErrorLeavesCacheEmpty(t *testing.T) {
	done := make(chan struct{})
	c := New(func(context.Context, string) (*broker.Schema, error) {
		defer close(done)
		return nil, errors.New("controller unreachable")
	}, time.Minute)
	defer c.Close()

	c.RefreshAsync("t_OFFLINE")
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loader never ran")
	}
	time.Sleep(20 * time.Millisecond)
	_, ok := c.SchemaIfPresent("t_OFFLINE")
	assert.False(t, ok)
}

func TestRefreshAsync_NilLoaderIsNoop(t *testing.T) {
	c := New(nil, time.Minute)
	defer c.Close()
	c.RefreshAsync("t_OFFLINE")
	_, ok := c.SchemaIfPresent("t_OFFLINE")
	assert.False(t, ok)
}

func TestEntriesExpire(t *testing.T) {
	c := New(nil, 20*time.Millisecond)
	defer c.Close()

	c.Put(&broker.Schema{Table: "t_OFFLINE", Columns: []string{"a"}})
	_, ok := c.SchemaIfPresent("t_OFFLINE")
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := c.SchemaIfPresent("t_OFFLINE")
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}
