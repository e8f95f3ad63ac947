// Copyright (C) 2025 CardinalHQ, Inc
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

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_SetGet(t *testing.T) {
	c := New[string, int64](Config{TTL: time.Minute})

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("a", 42)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, int64(42), v)
	assert.True(t, c.Has("a"))
	assert.Equal(t, 1, c.Len())

	c.Delete("a")
	assert.False(t, c.Has("a"))
}

func TestCache_Expiry(t *testing.T) {
	c := New[int64, struct{}](Config{TTL: 20 * time.Millisecond})
	c.Set(1, struct{}{})
	assert.True(t, c.Has(1))

	time.Sleep(40 * time.Millisecond)
	assert.False(t, c.Has(1))
}

func TestCache_CapacityEvicts(t *testing.T) {
	c := New[int, int](Config{Capacity: 2})
	c.Set(1, 1)
	c.Set(2, 2)
	c.Set(3, 3)

	assert.Equal(t, 2, c.Len())
	assert.False(t, c.Has(1))
	assert.True(t, c.Has(3))
}

func TestCache_Reset(t *testing.T) {
	c := New[int, int](Config{})
	c.Set(1, 1)
	c.Set(2, 2)
	c.Reset()
	assert.Equal(t, 0, c.Len())
}

func TestCache_StopWithoutStart(t *testing.T) {
	c := New[int, int](Config{TTL: time.Second})
	c.Stop()

	c.Start()
	c.Start()
	c.Stop()
	c.Stop()
}
