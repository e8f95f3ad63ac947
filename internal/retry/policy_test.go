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

package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_Delay(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, time.Second, p.Delay(0))
}

func TestPolicy_DelayCapped(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Factor: 10, MaxDelay: 30 * time.Second}
	assert.Equal(t, 10*time.Second, p.Delay(2))
	assert.Equal(t, 30*time.Second, p.Delay(3))
	assert.Equal(t, 30*time.Second, p.Delay(50))
}

func TestPolicy_FactorBelowOne(t *testing.T) {
	p := Policy{BaseDelay: 500 * time.Millisecond, Factor: 0.5}
	assert.Equal(t, 500*time.Millisecond, p.Delay(4))
}

func TestPolicy_Attempts(t *testing.T) {
	assert.Equal(t, 3, DefaultPolicy().Attempts())
	assert.Equal(t, 1, Policy{}.Attempts())
}

func TestPolicy_WaitUsesSleepHook(t *testing.T) {
	var got []time.Duration
	p := Policy{Sleep: func(_ context.Context, d time.Duration) error {
		got = append(got, d)
		return nil
	}}

	assert.NoError(t, p.Wait(context.Background(), 3*time.Second))
	assert.Equal(t, []time.Duration{3 * time.Second}, got)
}

func TestSleepContext(t *testing.T) {
	start := time.Now()
	assert.NoError(t, SleepContext(context.Background(), 10*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, SleepContext(ctx, 0), context.Canceled)
}
