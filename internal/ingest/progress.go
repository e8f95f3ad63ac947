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

package ingest

import "time"

// progressDrainTimeout bounds how long a finishing run waits for the
// callback to take the final update.
const progressDrainTimeout = 5 * time.Second

// ProgressFunc receives the number of records processed so far and the
// estimated total, zero when unknown.
type ProgressFunc func(current, estimatedTotal int64)

type progressUpdate struct {
	current, total int64
}

// notifier hands progress to the callback on its own goroutine. Only the
// latest undelivered update is kept, so a slow callback never stalls the
// run.
type notifier struct {
	updates      chan progressUpdate
	done         chan struct{}
	drainTimeout time.Duration
}

func newNotifier(fn ProgressFunc) *notifier {
	if fn == nil {
		return nil
	}
	n := &notifier{
		updates:      make(chan progressUpdate, 1),
		done:         make(chan struct{}),
		drainTimeout: progressDrainTimeout,
	}
	go func() {
		defer close(n.done)
		for u := range n.updates {
			fn(u.current, u.total)
		}
	}()
	return n
}

func (n *notifier) notify(current, total int64) {
	if n == nil {
		return
	}
	u := progressUpdate{current: current, total: total}
	for {
		select {
		case n.updates <- u:
			return
		default:
		}
		// Drop the stale update and try again.
		select {
		case <-n.updates:
		default:
		}
	}
}

// close delivers any pending update and waits up to drainTimeout for the
// callback to return. It reports false when the callback is still running;
// the delivery goroutine then exits whenever the callback does.
func (n *notifier) close() bool {
	if n == nil {
		return true
	}
	close(n.updates)
	t := time.NewTimer(n.drainTimeout)
	defer t.Stop()
	select {
	case <-n.done:
		return true
	case <-t.C:
		return false
	}
}
