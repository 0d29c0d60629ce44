// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package lifecycle

// progressRelay delivers progress values to a callback on its own goroutine
// so that a slow callback never stalls a download or extraction.
//
// Only the most recent undelivered value is kept: if the callback falls
// behind, intermediate values are dropped and it sees the latest one next.
type progressRelay struct {
	ch   chan float64
	done chan struct{}
}

func newProgressRelay(fn func(float64)) *progressRelay {
	r := &progressRelay{
		ch:   make(chan float64, 1),
		done: make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		for v := range r.ch {
			if fn != nil {
				fn(v)
			}
		}
	}()
	return r
}

// send never blocks. It is only safe to call from one goroutine at a time.
func (r *progressRelay) send(v float64) {
	for {
		select {
		case r.ch <- v:
			return
		default:
		}
		// The slot is full, so drop the stale value and try again.
		select {
		case <-r.ch:
		default:
		}
	}
}

// close stops the relay once the pending value, if any, has been delivered.
func (r *progressRelay) close() {
	close(r.ch)
	<-r.done
}
