package reconcile

import "time"

// LiveStatus returns the live channel status derived from lifecycle events
func (c *Coordinator[T, D, P]) LiveStatus() LiveStatus {
	c.liveMu.RLock()
	defer c.liveMu.RUnlock()
	return c.status
}

// WatchLive subscribes to live status changes. Notifications coalesce to the
// latest status. Call cancel to unsubscribe.
func (c *Coordinator[T, D, P]) WatchLive() (<-chan LiveStatus, func()) {
	ch := make(chan LiveStatus, 1)

	c.liveMu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = ch
	c.liveMu.Unlock()

	cancelled := false
	cancel := func() {
		c.liveMu.Lock()
		defer c.liveMu.Unlock()
		if cancelled {
			return
		}
		cancelled = true
		delete(c.watchers, id)
		close(ch)
	}
	return ch, cancel
}

func (c *Coordinator[T, D, P]) updateLive(mutate func(*LiveStatus)) {
	c.liveMu.Lock()
	defer c.liveMu.Unlock()

	mutate(&c.status)
	status := c.status
	for _, ch := range c.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- status
	}
}

// touchLive records event activity without notifying watchers
func (c *Coordinator[T, D, P]) touchLive(at time.Time) {
	if at.IsZero() {
		at = c.opts.Now()
	}
	c.liveMu.Lock()
	c.status.LastEventAt = &at
	c.liveMu.Unlock()
}
