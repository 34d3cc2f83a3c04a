package session

import (
	"errors"
	"log/slog"
	"time"
)

// SleepTimerPresets are the durations offered by the reading UI.
var SleepTimerPresets = []time.Duration{
	1 * time.Minute,
	15 * time.Minute,
	20 * time.Minute,
	30 * time.Minute,
	45 * time.Minute,
	60 * time.Minute,
}

// StartSleepTimer stops the session after d. Starting a new timer replaces
// the previous one. The timer may be set while idle; it then only stops a
// session that is running when it fires.
func (c *Controller) StartSleepTimer(d time.Duration) error {
	if d <= 0 {
		return errors.New("session: sleep timer duration must be positive")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.sleepTimer != nil {
		c.sleepTimer.Stop()
	}
	c.sleepGen++
	gen := c.sleepGen
	c.sleepTimer = time.AfterFunc(d, func() { c.sleepExpired(gen) })
	c.state.SleepDeadline = time.Now().Add(d)
	c.publishLocked()

	slog.Info("session: sleep timer set", "duration", d)
	return nil
}

// CancelSleepTimer disarms the sleep timer. It reports whether one was set.
func (c *Controller) CancelSleepTimer() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sleepTimer == nil {
		return false
	}
	c.sleepTimer.Stop()
	c.sleepTimer = nil
	c.sleepGen++
	c.state.SleepDeadline = time.Time{}
	c.publishLocked()
	return true
}

func (c *Controller) sleepExpired(gen int) {
	c.mu.Lock()
	if gen != c.sleepGen {
		c.mu.Unlock()
		return
	}
	c.sleepTimer = nil
	c.state.SleepDeadline = time.Time{}
	active := c.run != nil
	if !active {
		c.publishLocked()
	}
	c.mu.Unlock()

	slog.Info("session: sleep timer expired", "stopping", active)
	if active {
		c.stopWith(StatusSleepExpired, nil)
	}
}
