package recovery

import (
	"context"
	"time"

	"Ferry/internal/gateway"
	"Ferry/internal/protocol"
)

// Watch runs the stall watchdog until ctx ends.
func (c *Coordinator) Watch(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep reconciles every open session that has been silent longer than
// its full retry budget. Sessions another goroutine holds are skipped, and
// so are client sessions whose driver is still running.
func (c *Coordinator) Sweep(ctx context.Context) map[string]Decision {
	now := c.now()

	var stalled []string

	for _, sl := range c.store.Slots() {
		s := sl.Snapshot()
		if s.Terminal() {
			continue
		}

		if s.Role == protocol.RoleClient && c.gw.Driving(s.ID) {
			continue
		}

		if now.Sub(s.LastActivity) < budget(s.MaxTimeout, s.MaxRetries) {
			continue
		}

		stalled = append(stalled, s.ID)
	}

	if len(stalled) == 0 {
		return nil
	}

	c.log.Info("stalled sessions found",
		"count", len(stalled),
	)

	decisions, err := c.reconcileAll(ctx, stalled, false)
	if err != nil {
		c.log.Warn("watchdog pass incomplete",
			"error", err,
		)
	}

	return decisions
}

// budget is how long a session may stay silent before it counts as stalled.
func budget(timeout time.Duration, retries uint32) time.Duration {
	if timeout <= 0 {
		timeout = gateway.DefaultMaxTimeout
	}
	if retries == 0 {
		retries = gateway.DefaultMaxRetries
	}
	return timeout * time.Duration(retries)
}
