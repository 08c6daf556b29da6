package services

import (
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"go.uber.org/zap"
)

// StateTracker owns every state change of a managed connection. Lifecycle
// operations and transport connectivity signals both go through
// transitionLocked, so validation and event emission happen in one place.
type StateTracker struct {
	bus                 ports.EventBus
	logger              *zap.SugaredLogger
	disconnectedTimeout time.Duration
}

func NewStateTracker(bus ports.EventBus, disconnectedTimeout time.Duration, logger *zap.SugaredLogger) *StateTracker {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &StateTracker{
		bus:                 bus,
		logger:              logger,
		disconnectedTimeout: disconnectedTimeout,
	}
}

// Observe maps a transport connectivity signal onto the connection state
// machine. Signals that imply no transition are ignored.
func (t *StateTracker) Observe(c *connection, signal domain.ICEConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch signal {
	case domain.ICEStateConnected, domain.ICEStateCompleted:
		if c.state == domain.StateNegotiating || c.state == domain.StateDisconnected {
			t.transitionLocked(c, domain.StateConnected, "")
		}
	case domain.ICEStateDisconnected:
		if c.state == domain.StateConnected {
			t.transitionLocked(c, domain.StateDisconnected, "ice disconnected")
		}
	case domain.ICEStateFailed:
		switch c.state {
		case domain.StateConnected:
			t.transitionLocked(c, domain.StateDisconnected, "ice disconnected")
			t.transitionLocked(c, domain.StateFailed, "ice failed")
		case domain.StateNegotiating, domain.StateDisconnected:
			t.transitionLocked(c, domain.StateFailed, "ice failed")
		}
	}
}

// transitionLocked applies a validated transition and emits the state change.
// The caller must hold c.mu.
func (t *StateTracker) transitionLocked(c *connection, next domain.ConnectionState, reason string) bool {
	prev := c.state
	if _, err := prev.Transition(next); err != nil {
		t.logger.Debugw("ignored illegal transition",
			"connection_id", c.id,
			"from", prev,
			"to", next,
		)
		return false
	}

	c.state = next
	now := time.Now()

	switch next {
	case domain.StateConnected:
		if c.connectedAt.IsZero() {
			c.connectedAt = now
		}
		t.stopTimerLocked(c)
	case domain.StateDisconnected:
		t.armTimerLocked(c)
	case domain.StateFailed, domain.StateClosed:
		t.stopTimerLocked(c)
	}

	if next == domain.StateFailed {
		t.logger.Warnw("connection failed",
			"connection_id", c.id,
			"from", prev,
			"reason", reason,
		)
	} else {
		t.logger.Infow("connection state changed",
			"connection_id", c.id,
			"from", prev,
			"to", next,
		)
	}

	if t.bus != nil {
		t.bus.Publish(domain.Event{
			Type:         domain.EventConnectionStateChanged,
			ConnectionID: c.id,
			Timestamp:    now,
			State: &domain.StateChange{
				From:   prev,
				To:     next,
				Reason: reason,
			},
		})
	}
	return true
}

func (t *StateTracker) armTimerLocked(c *connection) {
	if t.disconnectedTimeout <= 0 {
		return
	}
	t.stopTimerLocked(c)

	c.timerGen++
	gen := c.timerGen
	c.disconnectTimer = time.AfterFunc(t.disconnectedTimeout, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.timerGen != gen || c.state != domain.StateDisconnected {
			return
		}
		c.disconnectTimer = nil
		t.transitionLocked(c, domain.StateFailed, "disconnected timeout")
	})
}

func (t *StateTracker) stopTimerLocked(c *connection) {
	if c.disconnectTimer == nil {
		return
	}
	c.disconnectTimer.Stop()
	c.disconnectTimer = nil
	c.timerGen++
}
