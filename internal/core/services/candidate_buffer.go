package services

import (
	"sync"

	"peerlink/internal/core/domain"

	"go.uber.org/zap"
)

// CandidateBuffer defers remote ICE candidates that arrive before the remote
// description is applied and replays them, in arrival order, exactly once.
type CandidateBuffer struct {
	connectionID domain.ConnectionID
	apply        func(domain.ICECandidate) error
	logger       *zap.SugaredLogger

	mu      sync.Mutex
	pending []domain.ICECandidate
	ready   bool
	closed  bool
	applied int
	failed  int
}

func NewCandidateBuffer(connectionID domain.ConnectionID, apply func(domain.ICECandidate) error, logger *zap.SugaredLogger) *CandidateBuffer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &CandidateBuffer{
		connectionID: connectionID,
		apply:        apply,
		logger:       logger,
	}
}

// Offer applies the candidate immediately when the remote description is in
// place, otherwise queues it. It reports whether the candidate was applied
// (successfully or not) rather than queued.
func (b *CandidateBuffer) Offer(candidate domain.ICECandidate) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	if !b.ready {
		b.pending = append(b.pending, candidate)
		b.logger.Debugw("buffered remote candidate",
			"connection_id", b.connectionID,
			"pending", len(b.pending),
		)
		return false
	}

	b.applyLocked(candidate)
	return true
}

// Flush marks the remote description as applied and replays the queue. Only
// the first call does any work; it returns the number of replayed candidates.
func (b *CandidateBuffer) Flush() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.ready {
		return 0
	}
	b.ready = true

	pending := b.pending
	b.pending = nil
	for _, candidate := range pending {
		b.applyLocked(candidate)
	}

	if len(pending) > 0 {
		b.logger.Debugw("flushed buffered candidates",
			"connection_id", b.connectionID,
			"count", len(pending),
		)
	}
	return len(pending)
}

// Pending returns a copy of the queued candidates in arrival order.
func (b *CandidateBuffer) Pending() []domain.ICECandidate {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		return nil
	}
	out := make([]domain.ICECandidate, len(b.pending))
	copy(out, b.pending)
	return out
}

// Counts returns how many candidates were applied and how many of those failed.
func (b *CandidateBuffer) Counts() (applied, failed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.applied, b.failed
}

// Close drops queued candidates; later calls are no-ops.
func (b *CandidateBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.pending = nil
}

func (b *CandidateBuffer) applyLocked(candidate domain.ICECandidate) {
	b.applied++
	if err := b.apply(candidate); err != nil {
		b.failed++
		b.logger.Warnw("failed to apply remote candidate",
			"connection_id", b.connectionID,
			"candidate", candidate.Candidate,
			"error", err,
		)
	}
}
