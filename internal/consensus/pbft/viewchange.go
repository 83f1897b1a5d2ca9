package pbft

import (
	"context"
	"time"

	"github.com/permamesh/permamesh-go/internal/core/domain"
)

// startTimer arms the commit watchdog for a request this node admitted.
// If the slot does not commit before RequestTimeout the primary is
// suspected and a view change vote goes out.
func (e *Engine) startTimer(req *domain.Request) {
	// Committed check before the engine lock; the slot table lock is
	// never taken under it.
	if e.slots.isCommitted(req.ID) {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}
	e.pending[req.ID] = req
	if _, ok := e.timers[req.ID]; ok {
		return
	}
	e.timers[req.ID] = time.AfterFunc(e.cfg.RequestTimeout, func() {
		e.onRequestTimeout(req.ID)
	})
}

// cancelTimer disarms the watchdog once the request committed.
func (e *Engine) cancelTimer(requestID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.timers[requestID]; ok {
		t.Stop()
		delete(e.timers, requestID)
	}
	delete(e.pending, requestID)
}

// onRequestTimeout fires when an admitted request failed to commit in
// time. The node votes to move past the suspected primary, then re-arms
// the watchdog so a stalled view change escalates further.
func (e *Engine) onRequestTimeout(requestID string) {
	committed := e.slots.isCommitted(requestID)

	e.mu.Lock()
	if e.stopped || committed {
		delete(e.timers, requestID)
		delete(e.pending, requestID)
		e.mu.Unlock()
		return
	}
	target := e.view + 1
	e.timers[requestID] = time.AfterFunc(e.cfg.ViewChangeTimeout, func() {
		e.onRequestTimeout(requestID)
	})
	e.mu.Unlock()

	e.logger.Warn("request timed out, suspecting primary",
		"request_id", requestID,
		"view", target-1)

	e.voteViewChange(context.Background(), target)
}

// TriggerViewChange votes to abandon the current view immediately,
// without waiting for the request watchdog. Exposed for operators and
// health probes that detect a dead primary out of band.
func (e *Engine) TriggerViewChange() {
	e.mu.Lock()
	target := e.view + 1
	e.mu.Unlock()
	e.voteViewChange(context.Background(), target)
}

// voteViewChange broadcasts this node's vote for a target view. Each
// node votes at most once per target.
func (e *Engine) voteViewChange(ctx context.Context, target uint64) {
	e.mu.Lock()
	if e.stopped || target <= e.view || e.vcSelf[target] {
		e.mu.Unlock()
		return
	}
	e.vcSelf[target] = true
	votes := e.vcVotes[target]
	if votes == nil {
		votes = make(map[string]bool)
		e.vcVotes[target] = votes
	}
	votes[e.m.selfID] = true
	count := len(votes)
	e.mu.Unlock()

	msg := &domain.ConsensusMessage{
		Type:   domain.MsgViewChange,
		View:   target,
		NodeID: e.m.selfID,
	}
	if err := e.auth.Sign(msg); err != nil {
		e.logger.Error("sign view change failed", "error", err)
		return
	}

	e.logger.Info("broadcasting VIEW_CHANGE", "target_view", target)
	if err := e.tr.Broadcast(ctx, msg); err != nil {
		e.logger.Warn("view change broadcast incomplete", "error", err)
	}

	if count >= e.m.quorum {
		e.enterView(ctx, target)
	}
}

// maxViewLead bounds how far ahead of the local view a view-change
// target may be. Votes for wilder targets are dropped, so a node
// spraying fabricated targets cannot grow the vote tally unbounded.
const maxViewLead = 16

// handleViewChange tallies a peer's vote. A node seeing f+1 votes for a
// view ahead of its own joins the change even if its own watchdog has
// not fired; at 2f+1 votes the new view is installed.
func (e *Engine) handleViewChange(ctx context.Context, msg *domain.ConsensusMessage) {
	target := msg.View

	e.mu.Lock()
	if e.stopped || target <= e.view || target > e.view+maxViewLead {
		e.mu.Unlock()
		return
	}
	votes := e.vcVotes[target]
	if votes == nil {
		votes = make(map[string]bool)
		e.vcVotes[target] = votes
	}
	votes[msg.NodeID] = true
	count := len(votes)
	join := count >= e.m.f+1 && !e.vcSelf[target]
	e.mu.Unlock()

	if join {
		e.voteViewChange(ctx, target)

		e.mu.Lock()
		count = len(e.vcVotes[target])
		e.mu.Unlock()
	}

	if count >= e.m.quorum {
		e.enterView(ctx, target)
	}
}

// enterView installs a new view: stale uncommitted slots are dropped,
// the primary rotates to sortedNodeIDs[view mod n], and every pending
// request this node admitted is re-driven under the new primary.
func (e *Engine) enterView(ctx context.Context, target uint64) {
	e.mu.Lock()
	if e.stopped || target <= e.view {
		e.mu.Unlock()
		return
	}
	e.view = target
	for v := range e.vcVotes {
		if v <= target {
			delete(e.vcVotes, v)
			delete(e.vcSelf, v)
		}
	}
	parked := e.future[target]
	for v := range e.future {
		if v <= target {
			delete(e.future, v)
		}
	}
	redrive := make([]*domain.Request, 0, len(e.pending))
	for _, req := range e.pending {
		redrive = append(redrive, req)
	}
	e.mu.Unlock()

	e.slots.dropView(target)

	primary := e.m.primaryFor(target)
	e.logger.Info("entered new view",
		"view", target,
		"primary", primary)

	for _, msg := range parked {
		e.handlePrePrepare(ctx, msg)
	}

	for _, req := range redrive {
		if e.slots.isCommitted(req.ID) {
			e.cancelTimer(req.ID)
			continue
		}
		if primary == e.m.selfID {
			payload, err := e.check.CheckToken(req.Token)
			if err != nil {
				e.logger.Warn("pending request token no longer valid",
					"request_id", req.ID,
					"error", err)
				e.cancelTimer(req.ID)
				continue
			}
			if err := e.initiateConsensus(ctx, req, payload); err != nil {
				e.logger.Warn("re-propose pending request failed",
					"request_id", req.ID,
					"error", err)
			}
			continue
		}

		fwd := &domain.ConsensusMessage{
			Type:    domain.MsgForward,
			View:    target,
			NodeID:  e.m.selfID,
			Digest:  req.Digest(),
			Request: req,
		}
		if err := e.auth.Sign(fwd); err != nil {
			e.logger.Error("sign forward failed", "error", err)
			continue
		}
		if err := e.tr.Send(ctx, primary, fwd); err != nil {
			e.logger.Warn("re-forward pending request failed",
				"request_id", req.ID,
				"error", err)
		}
	}
}
