package pbft

import (
	"bytes"
	"context"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/permamesh/permamesh-go/internal/core/domain"
)

// maxParkedProposals bounds pre-prepares parked per future view while a
// view change is in flight.
const maxParkedProposals = 64

// maxDecisionHistory caps recorded quorum counts. The oldest entry is
// evicted first; duplicate submissions older than the window are still
// rejected at token verification, where each use is single-shot.
const maxDecisionHistory = 4096

// TokenChecker re-validates capability tokens inside the protocol.
// VerifyToken consumes the token's single use and gates admission;
// CheckToken validates without consuming and is what backups run on a
// PRE_PREPARE's embedded token.
type TokenChecker interface {
	VerifyToken(token string) (*domain.TokenPayload, error)
	CheckToken(token string) (*domain.TokenPayload, error)
}

// Executor applies a committed request. Every replica executes each
// committed request exactly once, in its own storage.
type Executor interface {
	Execute(ctx context.Context, req *domain.Request, payload *domain.TokenPayload) error
}

// Deps are the injected collaborators of an engine.
type Deps struct {
	Authenticator MessageAuthenticator
	Transport     Transport
	Checker       TokenChecker
	Executor      Executor
}

// Decision reports the vote counts that advanced a slot, captured at
// the instant each quorum was reached.
type Decision struct {
	View     uint64
	Sequence uint64
	Prepares int
	Commits  int
}

// Engine drives the three-phase protocol for one node.
type Engine struct {
	cfg    Config
	m      *membership
	auth   MessageAuthenticator
	tr     Transport
	check  TokenChecker
	exec   Executor
	logger *slog.Logger

	mu       sync.Mutex
	view     uint64
	nextSeq  uint64
	maxSeq   uint64
	slots    *slotTable
	timers   map[string]*time.Timer
	pending  map[string]*domain.Request // uncommitted requests this node admitted
	future   map[uint64][]*domain.ConsensusMessage
	vcVotes  map[uint64]map[string]bool
	vcSelf   map[uint64]bool
	decision map[string]*Decision // request id -> decision counts
	decOrder []string             // decision insertion order, for eviction

	stopped bool
}

// New creates an engine and attaches it to the transport.
func New(cfg Config, deps Deps) (*Engine, error) {
	m, err := newMembership(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.ViewChangeTimeout <= 0 {
		cfg.ViewChangeTimeout = DefaultViewChangeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	e := &Engine{
		cfg:      cfg,
		m:        m,
		auth:     deps.Authenticator,
		tr:       deps.Transport,
		check:    deps.Checker,
		exec:     deps.Executor,
		logger:   cfg.Logger.With("node_id", cfg.NodeID),
		slots:    newSlotTable(),
		timers:   make(map[string]*time.Timer),
		pending:  make(map[string]*domain.Request),
		future:   make(map[uint64][]*domain.ConsensusMessage),
		vcVotes:  make(map[uint64]map[string]bool),
		vcSelf:   make(map[uint64]bool),
		decision: make(map[string]*Decision),
	}

	deps.Transport.SetHandler(e.HandleMessage)
	return e, nil
}

// View returns the current view number.
func (e *Engine) View() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view
}

// Primary returns the primary node id for the current view.
func (e *Engine) Primary() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.m.primaryFor(e.view)
}

// IsPrimary reports whether this node leads the current view.
func (e *Engine) IsPrimary() bool {
	return e.Primary() == e.m.selfID
}

// DecisionFor returns the recorded quorum counts for a committed
// request, if this node committed it.
func (e *Engine) DecisionFor(requestID string) (Decision, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.decision[requestID]
	if !ok {
		return Decision{}, false
	}
	return *d, true
}

// Committed reports whether a request id is in the committed set.
func (e *Engine) Committed(requestID string) bool {
	return e.slots.isCommitted(requestID)
}

// Stop cancels pending timers and detaches the engine.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}

// ProcessRequest admits a client request into consensus.
//
// The committed-set check runs first: a request id that already
// executed is acknowledged as a no-op without burning anything. Then
// the capability token is verified (consuming its single use); only a
// fully valid request reaches the protocol. A backup forwards the
// verified request to the current primary rather than proposing.
func (e *Engine) ProcessRequest(ctx context.Context, req *domain.Request) error {
	if req == nil || req.ID == "" {
		return domain.ErrBadRequest.WithDetails("request id is required")
	}

	if e.slots.isCommitted(req.ID) {
		e.logger.Info("request already committed", "request_id", req.ID)
		return nil
	}

	payload, err := e.check.VerifyToken(req.Token)
	if err != nil {
		return domain.ErrConsensusInvalidToken.WithCause(err)
	}
	if !payload.HasPermission(domain.PermStore) {
		return domain.ErrConsensusInvalidToken.WithDetails("token lacks store permission")
	}

	e.mu.Lock()
	view := e.view
	primary := e.m.primaryFor(view)
	e.mu.Unlock()

	if primary != e.m.selfID {
		msg := &domain.ConsensusMessage{
			Type:    domain.MsgForward,
			View:    view,
			NodeID:  e.m.selfID,
			Digest:  req.Digest(),
			Request: req,
		}
		if err := e.auth.Sign(msg); err != nil {
			return domain.ErrInternalServer.WithCause(err)
		}
		e.logger.Info("forwarding request to primary",
			"request_id", req.ID,
			"primary", primary,
			"view", view)
		e.startTimer(req)
		return e.tr.Send(ctx, primary, msg)
	}

	return e.initiateConsensus(ctx, req, payload)
}

// initiateConsensus runs on the primary: assign a sequence, open the
// slot and broadcast PRE_PREPARE. Re-initiating a committed request is
// a no-op.
func (e *Engine) initiateConsensus(ctx context.Context, req *domain.Request, payload *domain.TokenPayload) error {
	if e.slots.isCommitted(req.ID) {
		e.logger.Info("consensus already reached", "request_id", req.ID)
		return nil
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return domain.ErrConsensusStopped
	}
	view := e.view
	if e.m.primaryFor(view) != e.m.selfID {
		e.mu.Unlock()
		return domain.ErrConsensusNotPrimary.WithDetails(e.m.primaryFor(view))
	}

	if e.nextSeq <= e.maxSeq {
		e.nextSeq = e.maxSeq + 1
	}
	seq := e.nextSeq
	e.nextSeq++
	if seq > e.maxSeq {
		e.maxSeq = seq
	}

	e.mu.Unlock()

	digest := req.Digest()
	msg := &domain.ConsensusMessage{
		Type:     domain.MsgPrePrepare,
		View:     view,
		Sequence: seq,
		Digest:   digest,
		NodeID:   e.m.selfID,
		Request:  req,
	}

	s := e.slots.getOrCreate(msg.SlotKey(), view, seq)
	e.slots.mu.Lock()
	s.request = req
	s.payload = payload
	s.digest = digest
	s.phase = phasePrePrepared
	// The proposal stands in for the primary's PREPARE vote.
	s.prepares[e.m.selfID] = true
	s.selfVotedP = true
	e.slots.mu.Unlock()

	if err := e.auth.Sign(msg); err != nil {
		return domain.ErrInternalServer.WithCause(err)
	}

	e.logger.Info("broadcasting PRE_PREPARE",
		"request_id", req.ID,
		"view", view,
		"sequence", seq)

	e.startTimer(req)

	if err := e.tr.Broadcast(ctx, msg); err != nil {
		e.logger.Warn("pre-prepare broadcast incomplete", "error", err)
	}

	// A 1-node cluster reaches quorum immediately.
	e.advance(ctx, msg.SlotKey())
	return nil
}

// HandleMessage is the transport callback for inbound messages.
// Messages failing signature verification are dropped without a reply:
// answering a forged message would leak protocol state.
func (e *Engine) HandleMessage(msg *domain.ConsensusMessage) {
	if msg == nil || msg.NodeID == e.m.selfID {
		return
	}
	e.mu.Lock()
	stopped := e.stopped
	e.mu.Unlock()
	if stopped {
		return
	}
	if !e.m.contains(msg.NodeID) {
		e.logger.Warn("message from unknown node", "node_id", msg.NodeID)
		return
	}
	if err := e.auth.Verify(msg); err != nil {
		e.logger.Warn("dropping message with bad signature",
			"type", msg.Type.String(),
			"node_id", msg.NodeID)
		return
	}

	ctx := context.Background()

	switch msg.Type {
	case domain.MsgForward:
		e.handleForward(ctx, msg)
	case domain.MsgPrePrepare:
		e.handlePrePrepare(ctx, msg)
	case domain.MsgPrepare:
		e.handleVote(ctx, msg)
	case domain.MsgCommit:
		e.handleVote(ctx, msg)
	case domain.MsgViewChange:
		e.handleViewChange(ctx, msg)
	default:
		e.logger.Warn("unknown message type", "type", uint8(msg.Type))
	}
}

func (e *Engine) handleForward(ctx context.Context, msg *domain.ConsensusMessage) {
	if msg.Request == nil {
		return
	}
	if !e.IsPrimary() {
		e.logger.Debug("ignoring forward, not primary", "request_id", msg.Request.ID)
		return
	}
	if e.slots.isCommitted(msg.Request.ID) {
		return
	}

	// The forwarding node consumed the token's single use at admission;
	// the primary validates without consuming.
	payload, err := e.check.CheckToken(msg.Request.Token)
	if err != nil {
		e.logger.Warn("forwarded request carries invalid token",
			"request_id", msg.Request.ID,
			"error", err)
		return
	}

	if err := e.initiateConsensus(ctx, msg.Request, payload); err != nil {
		e.logger.Warn("initiate consensus for forwarded request failed",
			"request_id", msg.Request.ID,
			"error", err)
	}
}

func (e *Engine) handlePrePrepare(ctx context.Context, msg *domain.ConsensusMessage) {
	if msg.Request == nil {
		return
	}

	e.mu.Lock()
	view := e.view
	if msg.View > view {
		// The proposer is ahead of us mid view change. Park the proposal
		// and replay it once we enter its view.
		if len(e.future[msg.View]) < maxParkedProposals {
			e.future[msg.View] = append(e.future[msg.View], msg)
		}
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	if msg.View != view {
		e.logger.Debug("pre-prepare for stale view",
			"msg_view", msg.View, "view", view)
		return
	}
	if msg.NodeID != e.m.primaryFor(msg.View) {
		e.logger.Warn("pre-prepare from non-primary",
			"node_id", msg.NodeID,
			"primary", e.m.primaryFor(msg.View))
		return
	}
	if !bytes.Equal(msg.Digest, msg.Request.Digest()) {
		e.logger.Warn("pre-prepare digest does not match request",
			"request_id", msg.Request.ID)
		return
	}
	if e.slots.isCommitted(msg.Request.ID) {
		return
	}

	// Independent re-verification: a Byzantine primary must not be able
	// to push an invalid token through backups.
	payload, err := e.check.CheckToken(msg.Request.Token)
	if err != nil {
		e.logger.Warn("rejecting pre-prepare with invalid token",
			"request_id", msg.Request.ID,
			"error", err)
		return
	}

	key := msg.SlotKey()
	s := e.slots.getOrCreate(key, msg.View, msg.Sequence)

	e.mu.Lock()
	if msg.Sequence > e.maxSeq {
		e.maxSeq = msg.Sequence
	}
	e.mu.Unlock()

	e.slots.mu.Lock()
	if s.phase >= phasePrePrepared && s.digest != nil && !bytes.Equal(s.digest, msg.Digest) {
		e.slots.mu.Unlock()
		e.logger.Warn("conflicting pre-prepare for slot", "slot", key)
		return
	}
	s.request = msg.Request
	s.payload = payload
	s.digest = msg.Digest
	if s.phase < phasePrePrepared {
		s.phase = phasePrePrepared
	}
	s.prepares[msg.NodeID] = true // the proposal is the primary's vote
	alreadyVoted := s.selfVotedP
	s.prepares[e.m.selfID] = true
	s.selfVotedP = true
	e.slots.mu.Unlock()

	if !alreadyVoted {
		prepare := &domain.ConsensusMessage{
			Type:     domain.MsgPrepare,
			View:     msg.View,
			Sequence: msg.Sequence,
			Digest:   msg.Digest,
			NodeID:   e.m.selfID,
		}
		if err := e.auth.Sign(prepare); err != nil {
			e.logger.Error("sign prepare failed", "error", err)
			return
		}
		e.startTimer(msg.Request)
		if err := e.tr.Broadcast(ctx, prepare); err != nil {
			e.logger.Warn("prepare broadcast incomplete", "error", err)
		}
	}

	e.advance(ctx, key)
}

// handleVote records a PREPARE or COMMIT vote and advances the slot.
func (e *Engine) handleVote(ctx context.Context, msg *domain.ConsensusMessage) {
	key := msg.SlotKey()
	s := e.slots.getOrCreate(key, msg.View, msg.Sequence)

	e.slots.mu.Lock()
	if s.digest != nil && !bytes.Equal(s.digest, msg.Digest) {
		e.slots.mu.Unlock()
		e.logger.Warn("vote digest mismatch",
			"slot", key,
			"type", msg.Type.String(),
			"node_id", msg.NodeID)
		return
	}
	switch msg.Type {
	case domain.MsgPrepare:
		s.prepares[msg.NodeID] = true
	case domain.MsgCommit:
		s.commits[msg.NodeID] = true
	}
	e.slots.mu.Unlock()

	e.advance(ctx, key)
}

// quorumCounts carries vote tallies out of the slot table critical
// section so they can be recorded lock-free of it.
type quorumCounts struct {
	requestID string
	view      uint64
	sequence  uint64
	prepares  int
	commits   int
}

// advance moves a slot through its quorum gates. Transitions happen at
// exactly 2f+1 matching votes; the counts present at each transition
// are recorded for observability. The engine lock is never taken while
// the slot table lock is held.
func (e *Engine) advance(ctx context.Context, key string) {
	var commitMsg *domain.ConsensusMessage
	var execute func()
	var counts []quorumCounts

	e.slots.mu.Lock()
	s, ok := e.slots.slots[key]
	if !ok {
		e.slots.mu.Unlock()
		return
	}

	if s.phase == phasePrePrepared && len(s.prepares) >= e.m.quorum && !s.selfVotedC {
		s.phase = phasePrepared
		s.selfVotedC = true
		s.commits[e.m.selfID] = true

		if s.request != nil {
			counts = append(counts, quorumCounts{
				requestID: s.request.ID,
				view:      s.view,
				sequence:  s.sequence,
				prepares:  len(s.prepares),
			})
		}

		commitMsg = &domain.ConsensusMessage{
			Type:     domain.MsgCommit,
			View:     s.view,
			Sequence: s.sequence,
			Digest:   s.digest,
			NodeID:   e.m.selfID,
		}
	}

	if s.phase == phasePrepared && len(s.commits) >= e.m.quorum {
		s.phase = phaseCommitted
		req, payload := s.request, s.payload

		if req != nil {
			counts = append(counts, quorumCounts{
				requestID: req.ID,
				view:      s.view,
				sequence:  s.sequence,
				prepares:  len(s.prepares),
				commits:   len(s.commits),
			})

			if e.slots.committed[req.ID] {
				// Already executed under another slot; keep idempotent.
				req = nil
			} else {
				e.slots.markCommitted(req.ID)
			}
		}

		if req != nil {
			seq := s.sequence
			view := s.view
			digest := hex.EncodeToString(s.digest)
			execute = func() {
				e.cancelTimer(req.ID)
				e.logger.Info("request committed",
					"request_id", req.ID,
					"view", view,
					"sequence", seq,
					"digest", digest)
				if e.exec != nil {
					if err := e.exec.Execute(ctx, req, payload); err != nil {
						e.logger.Error("execute committed request failed",
							"request_id", req.ID,
							"error", err)
					}
				}
			}
		}
	}
	e.slots.mu.Unlock()

	for _, c := range counts {
		e.recordDecision(c)
	}

	if commitMsg != nil {
		if err := e.auth.Sign(commitMsg); err != nil {
			e.logger.Error("sign commit failed", "error", err)
		} else if err := e.tr.Broadcast(ctx, commitMsg); err != nil {
			e.logger.Warn("commit broadcast incomplete", "error", err)
		}
		if execute == nil {
			// Our own COMMIT vote may have completed the quorum.
			e.advance(ctx, key)
			return
		}
	}

	if execute != nil {
		execute()
	}
}

// recordDecision captures quorum counts at transition time. It takes
// the engine lock and must not be called with the slot table lock held:
// the timer path holds the engine lock while consulting the slot table.
func (e *Engine) recordDecision(c quorumCounts) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.decision[c.requestID]
	if !ok {
		d = &Decision{View: c.view, Sequence: c.sequence}
		e.decision[c.requestID] = d
		e.decOrder = append(e.decOrder, c.requestID)
		for len(e.decOrder) > maxDecisionHistory {
			delete(e.decision, e.decOrder[0])
			e.decOrder = e.decOrder[1:]
		}
	}
	if c.prepares > 0 && d.Prepares == 0 {
		d.Prepares = c.prepares
	}
	if c.commits > 0 && d.Commits == 0 {
		d.Commits = c.commits
	}
}
