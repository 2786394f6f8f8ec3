// Package engine implements the session state machine that drives the
// generation service, gates progress behind approval checkpoints, and merges
// conversation turns.
//
// The engine is the only component that mutates a Session. Its state lock is
// never held across a call to the generation service, so readers observe the
// processing status while a round is in flight. Callers must not issue two
// mutating actions concurrently; the workflow controller enforces that.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"instrumentation-backend/internal/approval"
	"instrumentation-backend/internal/conversation"
	"instrumentation-backend/internal/generation"
	"instrumentation-backend/internal/models"
	"instrumentation-backend/internal/validation"
)

type Engine struct {
	client generation.Client
	logger *zap.Logger
	newID  func() string

	mu      sync.RWMutex
	session models.Session
}

type Option func(*Engine)

// WithRequestIDs overrides how per-round request ids are generated.
func WithRequestIDs(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

func New(client generation.Client, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if client == nil {
		return nil, errors.New("generation client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		client:  client,
		logger:  logger,
		newID:   generation.NewRequestID,
		session: models.NewSession(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Session returns a deep copy of the current state.
func (e *Engine) Session() models.Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session.Clone()
}

// Reset returns the engine to the state of a freshly constructed engine.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = models.NewSession()
}

// Restore replaces the state with a resumed session. Nothing is replayed
// against the generation service. A stored session that breaks the engine's
// invariants is repaired first.
func (e *Engine) Restore(s models.Session) {
	s, repaired := normalize(s.Clone())
	if repaired {
		e.logger.Warn("restored session repaired",
			zap.String("session_id", s.SessionID),
			zap.String("status", string(s.Status)),
		)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = s
}

// normalize drops duplicate and empty metric ids (first record wins), keeps
// the selection within the known ids, and turns a checkpoint that is not
// actually pending into an error. It reports whether anything changed
// beyond filling defaults.
func normalize(s models.Session) (models.Session, bool) {
	repaired := false
	if s.Status == "" {
		s.Status = models.StatusIdle
	}
	if s.Approval.Type == "" {
		s.Approval.Type = models.ApprovalNone
	}
	if s.Status == models.StatusProcessing || !s.Status.Valid() {
		// The round in flight when the snapshot was taken never resolved; the
		// user has to resend it.
		s.Status = models.StatusError
		repaired = true
	}

	metrics := make([]models.Metric, 0, len(s.Metrics))
	var ids []string
	for _, m := range s.Metrics {
		if m.ID == "" || approval.Contains(ids, m.ID) {
			repaired = true
			continue
		}
		metrics = append(metrics, m)
		ids = append(ids, m.ID)
	}
	s.Metrics = metrics

	selection := approval.Retain(s.Approval.Selection, ids)
	if len(selection) != len(s.Approval.Selection) {
		repaired = true
	}
	s.Approval.Selection = selection

	pending := s.Approval.Type == models.ApprovalMetrics || s.Approval.Type == models.ApprovalTaxonomy
	if s.Approval.Required && (!pending || s.Status.Closed()) {
		s.Approval.Required = false
		repaired = true
	}
	if s.Status == models.StatusWaitingApproval && !s.Approval.Required {
		s.Status = models.StatusError
		repaired = true
	}
	return s, repaired
}

// Start opens a session for the given product description.
func (e *Engine) Start(ctx context.Context, input models.InputContext) error {
	e.mu.Lock()
	if e.session.SessionID != "" {
		e.mu.Unlock()
		return validation.New(validation.ErrSessionActive, "")
	}
	if st := e.session.Status; st != models.StatusIdle && st != models.StatusError {
		e.mu.Unlock()
		return validation.New(validation.ErrSessionActive, string(st))
	}
	if err := validation.ValidateInputContext(input); err != nil {
		e.mu.Unlock()
		return err
	}
	e.session.Input = input
	req := e.begin(generation.Call{Action: generation.ActionStart})
	e.mu.Unlock()

	return e.roundTrip(ctx, req)
}

// SendMessage appends the user's turn immediately and asks the service to
// continue the conversation. The user turn stays in the log even if the
// round fails.
func (e *Engine) SendMessage(ctx context.Context, text string) error {
	e.mu.Lock()
	if err := e.requireOpen(); err != nil {
		e.mu.Unlock()
		return err
	}
	if err := validation.ValidateMessage(text); err != nil {
		e.mu.Unlock()
		return err
	}
	e.session.Conversation = e.session.Conversation.Append(conversation.Turn{
		Role: conversation.RoleUser,
		Text: text,
	})
	req := e.begin(generation.Call{Action: generation.ActionContinue, UserMessage: text})
	e.mu.Unlock()

	return e.roundTrip(ctx, req)
}

// Approve satisfies the pending checkpoint. For a metrics checkpoint the
// selection lists the metric ids to carry forward and must not be empty.
func (e *Engine) Approve(ctx context.Context, t models.ApprovalType, selection []string) error {
	e.mu.Lock()
	if err := e.checkApproval(t, selection); err != nil {
		e.mu.Unlock()
		return err
	}
	if t == models.ApprovalMetrics {
		e.session.Approval.Selection = append([]string{}, selection...)
	}
	req := e.begin(generation.Call{
		Action:       generation.ActionApprove,
		ApprovalType: t,
		Selection:    selection,
	})
	e.mu.Unlock()

	return e.roundTrip(ctx, req)
}

func (e *Engine) checkApproval(t models.ApprovalType, selection []string) error {
	// A checkpoint whose approval round failed stays pending so the user can
	// approve again.
	retry := e.session.Status == models.StatusError && e.session.Approval.Required
	if e.session.Status != models.StatusWaitingApproval && !retry {
		return validation.New(validation.ErrNotAwaitingApproval, string(e.session.Status))
	}
	if err := approval.Validate(t, selection); err != nil {
		return err
	}
	if !e.session.Approval.Required || e.session.Approval.Type != t {
		return validation.New(validation.ErrApprovalMismatch,
			fmt.Sprintf("pending %s, got %s", e.session.Approval.Type, t))
	}
	if t == models.ApprovalMetrics {
		known := e.session.MetricIDs()
		for _, id := range selection {
			if !approval.Contains(known, id) {
				return validation.New(validation.ErrUnknownMetric, id)
			}
		}
	}
	return nil
}

// Reject tells the service the user discards the session.
func (e *Engine) Reject(ctx context.Context, reason string) error {
	e.mu.Lock()
	if err := e.requireOpen(); err != nil {
		e.mu.Unlock()
		return err
	}
	req := e.begin(generation.Call{Action: generation.ActionReject, UserMessage: reason})
	e.mu.Unlock()

	return e.roundTrip(ctx, req)
}

// ToggleMetric flips one metric in the approval selection.
func (e *Engine) ToggleMetric(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Status.Closed() {
		return validation.New(validation.ErrSessionClosed, "")
	}
	if !approval.Contains(e.session.MetricIDs(), id) {
		return validation.New(validation.ErrUnknownMetric, id)
	}
	e.session.Approval.Selection = approval.Toggle(e.session.Approval.Selection, id)
	return nil
}

func (e *Engine) requireOpen() error {
	if e.session.SessionID == "" {
		return validation.New(validation.ErrNoActiveSession, "")
	}
	if e.session.Status.Closed() {
		return validation.New(validation.ErrSessionClosed, string(e.session.Status))
	}
	return nil
}

// begin marks the session as processing and builds the round's request.
// Callers hold e.mu.
func (e *Engine) begin(call generation.Call) generation.Request {
	call.RequestID = e.newID()
	req := generation.BuildRequest(e.session, call)
	e.session.Status = models.StatusProcessing
	return req
}

func (e *Engine) roundTrip(ctx context.Context, req generation.Request) error {
	e.logger.Debug("generation round started",
		zap.String("action", string(req.Action)),
		zap.String("request_id", req.RequestID),
		zap.String("session_id", req.SessionID),
	)

	resp, err := e.client.Generate(ctx, req)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		e.session.Status = models.StatusError
		e.logger.Warn("generation round failed",
			zap.String("action", string(req.Action)),
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
		var terr *generation.TransportError
		if errors.As(err, &terr) {
			return err
		}
		return &generation.TransportError{Action: req.Action, Err: err}
	}

	if err := e.apply(req.Action, resp); err != nil {
		e.session.Status = models.StatusError
		e.logger.Warn("generation response not applied",
			zap.String("action", string(req.Action)),
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
		return err
	}

	e.logger.Info("generation round applied",
		zap.String("action", string(req.Action)),
		zap.String("session_id", e.session.SessionID),
		zap.String("status", string(e.session.Status)),
		zap.String("approval", string(e.session.Approval.Type)),
		zap.Int("metrics", len(e.session.Metrics)),
		zap.Int("events", len(e.session.Events)),
		zap.Int("turns", e.session.Conversation.Len()),
	)
	return nil
}

// apply folds one response into the session. Callers hold e.mu.
func (e *Engine) apply(action generation.Action, resp generation.Response) error {
	outcome, err := generation.Classify(resp)
	if err != nil {
		return &generation.TransportError{Action: action, Err: err}
	}
	s := &e.session
	if failed, ok := outcome.(generation.Failed); ok {
		// The service answered, but the round did not succeed: keep the turns
		// it produced and nothing else.
		s.Conversation = s.Conversation.Merge(resp.ConversationTurns)
		return &generation.TransportError{Action: action, Err: errors.New(failed.Message)}
	}
	if action == generation.ActionStart && resp.SessionID == "" {
		return &generation.TransportError{
			Action: action,
			Err:    fmt.Errorf("%w: start response without session id", generation.ErrMalformedResponse),
		}
	}

	if s.SessionID == "" {
		s.SessionID = resp.SessionID
	} else if resp.SessionID != "" && resp.SessionID != s.SessionID {
		e.logger.Warn("generation service changed session id; keeping the original",
			zap.String("session_id", s.SessionID),
			zap.String("returned", resp.SessionID),
		)
	}

	if resp.Metrics != nil {
		if resp.MetricsReplace {
			e.replaceMetrics(resp.Metrics)
		} else {
			e.accrueMetrics(resp.Metrics)
		}
	}
	if resp.Events != nil {
		s.Events = append([]models.Event{}, resp.Events...)
	}
	if resp.Framework != "" {
		s.Framework = resp.Framework
	}
	s.Conversation = s.Conversation.Merge(resp.ConversationTurns)

	switch o := outcome.(type) {
	case generation.AwaitingApproval:
		s.Status = models.StatusWaitingApproval
		s.Approval.Required = true
		s.Approval.Type = o.Type
	case generation.Progressed:
		s.Status = o.Status
		s.Approval.Required = false
		if o.Stage != "" {
			s.Approval.Type = o.Stage
		}
	case generation.Completed:
		s.Status = models.StatusCompleted
		s.Approval.Required = false
		s.Approval.Type = models.ApprovalNone
	case generation.Rejected:
		s.Status = models.StatusRejected
		s.Approval.Required = false
		s.Approval.Type = models.ApprovalNone
	default:
		return &generation.TransportError{
			Action: action,
			Err:    fmt.Errorf("%w: unhandled outcome %T", generation.ErrMalformedResponse, outcome),
		}
	}
	if s.Approval.Type == "" {
		s.Approval.Type = models.ApprovalNone
	}
	return nil
}

// accrueMetrics unions incoming metrics into the session by id. A metric id
// already present keeps its first record. Ids new to the session are seeded
// into the approval selection.
func (e *Engine) accrueMetrics(incoming []models.Metric) {
	s := &e.session
	known := s.MetricIDs()
	var added []string
	for _, m := range incoming {
		if m.ID == "" || approval.Contains(known, m.ID) {
			continue
		}
		s.Metrics = append(s.Metrics, m)
		known = append(known, m.ID)
		added = append(added, m.ID)
	}
	s.Approval.Selection = approval.Seed(s.Approval.Selection, added)
}

// replaceMetrics installs a full replacement list. Previously selected ids
// that survive stay selected, ids never seen before are seeded, and ids the
// user deselected stay deselected.
func (e *Engine) replaceMetrics(incoming []models.Metric) {
	s := &e.session
	before := s.MetricIDs()

	metrics := make([]models.Metric, 0, len(incoming))
	var ids, added []string
	for _, m := range incoming {
		if m.ID == "" || approval.Contains(ids, m.ID) {
			continue
		}
		metrics = append(metrics, m)
		ids = append(ids, m.ID)
		if !approval.Contains(before, m.ID) {
			added = append(added, m.ID)
		}
	}
	s.Metrics = metrics
	s.Approval.Selection = approval.Seed(approval.Retain(s.Approval.Selection, ids), added)
}
