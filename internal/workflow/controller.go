// Package workflow sequences the user-facing steps of an analysis on top of
// the orchestration engine and the snapshot store.
package workflow

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"instrumentation-backend/internal/engine"
	"instrumentation-backend/internal/metrics"
	"instrumentation-backend/internal/models"
	"instrumentation-backend/internal/store"
	"instrumentation-backend/internal/validation"
)

const defaultSessionName = "Untitled analysis"

var stepOrder = map[models.Step]int{
	models.StepInput:     0,
	models.StepClarify:   1,
	models.StepVisualize: 2,
	models.StepReview:    3,
	models.StepResults:   4,
}

// Controller drives one workflow for one owner. Actions are serialized by a
// busy lock: an action issued while another is pending fails with
// validation.ErrBusy instead of queueing.
//
// A generation round, and the autosave after it, always runs to completion
// once sent: cancelling the caller's context does not abort it. The
// generation client's timeout bounds the round.
type Controller struct {
	id      string
	owner   string
	engine  *engine.Engine
	store   store.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	busy     sync.Mutex
	lastUsed atomic.Int64 // unix nanoseconds

	mu         sync.RWMutex
	step       models.Step
	snapshotID string
	name       string
	answers    []string
}

// View is a read-only picture of a workflow.
type View struct {
	ID               string         `json:"id"`
	Step             models.Step    `json:"step"`
	SnapshotID       string         `json:"snapshotId,omitempty"`
	Name             string         `json:"name,omitempty"`
	FrameworkAnswers []string       `json:"frameworkAnswers"`
	Session          models.Session `json:"session"`
}

func NewController(id, owner string, eng *engine.Engine, st store.Store, logger *zap.Logger, m *metrics.Metrics) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		id:      id,
		owner:   owner,
		engine:  eng,
		store:   st,
		logger:  logger.With(zap.String("workflow_id", id)),
		metrics: m,
		now:     time.Now,
		step:    models.StepInput,
	}
	c.touch()
	return c
}

func (c *Controller) ID() string    { return c.id }
func (c *Controller) Owner() string { return c.owner }

func (c *Controller) View() View {
	c.touch()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return View{
		ID:               c.id,
		Step:             c.step,
		SnapshotID:       c.snapshotID,
		Name:             c.name,
		FrameworkAnswers: append([]string{}, c.answers...),
		Session:          c.engine.Session(),
	}
}

func (c *Controller) Step() models.Step {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.step
}

func (c *Controller) acquire() error {
	if !c.busy.TryLock() {
		return validation.New(validation.ErrBusy, "")
	}
	c.touch()
	return nil
}

func (c *Controller) release() {
	c.touch()
	c.busy.Unlock()
}

func (c *Controller) touch() {
	c.lastUsed.Store(c.now().UnixNano())
}

// LastUsed is when the workflow was last viewed or acted on.
func (c *Controller) LastUsed() time.Time {
	return time.Unix(0, c.lastUsed.Load())
}

// StartAnalysis opens a session for the product description and moves to
// the clarifying questions.
func (c *Controller) StartAnalysis(ctx context.Context, input models.InputContext) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()
	ctx = context.WithoutCancel(ctx)

	if err := c.engine.Start(ctx, input); err != nil {
		return err
	}
	c.advance(models.StepClarify)
	c.autosave(ctx)
	return nil
}

// SubmitAnswer sends the user's reply. Replies given while the clarifying
// questions are open are kept as framework-selection answers.
func (c *Controller) SubmitAnswer(ctx context.Context, text string) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()
	ctx = context.WithoutCancel(ctx)

	if err := c.engine.SendMessage(ctx, text); err != nil {
		return err
	}
	c.mu.Lock()
	if c.step == models.StepClarify {
		c.answers = append(c.answers, text)
	}
	c.mu.Unlock()
	c.advance(models.StepInput)
	c.autosave(ctx)
	return nil
}

func (c *Controller) ToggleMetric(ctx context.Context, metricID string) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	if err := c.engine.ToggleMetric(metricID); err != nil {
		return err
	}
	c.autosave(ctx)
	return nil
}

// ApproveMetrics approves the metrics checkpoint. A nil selection approves
// the selection currently held by the gate.
func (c *Controller) ApproveMetrics(ctx context.Context, selection []string) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()
	ctx = context.WithoutCancel(ctx)

	if selection == nil {
		selection = c.engine.Session().Approval.Selection
	}
	if err := c.engine.Approve(ctx, models.ApprovalMetrics, selection); err != nil {
		return err
	}
	c.advance(models.StepReview)
	c.autosave(ctx)
	return nil
}

func (c *Controller) ApproveTaxonomy(ctx context.Context) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()
	ctx = context.WithoutCancel(ctx)

	if err := c.engine.Approve(ctx, models.ApprovalTaxonomy, nil); err != nil {
		return err
	}
	c.advance(models.StepResults)
	c.autosave(ctx)
	return nil
}

// Reject asks the service to discard the session. Once the service answers
// rejected, that state is autosaved and the workflow starts over from input
// with no snapshot attached. Any other answer keeps the workflow where it is.
func (c *Controller) Reject(ctx context.Context, reason string) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()
	ctx = context.WithoutCancel(ctx)

	if err := c.engine.Reject(ctx, reason); err != nil {
		return err
	}
	if c.engine.Session().Status != models.StatusRejected {
		c.advance(models.StepInput)
		c.autosave(ctx)
		return nil
	}
	c.autosave(ctx)
	c.restart()
	return nil
}

// SaveProgress writes the workflow to the store and reports any failure.
// The first save creates the snapshot; later saves overwrite it.
func (c *Controller) SaveProgress(ctx context.Context, name string) (*models.SessionSnapshot, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	name = strings.TrimSpace(name)
	if err := validation.ValidateSessionName(name); err != nil {
		return nil, err
	}
	if name != "" {
		c.mu.Lock()
		c.name = name
		c.mu.Unlock()
	}
	return c.save(ctx, "save")
}

// ResumeSession replaces the workflow with a stored snapshot. Nothing is
// replayed against the generation service. On failure the workflow is left
// as it was.
func (c *Controller) ResumeSession(ctx context.Context, snapshotID string) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	snap, err := c.store.Load(ctx, c.owner, snapshotID)
	if err != nil {
		return err
	}

	c.engine.Restore(snap.Session())
	step := snap.CurrentStep
	if !step.Valid() {
		step = stepFor(models.StepInput, snap.Session())
	}

	c.mu.Lock()
	c.step = step
	c.snapshotID = snap.ID
	c.name = snap.Name
	c.answers = append([]string(nil), snap.FrameworkAnswers...)
	c.mu.Unlock()

	c.logger.Info("workflow resumed",
		zap.String("snapshot_id", snap.ID),
		zap.String("step", string(step)),
		zap.String("status", string(snap.Status)),
	)
	return nil
}

// Restart resets the engine and returns to input. The snapshot the workflow
// was saving to is forgotten, not deleted.
func (c *Controller) Restart() error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	c.restart()
	return nil
}

func (c *Controller) restart() {
	c.engine.Reset()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = models.StepInput
	c.snapshotID = ""
	c.name = ""
	c.answers = nil
}

// advance moves the step forward to at least floor, or further when the
// session already sits at a later checkpoint. Steps never move backwards
// here; only restart does that.
func (c *Controller) advance(floor models.Step) {
	s := c.engine.Session()
	c.mu.Lock()
	defer c.mu.Unlock()
	if stepOrder[floor] > stepOrder[c.step] {
		c.step = floor
	}
	c.step = stepFor(c.step, s)
}

// stepFor derives the step a session belongs on, never earlier than cur.
func stepFor(cur models.Step, s models.Session) models.Step {
	target := cur
	switch {
	case s.Status == models.StatusCompleted:
		target = models.StepResults
	case s.Approval.Required && s.Approval.Type == models.ApprovalTaxonomy:
		target = models.StepReview
	case s.Approval.Required && s.Approval.Type == models.ApprovalMetrics:
		// The clarifying questions are complete once metrics wait for approval.
		target = models.StepVisualize
	case s.SessionID != "" && cur == models.StepInput:
		target = models.StepClarify
	}
	if stepOrder[target] < stepOrder[cur] {
		return cur
	}
	return target
}

// autosave refreshes an existing snapshot. Failures are logged and counted
// but never interrupt the workflow.
func (c *Controller) autosave(ctx context.Context) {
	c.mu.RLock()
	id := c.snapshotID
	c.mu.RUnlock()
	if id == "" {
		return
	}
	if _, err := c.save(ctx, "autosave"); err != nil {
		c.metrics.AutosaveFailed()
		c.logger.Warn("autosave failed",
			zap.String("snapshot_id", id),
			zap.Error(err),
		)
	}
}

func (c *Controller) save(ctx context.Context, op string) (*models.SessionSnapshot, error) {
	snap := c.snapshot()
	started := time.Now()
	id, err := c.store.Save(ctx, c.owner, snap)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.snapshotID = id
	c.mu.Unlock()

	c.logger.Debug("snapshot saved",
		zap.String("op", op),
		zap.String("snapshot_id", id),
		zap.Duration("took", time.Since(started)),
	)
	return snap, nil
}

func (c *Controller) snapshot() *models.SessionSnapshot {
	s := c.engine.Session()
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := c.name
	if name == "" {
		name = defaultName(s.Input)
	}
	snap := &models.SessionSnapshot{
		ID:               c.snapshotID,
		Name:             name,
		CurrentStep:      c.step,
		FrameworkAnswers: append([]string{}, c.answers...),
	}
	snap.Flatten(s)
	return snap
}

func defaultName(in models.InputContext) string {
	if in.URL != "" {
		return in.URL
	}
	if d := strings.TrimSpace(in.Details); d != "" {
		if r := []rune(d); len(r) > 60 {
			d = string(r[:60])
		}
		return d
	}
	return defaultSessionName
}
