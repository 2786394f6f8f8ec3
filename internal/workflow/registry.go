package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"instrumentation-backend/internal/engine"
	"instrumentation-backend/internal/generation"
	"instrumentation-backend/internal/metrics"
	"instrumentation-backend/internal/store"
)

var ErrWorkflowNotFound = errors.New("workflow not found")

// Registry holds the live workflows of every user. Each workflow owns its
// own engine; the registry map is the only state shared between them.
// Workflows left unused for longer than the idle TTL are evicted; their
// saved snapshots stay in the store.
type Registry struct {
	client  generation.Client
	store   store.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	idleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	workflows map[string]*Controller
}

type RegistryOption func(*Registry)

// WithIdleTTL sets how long a workflow may go unused before Sweep evicts
// it. Zero keeps workflows until they are discarded.
func WithIdleTTL(d time.Duration) RegistryOption {
	return func(r *Registry) { r.idleTTL = d }
}

// WithClock overrides the time source used for idle tracking.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(client generation.Client, st store.Store, logger *zap.Logger, m *metrics.Metrics, opts ...RegistryOption) (*Registry, error) {
	if client == nil {
		return nil, errors.New("generation client is required")
	}
	if st == nil {
		return nil, errors.New("session store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		client:    client,
		store:     st,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
		workflows: map[string]*Controller{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Create starts an empty workflow at the input step. Idle workflows are
// swept first.
func (r *Registry) Create(owner string) (*Controller, error) {
	if owner == "" {
		return nil, store.ErrForbidden
	}
	eng, err := engine.New(r.client, r.logger)
	if err != nil {
		return nil, err
	}
	c := NewController(uuid.New().String(), owner, eng, r.store, r.logger, r.metrics)
	c.now = r.now
	c.touch()

	r.Sweep()

	r.mu.Lock()
	r.workflows[c.ID()] = c
	n := len(r.workflows)
	r.mu.Unlock()

	r.metrics.SetActiveWorkflows(n)
	r.logger.Info("workflow created", zap.String("workflow_id", c.ID()), zap.String("owner", owner))
	return c, nil
}

// Get returns the owner's workflow.
func (r *Registry) Get(owner, id string) (*Controller, error) {
	r.mu.Lock()
	c, ok := r.workflows[id]
	r.mu.Unlock()
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	if c.Owner() != owner {
		return nil, store.ErrForbidden
	}
	return c, nil
}

// Resume creates a workflow and loads a stored snapshot into it. The new
// workflow is discarded if the snapshot cannot be loaded.
func (r *Registry) Resume(ctx context.Context, owner, snapshotID string) (*Controller, error) {
	c, err := r.Create(owner)
	if err != nil {
		return nil, err
	}
	if err := c.ResumeSession(ctx, snapshotID); err != nil {
		r.drop(c.ID())
		return nil, err
	}
	return c, nil
}

// Discard forgets a live workflow. Saved snapshots are kept.
func (r *Registry) Discard(owner, id string) error {
	if _, err := r.Get(owner, id); err != nil {
		return err
	}
	r.drop(id)
	return nil
}

// Sweep evicts workflows idle for longer than the TTL and returns how many
// it removed. A workflow with an action in flight is never evicted.
func (r *Registry) Sweep() int {
	if r.idleTTL <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	var evicted []string
	for id, c := range r.workflows {
		if !c.LastUsed().Before(cutoff) {
			continue
		}
		if !c.busy.TryLock() {
			continue
		}
		delete(r.workflows, id)
		c.busy.Unlock()
		evicted = append(evicted, id)
	}
	n := len(r.workflows)
	r.mu.Unlock()

	if len(evicted) > 0 {
		r.metrics.SetActiveWorkflows(n)
		r.logger.Info("idle workflows evicted",
			zap.Int("evicted", len(evicted)),
			zap.Int("live_workflows", n),
			zap.Duration("idle_ttl", r.idleTTL),
		)
	}
	return len(evicted)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if r.idleTTL <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workflows)
}

func (r *Registry) drop(id string) {
	r.mu.Lock()
	delete(r.workflows, id)
	n := len(r.workflows)
	r.mu.Unlock()
	r.metrics.SetActiveWorkflows(n)
}
