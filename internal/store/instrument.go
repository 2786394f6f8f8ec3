package store

import (
	"context"

	"instrumentation-backend/internal/metrics"
	"instrumentation-backend/internal/models"
)

// Instrument wraps a store so that every operation is counted by outcome.
func Instrument(next Store, m *metrics.Metrics) Store {
	if m == nil {
		return next
	}
	return &instrumentedStore{next: next, metrics: m}
}

type instrumentedStore struct {
	next    Store
	metrics *metrics.Metrics
}

func (s *instrumentedStore) Save(ctx context.Context, owner string, snap *models.SessionSnapshot) (string, error) {
	id, err := s.next.Save(ctx, owner, snap)
	s.metrics.ObserveStore("save", err)
	return id, err
}

func (s *instrumentedStore) Load(ctx context.Context, owner, id string) (*models.SessionSnapshot, error) {
	snap, err := s.next.Load(ctx, owner, id)
	s.metrics.ObserveStore("load", err)
	return snap, err
}

func (s *instrumentedStore) List(ctx context.Context, owner string) ([]models.SessionSnapshot, error) {
	snaps, err := s.next.List(ctx, owner)
	s.metrics.ObserveStore("list", err)
	return snaps, err
}

func (s *instrumentedStore) Remove(ctx context.Context, owner, id string) error {
	err := s.next.Remove(ctx, owner, id)
	s.metrics.ObserveStore("remove", err)
	return err
}
