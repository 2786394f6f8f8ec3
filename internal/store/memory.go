package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"

	"instrumentation-backend/internal/models"
)

// MemoryStore keeps snapshots in process memory. Records are stored as JSON
// so callers never share memory with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
	owners  map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: map[string][]byte{},
		owners:  map[string]string{},
	}
}

func (s *MemoryStore) Save(_ context.Context, owner string, snap *models.SessionSnapshot) (string, error) {
	if err := requireOwner("save", owner); err != nil {
		return "", err
	}
	if err := checkSnapshotID(snap.ID); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	id := snap.ID
	createdAt := ts
	if id == "" {
		id = uuid.New().String()
	} else if existingOwner, ok := s.owners[id]; ok {
		if existingOwner != owner {
			return "", &PersistenceError{Op: "save", Err: ErrForbidden}
		}
		var existing models.SessionSnapshot
		if err := json.Unmarshal(s.records[id], &existing); err != nil {
			return "", &PersistenceError{Op: "save", Err: err}
		}
		createdAt = existing.CreatedAt
	}

	rec := *snap
	rec.ID, rec.OwnerID, rec.CreatedAt, rec.UpdatedAt = id, owner, createdAt, ts
	data, err := json.Marshal(rec)
	if err != nil {
		return "", &PersistenceError{Op: "save", Err: err}
	}
	s.records[id] = data
	s.owners[id] = owner

	snap.ID, snap.OwnerID, snap.CreatedAt, snap.UpdatedAt = id, owner, createdAt, ts
	return id, nil
}

func (s *MemoryStore) Load(_ context.Context, owner, id string) (*models.SessionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.owners[id] != owner {
		return nil, ErrForbidden
	}
	var snap models.SessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &PersistenceError{Op: "load", Err: err}
	}
	return &snap, nil
}

func (s *MemoryStore) List(_ context.Context, owner string) ([]models.SessionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.SessionSnapshot{}
	for id, data := range s.records {
		if s.owners[id] != owner {
			continue
		}
		var snap models.SessionSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, &PersistenceError{Op: "list", Err: err}
		}
		out = append(out, snap)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Remove(_ context.Context, owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existingOwner, ok := s.owners[id]
	if !ok {
		return nil
	}
	if existingOwner != owner {
		return ErrForbidden
	}
	delete(s.records, id)
	delete(s.owners, id)
	return nil
}
