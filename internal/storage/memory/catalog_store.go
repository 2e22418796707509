// Package memory provides in-memory storage for local dry runs and tests.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/JakeFAU/bios-notifier/internal/tracker"
)

// CatalogStore implements tracker.Store in memory, preserving insertion order.
type CatalogStore struct {
	mu        sync.RWMutex
	models    map[string]tracker.Model
	modelIDs  []string
	users     map[string]tracker.User
	userIDs   []string
	saveCalls int
}

// NewCatalogStore constructs a CatalogStore seeded with models and users.
func NewCatalogStore(models []tracker.Model, users []tracker.User) *CatalogStore {
	s := &CatalogStore{
		models: make(map[string]tracker.Model),
		users:  make(map[string]tracker.User),
	}
	s.putModels(models)
	s.putUsers(users)
	return s
}

// GetModels returns a copy of every model.
func (s *CatalogStore) GetModels(_ context.Context) ([]tracker.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tracker.Model, 0, len(s.modelIDs))
	for _, id := range s.modelIDs {
		out = append(out, s.models[id])
	}
	return out, nil
}

// SaveModels upserts models by id.
func (s *CatalogStore) SaveModels(_ context.Context, models []tracker.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	s.putModels(models)
	return nil
}

// GetUsers returns a copy of every user.
func (s *CatalogStore) GetUsers(_ context.Context) ([]tracker.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tracker.User, 0, len(s.userIDs))
	for _, id := range s.userIDs {
		out = append(out, s.users[id])
	}
	return out, nil
}

// SaveUsers upserts users by id.
func (s *CatalogStore) SaveUsers(_ context.Context, users []tracker.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	s.putUsers(users)
	return nil
}

// DeleteUser removes a user by email when identifier contains "@", otherwise by id.
// Deleting an absent user is not an error.
func (s *CatalogStore) DeleteUser(_ context.Context, identifier string) error {
	if identifier == tracker.SentinelID {
		return tracker.ErrSentinel
	}
	byEmail := strings.Contains(identifier, "@")
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.userIDs[:0]
	for _, id := range s.userIDs {
		u := s.users[id]
		if (byEmail && u.Email == identifier) || (!byEmail && u.ID == identifier) {
			delete(s.users, id)
			continue
		}
		kept = append(kept, id)
	}
	s.userIDs = kept
	return nil
}

// SaveCalls reports how many batched writes were issued.
func (s *CatalogStore) SaveCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveCalls
}

func (s *CatalogStore) putModels(models []tracker.Model) {
	for _, m := range models {
		if _, ok := s.models[m.ID]; !ok {
			s.modelIDs = append(s.modelIDs, m.ID)
		}
		s.models[m.ID] = m
	}
}

func (s *CatalogStore) putUsers(users []tracker.User) {
	for _, u := range users {
		if _, ok := s.users[u.ID]; !ok {
			s.userIDs = append(s.userIDs, u.ID)
		}
		s.users[u.ID] = u
	}
}
