package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/your-org/faceid/internal/models"
)

// MemoryIdentityStore is an in-process identity store with the same
// uniqueness rule on profile ids as the Postgres table.
type MemoryIdentityStore struct {
	mu         sync.RWMutex
	identities map[string]*models.Identity
}

func NewMemoryIdentityStore() *MemoryIdentityStore {
	return &MemoryIdentityStore{identities: map[string]*models.Identity{}}
}

func (s *MemoryIdentityStore) UpsertIdentity(_ context.Context, ident *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	cur, ok := s.identities[ident.ID]
	if !ok {
		cur = &models.Identity{ID: ident.ID, CreatedAt: now}
		s.identities[ident.ID] = cur
	}
	cur.FirstName, cur.LastName, cur.Email = ident.FirstName, ident.LastName, ident.Email
	cur.UpdatedAt = now
	*ident = *copyIdentity(cur)
	return nil
}

func (s *MemoryIdentityStore) GetProfileID(_ context.Context, identity string) (*int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cur, ok := s.identities[identity]; ok && cur.ProfileID != nil {
		id := *cur.ProfileID
		return &id, nil
	}
	return nil, nil
}

func (s *MemoryIdentityStore) SetProfileID(_ context.Context, identity string, profileID *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if profileID != nil {
		for other, rec := range s.identities {
			if other != identity && rec.ProfileID != nil && *rec.ProfileID == *profileID {
				return fmt.Errorf("set profile id: profile %d already belongs to %q", *profileID, other)
			}
		}
	}
	now := time.Now().UTC()
	cur, ok := s.identities[identity]
	if !ok {
		cur = &models.Identity{ID: identity, CreatedAt: now}
		s.identities[identity] = cur
	}
	if profileID != nil {
		id := *profileID
		cur.ProfileID = &id
	} else {
		cur.ProfileID = nil
	}
	cur.UpdatedAt = now
	return nil
}

func (s *MemoryIdentityStore) FindByProfileID(_ context.Context, profileID int) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.identities {
		if rec.ProfileID != nil && *rec.ProfileID == profileID {
			return copyIdentity(rec), nil
		}
	}
	return nil, nil
}

func copyIdentity(in *models.Identity) *models.Identity {
	out := *in
	if in.ProfileID != nil {
		id := *in.ProfileID
		out.ProfileID = &id
	}
	return &out
}
