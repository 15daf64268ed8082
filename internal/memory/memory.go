// Package memory provides an in-memory campaign store for development
// and tests. Ids are allocated from 1 and never reused.
package memory

import (
	"context"
	"sync"

	"colletta/internal/core"
)

type Store struct {
	mu        sync.Mutex
	nextID    int64
	campaigns map[int64]core.Campaign
	created   []int64
	transfers []core.Transfer
}

func New() *Store {
	return &Store{
		nextID:    1,
		campaigns: make(map[int64]core.Campaign),
	}
}

func (s *Store) CreateCampaign(_ context.Context, c core.Campaign) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	c.ID = id
	s.campaigns[id] = c.Clone()
	s.created = append(s.created, id)
	return id, nil
}

func (s *Store) GetCampaign(_ context.Context, id int64) (core.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.campaigns[id]
	if !exists {
		return core.Campaign{}, core.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *Store) UpdateCampaign(_ context.Context, c core.Campaign, transfer *core.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.campaigns[c.ID]; !exists {
		return core.ErrNotFound
	}
	s.campaigns[c.ID] = c.Clone()
	if transfer != nil {
		s.transfers = append(s.transfers, *transfer)
	}
	return nil
}

// CampaignIDsByCreator returns ids in creation order.
func (s *Store) CampaignIDsByCreator(_ context.Context, creator core.Identity) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0)
	for _, id := range s.created {
		if s.campaigns[id].Creator == creator {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Store) CountCampaigns(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.campaigns)), nil
}

// Transfers returns a copy of every transfer instruction recorded so
// far, in commit order.
func (s *Store) Transfers() []core.Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]core.Transfer, len(s.transfers))
	copy(out, s.transfers)
	return out
}
