package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"colletta/internal/core"
)

// Store is an in-memory settlement sheet for tests and local runs.
type Store struct {
	mu   sync.Mutex
	rows []core.Transfer
}

func New() *Store {
	return &Store{}
}

// Append stores the transfer and returns a synthetic row reference.
func (s *Store) Append(_ context.Context, t core.Transfer) (string, error) {
	if t.ID == "" {
		return "", errors.New("transfer has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, t)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// Rows returns a copy of every appended transfer in insertion order.
func (s *Store) Rows() []core.Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Transfer(nil), s.rows...)
}
