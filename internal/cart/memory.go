package cart

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps carts in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	carts map[int64]*Cart
	now   func() time.Time
}

// NewMemoryStore returns an empty store. A nil clock means time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{carts: make(map[int64]*Cart), now: now}
}

func (s *MemoryStore) Get(_ context.Context, userID int64) (Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[userID]
	if !ok {
		return Cart{}, ErrNotFound
	}
	return snapshot(c), nil
}

func (s *MemoryStore) AddItem(_ context.Context, userID int64, item Item) (Cart, error) {
	if err := item.Validate(); err != nil {
		return Cart{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	c, ok := s.carts[userID]
	if !ok {
		c = &Cart{UserID: userID, CreatedAt: now}
		s.carts[userID] = c
	}
	c.Items = mergeItem(c.Items, item)
	c.UpdatedAt = now
	return snapshot(c), nil
}

func (s *MemoryStore) RemoveItem(_ context.Context, userID, productID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[userID]
	if !ok {
		return nil
	}
	kept := c.Items[:0]
	for _, it := range c.Items {
		if it.ProductID != productID {
			kept = append(kept, it)
		}
	}
	c.Items = kept
	c.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[userID]
	if !ok {
		return ErrNotFound
	}
	c.Items = nil
	c.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func snapshot(c *Cart) Cart {
	out := *c
	out.Items = append([]Item(nil), c.Items...)
	return out
}
