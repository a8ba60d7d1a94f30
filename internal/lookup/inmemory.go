package lookup

import (
	"context"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu        sync.RWMutex
	contacts  map[string]ContactRecord
	summaries map[string]string
	products  map[string]ProductRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		contacts:  make(map[string]ContactRecord),
		summaries: make(map[string]string),
		products:  make(map[string]ProductRecord),
	}
}

func (s *InMemoryStore) Contact(_ context.Context, phoneNumber string) (ContactRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.contacts[phoneNumber]
	if !ok {
		return ContactRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *InMemoryStore) PreviousConversation(_ context.Context, phoneNumber string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary, ok := s.summaries[phoneNumber]
	if !ok || strings.TrimSpace(summary) == "" {
		return "", ErrNotFound
	}
	return summary, nil
}

func (s *InMemoryStore) Product(_ context.Context, name string) (ProductRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.products[name]; ok {
		return rec, nil
	}
	// Case-insensitive fallback for spoken competitor names.
	for k, rec := range s.products {
		if strings.EqualFold(k, name) {
			return rec, nil
		}
	}
	return ProductRecord{}, ErrNotFound
}

func (s *InMemoryStore) SaveConversationSummary(_ context.Context, phoneNumber, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[phoneNumber] = summary
	if rec, ok := s.contacts[phoneNumber]; ok {
		rec.UpdatedAt = time.Now().UTC()
		s.contacts[phoneNumber] = rec
	}
	return nil
}

func (s *InMemoryStore) UpsertContact(_ context.Context, rec ContactRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	s.contacts[rec.PhoneNumber] = rec
	return nil
}

func (s *InMemoryStore) UpsertProduct(_ context.Context, rec ProductRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[rec.Name] = rec
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
