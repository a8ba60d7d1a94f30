package lookup

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Instrument wraps a Store and counts degraded reads per lookup kind.
// Not-found and failure are counted separately so dashboards can tell a
// cold contact base from a broken one.
func Instrument(inner Store, degradations *prometheus.CounterVec) Store {
	return &instrumentedStore{inner: inner, degradations: degradations}
}

type instrumentedStore struct {
	inner        Store
	degradations *prometheus.CounterVec
}

func (s *instrumentedStore) count(kind string, err error) {
	if err == nil {
		return
	}
	outcome := "error"
	if errors.Is(err, ErrNotFound) {
		outcome = "not_found"
	}
	s.degradations.WithLabelValues(kind + "_" + outcome).Inc()
}

func (s *instrumentedStore) Contact(ctx context.Context, phoneNumber string) (ContactRecord, error) {
	rec, err := s.inner.Contact(ctx, phoneNumber)
	s.count("contact", err)
	return rec, err
}

func (s *instrumentedStore) PreviousConversation(ctx context.Context, phoneNumber string) (string, error) {
	summary, err := s.inner.PreviousConversation(ctx, phoneNumber)
	s.count("previous_conversation", err)
	return summary, err
}

func (s *instrumentedStore) Product(ctx context.Context, name string) (ProductRecord, error) {
	rec, err := s.inner.Product(ctx, name)
	s.count("product", err)
	return rec, err
}

func (s *instrumentedStore) SaveConversationSummary(ctx context.Context, phoneNumber, summary string) error {
	err := s.inner.SaveConversationSummary(ctx, phoneNumber, summary)
	s.count("save_summary", err)
	return err
}

func (s *instrumentedStore) UpsertContact(ctx context.Context, rec ContactRecord) error {
	return s.inner.UpsertContact(ctx, rec)
}

func (s *instrumentedStore) UpsertProduct(ctx context.Context, rec ProductRecord) error {
	return s.inner.UpsertProduct(ctx, rec)
}

func (s *instrumentedStore) Close() error { return s.inner.Close() }
