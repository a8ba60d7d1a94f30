package lookup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists contacts and competitor products in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS contacts (
			phone_number TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			company TEXT NOT NULL DEFAULT '',
			interest_level TEXT NOT NULL DEFAULT '',
			last_conversation_summary TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS competitor_products (
			name TEXT PRIMARY KEY,
			technical_differentiation TEXT NOT NULL DEFAULT '',
			benefits TEXT NOT NULL DEFAULT '',
			customer_proof_point TEXT NOT NULL DEFAULT ''
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Contact(ctx context.Context, phoneNumber string) (ContactRecord, error) {
	var rec ContactRecord
	err := s.pool.QueryRow(ctx,
		`SELECT phone_number, name, company, interest_level, updated_at
		 FROM contacts WHERE phone_number=$1`,
		phoneNumber,
	).Scan(&rec.PhoneNumber, &rec.Name, &rec.Company, &rec.InterestLevel, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ContactRecord{}, ErrNotFound
	}
	if err != nil {
		return ContactRecord{}, fmt.Errorf("query contact: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) PreviousConversation(ctx context.Context, phoneNumber string) (string, error) {
	var summary string
	err := s.pool.QueryRow(ctx,
		`SELECT last_conversation_summary FROM contacts WHERE phone_number=$1`,
		phoneNumber,
	).Scan(&summary)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query previous conversation: %w", err)
	}
	if summary == "" {
		return "", ErrNotFound
	}
	return summary, nil
}

func (s *PostgresStore) Product(ctx context.Context, name string) (ProductRecord, error) {
	rec, err := s.productBy(ctx, `SELECT name, technical_differentiation, benefits, customer_proof_point
		FROM competitor_products WHERE name=$1`, name)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return ProductRecord{}, err
	}
	// Spoken competitor names rarely match stored casing exactly.
	return s.productBy(ctx, `SELECT name, technical_differentiation, benefits, customer_proof_point
		FROM competitor_products WHERE name ILIKE $1 LIMIT 1`, name)
}

func (s *PostgresStore) productBy(ctx context.Context, query, arg string) (ProductRecord, error) {
	var rec ProductRecord
	err := s.pool.QueryRow(ctx, query, arg).
		Scan(&rec.Name, &rec.Differentiation, &rec.Benefits, &rec.CustomerProofPoint)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProductRecord{}, ErrNotFound
	}
	if err != nil {
		return ProductRecord{}, fmt.Errorf("query product: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) SaveConversationSummary(ctx context.Context, phoneNumber, summary string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO contacts (phone_number, name, last_conversation_summary, updated_at)
		 VALUES ($1, '', $2, $3)
		 ON CONFLICT (phone_number)
		 DO UPDATE SET last_conversation_summary=$2, updated_at=$3`,
		phoneNumber, summary, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save conversation summary: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertContact(ctx context.Context, rec ContactRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO contacts (phone_number, name, company, interest_level, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (phone_number)
		 DO UPDATE SET name=$2, company=$3, interest_level=$4, updated_at=$5`,
		rec.PhoneNumber, rec.Name, rec.Company, rec.InterestLevel, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertProduct(ctx context.Context, rec ProductRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO competitor_products (name, technical_differentiation, benefits, customer_proof_point)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name)
		 DO UPDATE SET technical_differentiation=$2, benefits=$3, customer_proof_point=$4`,
		rec.Name, rec.Differentiation, rec.Benefits, rec.CustomerProofPoint,
	)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
