package lookup

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("lookup record not found")

// ContactRecord describes a known prospect.
type ContactRecord struct {
	PhoneNumber   string    `json:"phone_number"`
	Name          string    `json:"name"`
	Company       string    `json:"company"`
	InterestLevel string    `json:"interest_level"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ProductRecord carries competitor differentiation talking points.
type ProductRecord struct {
	Name               string `json:"name"`
	Differentiation    string `json:"technical_differentiation"`
	Benefits           string `json:"benefits"`
	CustomerProofPoint string `json:"customer_proof_point"`
}

// Store resolves contacts and competitor products. Absence is reported as
// ErrNotFound, never as a panic or a zero-value success.
type Store interface {
	Contact(ctx context.Context, phoneNumber string) (ContactRecord, error)
	PreviousConversation(ctx context.Context, phoneNumber string) (string, error)
	Product(ctx context.Context, name string) (ProductRecord, error)
	SaveConversationSummary(ctx context.Context, phoneNumber, summary string) error
	UpsertContact(ctx context.Context, rec ContactRecord) error
	UpsertProduct(ctx context.Context, rec ProductRecord) error
	Close() error
}
