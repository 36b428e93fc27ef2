package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TransactionStatus represents a state in the escrow order workflow.
type TransactionStatus string

// All workflow states.
const (
	StatusCreated           TransactionStatus = "CREATED"
	StatusFundsConfirmed    TransactionStatus = "FUNDS_CONFIRMED"
	StatusReleaseAuthorized TransactionStatus = "RELEASE_AUTHORIZED"
	StatusDelivered         TransactionStatus = "DELIVERED"
	StatusCompleted         TransactionStatus = "COMPLETED"
	StatusCancelled         TransactionStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed from the status.
func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// User stores marketplace account information. Balance and TrustScore are
// derived caches owned by the trust engine; nothing else writes them.
type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email        string    `gorm:"uniqueIndex"`
	Username     string    `gorm:"uniqueIndex"`
	PasswordHash string    `gorm:"size:128"`
	PhraseHash   string    `gorm:"size:128"`
	Balance      float64   `gorm:"not null;default:0"`
	TrustScore   int       `gorm:"not null;default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Product describes a catalog listing. Price changes never touch existing
// transactions; each transaction snapshots its own amount.
type Product struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name        string    `gorm:"size:128;index"`
	Description string    `gorm:"type:text"`
	Price       float64   `gorm:"not null"`
	Region      string    `gorm:"size:64;index"`
	Type        string    `gorm:"size:64;index"`
	Pieces      *int
	ImageRef    string `gorm:"size:255"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// WalletConfig maps a payment asset key to the receiving address quoted to
// buyers at order creation.
type WalletConfig struct {
	Asset     string `gorm:"primaryKey;size:16"`
	Address   string `gorm:"size:128"`
	UpdatedAt time.Time
}

// Transaction is the central escrow record. Rows are append-only: status moves
// forward through the transition table and nothing is ever deleted.
type Transaction struct {
	ID                uuid.UUID         `gorm:"type:uuid;primaryKey"`
	ProductID         uuid.UUID         `gorm:"type:uuid;index"`
	BuyerID           uuid.UUID         `gorm:"type:uuid;index"`
	SellerID          uuid.UUID         `gorm:"type:uuid;index"`
	Amount            float64           `gorm:"not null"`
	Quantity          int               `gorm:"not null;default:1"`
	Asset             string            `gorm:"size:16"`
	WalletAddress     string            `gorm:"size:128"`
	Status            TransactionStatus `gorm:"size:32;index"`
	DepositVerified   bool              `gorm:"not null;default:false"`
	ReleaseAuthorized bool              `gorm:"not null;default:false"`
	ItemContent       string            `gorm:"type:text"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ConfirmedAt       *time.Time
}

// ItemDeliveryMessage is the buyer-facing inbox record created once per
// delivered transaction.
type ItemDeliveryMessage struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	TransactionID uuid.UUID `gorm:"type:uuid;uniqueIndex"`
	BuyerID       uuid.UUID `gorm:"type:uuid;index"`
	SellerID      uuid.UUID `gorm:"type:uuid"`
	ProductName   string    `gorm:"size:128"`
	ItemContent   string    `gorm:"type:text"`
	Amount        float64   `gorm:"not null"`
	Asset         string    `gorm:"size:16"`
	IsRead        bool      `gorm:"not null;default:false"`
	CreatedAt     time.Time
}

// AuditEvent is the append-only trail written on every escrow transition.
type AuditEvent struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey"`
	TransactionID *uuid.UUID `gorm:"type:uuid;index"`
	ActorID       uuid.UUID  `gorm:"type:uuid;index"`
	Action        string     `gorm:"size:64"`
	Details       string     `gorm:"type:text"`
	CreatedAt     time.Time
}

// IdempotencyKey stores request idempotency metadata. Key is the scoped form
// subject|method|path|client-key, never the raw client header alone.
type IdempotencyKey struct {
	Key       string `gorm:"primaryKey;size:512"`
	RequestID string `gorm:"size:64"`
	Method    string `gorm:"size:8"`
	Path      string `gorm:"size:255"`
	Status    int
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Product{},
		&WalletConfig{},
		&Transaction{},
		&ItemDeliveryMessage{},
		&AuditEvent{},
		&IdempotencyKey{},
	)
}
