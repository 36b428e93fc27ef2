package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vaultbay/models"
	"vaultbay/notify"
	"vaultbay/trust"
	"vaultbay/wallet"
)

// Caller identifies the actor driving a transition. Operator is a capability
// resolved by the authentication layer, not a row in the users table.
type Caller struct {
	ID       uuid.UUID
	Operator bool
}

// Config captures the dependencies required to construct the engine.
type Config struct {
	DB    *gorm.DB
	Trust *trust.Engine
	Queue *notify.Queue
	Now   func() time.Time
}

// Engine owns the transaction lifecycle. Every status or flag write on a
// Transaction goes through a transition here; handlers never touch rows
// directly.
type Engine struct {
	db    *gorm.DB
	trust *trust.Engine
	queue *notify.Queue
	now   func() time.Time
}

// New constructs an escrow engine.
func New(cfg Config) *Engine {
	if cfg.DB == nil {
		panic("escrow: database required")
	}
	if cfg.Trust == nil {
		panic("escrow: trust engine required")
	}
	e := &Engine{
		db:    cfg.DB,
		trust: cfg.Trust,
		queue: cfg.Queue,
		now:   cfg.Now,
	}
	if e.queue == nil {
		e.queue = notify.NewQueue()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// CreateResult is returned from Create with the quote the buyer pays against.
type CreateResult struct {
	Transaction   *models.Transaction
	WalletAddress string
	Amount        float64
}

// Create opens a new transaction in CREATED status, snapshotting the amount
// and the receiving wallet address so later catalog edits cannot affect it.
func (e *Engine) Create(ctx context.Context, buyerID, productID uuid.UUID, asset string, quantity int) (*CreateResult, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidQuantity)
	}
	normalized, err := wallet.NormalizeAsset(asset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var created *models.Transaction
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var product models.Product
		if err := tx.First(&product, "id = ?", productID).Error; err != nil {
			return storeErr(err)
		}
		if product.Pieces != nil && quantity > *product.Pieces {
			return fmt.Errorf("%w: requested %d of %d available", ErrInvalidQuantity, quantity, *product.Pieces)
		}
		var cfg models.WalletConfig
		if err := tx.First(&cfg, "asset = ?", normalized).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrWalletNotConfigured, normalized)
			}
			return storeErr(err)
		}

		now := e.now()
		txn := models.Transaction{
			ID:            uuid.New(),
			ProductID:     product.ID,
			BuyerID:       buyerID,
			SellerID:      uuid.Nil, // platform placeholder until individual sellers are modeled
			Amount:        product.Price * float64(quantity),
			Quantity:      quantity,
			Asset:         normalized,
			WalletAddress: cfg.Address,
			Status:        models.StatusCreated,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.Create(&txn).Error; err != nil {
			return storeErr(err)
		}
		if err := e.appendEvent(tx, &txn.ID, buyerID, "transaction.created",
			fmt.Sprintf("amount=%.2f asset=%s quantity=%d", txn.Amount, txn.Asset, txn.Quantity)); err != nil {
			return err
		}
		created = &txn
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.enqueue(notify.EventTransactionCreated, created)
	return &CreateResult{Transaction: created, WalletAddress: created.WalletAddress, Amount: created.Amount}, nil
}

// Cancel moves a CREATED transaction to the CANCELLED terminal state. Only the
// buyer may cancel, and only before the deposit has been confirmed.
func (e *Engine) Cancel(ctx context.Context, caller Caller, txID uuid.UUID) (*models.Transaction, error) {
	txn, err := e.transition(ctx, txID, models.StatusCancelled, caller.ID,
		func(txn *models.Transaction) error {
			if txn.BuyerID != caller.ID {
				return fmt.Errorf("%w: only the buyer may cancel", ErrUnauthorized)
			}
			return nil
		}, nil)
	if err != nil {
		return nil, err
	}
	e.enqueue(notify.EventTransactionCancelled, txn)
	return txn, nil
}

// ConfirmDeposit records the operator's assertion that the quoted funds have
// arrived. The buyer's financials are refreshed in the same database
// transaction; the derivation only counts completed transactions, so a retried
// confirm can never double-credit.
func (e *Engine) ConfirmDeposit(ctx context.Context, caller Caller, txID uuid.UUID) (*models.Transaction, error) {
	if !caller.Operator {
		return nil, fmt.Errorf("%w: deposit confirmation requires operator capability", ErrUnauthorized)
	}
	txn, err := e.transition(ctx, txID, models.StatusFundsConfirmed, caller.ID, nil,
		func(tx *gorm.DB, txn *models.Transaction) error {
			txn.DepositVerified = true
			_, err := e.trust.RecomputeIn(tx, txn.BuyerID)
			return storeErr(err)
		})
	if err != nil {
		return nil, err
	}
	e.enqueue(notify.EventDepositConfirmed, txn)
	return txn, nil
}

// AuthorizeRelease records the buyer's consent to release the held funds once
// the item arrives. Allowed only from FUNDS_CONFIRMED.
func (e *Engine) AuthorizeRelease(ctx context.Context, caller Caller, txID uuid.UUID) (*models.Transaction, error) {
	txn, err := e.transition(ctx, txID, models.StatusReleaseAuthorized, caller.ID,
		func(txn *models.Transaction) error {
			if txn.BuyerID != caller.ID {
				return fmt.Errorf("%w: only the buyer may authorize release", ErrUnauthorized)
			}
			return nil
		},
		func(tx *gorm.DB, txn *models.Transaction) error {
			now := e.now()
			txn.ReleaseAuthorized = true
			txn.ConfirmedAt = &now
			return nil
		})
	if err != nil {
		return nil, err
	}
	e.enqueue(notify.EventReleaseAuthorized, txn)
	return txn, nil
}

// DeliverItem moves the transaction to DELIVERED and stores the item payload.
// The hook runs inside the same database transaction; the delivery service
// uses it to create the inbox message atomically with the status change.
func (e *Engine) DeliverItem(ctx context.Context, caller Caller, txID uuid.UUID, payload string, hook func(tx *gorm.DB, txn *models.Transaction) error) (*models.Transaction, error) {
	if !caller.Operator {
		return nil, fmt.Errorf("%w: item delivery requires operator capability", ErrUnauthorized)
	}
	if strings.TrimSpace(payload) == "" {
		return nil, fmt.Errorf("%w: item payload must not be empty", ErrValidation)
	}
	txn, err := e.transition(ctx, txID, models.StatusDelivered, caller.ID,
		func(txn *models.Transaction) error {
			if txn.ItemContent != "" {
				return fmt.Errorf("%w: item already delivered", ErrInvalidState)
			}
			return nil
		},
		func(tx *gorm.DB, txn *models.Transaction) error {
			txn.ItemContent = payload
			if hook != nil {
				return hook(tx, txn)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	e.enqueue(notify.EventItemDelivered, txn)
	return txn, nil
}

// CompleteResult bundles the terminal status with the buyer's refreshed
// financials.
type CompleteResult struct {
	Transaction *models.Transaction
	Financials  trust.Financials
}

// Complete acknowledges delivery and settles the transaction. The buyer or an
// operator may complete; the transaction then counts toward the buyer's
// recognized balance and trust score.
func (e *Engine) Complete(ctx context.Context, caller Caller, txID uuid.UUID) (*CompleteResult, error) {
	var fin trust.Financials
	txn, err := e.transition(ctx, txID, models.StatusCompleted, caller.ID,
		func(txn *models.Transaction) error {
			if !caller.Operator && txn.BuyerID != caller.ID {
				return fmt.Errorf("%w: only the buyer or an operator may complete", ErrUnauthorized)
			}
			return nil
		},
		func(tx *gorm.DB, txn *models.Transaction) error {
			var err error
			fin, err = e.trust.RecomputeIn(tx, txn.BuyerID)
			return storeErr(err)
		})
	if err != nil {
		return nil, err
	}
	e.enqueue(notify.EventTransactionCompleted, txn)
	return &CompleteResult{Transaction: txn, Financials: fin}, nil
}

// Get returns a transaction visible to the caller: buyers see their own
// orders, operators see everything.
func (e *Engine) Get(ctx context.Context, caller Caller, txID uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	if err := e.db.WithContext(ctx).First(&txn, "id = ?", txID).Error; err != nil {
		return nil, storeErr(err)
	}
	if !caller.Operator && txn.BuyerID != caller.ID {
		return nil, fmt.Errorf("%w: transaction belongs to another buyer", ErrUnauthorized)
	}
	return &txn, nil
}

// ListByBuyer returns a buyer's transactions, newest first.
func (e *Engine) ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]models.Transaction, error) {
	var txns []models.Transaction
	if err := e.db.WithContext(ctx).
		Where("buyer_id = ?", buyerID).
		Order("created_at DESC").
		Find(&txns).Error; err != nil {
		return nil, storeErr(err)
	}
	return txns, nil
}

// transition wraps a state change with row locking, precondition validation,
// persistence, and audit logging. Two concurrent attempts on the same row
// serialize on the lock; the loser re-reads a status its transition is no
// longer valid from and fails with ErrInvalidState.
func (e *Engine) transition(ctx context.Context, txID uuid.UUID, next models.TransactionStatus, actor uuid.UUID, guard func(*models.Transaction) error, hook func(*gorm.DB, *models.Transaction) error) (*models.Transaction, error) {
	var result *models.Transaction
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txn models.Transaction
		if err := lockForUpdate(tx).First(&txn, "id = ?", txID).Error; err != nil {
			return storeErr(err)
		}
		if err := ValidateTransition(txn.Status, next); err != nil {
			return err
		}
		if guard != nil {
			if err := guard(&txn); err != nil {
				return err
			}
		}
		txn.Status = next
		txn.UpdatedAt = e.now()
		if hook != nil {
			if err := hook(tx, &txn); err != nil {
				return err
			}
		}
		if err := tx.Save(&txn).Error; err != nil {
			return storeErr(err)
		}
		if err := e.appendEvent(tx, &txn.ID, actor, "transaction."+strings.ToLower(string(next)), ""); err != nil {
			return err
		}
		result = &txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) appendEvent(tx *gorm.DB, txID *uuid.UUID, actor uuid.UUID, action, details string) error {
	event := models.AuditEvent{
		ID:            uuid.New(),
		TransactionID: txID,
		ActorID:       actor,
		Action:        action,
		Details:       details,
		CreatedAt:     e.now(),
	}
	if err := tx.Create(&event).Error; err != nil {
		return storeErr(err)
	}
	return nil
}

func (e *Engine) enqueue(eventType string, txn *models.Transaction) {
	if e.queue == nil || txn == nil {
		return
	}
	e.queue.Enqueue(notify.Event{
		Type:          eventType,
		TransactionID: txn.ID,
		BuyerID:       txn.BuyerID,
		Attributes: map[string]string{
			"status": string(txn.Status),
			"asset":  txn.Asset,
			"amount": fmt.Sprintf("%.2f", txn.Amount),
		},
		CreatedAt: e.now(),
	})
}

// lockForUpdate applies a row lock on dialects that support it. SQLite
// serializes writers on its own and rejects the FOR UPDATE syntax.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector != nil && tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// storeErr maps driver failures into the engine's error taxonomy.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
