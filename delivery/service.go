package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"vaultbay/escrow"
	"vaultbay/models"
)

// Service hands purchased item content to the buyer. It drives the escrow
// DeliverItem transition and is the sole writer of ItemDeliveryMessage rows:
// exactly one message exists per delivered transaction.
type Service struct {
	db     *gorm.DB
	engine *escrow.Engine
	now    func() time.Time
}

// NewService constructs the delivery service.
func NewService(db *gorm.DB, engine *escrow.Engine, now func() time.Time) *Service {
	if db == nil {
		panic("delivery: database required")
	}
	if engine == nil {
		panic("delivery: escrow engine required")
	}
	if now == nil {
		now = time.Now
	}
	return &Service{db: db, engine: engine, now: now}
}

// Deliver stores the item payload on the transaction and creates the inbox
// message in one database transaction. The escrow engine enforces the state
// preconditions and payload validation.
func (s *Service) Deliver(ctx context.Context, caller escrow.Caller, txID uuid.UUID, payload string) (*models.ItemDeliveryMessage, error) {
	var msg *models.ItemDeliveryMessage
	_, err := s.engine.DeliverItem(ctx, caller, txID, payload, func(tx *gorm.DB, txn *models.Transaction) error {
		var product models.Product
		productName := ""
		if err := tx.First(&product, "id = ?", txn.ProductID).Error; err == nil {
			productName = product.Name
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %v", escrow.ErrStoreUnavailable, err)
		}
		created := models.ItemDeliveryMessage{
			ID:            uuid.New(),
			TransactionID: txn.ID,
			BuyerID:       txn.BuyerID,
			SellerID:      txn.SellerID,
			ProductName:   productName,
			ItemContent:   payload,
			Amount:        txn.Amount,
			Asset:         txn.Asset,
			IsRead:        false,
			CreatedAt:     s.now(),
		}
		if err := tx.Create(&created).Error; err != nil {
			return fmt.Errorf("%w: %v", escrow.ErrStoreUnavailable, err)
		}
		msg = &created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Inbox lists a buyer's delivery messages, newest first.
func (s *Service) Inbox(ctx context.Context, buyerID uuid.UUID) ([]models.ItemDeliveryMessage, error) {
	var msgs []models.ItemDeliveryMessage
	if err := s.db.WithContext(ctx).
		Where("buyer_id = ?", buyerID).
		Order("created_at DESC").
		Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", escrow.ErrStoreUnavailable, err)
	}
	return msgs, nil
}

// MarkRead flips a message's read flag. Repeating the call is a no-op.
func (s *Service) MarkRead(ctx context.Context, callerID, messageID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg models.ItemDeliveryMessage
		if err := tx.First(&msg, "id = ?", messageID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return escrow.ErrNotFound
			}
			return fmt.Errorf("%w: %v", escrow.ErrStoreUnavailable, err)
		}
		if msg.BuyerID != callerID {
			return fmt.Errorf("%w: message belongs to another buyer", escrow.ErrUnauthorized)
		}
		if msg.IsRead {
			return nil
		}
		if err := tx.Model(&models.ItemDeliveryMessage{}).Where("id = ?", messageID).
			Update("is_read", true).Error; err != nil {
			return fmt.Errorf("%w: %v", escrow.ErrStoreUnavailable, err)
		}
		return nil
	})
}
