package trust

import (
	"context"
	"errors"
	"math"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"vaultbay/models"
)

var errNilDB = errors.New("trust engine: database not configured")

// Trust score formula constants. A buyer starts at scoreBase with the first
// completed transaction, earns scorePerExtra per additional completion up to
// countBonusCap, and floor(balance/spendUnit) up to spendBonusCap.
const (
	scoreBase     = 10
	scorePerExtra = 5
	countBonusCap = 40
	spendUnit     = 100
	spendBonusCap = 50
	scoreMax      = 100
)

// Financials is the derived balance/trust pair for a buyer.
type Financials struct {
	Balance    float64 `json:"balance"`
	TrustScore int     `json:"trustScore"`
}

// Engine derives a buyer's recognized balance and trust score from the
// immutable log of completed transactions. It is the sole writer of
// User.Balance and User.TrustScore.
type Engine struct {
	db *gorm.DB
}

// NewEngine constructs a trust engine backed by the provided database.
func NewEngine(db *gorm.DB) *Engine {
	return &Engine{db: db}
}

// Recompute derives the financials for userID and persists them onto the User
// row when they differ from the stored values. Running it twice with no
// intervening transactions yields identical results and writes nothing.
func (e *Engine) Recompute(ctx context.Context, userID uuid.UUID) (Financials, error) {
	if e == nil || e.db == nil {
		return Financials{}, errNilDB
	}
	return e.RecomputeIn(e.db.WithContext(ctx), userID)
}

// RecomputeIn runs the recompute inside the supplied transaction handle so the
// escrow engine can fold it into a transition atomically.
func (e *Engine) RecomputeIn(tx *gorm.DB, userID uuid.UUID) (Financials, error) {
	if tx == nil {
		return Financials{}, errNilDB
	}
	derived, err := Derive(tx, userID)
	if err != nil {
		return Financials{}, err
	}

	var user models.User
	if err := tx.First(&user, "id = ?", userID).Error; err != nil {
		return Financials{}, err
	}
	if user.Balance == derived.Balance && user.TrustScore == derived.TrustScore {
		return derived, nil
	}
	if err := tx.Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]any{"balance": derived.Balance, "trust_score": derived.TrustScore}).Error; err != nil {
		return Financials{}, err
	}
	return derived, nil
}

// Lookup returns the stored financials without recomputation.
func (e *Engine) Lookup(ctx context.Context, userID uuid.UUID) (Financials, error) {
	if e == nil || e.db == nil {
		return Financials{}, errNilDB
	}
	var user models.User
	if err := e.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return Financials{}, err
	}
	return Financials{Balance: user.Balance, TrustScore: user.TrustScore}, nil
}

// Derive computes the financials purely from the transaction log, without
// touching the User row. Only COMPLETED transactions count: partially-applied
// states never contribute, so the result is reproducible from the log alone.
func Derive(tx *gorm.DB, userID uuid.UUID) (Financials, error) {
	type aggregate struct {
		Count   int64
		Balance float64
	}
	var agg aggregate
	if err := tx.Model(&models.Transaction{}).
		Where("buyer_id = ? AND status = ?", userID, models.StatusCompleted).
		Select("COUNT(*) AS count, COALESCE(SUM(amount),0) AS balance").
		Scan(&agg).Error; err != nil {
		return Financials{}, err
	}
	return Financials{Balance: agg.Balance, TrustScore: Score(agg.Count, agg.Balance)}, nil
}

// Score applies the trust formula to a completed-transaction count and
// recognized balance, clamped to [0, 100].
func Score(completed int64, balance float64) int {
	if completed <= 0 {
		return 0
	}
	countBonus := (completed - 1) * scorePerExtra
	if countBonus > countBonusCap {
		countBonus = countBonusCap
	}
	spendBonus := int64(math.Floor(balance / spendUnit))
	if spendBonus > spendBonusCap {
		spendBonus = spendBonusCap
	}
	if spendBonus < 0 {
		spendBonus = 0
	}
	score := scoreBase + countBonus + spendBonus
	if score > scoreMax {
		return scoreMax
	}
	if score < 0 {
		return 0
	}
	return int(score)
}
