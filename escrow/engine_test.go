package escrow

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"vaultbay/models"
	"vaultbay/notify"
	"vaultbay/trust"
	"vaultbay/wallet"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func newTestEngine(t *testing.T, db *gorm.DB) (*Engine, *notify.Queue) {
	t.Helper()
	queue := notify.NewQueue()
	engine := New(Config{DB: db, Trust: trust.NewEngine(db), Queue: queue})
	return engine, queue
}

func seedBuyer(t *testing.T, db *gorm.DB) models.User {
	t.Helper()
	buyer := models.User{
		ID:       uuid.New(),
		Email:    uuid.NewString() + "@example.com",
		Username: "buyer-" + uuid.NewString()[:8],
	}
	require.NoError(t, db.Create(&buyer).Error)
	return buyer
}

func seedProduct(t *testing.T, db *gorm.DB, price float64, pieces *int) models.Product {
	t.Helper()
	product := models.Product{
		ID:     uuid.New(),
		Name:   "Steam Gift Card",
		Price:  price,
		Region: "EU",
		Type:   "gift-card",
		Pieces: pieces,
	}
	require.NoError(t, db.Create(&product).Error)
	return product
}

func seedWallet(t *testing.T, db *gorm.DB, asset, address string) {
	t.Helper()
	require.NoError(t, db.Create(&models.WalletConfig{Asset: asset, Address: address}).Error)
}

const btcTestAddress = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"

func TestCreateSnapshotsQuote(t *testing.T) {
	db := openTestDB(t)
	engine, _ := newTestEngine(t, db)
	buyer := seedBuyer(t, db)
	product := seedProduct(t, db, 50, nil)
	seedWallet(t, db, wallet.AssetBTC, btcTestAddress)

	result, err := engine.Create(context.Background(), buyer.ID, product.ID, "btc", 2)
	require.NoError(t, err)
	require.Equal(t, 100.0, result.Amount)
	require.Equal(t, btcTestAddress, result.WalletAddress)
	require.Equal(t, models.StatusCreated, result.Transaction.Status)
	require.Equal(t, wallet.AssetBTC, result.Transaction.Asset)

	// Catalog edits after creation must not touch the snapshot.
	require.NoError(t, db.Model(&models.Product{}).Where("id = ?", product.ID).Update("price", 999).Error)
	stored, err := engine.Get(context.Background(), Caller{ID: buyer.ID}, result.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, 100.0, stored.Amount)
}

func TestCreateValidation(t *testing.T) {
	db := openTestDB(t)
	engine, _ := newTestEngine(t, db)
	buyer := seedBuyer(t, db)
	pieces := 3
	product := seedProduct(t, db, 25, &pieces)
	seedWallet(t, db, wallet.AssetBTC, btcTestAddress)

	_, err := engine.Create(context.Background(), buyer.ID, product.ID, "BTC", 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = engine.Create(context.Background(), buyer.ID, product.ID, "BTC", 4)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = engine.Create(context.Background(), buyer.ID, product.ID, "DOGE", 1)
	require.ErrorIs(t, err, ErrValidation)

	_, err = engine.Create(context.Background(), buyer.ID, product.ID, "ETH", 1)
	require.ErrorIs(t, err, ErrWalletNotConfigured)

	_, err = engine.Create(context.Background(), buyer.ID, uuid.New(), "BTC", 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLifecycleHappyPath(t *testing.T) {
	db := openTestDB(t)
	engine, queue := newTestEngine(t, db)
	buyer := seedBuyer(t, db)
	product := seedProduct(t, db, 100, nil)
	seedWallet(t, db, wallet.AssetBTC, btcTestAddress)

	ctx := context.Background()
	buyerCaller := Caller{ID: buyer.ID}
	operator := Caller{ID: uuid.New(), Operator: true}

	result, err := engine.Create(ctx, buyer.ID, product.ID, "BTC", 1)
	require.NoError(t, err)
	txID := result.Transaction.ID

	txn, err := engine.ConfirmDeposit(ctx, operator, txID)
	require.NoError(t, err)
	require.Equal(t, models.StatusFundsConfirmed, txn.Status)
	require.True(t, txn.DepositVerified)

	txn, err = engine.AuthorizeRelease(ctx, buyerCaller, txID)
	require.NoError(t, err)
	require.Equal(t, models.StatusReleaseAuthorized, txn.Status)
	require.True(t, txn.ReleaseAuthorized)
	require.NotNil(t, txn.ConfirmedAt)

	txn, err = engine.DeliverItem(ctx, operator, txID, "key123", nil)
	require.NoError(t, err)
	require.Equal(t, models.StatusDelivered, txn.Status)
	require.Equal(t, "key123", txn.ItemContent)

	completion, err := engine.Complete(ctx, buyerCaller, txID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, completion.Transaction.Status)
	require.Equal(t, 100.0, completion.Financials.Balance)
	require.Equal(t, 11, completion.Financials.TrustScore)

	var user models.User
	require.NoError(t, db.First(&user, "id = ?", buyer.ID).Error)
	require.Equal(t, 100.0, user.Balance)
	require.Equal(t, 11, user.TrustScore)

	events := queue.Events()
	require.Len(t, events, 5)
	require.Equal(t, notify.EventTransactionCreated, events[0].Type)
	require.Equal(t, notify.EventTransactionCompleted, events[4].Type)
}

func TestConfirmDepositIsNotRepeatable(t *testing.T) {
	db := openTestDB(t)
	engine, _ := newTestEngine(t, db)
	buyer := seedBuyer(t, db)
	product := seedProduct(t, db, 60, nil)
	seedWallet(t, db, wallet.AssetBTC, btcTestAddress)

	ctx := context.Background()
	operator := Caller{ID: uuid.New(), Operator: true}
	result, err := engine.Create(ctx, buyer.ID, product.ID, "BTC", 1)
	require.NoError(t, err)

	_, err = engine.ConfirmDeposit(ctx, operator, result.Transaction.ID)
	require.NoError(t, err)
	_, err = engine.ConfirmDeposit(ctx, operator, result.Transaction.ID)
	require.ErrorIs(t, err, ErrInvalidState)

	// The retry must not leak any financial effect: nothing is completed yet.
	var user models.User
	require.NoError(t, db.First(&user, "id = ?", buyer.ID).Error)
	require.Equal(t, 0.0, user.Balance)
	require.Equal(t, 0, user.TrustScore)
}

func TestConfirmDepositRequiresOperator(t *testing.T) {
	db := openTestDB(t)
	engine, _ := newTestEngine(t, db)
	buyer := seedBuyer(t, db)
	product := seedProduct(t, db, 60, nil)
	seedWallet(t, db, wallet.AssetBTC, btcTestAddress)

	result, err := engine.Create(context.Background(), buyer.ID, product.ID, "BTC", 1)
	require.NoError(t, err)

	_, err = engine.ConfirmDeposit(context.Background(), Caller{ID: buyer.ID}, result.Transaction.ID)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestConfirmDepositMissingBuyerRow(t *testing.T) {
	db := openTestDB(t)
	engine, _ := newTestEngine(t, db)
	product := seedProduct(t, db, 60, nil)
	seedWallet(t, db, wallet.AssetBTC, btcTestAddress)

	ctx := context.Background()
	operator := Caller{ID: uuid.New(), Operator: true}

	// No user row exists for this buyer id; the recompute inside the
	// transition must surface through the error taxonomy, not as a raw
	// driver error.
	result, err := engine.Create(ctx, uuid.New(), product.ID, "BTC", 1)
	require.NoError(t, err)
	_, err = engine.ConfirmDeposit(ctx, operator, result.Transaction.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCancelRules(t *testing.T) {
	db := openTestDB(t)
	engine, _ := newTestEngine(t, db)
	buyer := seedBuyer(t, db)
	product := seedProduct(t, db, 60, nil)
	seedWallet(t, db, wallet.AssetBTC, btcTestAddress)

	ctx := context.Background()
	operator := Caller{ID: uuid.New(), Operator: true}

	result, err := engine.Create(ctx, buyer.ID, product.ID, "BTC", 1)
	require.NoError(t, err)

	_, err = engine.Cancel(ctx, Caller{ID: uuid.New()}, result.Transaction.ID)
	require.ErrorIs(t, err, ErrUnauthorized)

	txn, err := engine.Cancel(ctx, Caller{ID: buyer.ID}, result.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCancelled, txn.Status)

	// Cancellation is terminal.
	_, err = engine.ConfirmDeposit(ctx, operator, result.Transaction.ID)
	require.ErrorIs(t, err, ErrInvalidState)

	// Once the deposit is confirmed, cancel is no longer available.
	second, err := engine.Create(ctx, buyer.ID, product.ID, "BTC", 1)
	require.NoError(t, err)
	_, err = engine.ConfirmDeposit(ctx, operator, second.Transaction.ID)
	require.NoError(t, err)
	_, err = engine.Cancel(ctx, Caller{ID: buyer.ID}, second.Transaction.ID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestDeliverPreconditions(t *testing.T) {
	db := openTestDB(t)
	engine, _ := newTestEngine(t, db)
	buyer := seedBuyer(t, db)
	product := seedProduct(t, db, 60, nil)
	seedWallet(t, db, wallet.AssetBTC, btcTestAddress)

	ctx := context.Background()
	operator := Caller{ID: uuid.New(), Operator: true}
	result, err := engine.Create(ctx, buyer.ID, product.ID, "BTC", 1)
	require.NoError(t, err)
	txID := result.Transaction.ID

	// Deposit has not been confirmed yet.
	_, err = engine.DeliverItem(ctx, operator, txID, "key123", nil)
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = engine.ConfirmDeposit(ctx, operator, txID)
	require.NoError(t, err)

	_, err = engine.DeliverItem(ctx, Caller{ID: buyer.ID}, txID, "key123", nil)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = engine.DeliverItem(ctx, operator, txID, "   ", nil)
	require.ErrorIs(t, err, ErrValidation)

	// Delivery straight from FUNDS_CONFIRMED is allowed; release authorization
	// is the buyer's optional step, not a gate on the operator.
	txn, err := engine.DeliverItem(ctx, operator, txID, "key123", nil)
	require.NoError(t, err)
	require.Equal(t, models.StatusDelivered, txn.Status)

	_, err = engine.DeliverItem(ctx, operator, txID, "other", nil)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCompleteAccess(t *testing.T) {
	db := openTestDB(t)
	engine, _ := newTestEngine(t, db)
	buyer := seedBuyer(t, db)
	product := seedProduct(t, db, 60, nil)
	seedWallet(t, db, wallet.AssetBTC, btcTestAddress)

	ctx := context.Background()
	operator := Caller{ID: uuid.New(), Operator: true}
	result, err := engine.Create(ctx, buyer.ID, product.ID, "BTC", 1)
	require.NoError(t, err)
	txID := result.Transaction.ID

	_, err = engine.ConfirmDeposit(ctx, operator, txID)
	require.NoError(t, err)
	_, err = engine.DeliverItem(ctx, operator, txID, "key123", nil)
	require.NoError(t, err)

	_, err = engine.Complete(ctx, Caller{ID: uuid.New()}, txID)
	require.ErrorIs(t, err, ErrUnauthorized)

	completion, err := engine.Complete(ctx, operator, txID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, completion.Transaction.Status)

	_, err = engine.Complete(ctx, operator, txID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCancelledTransactionsNeverCount(t *testing.T) {
	db := openTestDB(t)
	engine, _ := newTestEngine(t, db)
	buyer := seedBuyer(t, db)
	product := seedProduct(t, db, 100, nil)
	seedWallet(t, db, wallet.AssetBTC, btcTestAddress)

	ctx := context.Background()
	buyerCaller := Caller{ID: buyer.ID}
	operator := Caller{ID: uuid.New(), Operator: true}

	first, err := engine.Create(ctx, buyer.ID, product.ID, "BTC", 1)
	require.NoError(t, err)
	_, err = engine.ConfirmDeposit(ctx, operator, first.Transaction.ID)
	require.NoError(t, err)
	_, err = engine.DeliverItem(ctx, operator, first.Transaction.ID, "key123", nil)
	require.NoError(t, err)
	_, err = engine.Complete(ctx, buyerCaller, first.Transaction.ID)
	require.NoError(t, err)

	second, err := engine.Create(ctx, buyer.ID, product.ID, "BTC", 2)
	require.NoError(t, err)
	_, err = engine.Cancel(ctx, buyerCaller, second.Transaction.ID)
	require.NoError(t, err)

	var user models.User
	require.NoError(t, db.First(&user, "id = ?", buyer.ID).Error)
	require.Equal(t, 100.0, user.Balance)
	require.Equal(t, 11, user.TrustScore)
}

func TestGetVisibility(t *testing.T) {
	db := openTestDB(t)
	engine, _ := newTestEngine(t, db)
	buyer := seedBuyer(t, db)
	other := seedBuyer(t, db)
	product := seedProduct(t, db, 10, nil)
	seedWallet(t, db, wallet.AssetBTC, btcTestAddress)

	result, err := engine.Create(context.Background(), buyer.ID, product.ID, "BTC", 1)
	require.NoError(t, err)

	_, err = engine.Get(context.Background(), Caller{ID: other.ID}, result.Transaction.ID)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = engine.Get(context.Background(), Caller{ID: uuid.New(), Operator: true}, result.Transaction.ID)
	require.NoError(t, err)

	_, err = engine.Get(context.Background(), Caller{ID: buyer.ID}, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAuditTrail(t *testing.T) {
	db := openTestDB(t)
	engine, _ := newTestEngine(t, db)
	buyer := seedBuyer(t, db)
	product := seedProduct(t, db, 10, nil)
	seedWallet(t, db, wallet.AssetBTC, btcTestAddress)

	ctx := context.Background()
	operator := Caller{ID: uuid.New(), Operator: true}
	result, err := engine.Create(ctx, buyer.ID, product.ID, "BTC", 1)
	require.NoError(t, err)
	_, err = engine.ConfirmDeposit(ctx, operator, result.Transaction.ID)
	require.NoError(t, err)

	var events []models.AuditEvent
	require.NoError(t, db.Where("transaction_id = ?", result.Transaction.ID).Order("created_at").Find(&events).Error)
	require.Len(t, events, 2)
	require.Equal(t, "transaction.created", events[0].Action)
	require.Equal(t, "transaction.funds_confirmed", events[1].Action)
}
