package ledger_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"barterswap/adapters/database"
	"barterswap/adapters/database/databasetest"
	"barterswap/auction"
	"barterswap/ledger"
	"barterswap/models"
)

var money = databasetest.Money

func setupService(t *testing.T) (*gorm.DB, *ledger.Service) {
	t.Helper()
	db := databasetest.Open(t)
	return db, ledger.NewService(database.NewStore(db), ledger.DefaultConfig, ledger.WithLogger(discardLogger))
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// racingUnitOfWork 模擬另一個請求在讀取帳戶與建立帳戶之間搶先開戶:
// 第一次交易讀不到帳戶，建立時撞上唯一索引
type racingUnitOfWork struct {
	auction.IUnitOfWork
	mu    sync.Mutex
	calls int
}

func (r *racingUnitOfWork) Atomic(ctx context.Context, fn func(items auction.IItemStore, ledger auction.ILedger) error) error {
	r.mu.Lock()
	r.calls++
	first := r.calls == 1
	r.mu.Unlock()
	return r.IUnitOfWork.Atomic(ctx, func(items auction.IItemStore, l auction.ILedger) error {
		if first {
			l = racingLedger{ILedger: l}
		}
		return fn(items, l)
	})
}

func (r *racingUnitOfWork) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type racingLedger struct {
	auction.ILedger
}

func (racingLedger) GetAccount(context.Context, uuid.UUID) (*models.CurrencyAccount, error) {
	return nil, auction.ErrNotFound
}

func (racingLedger) CreateAccount(context.Context, *models.CurrencyAccount) error {
	return fmt.Errorf("duplicated key not allowed: %w", auction.ErrConcurrentModification)
}

func TestOpenAccount(t *testing.T) {
	db, service := setupService(t)
	ctx := context.Background()
	user := databasetest.SeedUser(t, db, "alice")

	account, err := service.OpenAccount(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(money("1000.00")))

	// 重複開戶回傳同一個帳戶，不重新發放
	require.NoError(t, db.Model(&models.CurrencyAccount{}).Where("id = ?", account.ID).Update("balance", money("10.00")).Error)
	again, err := service.OpenAccount(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, account.ID, again.ID)
	assert.True(t, again.Balance.Equal(money("10.00")))

	var count int64
	require.NoError(t, db.Model(&models.CurrencyAccount{}).Where("user_id = ?", user.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestOpenAccountConcurrentCreate(t *testing.T) {
	db := databasetest.Open(t)
	_, existing := databasetest.SeedAccount(t, db, "alice", "1000.00")
	uow := &racingUnitOfWork{IUnitOfWork: database.NewStore(db)}
	service := ledger.NewService(uow, ledger.DefaultConfig,
		ledger.WithLogger(discardLogger),
		ledger.WithRetryPolicy(auction.RetryPolicy{Attempts: 3, Backoff: time.Millisecond}),
	)

	account, err := service.OpenAccount(context.Background(), existing.UserID)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, account.ID)
	assert.Equal(t, 2, uow.Calls())
}

func TestOpenAccountRetryExhausted(t *testing.T) {
	db := databasetest.Open(t)
	user := databasetest.SeedUser(t, db, "alice")
	uow := &racingUnitOfWork{IUnitOfWork: database.NewStore(db)}
	service := ledger.NewService(uow, ledger.DefaultConfig,
		ledger.WithLogger(discardLogger),
		ledger.WithRetryPolicy(auction.RetryPolicy{Attempts: 1}),
	)

	// 只允許一次嘗試時，衝突直接回傳給呼叫端
	_, err := service.OpenAccount(context.Background(), user.ID)
	assert.ErrorIs(t, err, auction.ErrConcurrentModification)
	assert.Equal(t, 1, uow.Calls())
}

func TestBalance(t *testing.T) {
	db, service := setupService(t)
	ctx := context.Background()
	user, _ := databasetest.SeedAccount(t, db, "alice", "321.09")

	balance, err := service.Balance(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, balance.UserID)
	assert.True(t, balance.Amount.Equal(money("321.09")))
	assert.False(t, balance.LastUpdated.IsZero())

	_, err = service.Balance(ctx, uuid.New())
	assert.ErrorIs(t, err, auction.ErrNotFound)
}

func TestOnFeedbackGiven(t *testing.T) {
	tests := []struct {
		name    string
		balance string
		stars   int
		want    string
		wantErr error
	}{
		{name: "five stars", balance: "100.00", stars: 5, want: "150.00"},
		{name: "four stars", balance: "100.00", stars: 4, want: "150.00"},
		{name: "three stars", balance: "100.00", stars: 3, want: "100.00"},
		{name: "two stars", balance: "100.00", stars: 2, want: "75.00"},
		{name: "one star", balance: "100.00", stars: 1, want: "75.00"},
		{name: "penalty capped at balance", balance: "10.50", stars: 1, want: "0.00"},
		{name: "empty balance", balance: "0.00", stars: 1, want: "0.00"},
		{name: "score too high", balance: "100.00", stars: 6, want: "100.00", wantErr: ledger.ErrInvalidScore},
		{name: "score too low", balance: "100.00", stars: 0, want: "100.00", wantErr: ledger.ErrInvalidScore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, service := setupService(t)
			seller, _ := databasetest.SeedAccount(t, db, "seller", tt.balance)

			err := service.OnFeedbackGiven(context.Background(), seller.ID, tt.stars)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.True(t, databasetest.Balance(t, db, seller.ID).Equal(money(tt.want)))
		})
	}
}

func TestOnFeedbackGivenUnknownSeller(t *testing.T) {
	_, service := setupService(t)
	err := service.OnFeedbackGiven(context.Background(), uuid.New(), 5)
	assert.ErrorIs(t, err, auction.ErrNotFound)
}

func TestHistory(t *testing.T) {
	db, service := setupService(t)
	ctx := context.Background()
	seller := databasetest.SeedUser(t, db, "seller")
	buyer, account := databasetest.SeedAccount(t, db, "buyer", "1000.00")
	older := databasetest.SeedItem(t, db, seller.ID)
	newer := databasetest.SeedItem(t, db, seller.ID)

	now := time.Now().UTC()
	for _, tx := range []*models.Transaction{
		{BuyerID: buyer.ID, SellerID: seller.ID, ItemID: older.ID, AccountID: account.ID, Price: money("200.00"), Status: models.TransactionStatusCompleted, SettledAt: now.Add(-time.Hour)},
		{BuyerID: buyer.ID, SellerID: seller.ID, ItemID: newer.ID, AccountID: account.ID, Price: money("300.00"), Status: models.TransactionStatusCompleted, SettledAt: now},
	} {
		require.NoError(t, db.Create(tx).Error)
	}

	history, err := service.History(ctx, buyer.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, newer.ID, history[0].ItemID)
	assert.Equal(t, older.ID, history[1].ItemID)

	history, err = service.History(ctx, seller.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
