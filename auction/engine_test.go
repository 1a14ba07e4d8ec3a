package auction_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barterswap/adapters/database"
	"barterswap/adapters/database/databasetest"
	"barterswap/auction"
	"barterswap/models"
)

var money = databasetest.Money

func TestNewEngine(t *testing.T) {
	engine, err := auction.NewEngine(nil)
	assert.Error(t, err)
	assert.Nil(t, engine)
}

func TestPlaceBidBuyoutScenario(t *testing.T) {
	events := &recorder{}
	db, engine := setupEngine(t, auction.WithEnginePublisher(events))
	ctx := context.Background()

	seller, _ := databasetest.SeedAccount(t, db, "seller", "1000.00")
	u2, _ := databasetest.SeedAccount(t, db, "u2", "1000.00")
	u3, _ := databasetest.SeedAccount(t, db, "u3", "1000.00")
	item := databasetest.SeedItem(t, db, seller.ID, func(i *models.Item) {
		i.BuyoutPrice = databasetest.MoneyPtr("500.00")
	})

	bid, err := engine.PlaceBid(ctx, u2.ID, item.ID, money("150.00"))
	require.NoError(t, err)
	assert.Equal(t, u2.ID, bid.UserID)
	assert.Equal(t, item.ID, bid.ItemID)
	assert.True(t, databasetest.Reload(t, db, item.ID).CurrentPrice.Equal(money("150.00")))

	_, err = engine.PlaceBid(ctx, u3.ID, item.ID, money("150.00"))
	assert.ErrorIs(t, err, auction.ErrBidTooLow)

	_, err = engine.PlaceBid(ctx, u3.ID, item.ID, money("500.00"))
	require.NoError(t, err)

	sold := databasetest.Reload(t, db, item.ID)
	assert.Equal(t, models.ItemStatusSold, sold.Status)
	assert.False(t, sold.IsActive)
	assert.True(t, sold.CurrentPrice.Equal(money("500.00")))

	assert.True(t, databasetest.Balance(t, db, u2.ID).Equal(money("1000.00")))
	assert.True(t, databasetest.Balance(t, db, u3.ID).Equal(money("500.00")))
	assert.True(t, databasetest.Balance(t, db, seller.ID).Equal(money("1000.00")))

	var transactions []models.Transaction
	require.NoError(t, db.Find(&transactions, "item_id = ?", item.ID).Error)
	require.Len(t, transactions, 1)
	assert.Equal(t, u3.ID, transactions[0].BuyerID)
	assert.Equal(t, seller.ID, transactions[0].SellerID)
	assert.True(t, transactions[0].Price.Equal(money("500.00")))
	assert.Equal(t, models.TransactionStatusCompleted, transactions[0].Status)

	published := events.Events()
	require.Len(t, published, 3)
	assert.Equal(t, auction.EventBidPlaced, published[0].Type)
	assert.Equal(t, "150.00", published[0].Amount)
	assert.Equal(t, auction.EventBidPlaced, published[1].Type)
	assert.Equal(t, auction.EventAuctionSettled, published[2].Type)
	assert.Equal(t, string(models.ItemStatusSold), published[2].Status)
	assert.Equal(t, transactions[0].ID.String(), published[2].TransactionID)

	// 成交後不再接受出價
	_, err = engine.PlaceBid(ctx, u2.ID, item.ID, money("600.00"))
	assert.ErrorIs(t, err, auction.ErrItemInactive)
}

func TestPlaceBidRefundsOnlyPreviousBidder(t *testing.T) {
	db, engine := setupEngine(t)
	ctx := context.Background()

	seller, _ := databasetest.SeedAccount(t, db, "seller", "1000.00")
	u1, _ := databasetest.SeedAccount(t, db, "u1", "300.00")
	u2, _ := databasetest.SeedAccount(t, db, "u2", "300.00")
	bystander, _ := databasetest.SeedAccount(t, db, "bystander", "300.00")
	item := databasetest.SeedItem(t, db, seller.ID)

	_, err := engine.PlaceBid(ctx, u1.ID, item.ID, money("120.00"))
	require.NoError(t, err)
	assert.True(t, databasetest.Balance(t, db, u1.ID).Equal(money("180.00")))

	_, err = engine.PlaceBid(ctx, u2.ID, item.ID, money("130.55"))
	require.NoError(t, err)

	assert.True(t, databasetest.Balance(t, db, u1.ID).Equal(money("300.00")))
	assert.True(t, databasetest.Balance(t, db, u2.ID).Equal(money("169.45")))
	assert.True(t, databasetest.Balance(t, db, bystander.ID).Equal(money("300.00")))
	assert.True(t, databasetest.Balance(t, db, seller.ID).Equal(money("1000.00")))

	highest, err := engine.GetHighestBid(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, u2.ID, highest.UserID)
}

func TestPlaceBidSelfRaiseDebitsFullAmount(t *testing.T) {
	db, engine := setupEngine(t)
	ctx := context.Background()

	seller := databasetest.SeedUser(t, db, "seller")
	u1, _ := databasetest.SeedAccount(t, db, "u1", "500.00")
	item := databasetest.SeedItem(t, db, seller.ID)

	_, err := engine.PlaceBid(ctx, u1.ID, item.ID, money("150.00"))
	require.NoError(t, err)
	_, err = engine.PlaceBid(ctx, u1.ID, item.ID, money("200.00"))
	require.NoError(t, err)

	// 自己加價不退回前一次的 150.00
	assert.True(t, databasetest.Balance(t, db, u1.ID).Equal(money("150.00")))
}

func TestPlaceBidValidation(t *testing.T) {
	past := time.Now().UTC().Add(-time.Minute)

	tests := []struct {
		name    string
		balance string
		modify  func(*models.Item)
		amount  decimal.Decimal
		deleted bool
		missing bool
		wantErr error
	}{
		{name: "item not found", balance: "1000.00", amount: money("150.00"), missing: true, wantErr: auction.ErrNotFound},
		{name: "item deleted", balance: "1000.00", amount: money("150.00"), deleted: true, wantErr: auction.ErrNotFound},
		{
			name: "item cancelled", balance: "1000.00", amount: money("150.00"), wantErr: auction.ErrItemInactive,
			modify: func(i *models.Item) { i.Settle(models.ItemStatusCancelled) },
		},
		{
			name: "item deactivated", balance: "1000.00", amount: money("150.00"), wantErr: auction.ErrItemInactive,
			modify: func(i *models.Item) { i.IsActive = false },
		},
		{
			name: "auction ended", balance: "1000.00", amount: money("150.00"), wantErr: auction.ErrAuctionEnded,
			modify: func(i *models.Item) { i.AuctionEndTime = &past },
		},
		{
			name: "price already at buyout", balance: "1000.00", amount: money("600.00"), wantErr: auction.ErrAlreadyBoughtOut,
			modify: func(i *models.Item) {
				i.BuyoutPrice = databasetest.MoneyPtr("500.00")
				i.CurrentPrice = money("500.00")
			},
		},
		{name: "equal to current price", balance: "1000.00", amount: money("100.00"), wantErr: auction.ErrBidTooLow},
		{name: "below current price", balance: "1000.00", amount: money("99.99"), wantErr: auction.ErrBidTooLow},
		{name: "too low regardless of balance", balance: "0.00", amount: money("50.00"), wantErr: auction.ErrBidTooLow},
		{name: "negative amount", balance: "1000.00", amount: money("-1.00"), wantErr: auction.ErrBidTooLow},
		{name: "too many decimal places", balance: "1000.00", amount: money("150.001"), wantErr: auction.ErrInvalidAmount},
		{name: "above column precision", balance: "1000.00", amount: money("100000000.00"), wantErr: auction.ErrInvalidAmount},
		{name: "insufficient funds", balance: "149.99", amount: money("150.00"), wantErr: auction.ErrInsufficientFunds},
		{
			name: "no end time", balance: "1000.00", amount: money("150.00"),
			modify: func(i *models.Item) { i.AuctionEndTime = nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, engine := setupEngine(t)
			ctx := context.Background()
			seller := databasetest.SeedUser(t, db, "seller")
			bidder, _ := databasetest.SeedAccount(t, db, "bidder", tt.balance)
			var modify []func(*models.Item)
			if tt.modify != nil {
				modify = append(modify, tt.modify)
			}
			item := databasetest.SeedItem(t, db, seller.ID, modify...)
			itemID := item.ID
			if tt.missing {
				itemID = uuid.New()
			}
			if tt.deleted {
				require.NoError(t, engine.DeleteItem(ctx, seller.ID, item.ID))
			}

			bid, err := engine.PlaceBid(ctx, bidder.ID, itemID, tt.amount)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, bid)
				// 失敗時不會有任何帳戶變動
				assert.True(t, databasetest.Balance(t, db, bidder.ID).Equal(money(tt.balance)))
				return
			}
			require.NoError(t, err)
			assert.True(t, bid.Amount.Equal(tt.amount))
		})
	}
}

func TestPlaceBidPriceNonDecreasing(t *testing.T) {
	db, engine := setupEngine(t)
	ctx := context.Background()

	seller := databasetest.SeedUser(t, db, "seller")
	u1, _ := databasetest.SeedAccount(t, db, "u1", "10000.00")
	u2, _ := databasetest.SeedAccount(t, db, "u2", "10000.00")
	item := databasetest.SeedItem(t, db, seller.ID)

	amounts := []string{"101.00", "100.50", "150.00", "149.99", "150.00", "200.00", "180.00", "250.25"}
	last := money("100.00")
	for i, amount := range amounts {
		bidder := u1.ID
		if i%2 == 1 {
			bidder = u2.ID
		}
		_, err := engine.PlaceBid(ctx, bidder, item.ID, money(amount))
		current := databasetest.Reload(t, db, item.ID).CurrentPrice
		assert.True(t, current.GreaterThanOrEqual(last), "price decreased after bid %s", amount)
		if err == nil {
			assert.True(t, current.Equal(money(amount)))
		} else {
			assert.ErrorIs(t, err, auction.ErrBidTooLow)
		}
		last = current
	}
	assert.True(t, last.Equal(money("250.25")))

	bids, err := engine.ListBids(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, bids, 4)
	for i := 1; i < len(bids); i++ {
		assert.True(t, bids[i-1].Amount.GreaterThan(bids[i].Amount))
	}
}

func TestPlaceBidConcurrent(t *testing.T) {
	locker := &fakeLocker{}
	db, engine := setupEngine(t, auction.WithEngineLocker(locker))
	ctx := context.Background()

	seller := databasetest.SeedUser(t, db, "seller")
	item := databasetest.SeedItem(t, db, seller.ID)

	const bidders = 8
	ids := make([]uuid.UUID, bidders)
	for i := range ids {
		user, _ := databasetest.SeedAccount(t, db, uuid.NewString(), "1000.00")
		ids[i] = user.ID
	}

	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		mu        sync.Mutex
		successes int
		rejected  int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			<-start
			_, err := engine.PlaceBid(ctx, id, item.ID, money("150.00"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, auction.ErrBidTooLow), errors.Is(err, auction.ErrConcurrentModification):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, bidders-1, rejected)

	// 只有得標者被扣款
	debited := 0
	for _, id := range ids {
		if databasetest.Balance(t, db, id).Equal(money("850.00")) {
			debited++
		}
	}
	assert.Equal(t, 1, debited)

	for _, key := range locker.Keys() {
		assert.Equal(t, "item:"+item.ID.String()+":lock", key)
	}
}

func TestPlaceBidRetriesConcurrentModification(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		wantErr  error
	}{
		{name: "recovers after retry", failures: 2},
		{name: "retries exhausted", failures: 3, wantErr: auction.ErrConcurrentModification},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := databasetest.Open(t)
			uow := &flakyUnitOfWork{IUnitOfWork: database.NewStore(db), failures: tt.failures}
			engine, err := auction.NewEngine(uow,
				auction.WithEngineLogger(discardLogger),
				auction.WithEngineRetryPolicy(auction.RetryPolicy{Attempts: 3, Backoff: time.Millisecond}),
			)
			require.NoError(t, err)

			seller := databasetest.SeedUser(t, db, "seller")
			bidder, _ := databasetest.SeedAccount(t, db, "bidder", "1000.00")
			item := databasetest.SeedItem(t, db, seller.ID)

			_, err = engine.PlaceBid(context.Background(), bidder.ID, item.ID, money("150.00"))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 3, uow.calls)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 3, uow.calls)
		})
	}
}

func TestPlaceBidPublishFailureDoesNotFail(t *testing.T) {
	events := &recorder{err: errors.New("stream unavailable")}
	db, engine := setupEngine(t, auction.WithEnginePublisher(events))

	seller := databasetest.SeedUser(t, db, "seller")
	bidder, _ := databasetest.SeedAccount(t, db, "bidder", "1000.00")
	item := databasetest.SeedItem(t, db, seller.ID)

	_, err := engine.PlaceBid(context.Background(), bidder.ID, item.ID, money("150.00"))
	require.NoError(t, err)
	assert.Len(t, events.Events(), 1)
	assert.True(t, databasetest.Balance(t, db, bidder.ID).Equal(money("850.00")))
}

func TestPlaceBidLockFailure(t *testing.T) {
	locker := &fakeLocker{err: errors.New("redsync: failed to acquire lock")}
	db, engine := setupEngine(t, auction.WithEngineLocker(locker))

	seller := databasetest.SeedUser(t, db, "seller")
	bidder, _ := databasetest.SeedAccount(t, db, "bidder", "1000.00")
	item := databasetest.SeedItem(t, db, seller.ID)

	_, err := engine.PlaceBid(context.Background(), bidder.ID, item.ID, money("150.00"))
	assert.Error(t, err)
	assert.True(t, databasetest.Balance(t, db, bidder.ID).Equal(money("1000.00")))
}

func TestPlaceBidLockBusy(t *testing.T) {
	locker := &fakeLocker{err: fmt.Errorf("%w: lock is busy", auction.ErrConcurrentModification)}
	db, engine := setupEngine(t, auction.WithEngineLocker(locker))

	seller := databasetest.SeedUser(t, db, "seller")
	bidder, _ := databasetest.SeedAccount(t, db, "bidder", "1000.00")
	item := databasetest.SeedItem(t, db, seller.ID)

	_, err := engine.PlaceBid(context.Background(), bidder.ID, item.ID, money("150.00"))
	assert.ErrorIs(t, err, auction.ErrConcurrentModification)
	assert.True(t, databasetest.Balance(t, db, bidder.ID).Equal(money("1000.00")))
}

func TestPlaceBidLockLost(t *testing.T) {
	locker := &fakeLocker{lost: true}
	db, engine := setupEngine(t, auction.WithEngineLocker(locker))

	seller := databasetest.SeedUser(t, db, "seller")
	bidder, _ := databasetest.SeedAccount(t, db, "bidder", "1000.00")
	item := databasetest.SeedItem(t, db, seller.ID)

	_, err := engine.PlaceBid(context.Background(), bidder.ID, item.ID, money("150.00"))
	assert.ErrorIs(t, err, auction.ErrConcurrentModification)
	assert.True(t, databasetest.Balance(t, db, bidder.ID).Equal(money("1000.00")))
	assert.True(t, databasetest.Reload(t, db, item.ID).CurrentPrice.Equal(money("100.00")))
}

func TestGetHighestBid(t *testing.T) {
	db, engine := setupEngine(t)
	ctx := context.Background()
	seller := databasetest.SeedUser(t, db, "seller")
	item := databasetest.SeedItem(t, db, seller.ID)

	_, err := engine.GetHighestBid(ctx, item.ID)
	assert.ErrorIs(t, err, auction.ErrNoBids)

	_, err = engine.GetHighestBid(ctx, uuid.New())
	assert.ErrorIs(t, err, auction.ErrNotFound)
}
