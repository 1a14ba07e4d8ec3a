package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"barterswap/models"
)

type engineOptions struct {
	logger     *slog.Logger
	locker     ILocker
	publishers []IEventPublisher
	retry      RetryPolicy
	now        func() time.Time
}

type EngineOption func(*engineOptions)

// WithEngineLogger 設置日誌記錄器
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithEngineLocker 設置跨實例的商品鎖
func WithEngineLocker(locker ILocker) EngineOption {
	return func(o *engineOptions) {
		o.locker = locker
	}
}

// WithEnginePublisher 增加事件發布者
func WithEnginePublisher(publisher IEventPublisher) EngineOption {
	return func(o *engineOptions) {
		o.publishers = append(o.publishers, publisher)
	}
}

// WithEngineRetryPolicy 設置重試策略
func WithEngineRetryPolicy(policy RetryPolicy) EngineOption {
	return func(o *engineOptions) {
		o.retry = policy
	}
}

// WithEngineClock 設置時間來源 (主要用於測試)
func WithEngineClock(now func() time.Time) EngineOption {
	return func(o *engineOptions) {
		o.now = now
	}
}

// Engine 是出價引擎
// 負責驗證出價、退款給前一位最高出價者、扣款、更新價格，並在達到直購價時結算
type Engine struct {
	uow     IUnitOfWork
	logger  *slog.Logger
	options engineOptions
}

func NewEngine(uow IUnitOfWork, opts ...EngineOption) (*Engine, error) {
	if uow == nil {
		return nil, errors.New("unit of work cannot be nil")
	}

	// 默認選項
	options := engineOptions{
		logger: slog.Default(),
		retry:  DefaultRetryPolicy,
		now:    time.Now,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &Engine{
		uow:     uow,
		logger:  options.logger.With(slog.String("caller", "Engine")),
		options: options,
	}, nil
}

func itemLockKey(itemID uuid.UUID) string {
	return "item:" + itemID.String() + ":lock"
}

// withItemLock 在設置了 locker 時先取得商品的分散式鎖
func (e *Engine) withItemLock(ctx context.Context, itemID uuid.UUID, fn func(ctx context.Context) error) error {
	if e.options.locker == nil {
		return fn(ctx)
	}
	lockCtx, unlock, err := e.options.locker.Lock(ctx, itemLockKey(itemID))
	if err != nil {
		return fmt.Errorf("fail to acquire item lock, err=%w", err)
	}
	defer unlock()
	return lockLost(ctx, lockCtx, fn(lockCtx))
}

// lockLost 在持鎖期間鎖遺失時，把遺失原因併入 err，讓呼叫端看到並發衝突而不是 context.Canceled
func lockLost(ctx, lockCtx context.Context, err error) error {
	if err == nil || ctx.Err() != nil {
		return err
	}
	if cause := context.Cause(lockCtx); errors.Is(cause, ErrConcurrentModification) && !errors.Is(err, ErrConcurrentModification) {
		return fmt.Errorf("%w: %w", cause, err)
	}
	return err
}

// placement 保存一次出價在交易內產生的結果，交易提交後才對外發布
type placement struct {
	item        *models.Item
	bid         *models.Bid
	transaction *models.Transaction
}

// PlaceBid 以 userID 的身分對商品出價
//
// 驗證順序:
//   - 1. 商品存在且未被刪除 (ErrNotFound)
//   - 2. 商品狀態為 ACTIVE 且 active=true (ErrItemInactive)
//   - 3. 尚未超過拍賣結束時間 (ErrAuctionEnded)
//   - 4. 目前價格尚未達到直購價 (ErrAlreadyBoughtOut)
//   - 5. 出價高於目前價格 (ErrBidTooLow)
//   - 6. 餘額足夠 (ErrInsufficientFunds)
//
// 驗證與所有修改都在同一個交易內完成，並且商品列在整個過程中被鎖住
func (e *Engine) PlaceBid(ctx context.Context, userID, itemID uuid.UUID, amount decimal.Decimal) (*models.Bid, error) {
	const op = "PlaceBid"
	if !amount.Equal(amount.Round(2)) {
		return nil, fmt.Errorf("[%s] Bid amount has more than 2 decimal places, err=%w", op, ErrInvalidAmount)
	}
	if amount.GreaterThan(MaxAmount) {
		return nil, fmt.Errorf("[%s] Bid amount exceeds %s, err=%w", op, MaxAmount.StringFixed(2), ErrInvalidAmount)
	}

	var result placement
	err := e.withItemLock(ctx, itemID, func(ctx context.Context) error {
		return e.options.retry.Do(ctx, func() error {
			return e.uow.Atomic(ctx, func(items IItemStore, ledger ILedger) error {
				var err error
				result, err = e.place(ctx, items, ledger, userID, itemID, amount)
				return err
			})
		})
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to place bid, item=%s, err=%w", op, itemID, err)
	}

	e.logger.Info("Higher bid occurs", slog.String("user", userID.String()), slog.String("bid", amount.StringFixed(2)), slog.String("itemID", itemID.String()))
	events := []Event{bidPlacedEvent(result.item, result.bid)}
	if result.transaction != nil {
		e.logger.Info("Item bought out", slog.String("itemID", itemID.String()), slog.String("transactionID", result.transaction.ID.String()))
		events = append(events, settledEvent(result.item, result.transaction, result.transaction.SettledAt))
	}
	publishAll(e.logger, e.options.publishers, events...)
	return result.bid, nil
}

func (e *Engine) place(ctx context.Context, items IItemStore, ledger ILedger, userID, itemID uuid.UUID, amount decimal.Decimal) (placement, error) {
	now := e.options.now().UTC()

	// 檢查拍賣狀態
	item, err := items.LockItem(ctx, itemID)
	if err != nil {
		return placement{}, err
	}
	if !item.Biddable() {
		return placement{}, ErrItemInactive
	}
	if item.AuctionEndTime != nil && now.After(*item.AuctionEndTime) {
		return placement{}, ErrAuctionEnded
	}
	// 價格已達直購價但狀態尚未切換時也不再接受出價
	if item.BuyoutPrice != nil && item.CurrentPrice.GreaterThanOrEqual(*item.BuyoutPrice) {
		return placement{}, ErrAlreadyBoughtOut
	}
	if !amount.IsPositive() || !amount.GreaterThan(item.CurrentPrice) {
		return placement{}, ErrBidTooLow
	}

	// 檢查餘額
	account, err := ledger.GetAccount(ctx, userID)
	if err != nil {
		return placement{}, fmt.Errorf("fail to get bidder account, err=%w", err)
	}
	if account.Balance.LessThan(amount) {
		return placement{}, ErrInsufficientFunds
	}

	// 退款給前一位最高出價者
	// NOTE: 最高出價者自己加價時不會退回前一次的金額，而是再扣一次完整金額
	previous, err := items.HighestBid(ctx, itemID)
	if err != nil && !errors.Is(err, ErrNoBids) {
		return placement{}, err
	}
	if previous != nil && previous.UserID != userID {
		previousAccount, err := ledger.GetAccount(ctx, previous.UserID)
		if err != nil {
			return placement{}, fmt.Errorf("fail to get previous bidder account, err=%w", err)
		}
		if err := ledger.Credit(ctx, previousAccount, previous.Amount); err != nil {
			return placement{}, fmt.Errorf("fail to refund previous bidder, err=%w", err)
		}
	}

	// 扣款並寫入出價紀錄
	if err := ledger.Debit(ctx, account, amount); err != nil {
		return placement{}, err
	}
	bid := &models.Bid{
		UserID:    userID,
		ItemID:    itemID,
		Amount:    amount,
		CreatedAt: now,
	}
	if err := items.SaveBid(ctx, bid); err != nil {
		return placement{}, fmt.Errorf("fail to save bid, err=%w", err)
	}
	item.CurrentPrice = amount

	// 達到直購價時直接成交
	var transaction *models.Transaction
	if item.BuyoutPrice != nil && amount.GreaterThanOrEqual(*item.BuyoutPrice) {
		item.Settle(models.ItemStatusSold)
		transaction = &models.Transaction{
			BuyerID:   userID,
			SellerID:  item.SellerID,
			ItemID:    item.ID,
			AccountID: account.ID,
			Price:     amount,
			Status:    models.TransactionStatusCompleted,
			SettledAt: now,
		}
		if err := items.CreateTransaction(ctx, transaction); err != nil {
			return placement{}, fmt.Errorf("fail to create transaction, err=%w", err)
		}
	}
	if err := items.SaveItem(ctx, item); err != nil {
		return placement{}, fmt.Errorf("fail to save item, err=%w", err)
	}
	return placement{item: item, bid: bid, transaction: transaction}, nil
}

// GetHighestBid 取得商品目前的最高出價，沒有出價時回傳 ErrNoBids
func (e *Engine) GetHighestBid(ctx context.Context, itemID uuid.UUID) (*models.Bid, error) {
	const op = "GetHighestBid"
	items := e.uow.Items()
	if _, err := items.GetItem(ctx, itemID); err != nil {
		return nil, fmt.Errorf("[%s] Fail to find item, err=%w", op, err)
	}
	bid, err := items.HighestBid(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to find highest bid, err=%w", op, err)
	}
	return bid, nil
}
