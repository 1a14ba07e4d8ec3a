package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"barterswap/models"
)

const sweeperLockKey = "sweeper:lock"

type sweeperOptions struct {
	logger     *slog.Logger
	locker     ILocker
	publishers []IEventPublisher
	retry      RetryPolicy
	interval   time.Duration
	now        func() time.Time
}

type SweeperOption func(*sweeperOptions)

// WithSweeperLogger 設置日誌記錄器
func WithSweeperLogger(logger *slog.Logger) SweeperOption {
	return func(o *sweeperOptions) {
		o.logger = logger
	}
}

// WithSweeperLocker 設置跨實例的鎖，用於保證同時只有一個實例在掃描，並與出價共用商品鎖
func WithSweeperLocker(locker ILocker) SweeperOption {
	return func(o *sweeperOptions) {
		o.locker = locker
	}
}

// WithSweeperPublisher 增加事件發布者
func WithSweeperPublisher(publisher IEventPublisher) SweeperOption {
	return func(o *sweeperOptions) {
		o.publishers = append(o.publishers, publisher)
	}
}

// WithSweeperRetryPolicy 設置單一商品結算的重試策略
func WithSweeperRetryPolicy(policy RetryPolicy) SweeperOption {
	return func(o *sweeperOptions) {
		o.retry = policy
	}
}

// WithSweeperInterval 設置掃描間隔
func WithSweeperInterval(d time.Duration) SweeperOption {
	return func(o *sweeperOptions) {
		o.interval = d
	}
}

// WithSweeperClock 設置時間來源 (主要用於測試)
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(o *sweeperOptions) {
		o.now = now
	}
}

// SweepResult 統計一次掃描的結果
type SweepResult struct {
	Scanned   int
	Sold      int
	Cancelled int
	Skipped   int
	Failed    int
}

// Sweeper 定期找出已過結束時間但仍在拍賣中的商品並結算
//   - 沒有出價 -> CANCELLED
//   - 有出價   -> SOLD (不建立成交紀錄，也不處理已扣款的最高出價)
type Sweeper struct {
	uow     IUnitOfWork
	logger  *slog.Logger
	options sweeperOptions

	running    sync.Mutex // 保證同一實例內不會同時執行兩次掃描
	mu         sync.Mutex // 保護 closed 與 cancelFunc
	closed     bool
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

func NewSweeper(uow IUnitOfWork, opts ...SweeperOption) (*Sweeper, error) {
	if uow == nil {
		return nil, errors.New("unit of work cannot be nil")
	}

	// 默認選項
	options := sweeperOptions{
		logger:   slog.Default(),
		retry:    DefaultRetryPolicy,
		interval: time.Minute,
		now:      time.Now,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}
	if options.interval <= 0 {
		return nil, errors.New("sweep interval must be positive")
	}

	return &Sweeper{
		uow:     uow,
		logger:  options.logger.With(slog.String("caller", "Sweeper")),
		options: options,
		closed:  true,
	}, nil
}

// Start 啟動定期掃描
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel
	s.closed = false
	s.logger.Info("Start auction expiry sweeper", slog.Duration("interval", s.options.interval))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("Auction expiry sweeper stopped")
		ticker := time.NewTicker(s.options.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Sweep(ctx, s.options.now()); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Error("Fail to sweep expired auctions", slog.Any("error", err))
				}
			}
		}
	}()
}

// Close 停止定期掃描並等待進行中的掃描結束
func (s *Sweeper) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancelFunc()
	s.mu.Unlock()
	s.wg.Wait()
}

// Sweep 執行一次過期拍賣的結算
//
// 若前一次掃描仍在執行，這次會直接跳過並回傳空結果
// 單一商品失敗只會記錄日誌，不影響其他商品，也不回滾已處理的商品
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	const op = "Sweep"
	if !s.running.TryLock() {
		s.logger.Warn("Previous sweep is still running, skip")
		return SweepResult{}, nil
	}
	defer s.running.Unlock()

	// 多個實例時只允許其中一個掃描
	if s.options.locker != nil {
		lockCtx, unlock, err := s.options.locker.Lock(ctx, sweeperLockKey)
		if errors.Is(err, ErrConcurrentModification) {
			s.logger.Debug("Another instance is sweeping, skip")
			return SweepResult{}, nil
		}
		if err != nil {
			return SweepResult{}, fmt.Errorf("[%s] Fail to acquire sweeper lock, err=%w", op, err)
		}
		defer unlock()
		ctx = lockCtx
	}

	now = now.UTC()
	s.logger.Info("Checking for expired auctions")
	expired, err := s.uow.Items().FindExpired(ctx, now)
	if err != nil {
		return SweepResult{}, fmt.Errorf("[%s] Fail to find expired auctions, err=%w", op, err)
	}

	result := SweepResult{Scanned: len(expired)}
	for _, candidate := range expired {
		logger := s.logger.With(slog.String("itemID", candidate.ID.String()))
		if ctx.Err() != nil {
			return result, fmt.Errorf("[%s] Sweep interrupted, err=%w", op, ctx.Err())
		}
		item, err := s.settle(ctx, candidate.ID, now)
		switch {
		case err != nil:
			result.Failed++
			logger.Error("Fail to settle expired auction", slog.Any("error", err))
		case item == nil:
			result.Skipped++
			logger.Debug("Auction already settled, skip")
		case item.Status == models.ItemStatusSold:
			result.Sold++
			logger.Info("Bids found, marking item as SOLD")
		default:
			result.Cancelled++
			logger.Info("No bids found, marking item as CANCELLED")
		}
	}

	s.logger.Info("Finished processing expired auctions",
		slog.Int("scanned", result.Scanned),
		slog.Int("sold", result.Sold),
		slog.Int("cancelled", result.Cancelled),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed),
	)
	return result, nil
}

// settle 在商品鎖與交易內重新確認狀態後結算，商品已不需結算時回傳 nil
func (s *Sweeper) settle(ctx context.Context, itemID uuid.UUID, now time.Time) (*models.Item, error) {
	parent := ctx
	if s.options.locker != nil {
		lockCtx, unlock, err := s.options.locker.Lock(ctx, itemLockKey(itemID))
		if err != nil {
			return nil, fmt.Errorf("fail to acquire item lock, err=%w", err)
		}
		defer unlock()
		ctx = lockCtx
	}

	var settled *models.Item
	err := s.options.retry.Do(ctx, func() error {
		settled = nil
		return s.uow.Atomic(ctx, func(items IItemStore, _ ILedger) error {
			item, err := items.LockItem(ctx, itemID)
			if err != nil {
				return err
			}
			// 掃描後到上鎖前可能已被直購結算
			if !item.Biddable() || item.AuctionEndTime == nil || !item.AuctionEndTime.Before(now) {
				return nil
			}
			count, err := items.CountBids(ctx, itemID)
			if err != nil {
				return err
			}
			if count == 0 {
				item.Settle(models.ItemStatusCancelled)
			} else {
				item.Settle(models.ItemStatusSold)
			}
			if err := items.SaveItem(ctx, item); err != nil {
				return err
			}
			settled = item
			return nil
		})
	})
	if err != nil {
		return nil, lockLost(parent, ctx, err)
	}
	if settled != nil {
		publishAll(s.logger, s.options.publishers, settledEvent(settled, nil, now))
	}
	return settled, nil
}
