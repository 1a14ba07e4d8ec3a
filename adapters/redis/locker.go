package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"barterswap/auction"
)

type lockerOptions struct {
	logger        *slog.Logger
	prefix        string
	expiry        time.Duration
	retryDelay    time.Duration
	renewInterval time.Duration
	waitTimeout   time.Duration
}

type LockerOption func(*lockerOptions)

// WithLockerLogger 設置日誌記錄器
func WithLockerLogger(logger *slog.Logger) LockerOption {
	return func(o *lockerOptions) {
		o.logger = logger
	}
}

// WithLockerPrefix 設置鎖名稱的前綴
func WithLockerPrefix(prefix string) LockerOption {
	return func(o *lockerOptions) {
		o.prefix = prefix
	}
}

// WithLockerExpiry 設置鎖過期時間
func WithLockerExpiry(d time.Duration) LockerOption {
	return func(o *lockerOptions) {
		o.expiry = d
	}
}

// WithLockerRetryDelay 設置鎖被佔用時的重試延遲
func WithLockerRetryDelay(d time.Duration) LockerOption {
	return func(o *lockerOptions) {
		o.retryDelay = d
	}
}

// WithLockerRenewInterval 設置自動續期間隔，預設為過期時間的 1/3
func WithLockerRenewInterval(d time.Duration) LockerOption {
	return func(o *lockerOptions) {
		o.renewInterval = d
	}
}

// WithLockerWaitTimeout 設置等待取得鎖的最長時間
func WithLockerWaitTimeout(d time.Duration) LockerOption {
	return func(o *lockerOptions) {
		o.waitTimeout = d
	}
}

// Locker 以 redsync 實作跨實例的互斥鎖
//
// 取得鎖後會在背景定期續期，續期失敗代表鎖已遺失，此時回傳的 context 會被取消，
// context.Cause 為 auction.ErrConcurrentModification。
// 等待逾時同樣回傳 auction.ErrConcurrentModification，Redis 連線錯誤則原樣回傳
type Locker struct {
	rs      *redsync.Redsync
	logger  *slog.Logger
	options lockerOptions
}

func NewLocker(client *redis.Client, opts ...LockerOption) (*Locker, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}

	// 默認選項
	options := lockerOptions{
		logger:      slog.Default(),
		prefix:      "barterswap:",
		expiry:      8 * time.Second,
		retryDelay:  50 * time.Millisecond,
		waitTimeout: 5 * time.Second,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	if options.expiry <= 0 {
		return nil, errors.New("lock expiry must be positive")
	}
	// 如果未設置續期間隔，使用過期時間的1/3
	if options.renewInterval <= 0 {
		options.renewInterval = options.expiry / 3
	}

	return &Locker{
		rs:      redsync.New(goredis.NewPool(client)),
		logger:  options.logger.With(slog.String("caller", "Locker")),
		options: options,
	}, nil
}

// Lock 取得名為 key 的鎖，回傳的 release 可重複呼叫
func (l *Locker) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	name := l.options.prefix + key
	mutex := l.rs.NewMutex(name,
		redsync.WithExpiry(l.options.expiry),
		redsync.WithTries(1),
	)

	if err := l.acquire(ctx, mutex); err != nil {
		return nil, nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}

	lockCtx, cancel := context.WithCancelCause(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.renew(lockCtx, cancel, mutex)
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			cancel(nil)
			wg.Wait()
			if ok, err := mutex.Unlock(); err != nil || !ok {
				l.logger.Warn("Fail to release lock", slog.String("key", name), slog.Any("error", err))
			}
		})
	}
	return lockCtx, release, nil
}

func (l *Locker) acquire(ctx context.Context, mutex *redsync.Mutex) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.options.waitTimeout)
	defer cancel()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-waitCtx.Done():
			return l.waitError(ctx, waitCtx)
		case <-timer.C:
			if waitCtx.Err() != nil {
				return l.waitError(ctx, waitCtx)
			}
			err := mutex.LockContext(waitCtx)
			if err == nil {
				return nil
			}
			// 只有鎖被佔用時才重試，連線錯誤直接回傳
			var redisErr *redsync.RedisError
			if errors.As(err, &redisErr) {
				return err
			}
			timer.Reset(l.options.retryDelay)
		}
	}
}

// waitError 區分呼叫端取消與等待逾時，後者視為並發衝突
func (l *Locker) waitError(ctx, waitCtx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: lock is busy after %s: %w",
		auction.ErrConcurrentModification, l.options.waitTimeout, waitCtx.Err())
}

func (l *Locker) renew(ctx context.Context, cancel context.CancelCauseFunc, mutex *redsync.Mutex) {
	ticker := time.NewTicker(l.options.renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := mutex.ExtendContext(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil || !ok {
				l.logger.Warn("Lock lost", slog.String("key", mutex.Name()), slog.Any("error", err))
				cancel(fmt.Errorf("%w: lock %s lost", auction.ErrConcurrentModification, mutex.Name()))
				return
			}
		}
	}
}
