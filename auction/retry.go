package auction

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy 設定遇到 ErrConcurrentModification 時的重試次數與退避時間
// 第 n 次重試前等待 Backoff * 2^(n-1)
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Backoff: 50 * time.Millisecond}

// Do 執行 fn，只有在搶鎖失敗類型的錯誤時才重試
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := max(p.Attempts, 1)
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); !errors.Is(err, ErrConcurrentModification) {
			return err
		}
		if i == attempts-1 {
			break
		}
		timer := time.NewTimer(p.Backoff << i)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
	return err
}
