package auction_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"barterswap/adapters/database"
	"barterswap/adapters/database/databasetest"
	"barterswap/auction"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// recorder 記錄發布的事件
type recorder struct {
	mu     sync.Mutex
	events []auction.Event
	err    error
}

func (r *recorder) Publish(event auction.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recorder) Events() []auction.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]auction.Event(nil), r.events...)
}

// fakeLocker 以本地 mutex 模擬分散式鎖，並記錄取鎖的 key
type fakeLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	keys  []string
	err   error
	// lost 為 true 時，回傳的 context 已因鎖遺失而取消
	lost bool
}

func (l *fakeLocker) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	l.mu.Lock()
	if l.err != nil {
		l.mu.Unlock()
		return nil, nil, l.err
	}
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.keys = append(l.keys, key)
	l.mu.Unlock()

	m.Lock()
	if l.lost {
		lockCtx, cancel := context.WithCancelCause(ctx)
		cancel(fmt.Errorf("%w: lock %s lost", auction.ErrConcurrentModification, key))
		return lockCtx, m.Unlock, nil
	}
	return ctx, m.Unlock, nil
}

func (l *fakeLocker) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.keys...)
}

// flakyUnitOfWork 讓前 failures 次 Atomic 回傳 ErrConcurrentModification
type flakyUnitOfWork struct {
	auction.IUnitOfWork
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyUnitOfWork) Atomic(ctx context.Context, fn func(items auction.IItemStore, ledger auction.ILedger) error) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return errors.Join(errors.New("could not serialize access"), auction.ErrConcurrentModification)
	}
	return f.IUnitOfWork.Atomic(ctx, fn)
}

func setupEngine(t *testing.T, opts ...auction.EngineOption) (*gorm.DB, *auction.Engine) {
	t.Helper()
	db := databasetest.Open(t)
	engine, err := auction.NewEngine(database.NewStore(db), append([]auction.EngineOption{auction.WithEngineLogger(discardLogger)}, opts...)...)
	require.NoError(t, err)
	return db, engine
}
