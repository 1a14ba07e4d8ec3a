package database

import (
	"context"

	"gorm.io/gorm"

	"barterswap/auction"
)

// Store 以 gorm 實作 auction.IUnitOfWork
//
// Atomic 內的讀取會加上 SELECT ... FOR UPDATE，寫入則以 version 欄位做樂觀鎖檢查，
// 任一項失敗都會以 auction.ErrConcurrentModification 回報
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Items() auction.IItemStore {
	return &itemStore{db: s.db}
}

func (s *Store) Ledger() auction.ILedger {
	return &ledgerStore{db: s.db}
}

func (s *Store) Atomic(ctx context.Context, fn func(items auction.IItemStore, ledger auction.ILedger) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&itemStore{db: tx, locking: true}, &ledgerStore{db: tx, locking: true})
	})
	return translateError(err)
}
