package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// newID 產生 UUIDv7 主鍵，讓資料依建立時間排序
func newID(id *uuid.UUID) error {
	if *id != uuid.Nil {
		return nil
	}
	v, err := uuid.NewV7()
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// All 回傳所有需要 migrate 的 model
func All() []any {
	return []any{
		&User{},
		&Item{},
		&Bid{},
		&CurrencyAccount{},
		&Transaction{},
	}
}

// AutoMigrate 建立或更新資料表結構
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(All()...)
}
