// Package databasetest 提供以 in-memory sqlite 建立的測試資料庫與資料建立工具
package databasetest

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"barterswap/models"
)

// Open 建立一個只屬於該測試的資料庫並完成 migrate
// 只開一條連線，讓所有交易依序執行
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, models.AutoMigrate(db))
	return db
}

// Money 將字串轉成金額，格式錯誤時直接 panic
func Money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// MoneyPtr 與 Money 相同但回傳指標，用於直購價
func MoneyPtr(s string) *decimal.Decimal {
	d := Money(s)
	return &d
}

// SeedUser 建立使用者
func SeedUser(t testing.TB, db *gorm.DB, username string) *models.User {
	t.Helper()
	user := &models.User{Username: username}
	require.NoError(t, db.Create(user).Error)
	return user
}

// SeedAccount 建立使用者與指定餘額的帳戶
func SeedAccount(t testing.TB, db *gorm.DB, username, balance string) (*models.User, *models.CurrencyAccount) {
	t.Helper()
	user := SeedUser(t, db, username)
	account := &models.CurrencyAccount{UserID: user.ID, Balance: Money(balance)}
	require.NoError(t, db.Create(account).Error)
	return user, account
}

// SeedItem 建立一個 ACTIVE 商品，modify 可調整預設值
// 預設起標價 100.00、沒有直購價、一小時後結束
func SeedItem(t testing.TB, db *gorm.DB, sellerID uuid.UUID, modify ...func(*models.Item)) *models.Item {
	t.Helper()
	end := time.Now().UTC().Add(time.Hour)
	item := &models.Item{
		SellerID:       sellerID,
		Title:          "Calculus textbook",
		Description:    "Lightly used",
		Category:       models.CategoryBooks,
		Condition:      models.ConditionLikeNew,
		StartingPrice:  Money("100.00"),
		CurrentPrice:   Money("100.00"),
		AuctionEndTime: &end,
		Status:         models.ItemStatusActive,
		IsActive:       true,
	}
	for _, fn := range modify {
		fn(item)
	}
	require.NoError(t, db.Create(item).Error)
	return item
}

// Balance 直接從資料庫讀取使用者目前餘額
func Balance(t testing.TB, db *gorm.DB, userID uuid.UUID) decimal.Decimal {
	t.Helper()
	var account models.CurrencyAccount
	require.NoError(t, db.First(&account, "user_id = ?", userID).Error)
	return account.Balance
}

// Reload 從資料庫重新讀取商品 (包含已軟刪除的)
func Reload(t testing.TB, db *gorm.DB, itemID uuid.UUID) *models.Item {
	t.Helper()
	var item models.Item
	require.NoError(t, db.Unscoped().First(&item, "id = ?", itemID).Error)
	return &item
}
