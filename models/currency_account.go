package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CurrencyAccount 代表使用者的虛擬貨幣帳戶，一個使用者只有一個帳戶
// 餘額永遠不為負數
type CurrencyAccount struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex;<-:create"`
	Balance   decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Version   uint            `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time

	User *User `gorm:"foreignKey:UserID"`
}

func (a *CurrencyAccount) BeforeCreate(tx *gorm.DB) error {
	return newID(&a.ID)
}
