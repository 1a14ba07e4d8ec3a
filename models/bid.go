package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Bid 代表拍賣商品的出價紀錄
// 只會新增，不會修改或刪除
type Bid struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID       `gorm:"type:uuid;not null;index;<-:create"`
	ItemID    uuid.UUID       `gorm:"type:uuid;not null;index:idx_bid_item_amount,priority:1;<-:create"`
	Amount    decimal.Decimal `gorm:"type:decimal(10,2);not null;index:idx_bid_item_amount,priority:2;<-:create"`
	CreatedAt time.Time       `gorm:"<-:create"`

	// 外鍵關聯
	User *User `gorm:"foreignKey:UserID"`
	Item *Item `gorm:"foreignKey:ItemID"`
}

func (b *Bid) BeforeCreate(tx *gorm.DB) error {
	return newID(&b.ID)
}
