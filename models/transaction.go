package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusCancelled TransactionStatus = "CANCELLED"
)

// Transaction 代表一筆成交紀錄，拍賣結算時建立
// 每個商品最多只有一筆(item_id unique)
type Transaction struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey"`
	BuyerID   uuid.UUID         `gorm:"type:uuid;not null;index;<-:create"`
	SellerID  uuid.UUID         `gorm:"type:uuid;not null;index;<-:create"`
	ItemID    uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex;<-:create"`
	AccountID uuid.UUID         `gorm:"type:uuid;not null;<-:create"`
	Price     decimal.Decimal   `gorm:"type:decimal(10,2);not null;<-:create"`
	Status    TransactionStatus `gorm:"type:varchar(16);not null;index"`
	SettledAt time.Time         `gorm:"not null;<-:create"`

	Buyer  *User `gorm:"foreignKey:BuyerID"`
	Seller *User `gorm:"foreignKey:SellerID"`
	Item   *Item `gorm:"foreignKey:ItemID"`
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	return newID(&t.ID)
}
