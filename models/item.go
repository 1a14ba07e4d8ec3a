package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ItemStatus string

const (
	ItemStatusActive    ItemStatus = "ACTIVE"
	ItemStatusSold      ItemStatus = "SOLD"
	ItemStatusCancelled ItemStatus = "CANCELLED"
)

// IsTerminal 判斷狀態是否為結束狀態(SOLD/CANCELLED)
func (s ItemStatus) IsTerminal() bool {
	return s == ItemStatusSold || s == ItemStatusCancelled
}

type ItemCategory string

const (
	CategoryElectronics ItemCategory = "ELECTRONICS"
	CategoryBooks       ItemCategory = "BOOKS"
	CategoryClothes     ItemCategory = "CLOTHES"
	CategoryFurniture   ItemCategory = "FURNITURE"
	CategorySports      ItemCategory = "SPORTS"
	CategoryStationery  ItemCategory = "STATIONERY"
	CategoryOthers      ItemCategory = "OTHERS"
)

func (c ItemCategory) Valid() bool {
	switch c {
	case CategoryElectronics, CategoryBooks, CategoryClothes, CategoryFurniture, CategorySports, CategoryStationery, CategoryOthers:
		return true
	}
	return false
}

type ItemCondition string

const (
	ConditionNew      ItemCondition = "NEW"
	ConditionLikeNew  ItemCondition = "LIKE_NEW"
	ConditionUsed     ItemCondition = "USED"
	ConditionVeryUsed ItemCondition = "VERY_USED"
	ConditionDamaged  ItemCondition = "DAMAGED"
)

func (c ItemCondition) Valid() bool {
	switch c {
	case ConditionNew, ConditionLikeNew, ConditionUsed, ConditionVeryUsed, ConditionDamaged:
		return true
	}
	return false
}

// Item 代表市集中的拍賣商品
// 包含商品資訊、起標價、目前價格、直購價、拍賣結束時間與狀態
//
// 價格與狀態只會被出價引擎或過期掃描器修改，Version 用於樂觀鎖
type Item struct {
	ID             uuid.UUID        `gorm:"type:uuid;primaryKey"`
	SellerID       uuid.UUID        `gorm:"type:uuid;not null;index;<-:create"`
	Title          string           `gorm:"type:varchar(100);not null"`
	Description    string           `gorm:"type:text;not null"`
	Category       ItemCategory     `gorm:"type:varchar(32);index"`
	Condition      ItemCondition    `gorm:"type:varchar(32)"`
	StartingPrice  decimal.Decimal  `gorm:"type:decimal(10,2);not null;<-:create"`
	CurrentPrice   decimal.Decimal  `gorm:"type:decimal(10,2);not null"`
	BuyoutPrice    *decimal.Decimal `gorm:"type:decimal(10,2)"`
	AuctionEndTime *time.Time       `gorm:"index"`
	Status         ItemStatus       `gorm:"type:varchar(16);not null;index"`
	IsActive       bool             `gorm:"not null;index"`
	Version        uint             `gorm:"not null;default:0"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      gorm.DeletedAt `gorm:"index"`

	// 外鍵關聯
	Seller *User `gorm:"foreignKey:SellerID"`
}

func (i *Item) BeforeCreate(tx *gorm.DB) error {
	return newID(&i.ID)
}

// Biddable 判斷商品狀態是否仍可出價(不檢查時間)
func (i *Item) Biddable() bool {
	return i.Status == ItemStatusActive && i.IsActive
}

// Settle 將商品轉為結束狀態
func (i *Item) Settle(status ItemStatus) {
	i.Status = status
	i.IsActive = false
}
