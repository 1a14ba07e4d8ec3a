package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"barterswap/auction"
	"barterswap/models"
)

type itemStore struct {
	db      *gorm.DB
	locking bool
}

func (s *itemStore) GetItem(ctx context.Context, id uuid.UUID) (*models.Item, error) {
	const op = "database.GetItem"
	var item models.Item
	if err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("%s: failed to find item %s: %w", op, id, translateError(err))
	}
	return &item, nil
}

func (s *itemStore) LockItem(ctx context.Context, id uuid.UUID) (*models.Item, error) {
	const op = "database.LockItem"
	query := s.db.WithContext(ctx)
	if s.locking {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var item models.Item
	if err := query.First(&item, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("%s: failed to lock item %s: %w", op, id, translateError(err))
	}
	return &item, nil
}

func (s *itemStore) CreateItem(ctx context.Context, item *models.Item) error {
	const op = "database.CreateItem"
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return fmt.Errorf("%s: failed to create item: %w", op, translateError(err))
	}
	return nil
}

// SaveItem 只寫回可變欄位，並要求資料庫中的 version 與讀取時相同
func (s *itemStore) SaveItem(ctx context.Context, item *models.Item) error {
	const op = "database.SaveItem"
	result := s.db.WithContext(ctx).
		Model(&models.Item{}).
		Where("id = ? AND version = ?", item.ID, item.Version).
		Updates(map[string]any{
			"title":         item.Title,
			"description":   item.Description,
			"category":      item.Category,
			"condition":     item.Condition,
			"current_price": item.CurrentPrice,
			"status":        item.Status,
			"is_active":     item.IsActive,
			"version":       item.Version + 1,
		})
	if result.Error != nil {
		return fmt.Errorf("%s: failed to save item %s: %w", op, item.ID, translateError(result.Error))
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%s: item %s version %d is stale: %w", op, item.ID, item.Version, auction.ErrConcurrentModification)
	}
	item.Version++
	return nil
}

func (s *itemStore) DeleteItem(ctx context.Context, item *models.Item) error {
	const op = "database.DeleteItem"
	result := s.db.WithContext(ctx).Where("version = ?", item.Version).Delete(item)
	if result.Error != nil {
		return fmt.Errorf("%s: failed to delete item %s: %w", op, item.ID, translateError(result.Error))
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%s: item %s version %d is stale: %w", op, item.ID, item.Version, auction.ErrConcurrentModification)
	}
	return nil
}

func (s *itemStore) HighestBid(ctx context.Context, itemID uuid.UUID) (*models.Bid, error) {
	const op = "database.HighestBid"
	var bids []models.Bid
	err := s.db.WithContext(ctx).
		Where("item_id = ?", itemID).
		Order(clause.OrderBy{Columns: []clause.OrderByColumn{
			{Column: clause.Column{Name: "amount"}, Desc: true},
			{Column: clause.Column{Name: "created_at"}, Desc: false},
		}}).
		Limit(1).
		Find(&bids).Error
	if err != nil {
		return nil, fmt.Errorf("%s: failed to find highest bid of item %s: %w", op, itemID, translateError(err))
	}
	if len(bids) == 0 {
		return nil, auction.ErrNoBids
	}
	return &bids[0], nil
}

func (s *itemStore) CountBids(ctx context.Context, itemID uuid.UUID) (int64, error) {
	const op = "database.CountBids"
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Bid{}).Where("item_id = ?", itemID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("%s: failed to count bids of item %s: %w", op, itemID, translateError(err))
	}
	return count, nil
}

func (s *itemStore) ListBids(ctx context.Context, itemID uuid.UUID) ([]models.Bid, error) {
	const op = "database.ListBids"
	var bids []models.Bid
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("item_id = ?", itemID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "amount"}, Desc: true}).
		Find(&bids).Error
	if err != nil {
		return nil, fmt.Errorf("%s: failed to list bids of item %s: %w", op, itemID, translateError(err))
	}
	return bids, nil
}

func (s *itemStore) SaveBid(ctx context.Context, bid *models.Bid) error {
	const op = "database.SaveBid"
	if err := s.db.WithContext(ctx).Create(bid).Error; err != nil {
		return fmt.Errorf("%s: failed to insert bid: %w", op, translateError(err))
	}
	return nil
}

func (s *itemStore) ListItemsBySeller(ctx context.Context, sellerID uuid.UUID) ([]models.Item, error) {
	const op = "database.ListItemsBySeller"
	var items []models.Item
	err := s.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "created_at"}, Desc: true}).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("%s: failed to list items of seller %s: %w", op, sellerID, translateError(err))
	}
	return items, nil
}

func (s *itemStore) FindExpired(ctx context.Context, now time.Time) ([]models.Item, error) {
	const op = "database.FindExpired"
	var items []models.Item
	err := s.db.WithContext(ctx).
		Where("status = ? AND is_active = ? AND auction_end_time IS NOT NULL AND auction_end_time < ?", models.ItemStatusActive, true, now).
		Order("auction_end_time").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("%s: failed to find expired items: %w", op, translateError(err))
	}
	return items, nil
}

func (s *itemStore) CreateTransaction(ctx context.Context, transaction *models.Transaction) error {
	const op = "database.CreateTransaction"
	if err := s.db.WithContext(ctx).Create(transaction).Error; err != nil {
		return fmt.Errorf("%s: failed to create transaction of item %s: %w", op, transaction.ItemID, translateError(err))
	}
	return nil
}

func (s *itemStore) ListTransactions(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error) {
	const op = "database.ListTransactions"
	var transactions []models.Transaction
	err := s.db.WithContext(ctx).
		Preload("Item", func(db *gorm.DB) *gorm.DB { return db.Unscoped() }).
		Where("buyer_id = ? OR seller_id = ?", userID, userID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "settled_at"}, Desc: true}).
		Find(&transactions).Error
	if err != nil {
		return nil, fmt.Errorf("%s: failed to list transactions of user %s: %w", op, userID, translateError(err))
	}
	return transactions, nil
}
