package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"barterswap/models"
)

// Listing 是賣家上架商品時提供的資訊
type Listing struct {
	Title          string
	Description    string
	Category       models.ItemCategory
	Condition      models.ItemCondition
	StartingPrice  decimal.Decimal
	BuyoutPrice    *decimal.Decimal
	AuctionEndTime *time.Time
}

// MaxAmount 是價格與出價金額的上限，對應資料庫的 decimal(10,2)
var MaxAmount = decimal.RequireFromString("99999999.99")

func (l Listing) validate(now time.Time) error {
	switch {
	case strings.TrimSpace(l.Title) == "" || len(l.Title) > 100:
		return fmt.Errorf("%w: title must be 1-100 characters", ErrInvalidListing)
	case l.Category != "" && !l.Category.Valid():
		return fmt.Errorf("%w: unknown category %q", ErrInvalidListing, l.Category)
	case l.Condition != "" && !l.Condition.Valid():
		return fmt.Errorf("%w: unknown condition %q", ErrInvalidListing, l.Condition)
	case l.StartingPrice.IsNegative() || !l.StartingPrice.Equal(l.StartingPrice.Round(2)):
		return fmt.Errorf("%w: invalid starting price", ErrInvalidListing)
	case l.StartingPrice.GreaterThan(MaxAmount):
		return fmt.Errorf("%w: starting price must not exceed %s", ErrInvalidListing, MaxAmount.StringFixed(2))
	case l.BuyoutPrice != nil && (!l.BuyoutPrice.GreaterThan(l.StartingPrice) || !l.BuyoutPrice.Equal(l.BuyoutPrice.Round(2))):
		return fmt.Errorf("%w: buyout price must be higher than starting price", ErrInvalidListing)
	case l.BuyoutPrice != nil && l.BuyoutPrice.GreaterThan(MaxAmount):
		return fmt.Errorf("%w: buyout price must not exceed %s", ErrInvalidListing, MaxAmount.StringFixed(2))
	case l.AuctionEndTime != nil && !l.AuctionEndTime.After(now):
		return fmt.Errorf("%w: auction end time must be in the future", ErrInvalidListing)
	}
	return nil
}

// CreateItem 以 sellerID 的身分上架商品，商品以 ACTIVE 狀態建立且目前價格等於起標價
func (e *Engine) CreateItem(ctx context.Context, sellerID uuid.UUID, listing Listing) (*models.Item, error) {
	const op = "CreateItem"
	now := e.options.now().UTC()
	if err := listing.validate(now); err != nil {
		return nil, fmt.Errorf("[%s] Invalid listing, err=%w", op, err)
	}
	if listing.Category == "" {
		listing.Category = models.CategoryOthers
	}
	if listing.AuctionEndTime != nil {
		end := listing.AuctionEndTime.UTC()
		listing.AuctionEndTime = &end
	}
	item := &models.Item{
		SellerID:       sellerID,
		Title:          strings.TrimSpace(listing.Title),
		Description:    listing.Description,
		Category:       listing.Category,
		Condition:      listing.Condition,
		StartingPrice:  listing.StartingPrice,
		CurrentPrice:   listing.StartingPrice,
		BuyoutPrice:    listing.BuyoutPrice,
		AuctionEndTime: listing.AuctionEndTime,
		Status:         models.ItemStatusActive,
		IsActive:       true,
	}
	if err := e.uow.Items().CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("[%s] Fail to create item, err=%w", op, err)
	}
	e.logger.Info("Item listed", slog.String("itemID", item.ID.String()), slog.String("seller", sellerID.String()))
	return item, nil
}

// ListingUpdate 是賣家可以修改的商品資訊，nil 欄位維持原值
// 價格與結束時間在上架後不可修改
type ListingUpdate struct {
	Title       *string
	Description *string
	Category    *models.ItemCategory
	Condition   *models.ItemCondition
}

// UpdateItem 由賣家修改仍在拍賣中的商品資訊，與出價使用同一把商品鎖
func (e *Engine) UpdateItem(ctx context.Context, sellerID, itemID uuid.UUID, update ListingUpdate) (*models.Item, error) {
	const op = "UpdateItem"
	var updated *models.Item
	err := e.withItemLock(ctx, itemID, func(ctx context.Context) error {
		return e.options.retry.Do(ctx, func() error {
			updated = nil
			return e.uow.Atomic(ctx, func(items IItemStore, _ ILedger) error {
				item, err := items.LockItem(ctx, itemID)
				if err != nil {
					return err
				}
				if item.SellerID != sellerID {
					return ErrForbidden
				}
				if !item.Biddable() {
					return ErrItemInactive
				}

				listing := Listing{
					Title:         lo.FromPtrOr(update.Title, item.Title),
					Description:   lo.FromPtrOr(update.Description, item.Description),
					Category:      lo.FromPtrOr(update.Category, item.Category),
					Condition:     lo.FromPtrOr(update.Condition, item.Condition),
					StartingPrice: item.StartingPrice,
					BuyoutPrice:   item.BuyoutPrice,
				}
				if err := listing.validate(e.options.now().UTC()); err != nil {
					return err
				}
				if listing.Category == "" {
					listing.Category = models.CategoryOthers
				}
				item.Title = strings.TrimSpace(listing.Title)
				item.Description = listing.Description
				item.Category = listing.Category
				item.Condition = listing.Condition
				if err := items.SaveItem(ctx, item); err != nil {
					return err
				}
				updated = item
				return nil
			})
		})
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to update item, item=%s, err=%w", op, itemID, err)
	}
	e.logger.Info("Item updated", slog.String("itemID", itemID.String()), slog.String("seller", sellerID.String()))
	return updated, nil
}

// DeleteItem 由賣家撤下仍在拍賣中的商品，與出價使用同一把商品鎖
//
// 目前最高出價者被凍結的金額會在同一個交易內退還，商品轉為 CANCELLED 後軟刪除
func (e *Engine) DeleteItem(ctx context.Context, sellerID, itemID uuid.UUID) error {
	const op = "DeleteItem"
	var withdrawn *models.Item
	err := e.withItemLock(ctx, itemID, func(ctx context.Context) error {
		return e.options.retry.Do(ctx, func() error {
			withdrawn = nil
			return e.uow.Atomic(ctx, func(items IItemStore, ledger ILedger) error {
				item, err := items.LockItem(ctx, itemID)
				if err != nil {
					return err
				}
				if item.SellerID != sellerID {
					return ErrForbidden
				}
				// 已成交或已流標的商品留作紀錄
				if !item.Biddable() {
					return ErrItemInactive
				}

				highest, err := items.HighestBid(ctx, itemID)
				switch {
				case errors.Is(err, ErrNoBids):
				case err != nil:
					return err
				default:
					account, err := ledger.GetAccount(ctx, highest.UserID)
					if err != nil {
						return err
					}
					if err := ledger.Credit(ctx, account, highest.Amount); err != nil {
						return err
					}
				}

				item.Settle(models.ItemStatusCancelled)
				if err := items.SaveItem(ctx, item); err != nil {
					return err
				}
				if err := items.DeleteItem(ctx, item); err != nil {
					return err
				}
				withdrawn = item
				return nil
			})
		})
	})
	if err != nil {
		return fmt.Errorf("[%s] Fail to delete item, item=%s, err=%w", op, itemID, err)
	}
	e.logger.Info("Item withdrawn", slog.String("itemID", itemID.String()), slog.String("seller", sellerID.String()))
	publishAll(e.logger, e.options.publishers, settledEvent(withdrawn, nil, e.options.now().UTC()))
	return nil
}

// GetItem 取得商品
func (e *Engine) GetItem(ctx context.Context, itemID uuid.UUID) (*models.Item, error) {
	const op = "GetItem"
	item, err := e.uow.Items().GetItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to find item, err=%w", op, err)
	}
	return item, nil
}

// ListBids 依金額由高到低列出商品的出價紀錄
func (e *Engine) ListBids(ctx context.Context, itemID uuid.UUID) ([]models.Bid, error) {
	const op = "ListBids"
	items := e.uow.Items()
	if _, err := items.GetItem(ctx, itemID); err != nil {
		return nil, fmt.Errorf("[%s] Fail to find item, err=%w", op, err)
	}
	bids, err := items.ListBids(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to list bids, err=%w", op, err)
	}
	return bids, nil
}

// ListUserItems 依上架時間由新到舊列出賣家自己的商品，包含已結束但未刪除的商品
func (e *Engine) ListUserItems(ctx context.Context, sellerID uuid.UUID) ([]models.Item, error) {
	const op = "ListUserItems"
	items, err := e.uow.Items().ListItemsBySeller(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to list items, seller=%s, err=%w", op, sellerID, err)
	}
	return items, nil
}
