package api

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"barterswap/ledger"
	"barterswap/models"
)

// 金額一律以兩位小數的字串傳遞，例如 "150.00"

type CreateItemRequest struct {
	Title          string               `json:"title"`
	Description    string               `json:"description"`
	Category       models.ItemCategory  `json:"category"`
	Condition      models.ItemCondition `json:"condition"`
	StartingPrice  *decimal.Decimal     `json:"startingPrice"`
	BuyoutPrice    *decimal.Decimal     `json:"buyoutPrice"`
	AuctionEndTime *time.Time           `json:"auctionEndTime"`
}

// UpdateItemRequest 只包含可修改的欄位，未提供的欄位維持原值
type UpdateItemRequest struct {
	Title       *string               `json:"title"`
	Description *string               `json:"description"`
	Category    *models.ItemCategory  `json:"category"`
	Condition   *models.ItemCondition `json:"condition"`
}

type PlaceBidRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

type ItemResponse struct {
	ID             string     `json:"id"`
	SellerID       string     `json:"sellerId"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Category       string     `json:"category"`
	Condition      string     `json:"condition,omitempty"`
	StartingPrice  string     `json:"startingPrice"`
	CurrentPrice   string     `json:"currentPrice"`
	BuyoutPrice    *string    `json:"buyoutPrice,omitempty"`
	AuctionEndTime *time.Time `json:"auctionEndTime,omitempty"`
	Status         string     `json:"status"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"createdAt"`
}

type BidResponse struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"itemId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username,omitempty"`
	Amount    string    `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

type WalletResponse struct {
	UserID      string    `json:"userId"`
	Balance     string    `json:"balance"`
	LastUpdated time.Time `json:"lastUpdated"`
}

type TransactionResponse struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"itemId"`
	ItemTitle string    `json:"itemTitle,omitempty"`
	BuyerID   string    `json:"buyerId"`
	SellerID  string    `json:"sellerId"`
	Price     string    `json:"price"`
	Status    string    `json:"status"`
	SettledAt time.Time `json:"settledAt"`
}

func newItemResponse(item *models.Item) ItemResponse {
	response := ItemResponse{
		ID:             item.ID.String(),
		SellerID:       item.SellerID.String(),
		Title:          item.Title,
		Description:    item.Description,
		Category:       string(item.Category),
		Condition:      string(item.Condition),
		StartingPrice:  item.StartingPrice.StringFixed(2),
		CurrentPrice:   item.CurrentPrice.StringFixed(2),
		AuctionEndTime: item.AuctionEndTime,
		Status:         string(item.Status),
		Active:         item.IsActive,
		CreatedAt:      item.CreatedAt,
	}
	if item.BuyoutPrice != nil {
		response.BuyoutPrice = lo.ToPtr(item.BuyoutPrice.StringFixed(2))
	}
	return response
}

func newBidResponse(bid models.Bid) BidResponse {
	response := BidResponse{
		ID:        bid.ID.String(),
		ItemID:    bid.ItemID.String(),
		UserID:    bid.UserID.String(),
		Amount:    bid.Amount.StringFixed(2),
		CreatedAt: bid.CreatedAt,
	}
	if bid.User != nil {
		response.Username = bid.User.Username
	}
	return response
}

func newWalletResponse(balance ledger.Balance) WalletResponse {
	return WalletResponse{
		UserID:      balance.UserID.String(),
		Balance:     balance.Amount.StringFixed(2),
		LastUpdated: balance.LastUpdated,
	}
}

func newTransactionResponse(transaction models.Transaction) TransactionResponse {
	response := TransactionResponse{
		ID:        transaction.ID.String(),
		ItemID:    transaction.ItemID.String(),
		BuyerID:   transaction.BuyerID.String(),
		SellerID:  transaction.SellerID.String(),
		Price:     transaction.Price.StringFixed(2),
		Status:    string(transaction.Status),
		SettledAt: transaction.SettledAt,
	}
	if transaction.Item != nil {
		response.ItemTitle = transaction.Item.Title
	}
	return response
}
