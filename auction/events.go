package auction

import (
	"log/slog"
	"time"

	"barterswap/models"
)

type EventType string

const (
	EventBidPlaced      EventType = "BID_PLACED"
	EventAuctionSettled EventType = "AUCTION_SETTLED"
)

// Event 是出價或結算提交後對外發布的事件
// 金額以固定兩位小數的字串表示
type Event struct {
	Type          EventType `json:"type" msgpack:"type"`
	ItemID        string    `json:"itemId" msgpack:"item_id"`
	UserID        string    `json:"userId,omitempty" msgpack:"user_id"`
	BidID         string    `json:"bidId,omitempty" msgpack:"bid_id"`
	Amount        string    `json:"amount,omitempty" msgpack:"amount"`
	Status        string    `json:"status" msgpack:"status"`
	TransactionID string    `json:"transactionId,omitempty" msgpack:"transaction_id"`
	Time          time.Time `json:"time" msgpack:"time"`
}

func bidPlacedEvent(item *models.Item, bid *models.Bid) Event {
	return Event{
		Type:   EventBidPlaced,
		ItemID: item.ID.String(),
		UserID: bid.UserID.String(),
		BidID:  bid.ID.String(),
		Amount: bid.Amount.StringFixed(2),
		Status: string(item.Status),
		Time:   bid.CreatedAt,
	}
}

func settledEvent(item *models.Item, transaction *models.Transaction, at time.Time) Event {
	event := Event{
		Type:   EventAuctionSettled,
		ItemID: item.ID.String(),
		Amount: item.CurrentPrice.StringFixed(2),
		Status: string(item.Status),
		Time:   at,
	}
	if transaction != nil {
		event.UserID = transaction.BuyerID.String()
		event.TransactionID = transaction.ID.String()
	}
	return event
}

func publishAll(logger *slog.Logger, publishers []IEventPublisher, events ...Event) {
	for _, event := range events {
		for _, publisher := range publishers {
			if err := publisher.Publish(event); err != nil {
				logger.Error("Fail to publish event", slog.String("type", string(event.Type)), slog.String("itemID", event.ItemID), slog.Any("error", err))
			}
		}
	}
}
