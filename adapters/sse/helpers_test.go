package sse_test

import (
	"time"

	"barterswap/auction"
)

func bidEvent(itemID, amount string) auction.Event {
	return auction.Event{
		Type:   auction.EventBidPlaced,
		ItemID: itemID,
		Amount: amount,
		Status: "ACTIVE",
		Time:   time.Now().UTC(),
	}
}

// fakeSource 模擬 Redis Stream 消費者
type fakeSource struct {
	ch chan auction.Event
}

func (s *fakeSource) Subscribe() <-chan auction.Event {
	return s.ch
}
