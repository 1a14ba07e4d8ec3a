//go:generate mockgen -package=redis -destination=mock.go -source=interfaces.go

package redis

import (
	"barterswap/auction"
)

// IEventProducer 定義了將拍賣事件寫入 Redis Stream 的操作介面
type IEventProducer interface {
	auction.IEventPublisher
	Start()
	Close()
}

// IEventConsumer 定義了從 Redis Stream 讀取拍賣事件的操作介面
type IEventConsumer interface {
	Start()
	Subscribe() <-chan auction.Event
	Close()
}
