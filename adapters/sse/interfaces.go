//go:generate mockgen -package=sse -destination=mock.go -source=interfaces.go

package sse

import (
	"barterswap/auction"
)

// IChannel 定義了 SSE 頻道的介面
type IChannel[T any] interface {
	// Subscribe 建立一個新的訂閱並返回接收訊息的通道
	Subscribe() <-chan T
	// Unsubscribe 取消指定通道的訂閱
	Unsubscribe(ch <-chan T)
	// UnsubscribeAll 取消所有訂閱
	UnsubscribeAll()
	// Broadcast 將訊息廣播給所有訂閱者，回傳因緩衝已滿而被略過的訂閱者數量
	Broadcast(message T) int
	// IsIdle 檢查是否沒有訂閱者
	IsIdle() bool
}

// ISource 是事件來源，例如從 Redis Stream 讀取其他實例發布的事件
// 來源關閉 channel 代表不再有事件
type ISource interface {
	Subscribe() <-chan auction.Event
}

// IHub 定義了依商品分頻道推送拍賣事件的介面
type IHub interface {
	auction.IEventPublisher
	// Start 開始從來源讀取事件，應在來源啟動之後呼叫
	Start()
	// Close 停止 Hub 並關閉所有訂閱者的通道
	Close()
	// Subscribe 訂閱指定商品的事件
	Subscribe(itemID string) (<-chan auction.Event, error)
	// Unsubscribe 取消訂閱指定商品的事件
	Unsubscribe(itemID string, ch <-chan auction.Event)
}
