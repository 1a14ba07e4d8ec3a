package sse

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"barterswap/auction"
)

// ErrHubClosed 表示 Hub 已關閉
var ErrHubClosed = errors.New("hub is closed")

type hubOptions struct {
	logger     *slog.Logger
	bufferSize int
	source     ISource
}

type HubOption func(*hubOptions)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) HubOption {
	return func(o *hubOptions) {
		o.logger = logger
	}
}

// WithBufferSize 設置每個訂閱者的緩衝大小
func WithBufferSize(size int) HubOption {
	return func(o *hubOptions) {
		o.bufferSize = size
	}
}

// WithSubscriber 設置事件來源，設置後 Hub 會把來源的事件分送到對應商品的頻道
func WithSubscriber(source ISource) HubOption {
	return func(o *hubOptions) {
		o.source = source
	}
}

var _ IHub = (*Hub)(nil)

// Hub 依商品 ID 管理 SSE 頻道。
// 事件可以直接透過 Publish 送入(單一實例)，或由 Redis Stream 等來源送入(多個實例)。
type Hub struct {
	logger  *slog.Logger
	options hubOptions

	mu       sync.RWMutex // 保護 active、cancel 和 channels 的讀寫
	wg       sync.WaitGroup
	active   bool
	cancel   context.CancelFunc
	channels map[string]*Channel[auction.Event]
}

func NewHub(opts ...HubOption) *Hub {
	// 默認選項
	options := hubOptions{
		logger:     slog.Default(),
		bufferSize: 16,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &Hub{
		logger:   options.logger.With(slog.String("caller", "Hub")),
		options:  options,
		active:   true,
		channels: make(map[string]*Channel[auction.Event]),
	}
}

// Start 開始從來源讀取事件，沒有設置來源時不做任何事
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.active || h.cancel != nil || h.options.source == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	events := h.options.source.Subscribe()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.logger.Info("Hub dispatcher stopped")
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				h.dispatch(event)
			}
		}
	}()
}

// Close 停止 Hub 的運作並關閉所有訂閱者的通道。
func (h *Hub) Close() {
	h.mu.Lock()
	if !h.active {
		h.mu.Unlock()
		return
	}
	h.active = false
	if h.cancel != nil {
		h.cancel()
	}
	h.mu.Unlock()
	h.wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, channel := range h.channels {
		channel.UnsubscribeAll()
	}
	clear(h.channels)
}

// Publish 直接將事件送到對應商品的頻道
func (h *Hub) Publish(event auction.Event) error {
	h.mu.RLock()
	active := h.active
	h.mu.RUnlock()
	if !active {
		return ErrHubClosed
	}
	h.dispatch(event)
	return nil
}

func (h *Hub) dispatch(event auction.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	channel, ok := h.channels[event.ItemID]
	if !ok {
		return
	}
	if dropped := channel.Broadcast(event); dropped > 0 {
		h.logger.Warn("Drop event for slow subscribers", slog.String("itemID", event.ItemID), slog.Int("dropped", dropped))
	}
}

// Subscribe 訂閱指定商品的事件。
func (h *Hub) Subscribe(itemID string) (<-chan auction.Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.active {
		return nil, ErrHubClosed
	}

	c, ok := h.channels[itemID]
	if !ok {
		c = NewChannel[auction.Event](h.options.bufferSize)
		h.channels[itemID] = c
	}
	return c.Subscribe(), nil
}

// Unsubscribe 取消訂閱，頻道沒有訂閱者時會被移除。
func (h *Hub) Unsubscribe(itemID string, ch <-chan auction.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.channels[itemID]
	if !ok {
		return
	}

	c.Unsubscribe(ch)
	if c.IsIdle() {
		delete(h.channels, itemID)
	}
}
