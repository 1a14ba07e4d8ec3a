package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"barterswap/auction"
)

type consumerOptions struct {
	logger       *slog.Logger
	bufferSize   int
	blockTimeout time.Duration
	errorBackoff time.Duration
	startID      string
}

type ConsumerOption func(*consumerOptions)

// WithConsumerLogger 設置日誌記錄器
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(o *consumerOptions) {
		o.logger = logger
	}
}

// WithConsumerBufferSize 設置下游channel的緩衝大小
func WithConsumerBufferSize(size int) ConsumerOption {
	return func(o *consumerOptions) {
		o.bufferSize = size
	}
}

// WithConsumerBlockTimeout 設置阻塞讀取超時時間
func WithConsumerBlockTimeout(d time.Duration) ConsumerOption {
	return func(o *consumerOptions) {
		o.blockTimeout = d
	}
}

// WithConsumerErrorBackoff 設置讀取失敗後的等待時間
func WithConsumerErrorBackoff(d time.Duration) ConsumerOption {
	return func(o *consumerOptions) {
		o.errorBackoff = d
	}
}

// WithConsumerStartID 設置起始讀取位置，預設 "$" 只讀取新訊息
func WithConsumerStartID(id string) ConsumerOption {
	return func(o *consumerOptions) {
		o.startID = id
	}
}

// EventConsumer 從 Redis Stream 讀取所有實例發布的拍賣事件
// 每個實例各自讀取完整的 stream，不使用 consumer group
type EventConsumer struct {
	client     *redis.Client
	stream     string
	lastID     string
	downStream chan auction.Event
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	closed     bool
	logger     *slog.Logger
	options    consumerOptions
}

func NewEventConsumer(client *redis.Client, stream string, opts ...ConsumerOption) (*EventConsumer, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	// 默認選項
	options := consumerOptions{
		logger:       slog.Default(),
		bufferSize:   100,
		blockTimeout: time.Second,
		errorBackoff: 100 * time.Millisecond,
		startID:      "$",
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &EventConsumer{
		client:  client,
		stream:  stream,
		lastID:  options.startID,
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "EventConsumer"), slog.String("stream", stream)),
		options: options,
	}, nil
}

func (c *EventConsumer) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.downStream = make(chan auction.Event, c.options.bufferSize)
	c.closed = false
	c.cancelFunc = cancel
	c.logger.Info("Starting event consumer")

	downStream := c.downStream
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.logger.Info("Event consumer goroutine stopped")
		defer close(downStream)

		for {
			if ctx.Err() != nil {
				return
			}
			messages, err := c.fetch(ctx)
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				c.logger.Error("Fail to read stream", slog.Any("error", err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.options.errorBackoff):
				}
				continue
			}

			for _, message := range messages {
				c.lastID = message.ID
				event, err := DecodeEvent(message.Values)
				if err != nil {
					c.logger.Error("Fail to decode event",
						slog.String("messageId", message.ID),
						slog.Any("error", err))
					continue
				}

				select {
				case <-ctx.Done():
					return
				case downStream <- event:
					c.logger.Debug("Event sent to downstream", slog.String("messageId", message.ID))
				}
			}
		}
	}()
}

func (c *EventConsumer) fetch(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := c.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{c.stream, c.lastID},
		Count:   10,
		Block:   c.options.blockTimeout,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, redis.Nil
	}
	return streams[0].Messages, nil
}

// Subscribe 訂閱事件流，需在 Start 之後呼叫，Close 後 channel 會被關閉
func (c *EventConsumer) Subscribe() <-chan auction.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.downStream
}

func (c *EventConsumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.logger.Info("Closing event consumer")
	c.closed = true
	c.cancelFunc()
	c.mu.Unlock()
	c.wg.Wait()
	c.logger.Info("Event consumer closed")
}
