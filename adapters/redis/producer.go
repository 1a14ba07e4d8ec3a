package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/chanx"

	"barterswap/auction"
)

type producerOptions struct {
	logger     *slog.Logger
	bufferSize int
	maxLen     int64
}

type ProducerOption func(*producerOptions)

// WithProducerLogger 設置日誌記錄器
func WithProducerLogger(logger *slog.Logger) ProducerOption {
	return func(o *producerOptions) {
		o.logger = logger
	}
}

// WithProducerBufferSize 設置緩衝大小
func WithProducerBufferSize(size int) ProducerOption {
	return func(o *producerOptions) {
		o.bufferSize = size
	}
}

// WithProducerMaxLen 設置 stream 保留的大約長度，0 表示不裁切
func WithProducerMaxLen(n int64) ProducerOption {
	return func(o *producerOptions) {
		o.maxLen = n
	}
}

// EventProducer 將出價與結算事件非同步寫入 Redis Stream
// Publish 不會阻塞呼叫端，寫入失敗只記錄日誌
type EventProducer struct {
	client     *redis.Client
	stream     string
	upstream   *chanx.UnboundedChan[[]any]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
	logger     *slog.Logger
	options    producerOptions
}

func NewEventProducer(client *redis.Client, stream string, opts ...ProducerOption) (*EventProducer, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	// 默認選項
	options := producerOptions{
		logger:     slog.Default(),
		bufferSize: 100,
		maxLen:     10000,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &EventProducer{
		client:  client,
		stream:  stream,
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "EventProducer"), slog.String("stream", stream)),
		options: options,
	}, nil
}

func (p *EventProducer) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.upstream = chanx.NewUnboundedChan[[]any](ctx, p.options.bufferSize)
	p.cancelFunc = cancel
	p.closed = false
	p.logger.Info("Starting event producer")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.logger.Info("Event producer goroutine stopped")

		for {
			select {
			case <-ctx.Done():
				return
			case message, ok := <-p.upstream.Out:
				if !ok {
					return
				}
				args := &redis.XAddArgs{
					Stream: p.stream,
					Values: message,
				}
				if p.options.maxLen > 0 {
					args.MaxLen = p.options.maxLen
					args.Approx = true
				}
				id, err := p.client.XAdd(ctx, args).Result()
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					p.logger.Error("Fail to publish event", slog.Any("error", err))
					continue
				}
				p.logger.Debug("Event published", slog.String("messageId", id))
			}
		}
	}()
}

// Publish 將事件放入待寫入佇列
func (p *EventProducer) Publish(event auction.Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}

	message, err := EncodeEvent(event)
	if err != nil {
		return fmt.Errorf("encode event error: %w", err)
	}

	p.upstream.In <- message
	return nil
}

func (p *EventProducer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.logger.Info("Closing event producer")
	p.closed = true
	p.cancelFunc()
	p.mu.Unlock()
	p.wg.Wait()
	p.logger.Info("Event producer closed")
}
