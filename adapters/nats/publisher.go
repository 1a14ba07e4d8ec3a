package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"barterswap/auction"
)

// IConn 是發布訊息所需的最小介面，*nats.Conn 直接滿足
type IConn interface {
	Publish(subject string, data []byte) error
}

type publisherOptions struct {
	logger        *slog.Logger
	subjectPrefix string
	types         []auction.EventType
}

type PublisherOption func(*publisherOptions)

// WithPublisherLogger 設置日誌記錄器
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(o *publisherOptions) {
		o.logger = logger
	}
}

// WithPublisherSubjectPrefix 設置 subject 前綴，實際 subject 為 <prefix>.<itemID>
func WithPublisherSubjectPrefix(prefix string) PublisherOption {
	return func(o *publisherOptions) {
		o.subjectPrefix = prefix
	}
}

// WithPublisherEventTypes 設置要轉發的事件類型，預設只轉發結算事件
func WithPublisherEventTypes(types ...auction.EventType) PublisherOption {
	return func(o *publisherOptions) {
		o.types = types
	}
}

// Publisher 把拍賣結算事件以 JSON 發布到 NATS，供評價、報表等下游服務使用
type Publisher struct {
	conn    IConn
	logger  *slog.Logger
	options publisherOptions
}

func NewPublisher(conn IConn, opts ...PublisherOption) (*Publisher, error) {
	if conn == nil {
		return nil, errors.New("nats connection cannot be nil")
	}

	// 默認選項
	options := publisherOptions{
		logger:        slog.Default(),
		subjectPrefix: "auction.settled",
		types:         []auction.EventType{auction.EventAuctionSettled},
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}
	if options.subjectPrefix == "" {
		return nil, errors.New("subject prefix cannot be empty")
	}

	return &Publisher{
		conn:    conn,
		logger:  options.logger.With(slog.String("caller", "NATSPublisher")),
		options: options,
	}, nil
}

// Subject 回傳事件對應的 subject
func (p *Publisher) Subject(event auction.Event) string {
	return p.options.subjectPrefix + "." + event.ItemID
}

// Publish 發布事件，不在轉發清單內的事件直接忽略
func (p *Publisher) Publish(event auction.Event) error {
	if !slices.Contains(p.options.types, event.Type) {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("fail to marshal event, err=%w", err)
	}
	subject := p.Subject(event)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("fail to publish to %s, err=%w", subject, err)
	}
	p.logger.Debug("Event published", slog.String("subject", subject), slog.String("type", string(event.Type)))
	return nil
}

// Connect 建立 NATS 連線，斷線與重連只記錄日誌
func Connect(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("caller", "NATS"))
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("Disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("Reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("fail to connect to nats, err=%w", err)
	}
	return conn, nil
}

// JetStreamConn 透過 JetStream 發布，讓下游離線時仍能在之後取得事件
type JetStreamConn struct {
	js      jetstream.JetStream
	timeout time.Duration
}

// NewJetStreamConn 建立 JetStream 並確保 stream 存在
func NewJetStreamConn(ctx context.Context, conn *nats.Conn, stream, subjectPrefix string, maxAge time.Duration) (*JetStreamConn, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("fail to create jetstream context, err=%w", err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        stream,
		Description: "Auction settlement events",
		Subjects:    []string{subjectPrefix + ".*"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      maxAge,
	})
	if err != nil {
		return nil, fmt.Errorf("fail to create or update stream %s, err=%w", stream, err)
	}
	return &JetStreamConn{js: js, timeout: 5 * time.Second}, nil
}

func (c *JetStreamConn) Publish(subject string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	_, err := c.js.Publish(ctx, subject, data)
	return err
}
