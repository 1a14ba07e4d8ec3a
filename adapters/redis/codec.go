package redis

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"barterswap/auction"
)

var (
	ErrProducerClosed   = errors.New("producer is closed")
	ErrMalformedMessage = errors.New("malformed stream message")
)

// stream 訊息欄位
//   - type, item_id: 明文，方便以 redis-cli 觀察
//   - data: msgpack 編碼的完整事件
const (
	fieldType   = "type"
	fieldItemID = "item_id"
	fieldData   = "data"
)

// EncodeEvent 將事件轉換為 XADD 的欄位，以固定順序排列
func EncodeEvent(event auction.Event) ([]any, error) {
	bytes, err := msgpack.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("msgpack marshal error: %w", err)
	}
	return []any{
		fieldType, string(event.Type),
		fieldItemID, event.ItemID,
		fieldData, string(bytes),
	}, nil
}

// DecodeEvent 將 XREAD 取得的欄位還原為事件
func DecodeEvent(values map[string]any) (auction.Event, error) {
	var event auction.Event
	data, ok := values[fieldData].(string)
	if !ok {
		return event, fmt.Errorf("%w: data field not found or invalid type", ErrMalformedMessage)
	}
	if err := msgpack.Unmarshal([]byte(data), &event); err != nil {
		return event, fmt.Errorf("%w: msgpack unmarshal error: %v", ErrMalformedMessage, err)
	}
	return event, nil
}
