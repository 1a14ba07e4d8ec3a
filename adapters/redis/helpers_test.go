package redis

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"barterswap/auction"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func setupTest(t *testing.T) (*redis.Client, redismock.ClientMock, func()) {
	db, mock := redismock.NewClientMock()
	return db, mock, func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	}
}

func testEvent() auction.Event {
	return auction.Event{
		Type:   auction.EventBidPlaced,
		ItemID: "0192f7c4-8d0e-7000-8000-000000000001",
		UserID: "0192f7c4-8d0e-7000-8000-000000000002",
		BidID:  "0192f7c4-8d0e-7000-8000-000000000003",
		Amount: "150.00",
		Status: "ACTIVE",
		Time:   time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC),
	}
}

// toValues 模擬 XREAD 回傳的欄位格式
func toValues(fields []any) map[string]any {
	values := make(map[string]any, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		values[fields[i].(string)] = fields[i+1]
	}
	return values
}
