package redis

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestNewEventConsumer(t *testing.T) {
	client, _, cleanup := setupTest(t)
	defer cleanup()

	tests := []struct {
		name    string
		client  *redis.Client
		stream  string
		opts    []ConsumerOption
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid configuration",
			client: client,
			stream: "auction:events",
		},
		{
			name:    "nil client",
			stream:  "auction:events",
			wantErr: true,
			errMsg:  "redis client cannot be nil",
		},
		{
			name:    "empty stream",
			client:  client,
			wantErr: true,
			errMsg:  "stream cannot be empty",
		},
		{
			name:   "with all options",
			client: client,
			stream: "auction:events",
			opts: []ConsumerOption{
				WithConsumerLogger(discardLogger),
				WithConsumerBufferSize(200),
				WithConsumerBlockTimeout(2 * time.Second),
				WithConsumerErrorBackoff(time.Second),
				WithConsumerStartID("0"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)

			consumer, err := NewEventConsumer(tt.client, tt.stream, tt.opts...)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.Nil(t, consumer)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, consumer)
				consumer.Close()
			}
		})
	}
}

func TestEventConsumer_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)
	client, mock, cleanup := setupTest(t)
	defer cleanup()

	mock.ExpectXRead(&redis.XReadArgs{
		Streams: []string{"auction:events", "$"},
		Count:   10,
		Block:   time.Second,
	}).SetErr(redis.Nil)

	consumer, err := NewEventConsumer(client, "auction:events", WithConsumerLogger(discardLogger))
	require.NoError(t, err)

	consumer.Start()
	consumer.Start() // Should be no-op
	time.Sleep(100 * time.Millisecond)
	consumer.Close()
	consumer.Close() // Should be no-op

	// 關閉後下游 channel 會被關閉
	_, ok := <-consumer.Subscribe()
	assert.False(t, ok)
}

func TestEventConsumer_Consume(t *testing.T) {
	t.Run("successful consumption", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		event := testEvent()
		fields, err := EncodeEvent(event)
		require.NoError(t, err)

		mock.ExpectXRead(&redis.XReadArgs{
			Streams: []string{"auction:events", "$"},
			Count:   10,
			Block:   time.Second,
		}).SetVal([]redis.XStream{
			{
				Stream: "auction:events",
				Messages: []redis.XMessage{
					{ID: "1234-0", Values: map[string]any{"data": "broken"}},
					{ID: "1234-1", Values: toValues(fields)},
				},
			},
		})
		// 下一次讀取從最後一筆訊息之後開始
		mock.ExpectXRead(&redis.XReadArgs{
			Streams: []string{"auction:events", "1234-1"},
			Count:   10,
			Block:   time.Second,
		}).SetErr(redis.Nil)

		consumer, err := NewEventConsumer(client, "auction:events", WithConsumerLogger(discardLogger))
		require.NoError(t, err)

		consumer.Start()
		defer consumer.Close()

		select {
		case got := <-consumer.Subscribe():
			assert.Equal(t, event.Type, got.Type)
			assert.Equal(t, event.ItemID, got.ItemID)
			assert.Equal(t, event.Amount, got.Amount)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
		time.Sleep(50 * time.Millisecond)
	})

	t.Run("read error is retried", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		mock.ExpectXRead(&redis.XReadArgs{
			Streams: []string{"auction:events", "0"},
			Count:   10,
			Block:   time.Second,
		}).SetErr(redis.ErrClosed)
		mock.ExpectXRead(&redis.XReadArgs{
			Streams: []string{"auction:events", "0"},
			Count:   10,
			Block:   time.Second,
		}).SetErr(redis.Nil)

		consumer, err := NewEventConsumer(client, "auction:events",
			WithConsumerLogger(discardLogger),
			WithConsumerStartID("0"),
			WithConsumerErrorBackoff(10*time.Millisecond),
		)
		require.NoError(t, err)

		consumer.Start()
		time.Sleep(100 * time.Millisecond)
		consumer.Close()
	})
}
