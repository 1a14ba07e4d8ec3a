package sse_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"barterswap/adapters/sse"
)

func TestChannel(t *testing.T) {
	ch := sse.NewChannel[string](1)

	// 測試訂閱
	sub := ch.Subscribe()
	assert.NotNil(t, sub)
	assert.False(t, ch.IsIdle())

	// 測試廣播訊息
	assert.Equal(t, 0, ch.Broadcast("first"))

	// 緩衝已滿時略過
	assert.Equal(t, 1, ch.Broadcast("second"))

	select {
	case received := <-sub:
		assert.Equal(t, "first", received)
	case <-time.After(time.Second):
		t.Fatal("did not receive message in time")
	}

	// 測試取消訂閱
	ch.Unsubscribe(sub)
	_, ok := <-sub
	assert.False(t, ok, "channel should be closed")

	// 測試 IsIdle
	assert.True(t, ch.IsIdle(), "channel should be idle")
}

func TestChannelUnsubscribeAll(t *testing.T) {
	ch := sse.NewChannel[int](0)
	a, b := ch.Subscribe(), ch.Subscribe()

	// 沒有緩衝且沒有人在讀取
	assert.Equal(t, 2, ch.Broadcast(1))

	ch.UnsubscribeAll()
	_, okA := <-a
	_, okB := <-b
	assert.False(t, okA)
	assert.False(t, okB)
	assert.True(t, ch.IsIdle())
}
