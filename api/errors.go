package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"barterswap/adapters/sse"
	"barterswap/auction"
)

// errorStatuses 依序比對錯誤種類，第一個符合的決定回應狀態碼與訊息
var errorStatuses = []struct {
	err    error
	status int
}{
	{auction.ErrNotFound, http.StatusNotFound},
	{auction.ErrNoBids, http.StatusNotFound},
	{auction.ErrItemInactive, http.StatusGone},
	{auction.ErrAuctionEnded, http.StatusGone},
	{auction.ErrAlreadyBoughtOut, http.StatusGone},
	{auction.ErrBidTooLow, http.StatusBadRequest},
	{auction.ErrInvalidAmount, http.StatusBadRequest},
	{auction.ErrInvalidListing, http.StatusBadRequest},
	{auction.ErrInsufficientFunds, http.StatusPaymentRequired},
	{auction.ErrConcurrentModification, http.StatusConflict},
	{auction.ErrForbidden, http.StatusForbidden},
	{sse.ErrHubClosed, http.StatusServiceUnavailable},
}

// statusOf 回傳錯誤對應的狀態碼與可以給使用者看的訊息
func statusOf(err error) (int, string) {
	for _, entry := range errorStatuses {
		if errors.Is(err, entry.err) {
			return entry.status, entry.err.Error()
		}
	}
	return http.StatusInternalServerError, "Internal server error"
}

func (impl *ServerImpl) abortWithError(c *gin.Context, op string, err error) {
	status, message := statusOf(err)
	if status >= http.StatusInternalServerError {
		impl.logger.Error("Request failed", slog.String("op", op), slog.Any("error", err))
	} else {
		impl.logger.Debug("Request rejected", slog.String("op", op), slog.Int("status", status), slog.Any("error", err))
	}
	c.AbortWithStatusJSON(status, gin.H{"message": message})
}
