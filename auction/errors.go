package auction

import "errors"

// 出價與結算流程回報給呼叫端的錯誤種類，皆可用 errors.Is 判斷
//
// 只有 ErrConcurrentModification 會自動重試，其餘都是該次請求的最終結果
var (
	ErrNotFound               = errors.New("not found")
	ErrItemInactive           = errors.New("item is not active")
	ErrAuctionEnded           = errors.New("auction has ended")
	ErrAlreadyBoughtOut       = errors.New("item already bought out")
	ErrBidTooLow              = errors.New("bid must be higher than current price")
	ErrInsufficientFunds      = errors.New("insufficient virtual currency balance")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrNoBids                 = errors.New("no bids for this item")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidListing         = errors.New("invalid listing")
	ErrForbidden              = errors.New("forbidden")
)
