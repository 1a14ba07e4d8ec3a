package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"barterswap/adapters/auth"
	"barterswap/auction"
	"barterswap/models"
)

// keepAliveInterval 沒有事件時送出註解行的間隔，確保瀏覽器和Cloudflare不會斷開連線
const keepAliveInterval = 30 * time.Second

func parseItemID(c *gin.Context) (uuid.UUID, bool) {
	itemID, err := uuid.Parse(c.Param("itemID"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "Invalid item id"})
		return uuid.Nil, false
	}
	return itemID, true
}

func currentIdentity(c *gin.Context) (auth.Identity, bool) {
	identity, ok := auth.CurrentIdentity(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Missing access token"})
	}
	return identity, ok
}

// List a new item
// (POST /items)
func (impl *ServerImpl) PostItem(c *gin.Context) {
	const op = "PostItem"
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	var request CreateItemRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	// 處理商品標題與描述，起標價預設為0
	listing := auction.Listing{
		Title:          impl.textChecker.Sanitize(request.Title),
		Description:    impl.htmlChecker.Sanitize(request.Description),
		Category:       request.Category,
		Condition:      request.Condition,
		StartingPrice:  lo.FromPtr(request.StartingPrice),
		BuyoutPrice:    request.BuyoutPrice,
		AuctionEndTime: request.AuctionEndTime,
	}
	item, err := impl.engine.CreateItem(c.Request.Context(), identity.UserID, listing)
	if err != nil {
		impl.abortWithError(c, op, err)
		return
	}
	c.Header("Location", "/items/"+item.ID.String())
	c.JSON(http.StatusCreated, newItemResponse(item))
}

// Get item details
// (GET /items/{itemID})
func (impl *ServerImpl) GetItem(c *gin.Context) {
	const op = "GetItem"
	itemID, ok := parseItemID(c)
	if !ok {
		return
	}
	item, err := impl.engine.GetItem(c.Request.Context(), itemID)
	if err != nil {
		impl.abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, newItemResponse(item))
}

// Update title, description, category or condition of an active item, only the seller is allowed
// (PATCH /items/{itemID})
func (impl *ServerImpl) PatchItem(c *gin.Context) {
	const op = "PatchItem"
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	itemID, ok := parseItemID(c)
	if !ok {
		return
	}
	var request UpdateItemRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	update := auction.ListingUpdate{
		Category:  request.Category,
		Condition: request.Condition,
	}
	if request.Title != nil {
		update.Title = lo.ToPtr(impl.textChecker.Sanitize(*request.Title))
	}
	if request.Description != nil {
		update.Description = lo.ToPtr(impl.htmlChecker.Sanitize(*request.Description))
	}
	item, err := impl.engine.UpdateItem(c.Request.Context(), identity.UserID, itemID, update)
	if err != nil {
		impl.abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, newItemResponse(item))
}

// List items of the current user, newest first
// (GET /me/items)
func (impl *ServerImpl) GetMyItems(c *gin.Context) {
	const op = "GetMyItems"
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	items, err := impl.engine.ListUserItems(c.Request.Context(), identity.UserID)
	if err != nil {
		impl.abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(items, func(item models.Item, _ int) ItemResponse {
		return newItemResponse(&item)
	}))
}

// Delete an item, only the seller is allowed
// (DELETE /items/{itemID})
func (impl *ServerImpl) DeleteItem(c *gin.Context) {
	const op = "DeleteItem"
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	itemID, ok := parseItemID(c)
	if !ok {
		return
	}
	if err := impl.engine.DeleteItem(c.Request.Context(), identity.UserID, itemID); err != nil {
		impl.abortWithError(c, op, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Place a bid
// (POST /items/{itemID}/bids)
func (impl *ServerImpl) PostBid(c *gin.Context) {
	const op = "PostBid"
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	itemID, ok := parseItemID(c)
	if !ok {
		return
	}
	var request PlaceBidRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.Amount == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	bid, err := impl.engine.PlaceBid(c.Request.Context(), identity.UserID, itemID, *request.Amount)
	if err != nil {
		impl.abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusCreated, newBidResponse(*bid))
}

// List bids of an item, highest first
// (GET /items/{itemID}/bids)
func (impl *ServerImpl) GetBids(c *gin.Context) {
	const op = "GetBids"
	itemID, ok := parseItemID(c)
	if !ok {
		return
	}
	bids, err := impl.engine.ListBids(c.Request.Context(), itemID)
	if err != nil {
		impl.abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(bids, func(bid models.Bid, _ int) BidResponse {
		return newBidResponse(bid)
	}))
}

// Get the highest bid of an item
// (GET /items/{itemID}/bids/highest)
func (impl *ServerImpl) GetHighestBid(c *gin.Context) {
	const op = "GetHighestBid"
	itemID, ok := parseItemID(c)
	if !ok {
		return
	}
	bid, err := impl.engine.GetHighestBid(c.Request.Context(), itemID)
	if err != nil {
		impl.abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, newBidResponse(*bid))
}

// Subscribe to bid and settlement events of an item
// (GET /items/{itemID}/events)
func (impl *ServerImpl) GetItemEvents(c *gin.Context) {
	const op = "GetItemEvents"
	itemID, ok := parseItemID(c)
	if !ok {
		return
	}
	// 檢查商品是否存在且仍在拍賣中
	item, err := impl.engine.GetItem(c.Request.Context(), itemID)
	if err != nil {
		impl.abortWithError(c, op, err)
		return
	}
	if !item.Biddable() {
		c.AbortWithStatusJSON(http.StatusGone, gin.H{"message": "Auction has ended"})
		return
	}
	ch, err := impl.hub.Subscribe(itemID.String())
	if err != nil {
		impl.abortWithError(c, op, err)
		return
	}
	defer impl.hub.Unsubscribe(itemID.String(), ch)

	// SSE請求合法，開始初始化串流
	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent(string(event.Type), event)
			w.Flush()
			// 結算後不會再有新的事件
			if event.Type == auction.EventAuctionSettled {
				return
			}
		case <-ticker.C:
			_, _ = w.WriteString(": keep-alive\n\n")
			w.Flush()
		}
	}
}

// Open the virtual currency account of the current user
// (POST /wallet)
func (impl *ServerImpl) PostWallet(c *gin.Context) {
	const op = "PostWallet"
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	account, err := impl.ledger.OpenAccount(c.Request.Context(), identity.UserID)
	if err != nil {
		impl.abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusCreated, WalletResponse{
		UserID:      account.UserID.String(),
		Balance:     account.Balance.StringFixed(2),
		LastUpdated: account.UpdatedAt,
	})
}

// Get the balance of the current user
// (GET /wallet)
func (impl *ServerImpl) GetWallet(c *gin.Context) {
	const op = "GetWallet"
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	balance, err := impl.ledger.Balance(c.Request.Context(), identity.UserID)
	if err != nil {
		impl.abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, newWalletResponse(balance))
}

// List transactions of the current user, newest first
// (GET /wallet/transactions)
func (impl *ServerImpl) GetWalletTransactions(c *gin.Context) {
	const op = "GetWalletTransactions"
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	transactions, err := impl.ledger.History(c.Request.Context(), identity.UserID)
	if err != nil {
		impl.abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(transactions, func(transaction models.Transaction, _ int) TransactionResponse {
		return newTransactionResponse(transaction)
	}))
}
