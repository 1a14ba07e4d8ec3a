//go:generate mockgen -package=auction -destination=mock.go -source=interfaces.go

package auction

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"barterswap/models"
)

// IItemStore 定義商品、出價紀錄與成交紀錄的儲存介面
// 這裡不做任何商業邏輯檢查
type IItemStore interface {
	// GetItem 取得商品，不存在或已被軟刪除時回傳 ErrNotFound
	GetItem(ctx context.Context, id uuid.UUID) (*models.Item, error)
	// LockItem 與 GetItem 相同，但在 Atomic 內會對該列上鎖直到交易結束
	LockItem(ctx context.Context, id uuid.UUID) (*models.Item, error)
	CreateItem(ctx context.Context, item *models.Item) error
	// SaveItem 寫回商品完整狀態，版本不符時回傳 ErrConcurrentModification
	SaveItem(ctx context.Context, item *models.Item) error
	DeleteItem(ctx context.Context, item *models.Item) error
	// HighestBid 取得金額最高的出價，沒有出價時回傳 ErrNoBids
	HighestBid(ctx context.Context, itemID uuid.UUID) (*models.Bid, error)
	CountBids(ctx context.Context, itemID uuid.UUID) (int64, error)
	ListBids(ctx context.Context, itemID uuid.UUID) ([]models.Bid, error)
	SaveBid(ctx context.Context, bid *models.Bid) error
	// ListItemsBySeller 依上架時間由新到舊列出賣家未刪除的商品
	ListItemsBySeller(ctx context.Context, sellerID uuid.UUID) ([]models.Item, error)
	// FindExpired 找出 status=ACTIVE、active=true 且 auctionEndTime < now 的商品
	FindExpired(ctx context.Context, now time.Time) ([]models.Item, error)
	CreateTransaction(ctx context.Context, transaction *models.Transaction) error
	ListTransactions(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error)
}

// ILedger 定義虛擬貨幣帳戶的操作介面
type ILedger interface {
	// GetAccount 取得使用者帳戶，在 Atomic 內會對該列上鎖
	GetAccount(ctx context.Context, userID uuid.UUID) (*models.CurrencyAccount, error)
	CreateAccount(ctx context.Context, account *models.CurrencyAccount) error
	// Debit 扣款，餘額不足時回傳 ErrInsufficientFunds
	Debit(ctx context.Context, account *models.CurrencyAccount, amount decimal.Decimal) error
	// Credit 無條件入帳
	Credit(ctx context.Context, account *models.CurrencyAccount, amount decimal.Decimal) error
}

// IUnitOfWork 提供非交易的讀取視圖，以及把多個修改包成一個原子單位的能力
type IUnitOfWork interface {
	Items() IItemStore
	Ledger() ILedger
	// Atomic 在同一個資料庫交易內執行 fn，fn 回傳錯誤時整個交易回滾
	Atomic(ctx context.Context, fn func(items IItemStore, ledger ILedger) error) error
}

// ILocker 定義跨實例的鎖，取得後回傳的 context 會在鎖失效時被取消
type ILocker interface {
	Lock(ctx context.Context, key string) (context.Context, func(), error)
}

// IEventPublisher 定義事件發布介面，發布失敗不影響已提交的結果
type IEventPublisher interface {
	Publish(event Event) error
}
