package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"barterswap/auction"
	"barterswap/models"
)

// Config 設定虛擬貨幣的發放金額
type Config struct {
	StartingBalance         decimal.Decimal
	PositiveFeedbackReward  decimal.Decimal
	NegativeFeedbackPenalty decimal.Decimal
}

var DefaultConfig = Config{
	StartingBalance:         decimal.RequireFromString("1000.00"),
	PositiveFeedbackReward:  decimal.RequireFromString("50.00"),
	NegativeFeedbackPenalty: decimal.RequireFromString("25.00"),
}

var ErrInvalidScore = errors.New("feedback score must be between 1 and 5")

// Balance 是帳戶餘額的快照
type Balance struct {
	UserID      uuid.UUID
	Amount      decimal.Decimal
	LastUpdated time.Time
}

// Service 提供出價引擎以外的虛擬貨幣操作:開戶、查詢、評價獎懲與成交紀錄
type Service struct {
	uow    auction.IUnitOfWork
	config Config
	logger *slog.Logger
	retry  auction.RetryPolicy
}

type serviceOptions struct {
	logger *slog.Logger
	retry  auction.RetryPolicy
}

type ServiceOption func(*serviceOptions)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithRetryPolicy 設置遇到並發衝突時的重試策略
func WithRetryPolicy(policy auction.RetryPolicy) ServiceOption {
	return func(o *serviceOptions) {
		o.retry = policy
	}
}

func NewService(uow auction.IUnitOfWork, config Config, opts ...ServiceOption) *Service {
	// 默認選項
	options := serviceOptions{
		logger: slog.Default(),
		retry:  auction.DefaultRetryPolicy,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &Service{
		uow:    uow,
		config: config,
		logger: options.logger.With(slog.String("caller", "Ledger")),
		retry:  options.retry,
	}
}

// OpenAccount 為新註冊的使用者建立帳戶，已存在時直接回傳原帳戶
//
// 兩個請求同時開戶時，較慢的一方會撞上唯一索引並重試，重試時讀到已提交的帳戶
func (s *Service) OpenAccount(ctx context.Context, userID uuid.UUID) (*models.CurrencyAccount, error) {
	const op = "OpenAccount"
	var account *models.CurrencyAccount
	err := s.retry.Do(ctx, func() error {
		account = nil
		return s.uow.Atomic(ctx, func(_ auction.IItemStore, ledger auction.ILedger) error {
			existing, err := ledger.GetAccount(ctx, userID)
			if err == nil {
				account = existing
				return nil
			}
			if !errors.Is(err, auction.ErrNotFound) {
				return err
			}
			created := &models.CurrencyAccount{
				UserID:  userID,
				Balance: s.config.StartingBalance,
			}
			if err := ledger.CreateAccount(ctx, created); err != nil {
				return err
			}
			account = created
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to open account, user=%s, err=%w", op, userID, err)
	}
	return account, nil
}

// Balance 查詢使用者餘額
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (Balance, error) {
	const op = "Balance"
	account, err := s.uow.Ledger().GetAccount(ctx, userID)
	if err != nil {
		return Balance{}, fmt.Errorf("[%s] Fail to get account, user=%s, err=%w", op, userID, err)
	}
	return Balance{
		UserID:      userID,
		Amount:      account.Balance,
		LastUpdated: account.UpdatedAt,
	}, nil
}

// OnFeedbackGiven 依買家給賣家的評價星等調整賣家餘額
//   - 4~5 星: 發放獎勵
//   - 1~2 星: 扣除罰款，最多扣到餘額為 0
//   - 3 星:   不變動
func (s *Service) OnFeedbackGiven(ctx context.Context, sellerID uuid.UUID, stars int) error {
	const op = "OnFeedbackGiven"
	if stars < 1 || stars > 5 {
		return fmt.Errorf("[%s] Invalid feedback score %d, err=%w", op, stars, ErrInvalidScore)
	}
	if stars == 3 {
		return nil
	}
	err := s.retry.Do(ctx, func() error {
		return s.uow.Atomic(ctx, func(_ auction.IItemStore, ledger auction.ILedger) error {
			account, err := ledger.GetAccount(ctx, sellerID)
			if err != nil {
				return err
			}
			if stars >= 4 {
				return ledger.Credit(ctx, account, s.config.PositiveFeedbackReward)
			}
			penalty := decimal.Min(s.config.NegativeFeedbackPenalty, account.Balance)
			if !penalty.IsPositive() {
				return nil
			}
			return ledger.Debit(ctx, account, penalty)
		})
	})
	if err != nil {
		return fmt.Errorf("[%s] Fail to apply feedback reward, seller=%s, err=%w", op, sellerID, err)
	}
	s.logger.Info("Feedback reward applied", slog.String("seller", sellerID.String()), slog.Int("stars", stars))
	return nil
}

// History 列出使用者作為買家或賣家的成交紀錄，新的在前
func (s *Service) History(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error) {
	const op = "History"
	transactions, err := s.uow.Items().ListTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to list transactions, user=%s, err=%w", op, userID, err)
	}
	return transactions, nil
}
