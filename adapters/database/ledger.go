package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"barterswap/auction"
	"barterswap/models"
)

type ledgerStore struct {
	db      *gorm.DB
	locking bool
}

func (s *ledgerStore) GetAccount(ctx context.Context, userID uuid.UUID) (*models.CurrencyAccount, error) {
	const op = "database.GetAccount"
	query := s.db.WithContext(ctx)
	if s.locking {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var account models.CurrencyAccount
	if err := query.First(&account, "user_id = ?", userID).Error; err != nil {
		return nil, fmt.Errorf("%s: failed to find account of user %s: %w", op, userID, translateError(err))
	}
	return &account, nil
}

func (s *ledgerStore) CreateAccount(ctx context.Context, account *models.CurrencyAccount) error {
	const op = "database.CreateAccount"
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		return fmt.Errorf("%s: failed to create account of user %s: %w", op, account.UserID, translateError(err))
	}
	return nil
}

func (s *ledgerStore) Debit(ctx context.Context, account *models.CurrencyAccount, amount decimal.Decimal) error {
	const op = "database.Debit"
	if !amount.IsPositive() {
		return fmt.Errorf("%s: debit amount %s: %w", op, amount, auction.ErrInvalidAmount)
	}
	if account.Balance.LessThan(amount) {
		return fmt.Errorf("%s: balance %s < %s: %w", op, account.Balance.StringFixed(2), amount.StringFixed(2), auction.ErrInsufficientFunds)
	}
	return s.setBalance(ctx, op, account, account.Balance.Sub(amount))
}

func (s *ledgerStore) Credit(ctx context.Context, account *models.CurrencyAccount, amount decimal.Decimal) error {
	const op = "database.Credit"
	if !amount.IsPositive() {
		return fmt.Errorf("%s: credit amount %s: %w", op, amount, auction.ErrInvalidAmount)
	}
	return s.setBalance(ctx, op, account, account.Balance.Add(amount))
}

func (s *ledgerStore) setBalance(ctx context.Context, op string, account *models.CurrencyAccount, balance decimal.Decimal) error {
	result := s.db.WithContext(ctx).
		Model(&models.CurrencyAccount{}).
		Where("id = ? AND version = ?", account.ID, account.Version).
		Updates(map[string]any{
			"balance": balance.Round(2),
			"version": account.Version + 1,
		})
	if result.Error != nil {
		return fmt.Errorf("%s: failed to update balance of account %s: %w", op, account.ID, translateError(result.Error))
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%s: account %s version %d is stale: %w", op, account.ID, account.Version, auction.ErrConcurrentModification)
	}
	account.Balance = balance.Round(2)
	account.Version++
	return nil
}
