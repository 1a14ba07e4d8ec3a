package database

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"barterswap/auction"
)

// postgres 的 serialization_failure、deadlock_detected、lock_not_available
var retryableCodes = map[string]struct{}{
	"40001": {},
	"40P01": {},
	"55P03": {},
}

// postgres 的 numeric_value_out_of_range，金額超過 decimal(10,2)
const numericOutOfRange = "22003"

// translateError 將驅動與 gorm 的錯誤轉成 auction 的錯誤種類，保留原始錯誤
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", auction.ErrNotFound, err)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %w", auction.ErrConcurrentModification, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := retryableCodes[pgErr.Code]; ok {
			return fmt.Errorf("%w: %w", auction.ErrConcurrentModification, err)
		}
		if pgErr.Code == numericOutOfRange {
			return fmt.Errorf("%w: %w", auction.ErrInvalidAmount, err)
		}
	}
	return err
}
