package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Currency struct {
	bun.BaseModel `bun:"table:currencies,alias:c"`

	ID        string    `bun:"id,pk"`
	Name      string    `bun:"name,notnull"`
	Symbol    string    `bun:"symbol"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// UserCurrency is a user's balance in one currency. Reserved tracks the
// amount committed to open trades; only Balance - Reserved is spendable, so a
// user cannot pledge the same funds to two trades at once.
type UserCurrency struct {
	bun.BaseModel `bun:"table:user_currencies,alias:uc"`

	UserID     int64     `bun:"user_id,pk"`
	CurrencyID string    `bun:"currency_id,pk"`
	Balance    int64     `bun:"balance,notnull,default:0"`
	Reserved   int64     `bun:"reserved,notnull,default:0"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`

	Currency *Currency `bun:"rel:has-one,join:currency_id=id"`
}

// Available returns the spendable portion of the balance.
func (uc *UserCurrency) Available() int64 {
	return uc.Balance - uc.Reserved
}
