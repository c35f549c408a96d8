package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Account is a fungible balance. The balance includes locked funds; locks
// live in BalanceLock rows.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acct"`

	ID      string `bun:"id,pk"`
	Balance int64  `bun:"balance,notnull"`

	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// BalanceLock is a named hold on an account. Locks overlap: only the largest
// lock is unspendable.
type BalanceLock struct {
	bun.BaseModel `bun:"table:balance_locks,alias:bl"`

	Account string `bun:"account,pk"`
	Tag     string `bun:"tag,pk"`
	Amount  int64  `bun:"amount,notnull"`
}

// Token is one registered non-fungible item. Frozen tokens cannot be
// transferred.
type Token struct {
	bun.BaseModel `bun:"table:tokens,alias:t"`

	Collection int64  `bun:"collection,pk"`
	Item       int64  `bun:"item,pk"`
	Owner      string `bun:"owner,notnull"`
	Frozen     bool   `bun:"frozen,notnull,default:false"`
}
