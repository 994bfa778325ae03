package services

import "context"

// Stores is the set of stores one unit of work writes through.
type Stores struct {
	Balances     BalanceStore
	Ledger       Ledger
	Applications ApplicationStore
}

// Transactor runs fn with stores bound to a single transaction. Everything fn
// writes commits together when it returns nil; on any error nothing is kept.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}
