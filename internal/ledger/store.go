package ledger

import "gorm.io/gorm"

// Store bundles the ledger repositories over one connection.
type Store struct {
	Transactions *TransactionRepository
	Escrows      *EscrowRepository
	Wallet       *WalletRepository
	Refunds      *RefundRepository
	Unmatched    *UnmatchedRepository
	Users        *UserRepository
	Products     *ProductRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		Transactions: NewTransactionRepository(db),
		Escrows:      NewEscrowRepository(db),
		Wallet:       NewWalletRepository(db),
		Refunds:      NewRefundRepository(db),
		Unmatched:    NewUnmatchedRepository(db),
		Users:        NewUserRepository(db),
		Products:     NewProductRepository(db),
	}
}

// WithTx rebinds every repository to tx.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	if tx == nil {
		return s
	}
	return NewStore(tx)
}
