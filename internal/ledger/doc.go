// Package ledger owns persistence for transactions, escrows, the platform
// wallet, refund requests and unmatched gateway events. Every repository can
// be rebound to a gorm transaction with WithTx so the escrow state machine
// can compose them inside one database transaction.
package ledger
