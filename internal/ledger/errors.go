package ledger

import "errors"

// All checks are made inside the same SQL transaction as the mutation
// they guard; a returned error means the ledger was not touched.
var (
	ErrAccountNotFound      = errors.New("ledger: account not found")
	ErrInsufficientFunds    = errors.New("ledger: insufficient funds")
	ErrCurrencyMismatch     = errors.New("ledger: currency mismatch")
	ErrInvalidAmount        = errors.New("ledger: amount must be positive")
	ErrDuplicateTransaction = errors.New("ledger: duplicate transaction id")
)
