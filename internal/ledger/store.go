// Package ledger is the only writer of account balances and transfer
// records. Every mutation and its guarding checks run in one SQL
// transaction; concurrent transfers touching the same account serialize
// on row locks.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/MarconiCalvo/NetworksProject/internal/models"
)

// Store operates on the local bank's Postgres ledger.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetAccountByNumber fetches an account without locking it.
func (s *Store) GetAccountByNumber(ctx context.Context, number string) (*models.Account, error) {
	var a models.Account
	err := s.db.QueryRowContext(ctx,
		`SELECT id, number, user_id, currency, balance, created_at FROM accounts WHERE number = $1`,
		number,
	).Scan(&a.ID, &a.Number, &a.UserID, &a.Currency, &a.Balance, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, number)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query account: %w", err)
	}
	return &a, nil
}

// GetAccountWithOwner fetches an account together with its owner's
// cedula, used by the pull-funds owner verification.
func (s *Store) GetAccountWithOwner(ctx context.Context, number string) (*models.Account, string, error) {
	var a models.Account
	var cedula string
	err := s.db.QueryRowContext(ctx,
		`SELECT a.id, a.number, a.user_id, a.currency, a.balance, a.created_at, u.cedula
		   FROM accounts a JOIN users u ON u.id = a.user_id
		  WHERE a.number = $1`,
		number,
	).Scan(&a.ID, &a.Number, &a.UserID, &a.Currency, &a.Balance, &a.CreatedAt, &cedula)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("%w: %s", ErrAccountNotFound, number)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to query account owner: %w", err)
	}
	return &a, cedula, nil
}

// reversalSuffix marks the record that undoes a failed outbound debit.
const reversalSuffix = ":reversal"

// TransactionState reports whether a transfer with this transaction id
// was already recorded, and whether it was later reversed by a
// compensation record. Used as the idempotency probe; the unique index
// on transfers.transaction_id closes the remaining race.
func (s *Store) TransactionState(ctx context.Context, txID string) (applied, reversed bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT
			EXISTS(SELECT 1 FROM transfers WHERE transaction_id = $1),
			EXISTS(SELECT 1 FROM transfers WHERE transaction_id = $2)`,
		txID, txID+reversalSuffix,
	).Scan(&applied, &reversed)
	if err != nil {
		return false, false, fmt.Errorf("failed to check transaction id: %w", err)
	}
	return applied, reversed, nil
}

// TransferInternal moves funds between two local accounts: debit,
// credit and one transfer record land together or not at all.
func (s *Store) TransferInternal(ctx context.Context, fromNumber, toNumber string, amount decimal.Decimal, currency, txID, description string) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		// Lock in account-number order so two opposing transfers
		// cannot deadlock.
		first, second := fromNumber, toNumber
		if second < first {
			first, second = second, first
		}
		locked := map[string]*lockedAccount{}
		for _, number := range []string{first, second} {
			row, err := lockAccount(ctx, tx, number)
			if err != nil {
				return err
			}
			locked[number] = row
		}
		from, to := locked[fromNumber], locked[toNumber]

		if from.currency != currency || to.currency != currency {
			return fmt.Errorf("%w: transfer in %s between %s and %s accounts",
				ErrCurrencyMismatch, currency, from.currency, to.currency)
		}
		if from.balance.LessThan(amount) {
			return fmt.Errorf("%w: account %s", ErrInsufficientFunds, fromNumber)
		}

		if err := adjustBalance(ctx, tx, from.id, amount.Neg()); err != nil {
			return err
		}
		if err := adjustBalance(ctx, tx, to.id, amount); err != nil {
			return err
		}
		return insertTransfer(ctx, tx, txID, &from.id, &to.id, amount, currency, description)
	})
}

// DebitWithRecord applies the local half of an outgoing cross-bank
// transfer: debit plus a record whose destination leg is null.
func (s *Store) DebitWithRecord(ctx context.Context, number string, amount decimal.Decimal, currency, txID, description string) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		acct, err := lockAccount(ctx, tx, number)
		if err != nil {
			return err
		}
		if acct.currency != currency {
			return fmt.Errorf("%w: account %s holds %s, transfer is %s",
				ErrCurrencyMismatch, number, acct.currency, currency)
		}
		if acct.balance.LessThan(amount) {
			return fmt.Errorf("%w: account %s", ErrInsufficientFunds, number)
		}
		if err := adjustBalance(ctx, tx, acct.id, amount.Neg()); err != nil {
			return err
		}
		return insertTransfer(ctx, tx, txID, &acct.id, nil, amount, currency, description)
	})
}

// CreditWithRecord applies the local half of an incoming cross-bank
// transfer: credit plus a record whose source leg is null.
func (s *Store) CreditWithRecord(ctx context.Context, number string, amount decimal.Decimal, currency, txID, description string) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		acct, err := lockAccount(ctx, tx, number)
		if err != nil {
			return err
		}
		if acct.currency != currency {
			return fmt.Errorf("%w: account %s holds %s, transfer is %s",
				ErrCurrencyMismatch, number, acct.currency, currency)
		}
		if err := adjustBalance(ctx, tx, acct.id, amount); err != nil {
			return err
		}
		return insertTransfer(ctx, tx, txID, nil, &acct.id, amount, currency, description)
	})
}

// CompensateDebit reverses a debit after the remote leg of an outgoing
// transfer failed. The reversal is its own record so the audit trail
// shows both the attempt and its undoing.
func (s *Store) CompensateDebit(ctx context.Context, number string, amount decimal.Decimal, currency, txID string) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		acct, err := lockAccount(ctx, tx, number)
		if err != nil {
			return err
		}
		if err := adjustBalance(ctx, tx, acct.id, amount); err != nil {
			return err
		}
		return insertTransfer(ctx, tx, txID+reversalSuffix, nil, &acct.id, amount, currency,
			fmt.Sprintf("reversal of failed outbound transfer %s", txID))
	})
}

// DebitToSettlement debits an account in favor of the reserved external
// settlement counter-account (pull-funds receiver leg).
func (s *Store) DebitToSettlement(ctx context.Context, number string, amount decimal.Decimal, refID, description string) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	settlement := models.SettlementAccountID
	return s.withTx(ctx, func(tx *sql.Tx) error {
		acct, err := lockAccount(ctx, tx, number)
		if err != nil {
			return err
		}
		if acct.balance.LessThan(amount) {
			return fmt.Errorf("%w: account %s", ErrInsufficientFunds, number)
		}
		if err := adjustBalance(ctx, tx, acct.id, amount.Neg()); err != nil {
			return err
		}
		return insertTransfer(ctx, tx, refID, &acct.id, &settlement, amount, acct.currency, description)
	})
}

// CreditFromSettlement credits an account from the reserved external
// settlement counter-account (pull-funds sender leg).
func (s *Store) CreditFromSettlement(ctx context.Context, number string, amount decimal.Decimal, refID, description string) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	settlement := models.SettlementAccountID
	return s.withTx(ctx, func(tx *sql.Tx) error {
		acct, err := lockAccount(ctx, tx, number)
		if err != nil {
			return err
		}
		if err := adjustBalance(ctx, tx, acct.id, amount); err != nil {
			return err
		}
		return insertTransfer(ctx, tx, refID, &settlement, &acct.id, amount, acct.currency, description)
	})
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type lockedAccount struct {
	id       int64
	currency string
	balance  decimal.Decimal
}

func lockAccount(ctx context.Context, tx *sql.Tx, number string) (*lockedAccount, error) {
	var a lockedAccount
	err := tx.QueryRowContext(ctx,
		`SELECT id, currency, balance FROM accounts WHERE number = $1 FOR UPDATE`,
		number,
	).Scan(&a.id, &a.currency, &a.balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, number)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock account %s: %w", number, err)
	}
	return &a, nil
}

func adjustBalance(ctx context.Context, tx *sql.Tx, accountID int64, delta decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = balance + $1 WHERE id = $2`,
		delta, accountID,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance of account %d: %w", accountID, err)
	}
	return nil
}

func insertTransfer(ctx context.Context, tx *sql.Tx, txID string, fromID, toID *int64, amount decimal.Decimal, currency, description string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transfers (transaction_id, from_account_id, to_account_id, amount, currency, status, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		nullString(txID), nullID(fromID), nullID(toID), amount, currency,
		models.TransferStatusCompleted, description,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return fmt.Errorf("%w: %s", ErrDuplicateTransaction, txID)
	}
	if err != nil {
		return fmt.Errorf("failed to record transfer: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}
