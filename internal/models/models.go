package models

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts travel as bare JSON numbers on the wire; the canonical
	// signing bytes depend on it.
	decimal.MarshalJSONWithoutQuotes = true
}

// bankCodeLen is the account-number prefix length that encodes the
// issuing bank.
const bankCodeLen = 2

// SettlementAccountID is the reserved counter-account used for the
// external leg of pull-funds settlements.
const SettlementAccountID int64 = 999999

const TransferStatusCompleted = "completed"

// Account is a row in the local ledger. Balance is mutated only through
// the ledger store's atomic operations and never goes negative.
type Account struct {
	ID        int64           `json:"id"`
	Number    string          `json:"number"`
	UserID    int64           `json:"-"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"createdTimestamp"`
}

// Transfer is an append-only audit row. A nil account id means the
// counterparty lives at another bank and is not mirrored locally.
type Transfer struct {
	ID            int64           `json:"id"`
	TransactionID string          `json:"transactionId,omitempty"`
	FromAccountID *int64          `json:"fromAccountId"`
	ToAccountID   *int64          `json:"toAccountId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"createdTimestamp"`
}

// PhoneLink maps a phone number to an account in this bank's own
// registry. Both columns carry unique indexes.
type PhoneLink struct {
	Phone         string `json:"phone"`
	AccountNumber string `json:"account"`
}

// PhoneSubscription is a row in the national registry: which bank holds
// the account behind a phone number.
type PhoneSubscription struct {
	Phone      string `json:"phone"`
	BankCode   string `json:"bank_code"`
	ClientName string `json:"name"`
}

// BankCodeFromAccount extracts the issuing bank code embedded in an
// account number. Empty when the number is too short to carry one.
func BankCodeFromAccount(number string) string {
	if len(number) < bankCodeLen {
		return ""
	}
	return number[:bankCodeLen]
}
