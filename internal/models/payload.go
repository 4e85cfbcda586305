package models

import "github.com/shopspring/decimal"

// IdentityKind tags how a transfer party is addressed.
type IdentityKind int

const (
	UnknownIdentity IdentityKind = iota
	AccountIdentity
	PhoneIdentity
)

// Party describes one side of a transfer. Exactly one of AccountNumber
// or PhoneNumber is set; both fields are kept in the struct so the wire
// encoding stays stable for signing.
type Party struct {
	AccountNumber string `json:"account_number,omitempty"`
	PhoneNumber   string `json:"phone_number,omitempty"`
	BankCode      string `json:"bank_code"`
	Name          string `json:"name"`
}

// Kind reports how the party is addressed. Account wins when both are
// present, which malformed peers occasionally send.
func (p Party) Kind() IdentityKind {
	switch {
	case p.AccountNumber != "":
		return AccountIdentity
	case p.PhoneNumber != "":
		return PhoneIdentity
	default:
		return UnknownIdentity
	}
}

// Amount is a money value on the wire.
type Amount struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

// TransferPayload is the signed wire entity exchanged between banks.
// Field order here is the canonical order for signing; see the
// signature package for the full contract.
type TransferPayload struct {
	Version       string `json:"version"`
	Timestamp     string `json:"timestamp"`
	TransactionID string `json:"transaction_id"`
	Sender        Party  `json:"sender"`
	Receiver      Party  `json:"receiver"`
	Amount        Amount `json:"amount"`
	Description   string `json:"description"`
	HMACMD5       string `json:"hmac_md5,omitempty"`
}

// PullFundsRequest asks the holding bank to debit an account on the
// requesting bank's behalf. Signed with the same HMAC contract as
// transfers.
type PullFundsRequest struct {
	AccountNumber string          `json:"account_number"`
	Cedula        string          `json:"cedula"`
	Amount        decimal.Decimal `json:"amount"`
	RequestID     string          `json:"request_id"`
	HMACMD5       string          `json:"hmac_md5,omitempty"`
}
