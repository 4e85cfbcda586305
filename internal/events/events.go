package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	TransferCompleted   = "transfer.completed"
	TransferCompensated = "transfer.compensated"
	PullFundsSettled    = "pullfunds.settled"
)

// Stream names
const (
	TransferEventsStream = "transfer.events"
)

// Event is the envelope written to the stream.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

type TransferCompletedEvent struct {
	TransactionID string          `json:"transactionId"`
	Case          string          `json:"case"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
}

type TransferCompensatedEvent struct {
	TransactionID string          `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Reason        string          `json:"reason"`
}

type PullFundsSettledEvent struct {
	RequestID     string          `json:"requestId"`
	AccountNumber string          `json:"accountNumber"`
	Amount        decimal.Decimal `json:"amount"`
	Direction     string          `json:"direction"`
}
