// Package routing classifies each transfer as Internal, Outgoing,
// Incoming or Transit against the local bank code and owns the
// compensation path for outbound legs that fail after the local debit.
package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MarconiCalvo/NetworksProject/internal/directory"
	"github.com/MarconiCalvo/NetworksProject/internal/events"
	"github.com/MarconiCalvo/NetworksProject/internal/ledger"
	"github.com/MarconiCalvo/NetworksProject/internal/metrics"
	"github.com/MarconiCalvo/NetworksProject/internal/models"
	"github.com/MarconiCalvo/NetworksProject/internal/peer"
)

// Case is the routing classification of one transfer. Each transfer is
// classified exactly once and handled by exactly one case.
type Case int

const (
	CaseInternal Case = iota
	CaseOutgoing
	CaseIncoming
	CaseTransit
)

func (c Case) String() string {
	switch c {
	case CaseInternal:
		return "internal"
	case CaseOutgoing:
		return "outgoing"
	case CaseIncoming:
		return "incoming"
	case CaseTransit:
		return "transit"
	}
	return "unknown"
}

var (
	// ErrTransitNotAllowed rejects transfers touching no local account;
	// this bank never relays blindly between two other banks.
	ErrTransitNotAllowed = errors.New("routing: transit transfer not allowed")
	// ErrCompensationFailed is the unrecoverable condition: the remote
	// leg failed and the re-credit failed too, leaving the ledger
	// short. Needs manual reconciliation.
	ErrCompensationFailed = errors.New("routing: compensation failed, manual reconciliation required")
	// ErrMalformedPayload rejects payloads whose parties cannot be
	// resolved to an identity.
	ErrMalformedPayload = errors.New("routing: malformed payload")
	// ErrTransactionReversed rejects a resubmission of a transaction id
	// whose debit was compensated. The id is burned by the audit trail;
	// the caller must retry under a fresh one.
	ErrTransactionReversed = errors.New("routing: transaction was reversed, resubmit with a new transaction id")
)

// Ledger is the slice of the ledger store the engine mutates through.
type Ledger interface {
	TransferInternal(ctx context.Context, fromNumber, toNumber string, amount decimal.Decimal, currency, txID, description string) error
	DebitWithRecord(ctx context.Context, number string, amount decimal.Decimal, currency, txID, description string) error
	CreditWithRecord(ctx context.Context, number string, amount decimal.Decimal, currency, txID, description string) error
	CompensateDebit(ctx context.Context, number string, amount decimal.Decimal, currency, txID string) error
	TransactionState(ctx context.Context, txID string) (applied, reversed bool, err error)
}

// Directory resolves phone identities.
type Directory interface {
	FindLocalLink(ctx context.Context, phone string) (*models.PhoneLink, error)
	FindSubscription(ctx context.Context, phone string) (*models.PhoneSubscription, error)
}

// Transport forwards signed payloads to peer banks.
type Transport interface {
	Send(ctx context.Context, bankCode string, p models.TransferPayload) (*peer.Ack, error)
	SendSinpe(ctx context.Context, bankCode string, p models.TransferPayload) (*peer.Ack, error)
}

// Publisher emits transfer lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, stream, eventType string, data any) error
}

// Engine routes one transfer per call. It holds no per-request state;
// the ledger is the only shared mutable resource.
type Engine struct {
	localBank string
	ledger    Ledger
	dir       Directory
	transport Transport
	publisher Publisher
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// Result reports how a transfer was handled.
type Result struct {
	Case          Case
	TransactionID string
	// Replayed marks an idempotent resubmission: the transaction id was
	// already settled and no balance moved again.
	Replayed bool
	Message  string
}

func NewEngine(localBank string, l Ledger, d Directory, t Transport, p Publisher, m *metrics.Metrics, log *zap.Logger) *Engine {
	return &Engine{
		localBank: localBank,
		ledger:    l,
		dir:       d,
		transport: t,
		publisher: p,
		metrics:   m,
		log:       log,
	}
}

// Classify compares both bank codes against the local one. The bank
// code is the sole routing key; there is no fallback heuristic.
func (e *Engine) Classify(senderBank, receiverBank string) Case {
	senderLocal := senderBank == e.localBank
	receiverLocal := receiverBank == e.localBank
	switch {
	case senderLocal && receiverLocal:
		return CaseInternal
	case senderLocal:
		return CaseOutgoing
	case receiverLocal:
		return CaseIncoming
	default:
		return CaseTransit
	}
}

// Route handles an account-number-addressed transfer. Bank codes come
// from the account-number prefixes.
func (e *Engine) Route(ctx context.Context, p models.TransferPayload) (*Result, error) {
	if p.Sender.Kind() != models.AccountIdentity || p.Receiver.Kind() != models.AccountIdentity {
		return nil, fmt.Errorf("%w: both parties need an account number", ErrMalformedPayload)
	}
	senderBank := models.BankCodeFromAccount(p.Sender.AccountNumber)
	receiverBank := models.BankCodeFromAccount(p.Receiver.AccountNumber)
	return e.dispatch(ctx, p, senderBank, receiverBank,
		p.Sender.AccountNumber, p.Receiver.AccountNumber, false)
}

// RoutePhone handles a phone-addressed transfer. The national
// subscription lookup supplies the routing key; local phone links
// resolve the phones that live at this bank to account numbers.
func (e *Engine) RoutePhone(ctx context.Context, p models.TransferPayload) (*Result, error) {
	if p.Sender.Kind() != models.PhoneIdentity || p.Receiver.Kind() != models.PhoneIdentity {
		return nil, fmt.Errorf("%w: both parties need a phone number", ErrMalformedPayload)
	}

	receiverSub, err := e.dir.FindSubscription(ctx, p.Receiver.PhoneNumber)
	if err != nil {
		return nil, fmt.Errorf("receiver phone not subscribed: %w", err)
	}
	receiverBank := receiverSub.BankCode

	// An unsubscribed sender is an external party with no routable
	// bank; the transfer can only be an incoming credit. Only a
	// definitive not-found means unsubscribed: any other lookup
	// failure must abort before the receiver is credited, or a local
	// sender would keep their funds while the receiver gains them.
	senderBank := ""
	senderSub, err := e.dir.FindSubscription(ctx, p.Sender.PhoneNumber)
	switch {
	case err == nil:
		senderBank = senderSub.BankCode
	case !errors.Is(err, directory.ErrNotFound):
		return nil, fmt.Errorf("sender phone lookup failed: %w", err)
	}

	var senderAccount, receiverAccount string
	if senderBank == e.localBank {
		link, err := e.dir.FindLocalLink(ctx, p.Sender.PhoneNumber)
		if err != nil {
			return nil, fmt.Errorf("sender phone subscribed here but not linked: %w", err)
		}
		senderAccount = link.AccountNumber
	}
	if receiverBank == e.localBank {
		link, err := e.dir.FindLocalLink(ctx, p.Receiver.PhoneNumber)
		if err != nil {
			return nil, fmt.Errorf("receiver phone subscribed here but not linked: %w", err)
		}
		receiverAccount = link.AccountNumber
	}

	return e.dispatch(ctx, p, senderBank, receiverBank, senderAccount, receiverAccount, true)
}

func (e *Engine) dispatch(ctx context.Context, p models.TransferPayload, senderBank, receiverBank, senderAccount, receiverAccount string, phoneBased bool) (*Result, error) {
	applied, reversed, err := e.ledger.TransactionState(ctx, p.TransactionID)
	if err != nil {
		return nil, err
	}
	if reversed {
		// The original debit was compensated, so "already settled"
		// would be a lie and re-applying would collide with the
		// existing record. The id cannot be reused.
		e.log.Warn("resubmission of a reversed transaction rejected",
			zap.String("transaction_id", p.TransactionID))
		return nil, fmt.Errorf("%w: %s", ErrTransactionReversed, p.TransactionID)
	}
	if applied {
		return e.replay(p), nil
	}

	c := e.Classify(senderBank, receiverBank)
	e.log.Info("routing transfer",
		zap.String("transaction_id", p.TransactionID),
		zap.String("sender_bank", senderBank),
		zap.String("receiver_bank", receiverBank),
		zap.String("case", c.String()))

	switch c {
	case CaseInternal:
		return e.routeInternal(ctx, p, senderAccount, receiverAccount)
	case CaseOutgoing:
		return e.routeOutgoing(ctx, p, senderAccount, receiverBank, phoneBased)
	case CaseIncoming:
		return e.routeIncoming(ctx, p, receiverAccount)
	default:
		e.metrics.ObserveTransfer(c.String(), "rejected")
		return nil, fmt.Errorf("%w: %s -> %s", ErrTransitNotAllowed, senderBank, receiverBank)
	}
}

func (e *Engine) routeInternal(ctx context.Context, p models.TransferPayload, from, to string) (*Result, error) {
	err := e.ledger.TransferInternal(ctx, from, to,
		p.Amount.Value, p.Amount.Currency, p.TransactionID, p.Description)
	if errors.Is(err, ledger.ErrDuplicateTransaction) {
		return e.replay(p), nil
	}
	if err != nil {
		e.metrics.ObserveTransfer(CaseInternal.String(), "rejected")
		return nil, err
	}
	e.completed(ctx, p, CaseInternal)
	return &Result{
		Case:          CaseInternal,
		TransactionID: p.TransactionID,
		Message:       "internal transfer completed",
	}, nil
}

func (e *Engine) routeOutgoing(ctx context.Context, p models.TransferPayload, from, receiverBank string, phoneBased bool) (*Result, error) {
	err := e.ledger.DebitWithRecord(ctx, from,
		p.Amount.Value, p.Amount.Currency, p.TransactionID,
		fmt.Sprintf("outbound transfer to bank %s", receiverBank))
	if errors.Is(err, ledger.ErrDuplicateTransaction) {
		return e.replay(p), nil
	}
	if err != nil {
		e.metrics.ObserveTransfer(CaseOutgoing.String(), "rejected")
		return nil, err
	}

	// The payload is forwarded byte-for-byte as signed; mutating it
	// here would invalidate the digest at the peer.
	send := e.transport.Send
	if phoneBased {
		send = e.transport.SendSinpe
	}
	if _, sendErr := send(ctx, receiverBank, p); sendErr != nil {
		return nil, e.compensate(ctx, p, from, sendErr)
	}

	e.completed(ctx, p, CaseOutgoing)
	return &Result{
		Case:          CaseOutgoing,
		TransactionID: p.TransactionID,
		Message:       "outgoing transfer forwarded to bank " + receiverBank,
	}, nil
}

func (e *Engine) routeIncoming(ctx context.Context, p models.TransferPayload, to string) (*Result, error) {
	err := e.ledger.CreditWithRecord(ctx, to,
		p.Amount.Value, p.Amount.Currency, p.TransactionID,
		fmt.Sprintf("inbound transfer from bank %s", p.Sender.BankCode))
	if errors.Is(err, ledger.ErrDuplicateTransaction) {
		return e.replay(p), nil
	}
	if err != nil {
		e.metrics.ObserveTransfer(CaseIncoming.String(), "rejected")
		return nil, err
	}
	e.completed(ctx, p, CaseIncoming)
	return &Result{
		Case:          CaseIncoming,
		TransactionID: p.TransactionID,
		Message:       "incoming transfer credited",
	}, nil
}

// compensate re-credits the sender after a failed outbound leg. The
// returned error always carries the original peer failure; when the
// re-credit itself fails it is ErrCompensationFailed instead, the
// manual-reconciliation signal.
func (e *Engine) compensate(ctx context.Context, p models.TransferPayload, from string, sendErr error) error {
	compErr := e.ledger.CompensateDebit(ctx, from, p.Amount.Value, p.Amount.Currency, p.TransactionID)
	if compErr != nil {
		e.metrics.ObserveTransfer(CaseOutgoing.String(), "compensation_failed")
		e.log.Error("compensation failed, ledger is short",
			zap.String("transaction_id", p.TransactionID),
			zap.String("account", from),
			zap.NamedError("peer_error", sendErr),
			zap.NamedError("compensation_error", compErr))
		return fmt.Errorf("%w: transaction %s: peer leg: %v; re-credit: %v",
			ErrCompensationFailed, p.TransactionID, sendErr, compErr)
	}

	e.metrics.ObserveTransfer(CaseOutgoing.String(), "compensated")
	e.metrics.ObserveCompensation()
	e.log.Warn("outbound leg failed, local debit reversed",
		zap.String("transaction_id", p.TransactionID),
		zap.String("account", from),
		zap.Error(sendErr))
	e.publish(ctx, events.TransferCompensated, events.TransferCompensatedEvent{
		TransactionID: p.TransactionID,
		Amount:        p.Amount.Value,
		Currency:      p.Amount.Currency,
		Reason:        sendErr.Error(),
	})
	return fmt.Errorf("outbound leg failed after local debit was reversed: %w", sendErr)
}

func (e *Engine) replay(p models.TransferPayload) *Result {
	e.log.Info("duplicate transaction id, replaying acknowledgment",
		zap.String("transaction_id", p.TransactionID))
	e.metrics.ObserveTransfer("replay", "replayed")
	return &Result{
		TransactionID: p.TransactionID,
		Replayed:      true,
		Message:       "transaction already settled",
	}
}

func (e *Engine) completed(ctx context.Context, p models.TransferPayload, c Case) {
	e.metrics.ObserveTransfer(c.String(), "completed")
	e.publish(ctx, events.TransferCompleted, events.TransferCompletedEvent{
		TransactionID: p.TransactionID,
		Case:          c.String(),
		Amount:        p.Amount.Value,
		Currency:      p.Amount.Currency,
	})
}

func (e *Engine) publish(ctx context.Context, eventType string, data any) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, events.TransferEventsStream, eventType, data); err != nil {
		e.log.Warn("failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}
