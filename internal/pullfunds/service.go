// Package pullfunds implements the reciprocal-withdrawal exchange: one
// bank asks another to debit an account on its behalf and forward the
// funds. Both messages carry the same HMAC contract as transfers, and
// both ledger legs are recorded against the reserved external
// settlement counter-account.
package pullfunds

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MarconiCalvo/NetworksProject/internal/events"
	"github.com/MarconiCalvo/NetworksProject/internal/models"
	"github.com/MarconiCalvo/NetworksProject/internal/peer"
)

var (
	// ErrOwnerMismatch rejects a request whose cedula does not match
	// the account's registered owner.
	ErrOwnerMismatch = errors.New("pullfunds: owner identifier mismatch")
	// ErrBadSignature rejects an unsigned or tampered request before
	// any ledger access.
	ErrBadSignature = errors.New("pullfunds: invalid signature")
)

// Signer is the signature-service slice this package needs.
type Signer interface {
	SignPullFunds(req models.PullFundsRequest) string
	VerifyPullFunds(req models.PullFundsRequest) bool
}

// Ledger is the ledger-store slice this package needs.
type Ledger interface {
	GetAccountByNumber(ctx context.Context, number string) (*models.Account, error)
	GetAccountWithOwner(ctx context.Context, number string) (*models.Account, string, error)
	DebitToSettlement(ctx context.Context, number string, amount decimal.Decimal, refID, description string) error
	CreditFromSettlement(ctx context.Context, number string, amount decimal.Decimal, refID, description string) error
}

// Transport delivers requests to the holding bank.
type Transport interface {
	SendPullFunds(ctx context.Context, bankCode string, req models.PullFundsRequest) (*peer.Ack, error)
}

// Publisher emits settlement events.
type Publisher interface {
	Publish(ctx context.Context, stream, eventType string, data any) error
}

type Service struct {
	signer    Signer
	ledger    Ledger
	transport Transport
	publisher Publisher
	log       *zap.Logger
}

func NewService(signer Signer, l Ledger, t Transport, p Publisher, log *zap.Logger) *Service {
	return &Service{signer: signer, ledger: l, transport: t, publisher: p, log: log}
}

// HandleRequest is the receiver side: verify, check ownership, then
// debit the account in favor of the settlement counter-account. The
// funds check and the debit share one atomic unit inside the ledger.
func (s *Service) HandleRequest(ctx context.Context, req models.PullFundsRequest) error {
	if !s.signer.VerifyPullFunds(req) {
		return ErrBadSignature
	}

	_, cedula, err := s.ledger.GetAccountWithOwner(ctx, req.AccountNumber)
	if err != nil {
		return err
	}
	if cedula != req.Cedula {
		return fmt.Errorf("%w: account %s", ErrOwnerMismatch, req.AccountNumber)
	}

	if err := s.ledger.DebitToSettlement(ctx, req.AccountNumber, req.Amount, req.RequestID,
		"pull funds debit to external settlement"); err != nil {
		return err
	}

	s.log.Info("pull funds debited",
		zap.String("account", req.AccountNumber),
		zap.String("request_id", req.RequestID))
	s.publish(ctx, events.PullFundsSettledEvent{
		RequestID:     req.RequestID,
		AccountNumber: req.AccountNumber,
		Amount:        req.Amount,
		Direction:     "debit",
	})
	return nil
}

// SendRequest is the sender-side trigger: pull from a remote account
// and credit a local one.
type SendRequest struct {
	RemoteBankCode      string
	RemoteAccountNumber string
	Cedula              string
	Amount              decimal.Decimal
	LocalAccountNumber  string
}

// Send asks the holding bank to debit and, on its acknowledgment,
// credits the local account from the settlement counter-account. The
// local credit only happens after the peer reported success.
func (s *Service) Send(ctx context.Context, sr SendRequest) (string, error) {
	if _, err := s.ledger.GetAccountByNumber(ctx, sr.LocalAccountNumber); err != nil {
		return "", err
	}

	req := models.PullFundsRequest{
		AccountNumber: sr.RemoteAccountNumber,
		Cedula:        sr.Cedula,
		Amount:        sr.Amount,
		RequestID:     uuid.NewString(),
	}
	req.HMACMD5 = s.signer.SignPullFunds(req)

	if _, err := s.transport.SendPullFunds(ctx, sr.RemoteBankCode, req); err != nil {
		return req.RequestID, err
	}

	if err := s.ledger.CreditFromSettlement(ctx, sr.LocalAccountNumber, sr.Amount, req.RequestID,
		fmt.Sprintf("pull funds received from account %s", sr.RemoteAccountNumber)); err != nil {
		// The remote debit landed but the local credit did not; same
		// reconciliation signal as a failed compensation.
		s.log.Error("pull funds credit failed after remote debit",
			zap.String("request_id", req.RequestID),
			zap.String("account", sr.LocalAccountNumber),
			zap.Error(err))
		return req.RequestID, fmt.Errorf("local credit failed after remote debit, manual reconciliation required: %w", err)
	}

	s.log.Info("pull funds credited",
		zap.String("account", sr.LocalAccountNumber),
		zap.String("request_id", req.RequestID))
	s.publish(ctx, events.PullFundsSettledEvent{
		RequestID:     req.RequestID,
		AccountNumber: sr.LocalAccountNumber,
		Amount:        sr.Amount,
		Direction:     "credit",
	})
	return req.RequestID, nil
}

func (s *Service) publish(ctx context.Context, data events.PullFundsSettledEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events.TransferEventsStream, events.PullFundsSettled, data); err != nil {
		s.log.Warn("failed to publish event", zap.Error(err))
	}
}
