package pullfunds

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MarconiCalvo/NetworksProject/internal/ledger"
	"github.com/MarconiCalvo/NetworksProject/internal/models"
	"github.com/MarconiCalvo/NetworksProject/internal/peer"
	"github.com/MarconiCalvo/NetworksProject/internal/signature"
)

type fakeLedger struct {
	accounts map[string]*models.Account
	owners   map[string]string
	balances map[string]decimal.Decimal
	debits   []string
	credits  []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		accounts: map[string]*models.Account{},
		owners:   map[string]string{},
		balances: map[string]decimal.Decimal{},
	}
}

func (l *fakeLedger) addAccount(number, cedula string, balance int64) {
	l.accounts[number] = &models.Account{Number: number, Currency: "CRC"}
	l.owners[number] = cedula
	l.balances[number] = decimal.NewFromInt(balance)
}

func (l *fakeLedger) GetAccountByNumber(_ context.Context, number string) (*models.Account, error) {
	a, ok := l.accounts[number]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return a, nil
}

func (l *fakeLedger) GetAccountWithOwner(_ context.Context, number string) (*models.Account, string, error) {
	a, ok := l.accounts[number]
	if !ok {
		return nil, "", ledger.ErrAccountNotFound
	}
	return a, l.owners[number], nil
}

func (l *fakeLedger) DebitToSettlement(_ context.Context, number string, amount decimal.Decimal, refID, _ string) error {
	if l.balances[number].LessThan(amount) {
		return ledger.ErrInsufficientFunds
	}
	l.balances[number] = l.balances[number].Sub(amount)
	l.debits = append(l.debits, refID)
	return nil
}

func (l *fakeLedger) CreditFromSettlement(_ context.Context, number string, amount decimal.Decimal, refID, _ string) error {
	if _, ok := l.accounts[number]; !ok {
		return ledger.ErrAccountNotFound
	}
	l.balances[number] = l.balances[number].Add(amount)
	l.credits = append(l.credits, refID)
	return nil
}

type fakeTransport struct {
	err     error
	lastReq models.PullFundsRequest
	calls   int
}

func (t *fakeTransport) SendPullFunds(_ context.Context, _ string, req models.PullFundsRequest) (*peer.Ack, error) {
	t.calls++
	t.lastReq = req
	if t.err != nil {
		return nil, t.err
	}
	return &peer.Ack{Status: "ACK"}, nil
}

func newService(l *fakeLedger, tr *fakeTransport) (*Service, *signature.Signer) {
	signer := signature.NewSigner("supersecreta123")
	return NewService(signer, l, tr, nil, zap.NewNop()), signer
}

func signedRequest(signer *signature.Signer, account, cedula string, amount int64) models.PullFundsRequest {
	req := models.PullFundsRequest{
		AccountNumber: account,
		Cedula:        cedula,
		Amount:        decimal.NewFromInt(amount),
		RequestID:     "req-1",
	}
	req.HMACMD5 = signer.SignPullFunds(req)
	return req
}

func TestHandleRequest(t *testing.T) {
	l := newFakeLedger()
	l.addAccount("CB000000000001", "1-1234-5678", 1000)
	s, signer := newService(l, &fakeTransport{})

	err := s.HandleRequest(context.Background(), signedRequest(signer, "CB000000000001", "1-1234-5678", 250))
	require.NoError(t, err)
	assert.True(t, l.balances["CB000000000001"].Equal(decimal.NewFromInt(750)))
	assert.Equal(t, []string{"req-1"}, l.debits)
}

func TestHandleRequestBadSignature(t *testing.T) {
	l := newFakeLedger()
	l.addAccount("CB000000000001", "1-1234-5678", 1000)
	s, signer := newService(l, &fakeTransport{})

	req := signedRequest(signer, "CB000000000001", "1-1234-5678", 250)
	req.Amount = decimal.NewFromInt(9999)
	err := s.HandleRequest(context.Background(), req)
	assert.ErrorIs(t, err, ErrBadSignature)
	assert.Empty(t, l.debits, "the ledger must not be touched on a bad signature")
	assert.True(t, l.balances["CB000000000001"].Equal(decimal.NewFromInt(1000)))
}

func TestHandleRequestUnknownAccount(t *testing.T) {
	s, signer := newService(newFakeLedger(), &fakeTransport{})
	err := s.HandleRequest(context.Background(), signedRequest(signer, "CB000000000404", "1-1234-5678", 250))
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestHandleRequestOwnerMismatch(t *testing.T) {
	l := newFakeLedger()
	l.addAccount("CB000000000001", "1-1234-5678", 1000)
	s, signer := newService(l, &fakeTransport{})

	err := s.HandleRequest(context.Background(), signedRequest(signer, "CB000000000001", "9-9999-9999", 250))
	assert.ErrorIs(t, err, ErrOwnerMismatch)
	assert.Empty(t, l.debits)
}

func TestHandleRequestInsufficientFunds(t *testing.T) {
	l := newFakeLedger()
	l.addAccount("CB000000000001", "1-1234-5678", 100)
	s, signer := newService(l, &fakeTransport{})

	err := s.HandleRequest(context.Background(), signedRequest(signer, "CB000000000001", "1-1234-5678", 250))
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.True(t, l.balances["CB000000000001"].Equal(decimal.NewFromInt(100)))
}

func TestSend(t *testing.T) {
	l := newFakeLedger()
	l.addAccount("CB000000000001", "1-1234-5678", 0)
	tr := &fakeTransport{}
	s, signer := newService(l, tr)

	reqID, err := s.Send(context.Background(), SendRequest{
		RemoteBankCode:      "NB",
		RemoteAccountNumber: "NB000000000009",
		Cedula:              "2-2222-2222",
		Amount:              decimal.NewFromInt(250),
		LocalAccountNumber:  "CB000000000001",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, reqID)
	assert.True(t, l.balances["CB000000000001"].Equal(decimal.NewFromInt(250)))
	assert.Equal(t, []string{reqID}, l.credits)
	assert.True(t, signer.VerifyPullFunds(tr.lastReq), "outbound request must be signed")
	assert.Equal(t, "NB000000000009", tr.lastReq.AccountNumber)
}

func TestSendPeerFailureSkipsLocalCredit(t *testing.T) {
	l := newFakeLedger()
	l.addAccount("CB000000000001", "1-1234-5678", 0)
	tr := &fakeTransport{err: fmt.Errorf("%w: 403", peer.ErrRejected)}
	s, _ := newService(l, tr)

	_, err := s.Send(context.Background(), SendRequest{
		RemoteBankCode:      "NB",
		RemoteAccountNumber: "NB000000000009",
		Cedula:              "2-2222-2222",
		Amount:              decimal.NewFromInt(250),
		LocalAccountNumber:  "CB000000000001",
	})
	assert.ErrorIs(t, err, peer.ErrRejected)
	assert.Empty(t, l.credits, "no local credit without the peer's acknowledgment")
	assert.True(t, l.balances["CB000000000001"].Equal(decimal.Zero))
}

func TestSendUnknownLocalAccount(t *testing.T) {
	tr := &fakeTransport{}
	s, _ := newService(newFakeLedger(), tr)

	_, err := s.Send(context.Background(), SendRequest{
		RemoteBankCode:      "NB",
		RemoteAccountNumber: "NB000000000009",
		Cedula:              "2-2222-2222",
		Amount:              decimal.NewFromInt(250),
		LocalAccountNumber:  "CB000000000404",
	})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
	assert.Zero(t, tr.calls, "peer must not be contacted for an unknown local account")
}
