package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MarconiCalvo/NetworksProject/internal/directory"
	"github.com/MarconiCalvo/NetworksProject/internal/models"
	"github.com/MarconiCalvo/NetworksProject/internal/routing"
)

type mockDirectory struct {
	subs  map[string]*models.PhoneSubscription
	links map[string]*models.PhoneLink
}

func (m *mockDirectory) FindSubscription(_ context.Context, phone string) (*models.PhoneSubscription, error) {
	if s, ok := m.subs[phone]; ok {
		return s, nil
	}
	return nil, directory.ErrNotFound
}

func (m *mockDirectory) FindLinkForUser(_ context.Context, username string) (*models.PhoneLink, error) {
	if l, ok := m.links[username]; ok {
		return l, nil
	}
	return nil, directory.ErrNotFound
}

func fakeAuth(userID, name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("userId", userID)
		c.Set("name", name)
		c.Next()
	}
}

func newSinpeTestRouter(router Router, dir PhoneDirectory) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewSinpeHandler(router, testSigner, dir, "CB", zap.NewNop())
	api := r.Group("/api")
	api.POST("/sinpe-movil-transfer", h.ReceiveSinpeMovil)
	api.GET("/validate/:phone", h.ValidatePhone)
	auth := api.Group("", fakeAuth("usr-001", "Ana Mora"))
	auth.POST("/sinpe-movil", h.InitiateSinpe)
	auth.GET("/sinpe/user-link/:username", h.UserLink)
	return r
}

func testDirectory() *mockDirectory {
	return &mockDirectory{
		subs: map[string]*models.PhoneSubscription{
			"88880001": {Phone: "88880001", BankCode: "CB", ClientName: "Ana Mora"},
			"60000001": {Phone: "60000001", BankCode: "NB", ClientName: "Maria Solis"},
		},
		links: map[string]*models.PhoneLink{
			"ana": {Phone: "88880001", AccountNumber: "CB000000000001"},
		},
	}
}

func signedPhonePayload(txID string) models.TransferPayload {
	p := models.TransferPayload{
		Version:       "1.0",
		Timestamp:     "2025-05-31T00:00:20.800Z",
		TransactionID: txID,
		Sender:        models.Party{PhoneNumber: "60000001", BankCode: "NB", Name: "Maria Solis"},
		Receiver:      models.Party{PhoneNumber: "88880001", BankCode: "CB", Name: "Ana Mora"},
		Amount:        models.Amount{Value: decimal.NewFromInt(250), Currency: "CRC"},
	}
	p.HMACMD5 = testSigner.Sign(p)
	return p
}

func TestReceiveSinpeMovilAck(t *testing.T) {
	r := newSinpeTestRouter(&mockRouter{
		routePhoneFn: func(p models.TransferPayload) (*routing.Result, error) {
			return &routing.Result{Case: routing.CaseIncoming, TransactionID: p.TransactionID, Message: "incoming transfer credited"}, nil
		},
	}, testDirectory())

	w := doRequest(r, http.MethodPost, "/api/sinpe-movil-transfer", signedPhonePayload("tx-1"))
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeAck(t, w)
	assert.Equal(t, "ACK", resp.Status)
	assert.Equal(t, "tx-1", resp.TransactionID)
}

func TestReceiveSinpeMovilBadSignatureIs403(t *testing.T) {
	r := newSinpeTestRouter(&mockRouter{}, testDirectory())

	p := signedPhonePayload("tx-1")
	p.Amount.Value = decimal.NewFromInt(9999)
	w := doRequest(r, http.MethodPost, "/api/sinpe-movil-transfer", p)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "NACK", decodeAck(t, w).Status)
}

func TestReceiveSinpeMovilRequiresPhoneIdentities(t *testing.T) {
	r := newSinpeTestRouter(&mockRouter{}, testDirectory())

	p := signedPhonePayload("tx-1")
	p.Sender = models.Party{AccountNumber: "NB000000000001", BankCode: "NB"}
	p.HMACMD5 = testSigner.Sign(p)
	w := doRequest(r, http.MethodPost, "/api/sinpe-movil-transfer", p)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInitiateSinpeSignsAndRoutes(t *testing.T) {
	var routed models.TransferPayload
	r := newSinpeTestRouter(&mockRouter{
		routePhoneFn: func(p models.TransferPayload) (*routing.Result, error) {
			routed = p
			return &routing.Result{Case: routing.CaseOutgoing, TransactionID: p.TransactionID, Message: "outgoing transfer forwarded to bank NB"}, nil
		},
	}, testDirectory())

	w := doRequest(r, http.MethodPost, "/api/sinpe-movil", map[string]any{
		"sender_phone":   "88880001",
		"receiver_phone": "60000001",
		"amount":         250,
		"currency":       "CRC",
		"description":    "lunch",
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeAck(t, w)
	assert.Equal(t, "ACK", resp.Status)
	assert.NotEmpty(t, resp.TransactionID)

	assert.Equal(t, "NB", routed.Receiver.BankCode, "receiver bank comes from the national subscription")
	assert.Equal(t, "Maria Solis", routed.Receiver.Name)
	assert.Equal(t, "CB", routed.Sender.BankCode)
	assert.True(t, testSigner.Verify(routed, routed.HMACMD5), "initiated payloads must be signed")
}

func TestInitiateSinpeUnknownReceiver(t *testing.T) {
	r := newSinpeTestRouter(&mockRouter{}, testDirectory())

	w := doRequest(r, http.MethodPost, "/api/sinpe-movil", map[string]any{
		"sender_phone":   "88880001",
		"receiver_phone": "79999999",
		"amount":         250,
		"currency":       "CRC",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInitiateSinpeValidation(t *testing.T) {
	r := newSinpeTestRouter(&mockRouter{}, testDirectory())

	w := doRequest(r, http.MethodPost, "/api/sinpe-movil", map[string]any{
		"receiver_phone": "60000001",
		"amount":         250,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, http.MethodPost, "/api/sinpe-movil", map[string]any{
		"sender_phone":   "88880001",
		"receiver_phone": "60000001",
		"amount":         -5,
		"currency":       "CRC",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidatePhone(t *testing.T) {
	r := newSinpeTestRouter(&mockRouter{}, testDirectory())

	w := doRequest(r, http.MethodGet, "/api/validate/60000001", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ACK", resp["status"])
	assert.Equal(t, "NB", resp["bank_code"])
	assert.Equal(t, "Maria Solis", resp["name"])

	w = doRequest(r, http.MethodGet, "/api/validate/70000000", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUserLink(t *testing.T) {
	r := newSinpeTestRouter(&mockRouter{}, testDirectory())

	w := doRequest(r, http.MethodGet, "/api/sinpe/user-link/ana", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var resp UserLinkResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Linked)
	assert.Equal(t, "88880001", resp.Phone)
	assert.Equal(t, "CB000000000001", resp.Account)

	w = doRequest(r, http.MethodGet, "/api/sinpe/user-link/benito", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var unlinked UserLinkResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &unlinked))
	assert.False(t, unlinked.Linked)
	assert.Empty(t, unlinked.Phone)
}
