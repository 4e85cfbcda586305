package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MarconiCalvo/NetworksProject/internal/directory"
	"github.com/MarconiCalvo/NetworksProject/internal/middleware"
	"github.com/MarconiCalvo/NetworksProject/internal/models"
)

// PhoneDirectory is the resolver slice the SINPE entry points use.
type PhoneDirectory interface {
	FindSubscription(ctx context.Context, phone string) (*models.PhoneSubscription, error)
	FindLinkForUser(ctx context.Context, username string) (*models.PhoneLink, error)
}

// SinpeHandler serves the phone-addressed transfer flow: the
// peer-facing intake, the client-facing initiation, and the directory
// lookups.
type SinpeHandler struct {
	router    Router
	signer    PayloadSigner
	dir       PhoneDirectory
	localBank string
	log       *zap.Logger
}

func NewSinpeHandler(router Router, signer PayloadSigner, dir PhoneDirectory, localBank string, log *zap.Logger) *SinpeHandler {
	return &SinpeHandler{router: router, signer: signer, dir: dir, localBank: localBank, log: log}
}

// ReceiveSinpeMovil is the peer-facing intake for phone-based
// transfers. Signature failures answer 403 on this route.
func (h *SinpeHandler) ReceiveSinpeMovil(c *gin.Context) {
	var p models.TransferPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		nack(c, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if msg := missingPayloadFields(p); msg != "" {
		nack(c, http.StatusBadRequest, msg, p.TransactionID)
		return
	}
	if p.Sender.Kind() != models.PhoneIdentity || p.Receiver.Kind() != models.PhoneIdentity {
		nack(c, http.StatusBadRequest, "both parties need a phone number", p.TransactionID)
		return
	}

	if !h.signer.Verify(p, p.HMACMD5) {
		h.log.Warn("sinpe transfer rejected: invalid signature",
			zap.String("transaction_id", p.TransactionID))
		nack(c, http.StatusForbidden, "invalid signature, transfer rejected", p.TransactionID)
		return
	}

	res, err := h.router.RoutePhone(c.Request.Context(), p)
	if err != nil {
		respondRouteError(c, p.TransactionID, err)
		return
	}
	ack(c, http.StatusOK, res.Message, res.TransactionID)
}

type SinpeTransferRequest struct {
	SenderPhone   string          `json:"sender_phone" validate:"required"`
	ReceiverPhone string          `json:"receiver_phone" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency" validate:"required"`
	Description   string          `json:"description"`
}

// InitiateSinpe is the client-facing initiation: build a signed payload
// from the request and route it, which may call out to a peer bank.
func (h *SinpeHandler) InitiateSinpe(c *gin.Context) {
	var req SinpeTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		nack(c, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}
	if req.Amount.Sign() <= 0 {
		nack(c, http.StatusBadRequest, "amount must be positive", "")
		return
	}

	sub, err := h.dir.FindSubscription(c.Request.Context(), req.ReceiverPhone)
	if errors.Is(err, directory.ErrNotFound) {
		nack(c, http.StatusNotFound, "receiver phone is not registered with SINPE Móvil", "")
		return
	}
	if err != nil {
		nack(c, http.StatusInternalServerError, "failed to resolve receiver", "")
		return
	}

	senderName, _ := c.Get("name")
	name, _ := senderName.(string)

	p := models.TransferPayload{
		Version:       "1.0",
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		TransactionID: uuid.NewString(),
		Sender: models.Party{
			PhoneNumber: req.SenderPhone,
			BankCode:    h.localBank,
			Name:        name,
		},
		Receiver: models.Party{
			PhoneNumber: req.ReceiverPhone,
			BankCode:    sub.BankCode,
			Name:        sub.ClientName,
		},
		Amount:      models.Amount{Value: req.Amount, Currency: req.Currency},
		Description: req.Description,
	}
	p.HMACMD5 = h.signer.Sign(p)

	res, err := h.router.RoutePhone(c.Request.Context(), p)
	if err != nil {
		respondRouteError(c, p.TransactionID, err)
		return
	}
	ack(c, http.StatusOK, res.Message, res.TransactionID)
}

// ValidatePhone answers whether a phone number is registered in the
// national directory.
func (h *SinpeHandler) ValidatePhone(c *gin.Context) {
	phone := c.Param("phone")

	sub, err := h.dir.FindSubscription(c.Request.Context(), phone)
	if errors.Is(err, directory.ErrNotFound) {
		nack(c, http.StatusNotFound, "phone not registered", "")
		return
	}
	if err != nil {
		nack(c, http.StatusInternalServerError, "failed to look up phone", "")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ACK",
		"message":   "phone registered",
		"name":      sub.ClientName,
		"bank_code": sub.BankCode,
		"phone":     sub.Phone,
	})
}

type UserLinkResponse struct {
	Linked  bool   `json:"linked"`
	Phone   string `json:"phone,omitempty"`
	Account string `json:"account,omitempty"`
}

// UserLink reports whether any of a user's accounts has a phone link.
func (h *SinpeHandler) UserLink(c *gin.Context) {
	username := c.Param("username")

	link, err := h.dir.FindLinkForUser(c.Request.Context(), username)
	if errors.Is(err, directory.ErrNotFound) {
		c.JSON(http.StatusOK, UserLinkResponse{Linked: false})
		return
	}
	if err != nil {
		nack(c, http.StatusInternalServerError, "failed to look up user link", "")
		return
	}

	c.JSON(http.StatusOK, UserLinkResponse{
		Linked:  true,
		Phone:   link.Phone,
		Account: link.AccountNumber,
	})
}
