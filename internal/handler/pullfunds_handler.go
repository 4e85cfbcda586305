package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MarconiCalvo/NetworksProject/internal/ledger"
	"github.com/MarconiCalvo/NetworksProject/internal/middleware"
	"github.com/MarconiCalvo/NetworksProject/internal/models"
	"github.com/MarconiCalvo/NetworksProject/internal/peer"
	"github.com/MarconiCalvo/NetworksProject/internal/pullfunds"
)

// PullFundsService is the service slice the pull-funds entry points
// use.
type PullFundsService interface {
	HandleRequest(ctx context.Context, req models.PullFundsRequest) error
	Send(ctx context.Context, sr pullfunds.SendRequest) (string, error)
}

type PullFundsHandler struct {
	service PullFundsService
	log     *zap.Logger
}

func NewPullFundsHandler(service PullFundsService, log *zap.Logger) *PullFundsHandler {
	return &PullFundsHandler{service: service, log: log}
}

// Receive is the holding-bank side: another bank asks us to debit one
// of our accounts on its behalf.
func (h *PullFundsHandler) Receive(c *gin.Context) {
	var req models.PullFundsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		nack(c, http.StatusBadRequest, "invalid request body", "")
		return
	}
	switch {
	case req.AccountNumber == "" || req.Cedula == "" || req.RequestID == "":
		nack(c, http.StatusBadRequest, "missing required fields", req.RequestID)
		return
	case req.Amount.Sign() <= 0:
		nack(c, http.StatusBadRequest, "amount must be positive", req.RequestID)
		return
	case req.HMACMD5 == "":
		nack(c, http.StatusBadRequest, "missing hmac_md5", req.RequestID)
		return
	}

	err := h.service.HandleRequest(c.Request.Context(), req)
	switch {
	case err == nil:
		ack(c, http.StatusOK, "funds debited", req.RequestID)
	case errors.Is(err, pullfunds.ErrBadSignature):
		nack(c, http.StatusForbidden, "invalid signature, request rejected", req.RequestID)
	case errors.Is(err, ledger.ErrAccountNotFound):
		nack(c, http.StatusNotFound, "account not found", req.RequestID)
	case errors.Is(err, pullfunds.ErrOwnerMismatch):
		nack(c, http.StatusForbidden, "owner identifier does not match the account", req.RequestID)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		nack(c, http.StatusBadRequest, "insufficient funds", req.RequestID)
	default:
		h.log.Error("pull funds request failed", zap.String("request_id", req.RequestID), zap.Error(err))
		nack(c, http.StatusInternalServerError, "failed to process pull funds request", req.RequestID)
	}
}

type SendPullFundsRequest struct {
	BankCode           string          `json:"bank_code" validate:"required"`
	AccountNumber      string          `json:"account_number" validate:"required"`
	Cedula             string          `json:"cedula" validate:"required"`
	Amount             decimal.Decimal `json:"amount"`
	LocalAccountNumber string          `json:"local_account_number" validate:"required"`
}

// Send is the client-facing trigger: pull funds from an account at
// another bank into one of our own.
func (h *PullFundsHandler) Send(c *gin.Context) {
	var req SendPullFundsRequest
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

	requestID, err := h.service.Send(c.Request.Context(), pullfunds.SendRequest{
		RemoteBankCode:      req.BankCode,
		RemoteAccountNumber: req.AccountNumber,
		Cedula:              req.Cedula,
		Amount:              req.Amount,
		LocalAccountNumber:  req.LocalAccountNumber,
	})
	switch {
	case err == nil:
		ack(c, http.StatusOK, "funds received", requestID)
	case errors.Is(err, ledger.ErrAccountNotFound):
		nack(c, http.StatusNotFound, "local account not found", requestID)
	case errors.Is(err, peer.ErrUnknownPeer):
		nack(c, http.StatusInternalServerError, err.Error(), requestID)
	case errors.Is(err, peer.ErrRejected), errors.Is(err, peer.ErrUnreachable):
		nack(c, http.StatusBadGateway, err.Error(), requestID)
	default:
		h.log.Error("pull funds send failed", zap.String("request_id", requestID), zap.Error(err))
		nack(c, http.StatusInternalServerError, "failed to process pull funds request", requestID)
	}
}
