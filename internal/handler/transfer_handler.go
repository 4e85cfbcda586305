package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarconiCalvo/NetworksProject/internal/models"
	"github.com/MarconiCalvo/NetworksProject/internal/routing"
)

// Router is the routing-engine slice the transfer entry points use.
type Router interface {
	Route(ctx context.Context, p models.TransferPayload) (*routing.Result, error)
	RoutePhone(ctx context.Context, p models.TransferPayload) (*routing.Result, error)
}

// PayloadSigner is the signature-service slice the entry points use.
type PayloadSigner interface {
	Sign(p models.TransferPayload) string
	Verify(p models.TransferPayload, digest string) bool
}

// TransferHandler serves the account-number-based interbank intake and
// the co-signing convenience endpoint.
type TransferHandler struct {
	router Router
	signer PayloadSigner
	log    *zap.Logger
}

func NewTransferHandler(router Router, signer PayloadSigner, log *zap.Logger) *TransferHandler {
	return &TransferHandler{router: router, signer: signer, log: log}
}

// ReceiveTransfer is the peer-facing intake for account-based
// transfers: verify the digest, route, answer ACK/NACK.
func (h *TransferHandler) ReceiveTransfer(c *gin.Context) {
	var p models.TransferPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		nack(c, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if msg := missingPayloadFields(p); msg != "" {
		nack(c, http.StatusBadRequest, msg, p.TransactionID)
		return
	}

	if !h.signer.Verify(p, p.HMACMD5) {
		h.log.Warn("transfer rejected: invalid signature",
			zap.String("transaction_id", p.TransactionID))
		nack(c, http.StatusUnauthorized, "invalid signature, transfer rejected", p.TransactionID)
		return
	}

	res, err := h.router.Route(c.Request.Context(), p)
	if err != nil {
		respondRouteError(c, p.TransactionID, err)
		return
	}
	ack(c, http.StatusOK, res.Message, res.TransactionID)
}

// GenerateHMAC co-signs a payload for trusted front-ends. Internal
// convenience only; never exposed to peer banks.
func (h *TransferHandler) GenerateHMAC(c *gin.Context) {
	var p models.TransferPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		nack(c, http.StatusBadRequest, "invalid request body", "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"hmac_md5": h.signer.Sign(p)})
}

// missingPayloadFields reports what makes a payload unprocessable, or
// "" when it is complete. Runs before signature verification so a
// garbled payload gets a 400, not a 401.
func missingPayloadFields(p models.TransferPayload) string {
	switch {
	case p.Version == "" || p.Timestamp == "" || p.TransactionID == "":
		return "missing required fields"
	case p.Sender.Kind() == models.UnknownIdentity:
		return "sender needs an account number or phone number"
	case p.Receiver.Kind() == models.UnknownIdentity:
		return "receiver needs an account number or phone number"
	case p.Amount.Currency == "":
		return "missing amount currency"
	case p.Amount.Value.Sign() <= 0:
		return "amount must be positive"
	case p.HMACMD5 == "":
		return "missing hmac_md5"
	}
	return ""
}
