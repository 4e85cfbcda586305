package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MarconiCalvo/NetworksProject/internal/directory"
	"github.com/MarconiCalvo/NetworksProject/internal/ledger"
	"github.com/MarconiCalvo/NetworksProject/internal/peer"
	"github.com/MarconiCalvo/NetworksProject/internal/routing"
)

// AckResponse is the envelope every protocol endpoint answers with. The
// transaction id is always echoed so callers can correlate retries.
type AckResponse struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id,omitempty"`
}

func ack(c *gin.Context, code int, message, txID string) {
	c.JSON(code, AckResponse{Status: "ACK", Message: message, TransactionID: txID})
}

func nack(c *gin.Context, code int, message, txID string) {
	c.JSON(code, AckResponse{Status: "NACK", Message: message, TransactionID: txID})
}

// respondRouteError maps the protocol error taxonomy onto HTTP. Every
// branch before a mutation has already left the ledger untouched; the
// peer branches answer only after compensation ran.
func respondRouteError(c *gin.Context, txID string, err error) {
	switch {
	case errors.Is(err, routing.ErrMalformedPayload):
		nack(c, http.StatusBadRequest, err.Error(), txID)
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, directory.ErrNotFound):
		nack(c, http.StatusNotFound, err.Error(), txID)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		nack(c, http.StatusUnprocessableEntity, err.Error(), txID)
	case errors.Is(err, ledger.ErrCurrencyMismatch),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, routing.ErrTransitNotAllowed):
		nack(c, http.StatusBadRequest, err.Error(), txID)
	case errors.Is(err, routing.ErrTransactionReversed):
		nack(c, http.StatusConflict, err.Error(), txID)
	case errors.Is(err, routing.ErrCompensationFailed):
		nack(c, http.StatusInternalServerError, err.Error(), txID)
	case errors.Is(err, peer.ErrUnknownPeer):
		nack(c, http.StatusInternalServerError, err.Error(), txID)
	case errors.Is(err, peer.ErrUnreachable), errors.Is(err, peer.ErrRejected):
		nack(c, http.StatusBadGateway, err.Error(), txID)
	default:
		nack(c, http.StatusInternalServerError, "failed to process transfer", txID)
	}
}
