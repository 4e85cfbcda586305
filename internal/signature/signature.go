// Package signature computes and verifies the keyed digest that gates
// every interbank operation.
//
// Canonical form (part of the external wire contract): the payload
// struct is JSON-encoded with encoding/json, fields in declaration
// order, no extra whitespace, amounts as bare JSON numbers with no
// trailing zeros, and the hmac_md5 field omitted. The digest is
// HMAC-MD5 over those bytes, lowercase hex. Both sides must produce
// byte-identical canonical forms or verification fails.
package signature

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/MarconiCalvo/NetworksProject/internal/models"
)

// Signer holds the deployment's shared secret. Always constructed
// explicitly; the secret is never package-level state.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the digest of the payload's canonical form. The
// hmac_md5 field is excluded from the signed material.
func (s *Signer) Sign(p models.TransferPayload) string {
	p.HMACMD5 = ""
	return s.digest(p)
}

// Verify recomputes the digest and compares in constant time. A false
// result is a hard rejection; no error is ever returned.
func (s *Signer) Verify(p models.TransferPayload, digest string) bool {
	return s.equal(s.Sign(p), digest)
}

// SignPullFunds signs a pull-funds request with the same contract as
// transfers.
func (s *Signer) SignPullFunds(req models.PullFundsRequest) string {
	req.HMACMD5 = ""
	return s.digest(req)
}

// VerifyPullFunds checks a pull-funds request against its digest field.
func (s *Signer) VerifyPullFunds(req models.PullFundsRequest) bool {
	digest := req.HMACMD5
	req.HMACMD5 = ""
	return s.equal(s.digest(req), digest)
}

func (s *Signer) digest(v any) string {
	// Marshal cannot fail for the fixed payload shapes.
	canonical, _ := json.Marshal(v)
	mac := hmac.New(md5.New, s.secret)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Signer) equal(expected, got string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(got))) == 1
}
