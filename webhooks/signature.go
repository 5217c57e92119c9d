package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"net/http"
	"strings"
)

const (
	SignatureHeader = "X-Hub-Signature-256"
	SignaturePrefix = "sha256="
)

// Reason explains a VerificationResult. Empty means the signature matched.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonMissingSignature   Reason = "missing_signature"
	ReasonMissingBody        Reason = "missing_body"
	ReasonMismatch           Reason = "mismatch"
	ReasonNoSecretConfigured Reason = "no_secret_configured"
)

type VerificationResult struct {
	Verified bool
	Reason   Reason
}

// Envelope is the raw material of one webhook request. Body holds the bytes exactly as
// received, captured before any parsing.
type Envelope struct {
	Headers http.Header
	Body    []byte
}

func (e Envelope) Signature() string {
	if e.Headers == nil {
		return ""
	}
	return e.Headers.Get(SignatureHeader)
}

// HMACVerifier checks "<prefix><hex(hmac(secret, body))>" headers.
type HMACVerifier struct {
	Prefix string
	Hash   func() hash.Hash
}

// DefaultVerifier matches the sha256=<hex> scheme.
func DefaultVerifier() HMACVerifier {
	return HMACVerifier{Prefix: SignaturePrefix, Hash: sha256.New}
}

// Verify is DefaultVerifier().Verify.
func Verify(rawBody []byte, signatureHeader string, secret []byte) VerificationResult {
	return DefaultVerifier().Verify(rawBody, signatureHeader, secret)
}

// Sign returns the header value a sender would compute for body.
func Sign(rawBody []byte, secret []byte) string {
	return DefaultVerifier().Sign(rawBody, secret)
}

func (v HMACVerifier) Verify(rawBody []byte, signatureHeader string, secret []byte) (result VerificationResult) {
	if len(secret) == 0 {
		return VerificationResult{Verified: true, Reason: ReasonNoSecretConfigured}
	}
	if strings.TrimSpace(signatureHeader) == "" {
		return VerificationResult{Reason: ReasonMissingSignature}
	}
	if len(rawBody) == 0 {
		return VerificationResult{Reason: ReasonMissingBody}
	}

	defer func() {
		if recover() != nil {
			result = VerificationResult{Reason: ReasonMismatch}
		}
	}()

	expected := v.Sign(rawBody, secret)
	provided := strings.TrimSpace(signatureHeader)
	// ConstantTimeCompare returns 0 on length mismatch without leaking timing on content.
	if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
		return VerificationResult{Reason: ReasonMismatch}
	}
	return VerificationResult{Verified: true}
}

func (v HMACVerifier) Sign(rawBody []byte, secret []byte) string {
	newHash := v.Hash
	if newHash == nil {
		newHash = sha256.New
	}
	mac := hmac.New(newHash, secret)
	_, _ = mac.Write(rawBody)
	return v.Prefix + hex.EncodeToString(mac.Sum(nil))
}
