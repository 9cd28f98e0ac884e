// Package identity verifies agent signing tokens. The lifecycle layer
// treats a Signature as opaque; this package is the pluggable verifier
// the coordinator consults at the signing boundary.
package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"

	"agentpact/pkg/domain"
	"agentpact/pkg/reporthash"
)

var (
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrInvalidEncoding      = errors.New("invalid encoding")
	ErrInvalidSignature     = errors.New("invalid signature")
)

// Verifier checks ed25519 signing tokens. The signed message is the
// canonical SHA-256 of {contract_id, agent_id}, so a token is bound to
// one agent on one contract and cannot be replayed across either.
type Verifier struct{}

func (Verifier) Verify(contractID string, sig domain.Signature) error {
	if strings.ToLower(strings.TrimSpace(sig.Algorithm)) != "ed25519" {
		return ErrUnsupportedAlgorithm
	}
	hashHex, _, err := reporthash.CanonicalSHA256(map[string]any{
		"contract_id": contractID,
		"agent_id":    sig.AgentID,
	})
	if err != nil {
		return err
	}
	message, err := hex.DecodeString(hashHex)
	if err != nil {
		return ErrInvalidEncoding
	}

	publicKey, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sig.PublicKey))
	if err != nil {
		return ErrInvalidEncoding
	}
	token, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sig.Token))
	if err != nil {
		return ErrInvalidEncoding
	}
	if len(publicKey) != ed25519.PublicKeySize || len(token) != ed25519.SignatureSize {
		return ErrInvalidEncoding
	}
	if !ed25519.Verify(ed25519.PublicKey(publicKey), message, token) {
		return ErrInvalidSignature
	}
	return nil
}

// SignToken produces a token Verify accepts. Used by tests and pactctl;
// production agents sign with their own keys.
func SignToken(contractID, agentID string, priv ed25519.PrivateKey) (string, error) {
	hashHex, _, err := reporthash.CanonicalSHA256(map[string]any{
		"contract_id": contractID,
		"agent_id":    agentID,
	})
	if err != nil {
		return "", err
	}
	message, err := hex.DecodeString(hashHex)
	if err != nil {
		return "", ErrInvalidEncoding
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, message)), nil
}
