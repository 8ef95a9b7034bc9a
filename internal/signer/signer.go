// Package signer authenticates requests to the detector sidecar with
// secp256k1 signatures. The sidecar recomputes the digest from the request
// and checks the signature against the advertised requester address.
package signer

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// Signer produces deterministic (RFC 6979), low-S ECDSA signatures.
type Signer struct {
	key     *ecdsa.PrivateKey
	address string
}

// New creates a Signer from a hex-encoded private key (0x prefix optional).
func New(hexKey string) (*Signer, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("signer: invalid hex key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("signer: key must be 32 bytes, got %d", len(raw))
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}, nil
}

// Address is the requester address sent in X-Requester-Address.
func (s *Signer) Address() string {
	return s.address
}

// PublicKey returns the uncompressed public key bytes.
func (s *Signer) PublicKey() []byte {
	return crypto.FromECDSAPub(&s.key.PublicKey)
}

// Sign returns a base64 r||s signature over (payload, path) and the
// nanosecond timestamp that was bound into it.
func (s *Signer) Sign(payload []byte, path string) (sig string, tsNano int64) {
	ts := time.Now().UnixNano()
	return s.signAt(payload, path, ts), ts
}

func (s *Signer) signAt(payload []byte, path string, ts int64) string {
	digest := Digest(payload, path, ts)
	raw, err := crypto.Sign(digest, s.key)
	if err != nil {
		// Only fails for a malformed digest length, which Digest rules out.
		panic(fmt.Sprintf("signer: %v", err))
	}
	// Drop the recovery byte; the sidecar verifies against the known key.
	return base64.StdEncoding.EncodeToString(raw[:64])
}

// Digest is SHA256(hex(SHA256(payload)) || decimal(ts) || path).
func Digest(payload []byte, path string, ts int64) []byte {
	ph := sha256.Sum256(payload)
	input := hex.EncodeToString(ph[:]) + strconv.FormatInt(ts, 10) + path
	d := sha256.Sum256([]byte(input))
	return d[:]
}
