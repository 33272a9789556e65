// Package manifest produces and verifies signed attestations of inference reports.
package manifest

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"feed-attestor/internal/inference"
)

const ratifyTemplate = "Ratify Technical Strike: "

// Manifest binds a report hash to the oracle identity.
type Manifest struct {
	Hash      common.Hash
	Signature []byte
}

// SignatureHex is the 0x-prefixed signature.
func (m Manifest) SignatureHex() string {
	return hexutil.Encode(m.Signature)
}

// Signer signs reports with one identity.
type Signer struct {
	identity *Identity
}

// NewSigner returns a signer for identity.
func NewSigner(identity *Identity) (*Signer, error) {
	if identity == nil || identity.key == nil {
		return nil, fmt.Errorf("%w: signer requires an identity", ErrInvalidIdentity)
	}
	return &Signer{identity: identity}, nil
}

// Identity returns the signing identity.
func (s *Signer) Identity() *Identity {
	return s.identity
}

// Hash returns keccak256 of the canonical report encoding.
func Hash(r inference.Report) (common.Hash, error) {
	canonical, err := Canonical(r)
	if err != nil {
		return common.Hash{}, fmt.Errorf("canonicalise report: %w", err)
	}
	return crypto.Keccak256Hash(canonical), nil
}

// Sign hashes the report and signs the ratification message for that hash.
func (s *Signer) Sign(r inference.Report) (Manifest, error) {
	if r.IsZero() {
		return Manifest{}, errors.New("refusing to sign an empty report")
	}
	hash, err := Hash(r)
	if err != nil {
		return Manifest{}, err
	}
	sig, err := s.SignHash(hash)
	if err != nil {
		return Manifest{}, err
	}
	return Manifest{Hash: hash, Signature: sig}, nil
}

// SignHash signs "Ratify Technical Strike: <hash>" under the personal-message prefix.
// The recovery byte is 27 or 28.
func (s *Signer) SignHash(hash common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(messageDigest(hash), s.identity.key)
	if err != nil {
		return nil, fmt.Errorf("sign manifest: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RatifyMessage is the human-readable message signed for hash.
func RatifyMessage(hash common.Hash) string {
	return ratifyTemplate + hash.Hex()
}

func messageDigest(hash common.Hash) []byte {
	return accounts.TextHash([]byte(RatifyMessage(hash)))
}

// Recover returns the address that signed the ratification message for hash.
func Recover(hash common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(signature))
	}
	sig := make([]byte, len(signature))
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(messageDigest(hash), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify reports whether signature over hash was produced by address.
func Verify(hash common.Hash, signature []byte, address common.Address) (bool, error) {
	signer, err := Recover(hash, signature)
	if err != nil {
		return false, err
	}
	return signer == address, nil
}
