package manifest

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidIdentity means the signing key is missing or malformed.
var ErrInvalidIdentity = errors.New("invalid oracle identity")

const agentIDPrefix = "agent:metagit:8004-TEE-Oracle:"

// Identity is the oracle's signing key and its derived address. Construct it once at
// startup and pass it to whatever needs to sign.
type Identity struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// LoadIdentity parses a hex-encoded secp256k1 private key, with or without 0x prefix.
func LoadIdentity(hexKey string) (*Identity, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("%w: private key not configured", ErrInvalidIdentity)
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		// the parse error can echo key material; keep it out of the message
		return nil, fmt.Errorf("%w: private key is not a valid secp256k1 hex key", ErrInvalidIdentity)
	}
	return &Identity{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address is the public address signatures recover to.
func (i *Identity) Address() common.Address {
	return i.address
}

// AgentID is the identity string advertised by the façade.
func (i *Identity) AgentID() string {
	return agentIDPrefix + i.address.Hex()
}

// String renders the address only.
func (i *Identity) String() string {
	return i.address.Hex()
}
