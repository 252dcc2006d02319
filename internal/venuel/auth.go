// Package venuel implements the Venue-L Client: a persistent duplex
// stream subscription to venue L's order book plus REST calls for order
// placement and account queries.
package venuel

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Auth holds the signing key configured for venue L. Venue L's REST
// surface used here (account query, order placement) does not require
// request signing, so Auth's role is limited to deriving the account
// address for diagnostics and holding the key for a future SDK path —
// mirrored from the teacher's key-parsing step in its own Auth
// constructor, minus the HMAC/EIP-712 request signing that venue F's
// bridge (not this client) is responsible for.
type Auth struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewAuth parses a hex-encoded ECDSA private key (with or without a 0x
// prefix) and derives its address.
func NewAuth(hexKey string) (*Auth, error) {
	keyHex := strings.TrimPrefix(hexKey, "0x")
	privateKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse venue-l private key: %w", err)
	}
	return &Auth{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// Address returns the signer's address, for logging and status reports.
func (a *Auth) Address() common.Address {
	return a.address
}
