// Package identity derives the agent's key pair and address from its seed phrase.
package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
)

const AddressPrefix = "agent1"

var (
	ErrEmptySeed      = errors.New("seed is empty")
	ErrInvalidAddress = errors.New("invalid agent address")
	ErrBadSignature   = errors.New("signature verification failed")

	addressEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)
)

// Identity is built once at startup and never changes afterwards.
type Identity struct {
	name    string
	address string
	key     ed25519.PrivateKey
}

func FromSeed(name string, seed string) (*Identity, error) {
	seed = strings.TrimSpace(seed)
	if seed == "" {
		return nil, ErrEmptySeed
	}

	sum := sha256.Sum256([]byte(seed))
	key := ed25519.NewKeyFromSeed(sum[:])

	pub, ok := key.Public().(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("derive public key")
	}

	return &Identity{
		name:    strings.TrimSpace(name),
		address: EncodeAddress(pub),
		key:     key,
	}, nil
}

func (i *Identity) Name() string {
	return i.name
}

func (i *Identity) Address() string {
	return i.address
}

func (i *Identity) Sign(data []byte) []byte {
	return ed25519.Sign(i.key, data)
}

func EncodeAddress(pub ed25519.PublicKey) string {
	return AddressPrefix + strings.ToLower(addressEncoding.EncodeToString(pub))
}

func PublicKey(address string) (ed25519.PublicKey, error) {
	encoded, ok := strings.CutPrefix(strings.TrimSpace(address), AddressPrefix)
	if !ok || encoded == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	raw, err := addressEncoding.DecodeString(strings.ToUpper(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrInvalidAddress, err)
	}

	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: unexpected key size %d", ErrInvalidAddress, len(raw))
	}

	return ed25519.PublicKey(raw), nil
}

// Verify checks that sig was produced over data by the key behind address.
func Verify(address string, data []byte, sig []byte) error {
	pub, err := PublicKey(address)
	if err != nil {
		return err
	}

	if !ed25519.Verify(pub, data, sig) {
		return ErrBadSignature
	}

	return nil
}
