package mavryk

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/address"
	"golang.org/x/crypto/blake2b"
)

var (
	ErrUnsupportedKey = errors.New("mavryk: only unencrypted edsk and spsk secret keys are supported")
	ErrKeyMismatch    = errors.New("mavryk: secret key does not match its embedded public key")
)

// watermarkGeneric prefixes every signed manager operation.
const watermarkGeneric = 0x03

// signer holds the faucet key. Exactly one of ed and sp is set.
type signer struct {
	ed ed25519.PrivateKey
	sp *ecdsa.PrivateKey
}

// parseKey decodes a base58check secret key: an ed25519 seed or expanded key
// (edsk) or a secp256k1 key (spsk).
func parseKey(encoded string) (*signer, error) {
	switch {
	case strings.HasPrefix(encoded, "edsk"):
		if seed, err := address.Decode(encoded, address.PrefixEd25519Seed, ed25519.SeedSize); err == nil {
			return &signer{ed: ed25519.NewKeyFromSeed(seed)}, nil
		}

		full, err := address.Decode(encoded, address.PrefixEd25519SecretKey, ed25519.PrivateKeySize)
		if err != nil {
			return nil, err
		}

		key := ed25519.NewKeyFromSeed(full[:ed25519.SeedSize])
		if !bytes.Equal(key, full) {
			return nil, ErrKeyMismatch
		}

		return &signer{ed: key}, nil
	case strings.HasPrefix(encoded, "spsk"):
		raw, err := address.Decode(encoded, address.PrefixSecp256k1SecretKey, 32)
		if err != nil {
			return nil, err
		}

		key, err := crypto.ToECDSA(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnsupportedKey, err)
		}

		return &signer{sp: key}, nil
	default:
		return nil, ErrUnsupportedKey
	}
}

func (s *signer) publicKeyBytes() []byte {
	if s.ed != nil {
		return s.ed.Public().(ed25519.PublicKey)
	}
	return crypto.CompressPubkey(&s.sp.PublicKey)
}

// publicKey is the base58check public key a reveal operation publishes.
func (s *signer) publicKey() string {
	if s.ed != nil {
		return address.Encode(address.PrefixEd25519PublicKey, s.publicKeyBytes())
	}
	return address.Encode(address.PrefixSecp256k1PublicKey, s.publicKeyBytes())
}

// address is the mv1 or mv2 account of the key.
func (s *signer) address() string {
	h, err := blake2b.New(20, nil)
	if err != nil {
		// Only fails for sizes outside 1..64.
		panic(err)
	}
	h.Write(s.publicKeyBytes())

	prefix := address.PrefixMV1
	if s.sp != nil {
		prefix = address.PrefixMV2
	}

	return address.Encode(prefix, h.Sum(nil))
}

// sign returns the 64 byte signature of a forged operation.
func (s *signer) sign(forged []byte) ([]byte, error) {
	digest := blake2b.Sum256(append([]byte{watermarkGeneric}, forged...))

	if s.ed != nil {
		return ed25519.Sign(s.ed, digest[:]), nil
	}

	sig, err := crypto.Sign(digest[:], s.sp)
	if err != nil {
		return nil, fmt.Errorf("mavryk: can't sign operation: %w", err)
	}

	// Drop the recovery id, the chain wants plain r || s.
	return sig[:64], nil
}
