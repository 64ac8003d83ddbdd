package address

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
)

// Base58check prefixes used on Mavryk. Keys and signatures share their
// prefixes with other Tezos family chains, account addresses do not.
var (
	PrefixMV1 = []byte{5, 186, 196} // ed25519 public key hash
	PrefixMV2 = []byte{5, 186, 199} // secp256k1 public key hash
	PrefixMV3 = []byte{5, 186, 201} // p256 public key hash
	PrefixKT1 = []byte{2, 90, 121}  // originated contract

	PrefixEd25519PublicKey   = []byte{13, 15, 37, 217}      // edpk
	PrefixEd25519Seed        = []byte{13, 15, 58, 7}        // edsk, 32 byte seed
	PrefixEd25519SecretKey   = []byte{43, 246, 78, 7}       // edsk, seed and public key
	PrefixEd25519Signature   = []byte{9, 245, 205, 134, 18} // edsig
	PrefixSecp256k1PublicKey = []byte{3, 254, 226, 86}      // sppk
	PrefixSecp256k1SecretKey = []byte{17, 162, 224, 201}    // spsk
	PrefixSecp256k1Signature = []byte{13, 115, 101, 19, 63} // spsig1
	PrefixBlockHash          = []byte{1, 52}                // B
	PrefixOperationHash      = []byte{5, 116}               // o
)

// hashLength is the size of a public key hash or contract hash.
const hashLength = 20

var implicitPrefixes = [][]byte{PrefixMV1, PrefixMV2, PrefixMV3}

func checksum(data []byte) []byte {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return second[:4]
}

// Encode renders prefix and payload as a base58check string.
func Encode(prefix, payload []byte) string {
	data := make([]byte, 0, len(prefix)+len(payload)+4)
	data = append(data, prefix...)
	data = append(data, payload...)
	return base58.Encode(append(data, checksum(data)...))
}

// Decode checks the base58check string s and returns its payload, which must
// follow prefix and be size bytes long.
func Decode(s string, prefix []byte, size int) ([]byte, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalid, s, err)
	}

	if len(raw) < 4 {
		return nil, fmt.Errorf("%w: %q is too short", ErrInvalid, s)
	}

	body, sum := raw[:len(raw)-4], raw[len(raw)-4:]
	if !bytes.Equal(checksum(body), sum) {
		return nil, fmt.Errorf("%w: %q", ErrBadChecksum, s)
	}

	if len(body) != len(prefix)+size || !bytes.HasPrefix(body, prefix) {
		return nil, fmt.Errorf("%w: %q has the wrong prefix or length", ErrInvalid, s)
	}

	return body[len(prefix):], nil
}

func decodeAny(s string, size int, prefixes ...[]byte) ([]byte, error) {
	var err error
	for _, prefix := range prefixes {
		var payload []byte
		if payload, err = Decode(s, prefix, size); err == nil {
			return payload, nil
		}
	}

	return nil, err
}
