// Package didkey decodes and encodes did:key identifiers (spec §4.1
// resolve_did_key). A did:key embeds its own public key as a
// multicodec-prefixed, multibase-base58btc-encoded byte string; no network
// lookup is ever required to resolve one.
package didkey

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/multiformats/go-multibase"

	"github.com/jeswr/lws-core/internal/jwkutil"
)

// Prefix is the required scheme prefix for all did:key identifiers.
const Prefix = "did:key:"

// Multicodec prefixes recognized by resolve_did_key (spec §4.1). Each is the
// literal two-byte sequence preceding the raw public key bytes.
var (
	codecEd25519   = [2]byte{0xED, 0x01}
	codecP256      = [2]byte{0x12, 0x00}
	codecSecp256k1 = [2]byte{0xEC, 0x01}
)

// ErrNotDIDKey is returned when the identifier does not begin with "did:key:".
var ErrNotDIDKey = fmt.Errorf("didkey: identifier does not begin with %q", Prefix)

// ErrUnsupportedKeyType mirrors spec §4.1's UNSUPPORTED_KEY_TYPE: the
// multicodec prefix is not one of the three supported key types.
var ErrUnsupportedKeyType = fmt.Errorf("didkey: unsupported multicodec key type")

// ErrUnsupportedKeyFormat mirrors spec §4.1's UNSUPPORTED_KEY_FORMAT: a
// recognized EC key type encoded in an unsupported point format (e.g.
// compressed points, which implementations may reject per spec §9).
var ErrUnsupportedKeyFormat = fmt.Errorf("didkey: unsupported key point format")

// Resolve decodes a did:key identifier into a verification key.
func Resolve(did string) (jwkutil.Key, error) {
	if !strings.HasPrefix(did, Prefix) {
		return jwkutil.Key{}, ErrNotDIDKey
	}
	suffix := did[len(Prefix):]

	_, data, err := multibase.Decode(suffix)
	if err != nil {
		return jwkutil.Key{}, fmt.Errorf("didkey: decode multibase: %w", err)
	}
	if len(data) < 2 {
		return jwkutil.Key{}, fmt.Errorf("didkey: key data too short")
	}

	prefix := [2]byte{data[0], data[1]}
	keyBytes := data[2:]

	switch prefix {
	case codecEd25519:
		if len(keyBytes) != ed25519.PublicKeySize {
			return jwkutil.Key{}, fmt.Errorf("didkey: Ed25519 key must be %d bytes, got %d", ed25519.PublicKeySize, len(keyBytes))
		}
		return jwkutil.FromPublicKeyJWK(jwkutil.PublicKeyJWK{
			Kty: jwkutil.KtyOKP,
			Crv: jwkutil.CrvEd25519,
			Alg: jwkutil.AlgEdDSA,
			Kid: did,
			X:   b64(keyBytes),
		})

	case codecP256:
		x, y, err := decodeUncompressedPoint(keyBytes, 32)
		if err != nil {
			return jwkutil.Key{}, err
		}
		return jwkutil.FromPublicKeyJWK(jwkutil.PublicKeyJWK{
			Kty: jwkutil.KtyEC,
			Crv: jwkutil.CrvP256,
			Alg: jwkutil.AlgES256,
			Kid: did,
			X:   b64(x),
			Y:   b64(y),
		})

	case codecSecp256k1:
		x, y, err := decodeUncompressedPoint(keyBytes, 32)
		if err != nil {
			return jwkutil.Key{}, err
		}
		return jwkutil.FromPublicKeyJWK(jwkutil.PublicKeyJWK{
			Kty: jwkutil.KtyEC,
			Crv: jwkutil.CrvSecp256k1,
			Alg: jwkutil.AlgES256K,
			Kid: did,
			X:   b64(x),
			Y:   b64(y),
		})

	default:
		return jwkutil.Key{}, fmt.Errorf("%w: prefix %#v", ErrUnsupportedKeyType, prefix)
	}
}

// decodeUncompressedPoint requires a leading 0x04 byte and 2*coordByteLen
// following bytes, rejecting compressed points per spec §4.1/§9.
func decodeUncompressedPoint(data []byte, coordByteLen int) (x, y []byte, err error) {
	want := 1 + 2*coordByteLen
	if len(data) != want {
		if len(data) == 1+coordByteLen {
			return nil, nil, fmt.Errorf("%w: compressed point not supported", ErrUnsupportedKeyFormat)
		}
		return nil, nil, fmt.Errorf("didkey: unexpected EC point length %d", len(data))
	}
	if data[0] != 0x04 {
		return nil, nil, fmt.Errorf("%w: expected uncompressed point prefix 0x04, got %#x", ErrUnsupportedKeyFormat, data[0])
	}
	return data[1 : 1+coordByteLen], data[1+coordByteLen:], nil
}

func b64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Encode is the inverse of Resolve: given a previously-resolved key, it
// reconstructs the did:key identifier string. Used to check the pure-function
// round-trip property required by spec §8.
func Encode(key jwkutil.Key) (string, error) {
	jwk := key.ToPublicKeyJWK()

	var prefix [2]byte
	var body []byte

	switch {
	case jwk.Kty == jwkutil.KtyOKP && jwk.Crv == jwkutil.CrvEd25519:
		prefix = codecEd25519
		x, err := base64.RawURLEncoding.DecodeString(jwk.X)
		if err != nil {
			return "", err
		}
		body = x

	case jwk.Kty == jwkutil.KtyEC && jwk.Crv == jwkutil.CrvP256:
		prefix = codecP256
		x, y, err := decodeXY(jwk)
		if err != nil {
			return "", err
		}
		body = append([]byte{0x04}, append(x, y...)...)

	case jwk.Kty == jwkutil.KtyEC && jwk.Crv == jwkutil.CrvSecp256k1:
		prefix = codecSecp256k1
		x, y, err := decodeXY(jwk)
		if err != nil {
			return "", err
		}
		body = append([]byte{0x04}, append(x, y...)...)

	default:
		return "", fmt.Errorf("%w: kty=%s crv=%s", ErrUnsupportedKeyType, jwk.Kty, jwk.Crv)
	}

	data := append([]byte{prefix[0], prefix[1]}, body...)
	encoded, err := multibase.Encode(multibase.Base58BTC, data)
	if err != nil {
		return "", fmt.Errorf("didkey: encode multibase: %w", err)
	}
	return Prefix + encoded, nil
}

func decodeXY(jwk jwkutil.PublicKeyJWK) (x, y []byte, err error) {
	x, err = base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, nil, err
	}
	y, err = base64.RawURLEncoding.DecodeString(jwk.Y)
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}
