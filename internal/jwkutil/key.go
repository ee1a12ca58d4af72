// Package jwkutil provides a uniform verification-key abstraction shared by
// the identifier resolver, the did:key decoder, and the subject-token
// validators. CID documents and did:key identifiers can carry OKP
// (Ed25519), EC P-256, or EC secp256k1 keys; go-jose's own JSONWebKey
// understands the first two but not secp256k1, so this package owns parsing
// and verification for all three uniformly.
package jwkutil

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secp256k1ecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Key types recognized by this package, matching spec §4.1.
const (
	KtyOKP = "OKP"
	KtyEC  = "EC"
)

// Curve/algorithm names recognized by this package.
const (
	CrvEd25519   = "Ed25519"
	CrvP256      = "P-256"
	CrvSecp256k1 = "secp256k1"
	AlgEdDSA     = "EdDSA"
	AlgES256     = "ES256"
	AlgES256K    = "ES256K"
)

// ErrAlgKeyMismatch is returned when a JWT's declared alg is inconsistent
// with the verification key's type (spec §4.4 ALG_KEY_MISMATCH).
var ErrAlgKeyMismatch = fmt.Errorf("jwkutil: alg inconsistent with key type")

// ErrUnsupportedKeyType covers any kty/crv combination this package does not
// implement (spec §4.1 UNSUPPORTED_KEY_TYPE).
var ErrUnsupportedKeyType = fmt.Errorf("jwkutil: unsupported key type")

// Key is a parsed public verification key together with the metadata the
// spec requires callers to check (kid, declared alg).
type Key struct {
	Kty string
	Crv string
	Alg string
	Kid string

	ed25519Pub   ed25519.PublicKey
	ecdsaPub     *ecdsa.PublicKey
	secp256k1Pub *secp256k1.PublicKey
}

// PublicKeyJWK mirrors the JSON shape of a VerificationMethod's publicKeyJwk
// (spec §3), with the fields needed to reconstruct all three supported key
// types. Unlike jose.JSONWebKey, it tolerates crv=secp256k1.
type PublicKeyJWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
}

// ParsePublicJWK decodes a publicKeyJwk object into a Key.
func ParsePublicJWK(raw json.RawMessage) (Key, error) {
	var j PublicKeyJWK
	if err := json.Unmarshal(raw, &j); err != nil {
		return Key{}, fmt.Errorf("jwkutil: decode public key jwk: %w", err)
	}
	return FromPublicKeyJWK(j)
}

// FromPublicKeyJWK builds a Key from an already-decoded PublicKeyJWK.
func FromPublicKeyJWK(j PublicKeyJWK) (Key, error) {
	switch j.Kty {
	case KtyOKP:
		if j.Crv != CrvEd25519 {
			return Key{}, fmt.Errorf("%w: OKP crv %q", ErrUnsupportedKeyType, j.Crv)
		}
		x, err := b64(j.X)
		if err != nil {
			return Key{}, fmt.Errorf("jwkutil: decode x: %w", err)
		}
		if len(x) != ed25519.PublicKeySize {
			return Key{}, fmt.Errorf("jwkutil: Ed25519 x must be %d bytes, got %d", ed25519.PublicKeySize, len(x))
		}
		return Key{Kty: j.Kty, Crv: j.Crv, Alg: j.Alg, Kid: j.Kid, ed25519Pub: ed25519.PublicKey(x)}, nil

	case KtyEC:
		x, err := b64(j.X)
		if err != nil {
			return Key{}, fmt.Errorf("jwkutil: decode x: %w", err)
		}
		y, err := b64(j.Y)
		if err != nil {
			return Key{}, fmt.Errorf("jwkutil: decode y: %w", err)
		}
		switch j.Crv {
		case CrvP256:
			pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: new(big.Int).SetBytes(x), Y: new(big.Int).SetBytes(y)}
			return Key{Kty: j.Kty, Crv: j.Crv, Alg: j.Alg, Kid: j.Kid, ecdsaPub: pub}, nil
		case CrvSecp256k1:
			fx := new(secp256k1.FieldVal)
			fy := new(secp256k1.FieldVal)
			fx.SetByteSlice(x)
			fy.SetByteSlice(y)
			pub := secp256k1.NewPublicKey(fx, fy)
			return Key{Kty: j.Kty, Crv: j.Crv, Alg: j.Alg, Kid: j.Kid, secp256k1Pub: pub}, nil
		default:
			return Key{}, fmt.Errorf("%w: EC crv %q", ErrUnsupportedKeyType, j.Crv)
		}
	default:
		return Key{}, fmt.Errorf("%w: kty %q", ErrUnsupportedKeyType, j.Kty)
	}
}

// CheckAlg verifies that alg is consistent with the key's type, rejecting
// cross-type algorithm confusion (e.g. a P-256 key claimed under ES256K).
func (k Key) CheckAlg(alg string) error {
	switch {
	case k.ed25519Pub != nil:
		if alg != AlgEdDSA {
			return fmt.Errorf("%w: OKP/Ed25519 key used with %s", ErrAlgKeyMismatch, alg)
		}
	case k.ecdsaPub != nil:
		if alg != AlgES256 {
			return fmt.Errorf("%w: EC/P-256 key used with %s", ErrAlgKeyMismatch, alg)
		}
	case k.secp256k1Pub != nil:
		if alg != AlgES256K {
			return fmt.Errorf("%w: EC/secp256k1 key used with %s", ErrAlgKeyMismatch, alg)
		}
	default:
		return fmt.Errorf("%w: empty key", ErrAlgKeyMismatch)
	}
	return nil
}

// Verify checks signature over signingInput (the JWT's "header.payload"
// ASCII bytes) using alg, which must already have passed CheckAlg.
func (k Key) Verify(alg string, signingInput, signature []byte) error {
	if err := k.CheckAlg(alg); err != nil {
		return err
	}
	switch alg {
	case AlgEdDSA:
		if !ed25519.Verify(k.ed25519Pub, signingInput, signature) {
			return fmt.Errorf("jwkutil: EdDSA signature verification failed")
		}
		return nil
	case AlgES256:
		if len(signature) != 64 {
			return fmt.Errorf("jwkutil: ES256 signature must be 64 bytes, got %d", len(signature))
		}
		r := new(big.Int).SetBytes(signature[:32])
		s := new(big.Int).SetBytes(signature[32:])
		h := sha256.Sum256(signingInput)
		if !ecdsa.Verify(k.ecdsaPub, h[:], r, s) {
			return fmt.Errorf("jwkutil: ES256 signature verification failed")
		}
		return nil
	case AlgES256K:
		if len(signature) != 64 {
			return fmt.Errorf("jwkutil: ES256K signature must be 64 bytes, got %d", len(signature))
		}
		r := new(secp256k1.ModNScalar)
		s := new(secp256k1.ModNScalar)
		r.SetByteSlice(signature[:32])
		s.SetByteSlice(signature[32:])
		sig := secp256k1ecdsa.NewSignature(r, s)
		h := sha256.Sum256(signingInput)
		if !sig.Verify(h[:], k.secp256k1Pub) {
			return fmt.Errorf("jwkutil: ES256K signature verification failed")
		}
		return nil
	default:
		return fmt.Errorf("jwkutil: unsupported alg %q", alg)
	}
}

func b64(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// CryptoPublicKey returns the key in the form go-jose's jwt package expects
// for signature verification: ed25519.PublicKey for EdDSA, *ecdsa.PublicKey
// for ES256. It reports ok=false for secp256k1, which go-jose has no
// verifier for; callers must fall back to Verify for that curve.
func (k Key) CryptoPublicKey() (any, bool) {
	switch {
	case k.ed25519Pub != nil:
		return k.ed25519Pub, true
	case k.ecdsaPub != nil:
		return k.ecdsaPub, true
	default:
		return nil, false
	}
}

// ToPublicKeyJWK reconstructs the JSON-serializable JWK form of the key,
// the inverse of FromPublicKeyJWK/ParsePublicJWK.
func (k Key) ToPublicKeyJWK() PublicKeyJWK {
	out := PublicKeyJWK{Kty: k.Kty, Crv: k.Crv, Alg: k.Alg, Kid: k.Kid}
	switch {
	case k.ed25519Pub != nil:
		out.X = base64.RawURLEncoding.EncodeToString(k.ed25519Pub)
	case k.ecdsaPub != nil:
		size := (k.ecdsaPub.Curve.Params().BitSize + 7) / 8
		out.X = base64.RawURLEncoding.EncodeToString(padTo(k.ecdsaPub.X.Bytes(), size))
		out.Y = base64.RawURLEncoding.EncodeToString(padTo(k.ecdsaPub.Y.Bytes(), size))
	case k.secp256k1Pub != nil:
		raw := k.secp256k1Pub.SerializeUncompressed() // 0x04 || X(32) || Y(32)
		out.X = base64.RawURLEncoding.EncodeToString(raw[1:33])
		out.Y = base64.RawURLEncoding.EncodeToString(raw[33:65])
	}
	return out
}

func padTo(b []byte, size int) []byte {
	if len(b) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}
