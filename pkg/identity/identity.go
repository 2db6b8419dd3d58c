// Package identity provides the signing identity for outbound agent
// messages: an Ed25519 keypair with a stable address derived from the
// public key, canonical payload serialization, and detached signatures.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DefaultName is the fixed store key for the per-installation identity.
const DefaultName = "default"

var (
	// ErrNoPrivateKey is returned when signing without a private key.
	ErrNoPrivateKey = errors.New("identity has no private key")
	// ErrInvalidAddress is returned when an address is not a valid
	// hex-encoded Ed25519 public key.
	ErrInvalidAddress = errors.New("invalid address")
)

// Identity is an asymmetric signing keypair plus its derived address.
// Immutable once created; never rotated.
type Identity struct {
	// Address is the hex encoding of the Ed25519 public key. It doubles
	// as the verification key, so receivers can check signatures from
	// the address alone.
	Address    string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// Generate creates a fresh identity.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Identity{
		Address:    AddressFor(pub),
		PublicKey:  pub,
		PrivateKey: priv,
	}, nil
}

// AddressFor derives the stable address for a public key.
func AddressFor(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}

// Canonical serializes a payload with top-level keys sorted
// lexicographically. The same logical payload always canonicalizes to the
// same bytes regardless of construction order, which is what makes the
// detached signature verifiable from individually-transmitted fields.
func Canonical(payload map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		vb, err := json.Marshal(payload[k])
		if err != nil {
			return nil, fmt.Errorf("marshal value for %q: %w", k, err)
		}
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// Sign produces a hex-encoded detached signature over the canonical form
// of the payload.
func (id *Identity) Sign(payload map[string]any) (string, error) {
	if id == nil || len(id.PrivateKey) == 0 {
		return "", ErrNoPrivateKey
	}
	canonical, err := Canonical(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	sig := ed25519.Sign(id.PrivateKey, canonical)
	return hex.EncodeToString(sig), nil
}

// Verify checks a hex signature over the canonical form of payload against
// the signer's address. Returns false on any mismatch or malformed input;
// an error only for payloads that cannot be canonicalized.
func Verify(address string, payload map[string]any, signatureHex string) (bool, error) {
	pub, err := hex.DecodeString(address)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false, nil
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false, nil
	}
	canonical, err := Canonical(payload)
	if err != nil {
		return false, fmt.Errorf("canonicalize payload: %w", err)
	}
	return ed25519.Verify(ed25519.PublicKey(pub), canonical, sig), nil
}

// record is the at-rest serialization of an identity.
type record struct {
	Address    string `json:"address"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

func (id *Identity) marshal() ([]byte, error) {
	rec := record{
		Address:    id.Address,
		PublicKey:  hex.EncodeToString(id.PublicKey),
		PrivateKey: hex.EncodeToString(id.PrivateKey.Seed()),
	}
	return json.Marshal(rec)
}

func unmarshalIdentity(data []byte) (*Identity, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse identity record: %w", err)
	}
	seed, err := hex.DecodeString(rec.PrivateKey)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, errors.New("identity record has invalid private key")
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	addr := AddressFor(pub)
	if rec.Address != "" && rec.Address != addr {
		return nil, errors.New("identity record address does not match key")
	}
	return &Identity{Address: addr, PublicKey: pub, PrivateKey: priv}, nil
}
