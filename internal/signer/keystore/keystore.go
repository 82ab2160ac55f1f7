// Package keystore implements a file-backed signer over a secp256k1 key.
//
// The key file layout is salt || nonce || AEAD(key), with the file key derived
// from the passphrase via Argon2id and the payload sealed with
// XChaCha20-Poly1305.
package keystore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/avolkovv/relaypub/internal/errs"
	"github.com/avolkovv/relaypub/internal/model"
	"github.com/avolkovv/relaypub/internal/signer"
)

// Argon2id parameters for the file key.
const (
	saltLen = 16
	keyLen  = 32

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
)

// Signer signs events with an in-memory secp256k1 private key.
type Signer struct {
	priv   *secp256k1.PrivateKey
	pubkey string // x-only, lowercase hex
}

var _ signer.Signer = (*Signer)(nil)

// Generate creates a signer with a fresh random key.
func Generate() (*Signer, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return fromKey(priv), nil
}

// FromHex builds a signer from a 32-byte hex-encoded private key.
func FromHex(secret string) (*Signer, error) {
	raw, err := hex.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("decode key hex: %w", err)
	}
	if len(raw) != keyLen {
		return nil, fmt.Errorf("key must be %d bytes, got %d", keyLen, len(raw))
	}
	return fromKey(secp256k1.PrivKeyFromBytes(raw)), nil
}

func fromKey(priv *secp256k1.PrivateKey) *Signer {
	// Normalize to an even-y key so the 32-byte x-only identity determines
	// the verification key unambiguously.
	if priv.PubKey().SerializeCompressed()[0] == secp256k1.PubKeyFormatCompressedOdd {
		priv.Key.Negate()
	}
	compressed := priv.PubKey().SerializeCompressed()
	return &Signer{
		priv:   priv,
		pubkey: hex.EncodeToString(compressed[1:]),
	}
}

// PublicKey returns the x-only pubkey hex.
func (s *Signer) PublicKey(context.Context) (string, error) {
	return s.pubkey, nil
}

// Sign fills ev.PubKey (if empty), ev.ID, and ev.Sig.
func (s *Signer) Sign(_ context.Context, ev *model.Event) error {
	if ev.PubKey == "" {
		ev.PubKey = s.pubkey
	}
	if ev.PubKey != s.pubkey {
		return fmt.Errorf("%w: event pubkey %s does not match key", errs.ErrSigningRejected, ev.PubKey)
	}
	digest, err := ev.Hash()
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrSigningRejected, err)
	}
	sig, err := schnorr.Sign(s.priv, digest[:])
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrSigningRejected, err)
	}
	ev.ID = hex.EncodeToString(digest[:])
	ev.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// Verify reports whether ev.Sig is a valid signature over ev's canonical hash
// by ev.PubKey.
func Verify(ev *model.Event) (bool, error) {
	pubRaw, err := hex.DecodeString(ev.PubKey)
	if err != nil {
		return false, fmt.Errorf("decode pubkey: %w", err)
	}
	if len(pubRaw) != keyLen {
		return false, fmt.Errorf("pubkey must be %d bytes, got %d", keyLen, len(pubRaw))
	}
	// x-only identity implies the even-y point
	compressed := make([]byte, 0, keyLen+1)
	compressed = append(compressed, secp256k1.PubKeyFormatCompressedEven)
	compressed = append(compressed, pubRaw...)
	pub, err := secp256k1.ParsePubKey(compressed)
	if err != nil {
		return false, fmt.Errorf("parse pubkey: %w", err)
	}
	sigRaw, err := hex.DecodeString(ev.Sig)
	if err != nil {
		return false, fmt.Errorf("decode sig: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigRaw)
	if err != nil {
		return false, fmt.Errorf("parse sig: %w", err)
	}
	digest, err := ev.Hash()
	if err != nil {
		return false, err
	}
	return sig.Verify(digest[:], pub), nil
}

// Save writes the private key to path, sealed under the passphrase.
func (s *Signer) Save(path string, passphrase []byte) error {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	fileKey := argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, keyLen)
	aead, err := chacha20poly1305.NewX(fileKey)
	if err != nil {
		return err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return err
	}

	out := make([]byte, 0, saltLen+len(nonce)+keyLen+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, s.priv.Serialize(), nil)...)
	return os.WriteFile(path, out, 0o600)
}

// Load reads and unseals a key file written by Save. A missing file or a wrong
// passphrase surfaces as errs.ErrSignerUnavailable.
func Load(path string, passphrase []byte) (*Signer, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrSignerUnavailable, err)
	}
	if len(blob) < saltLen+chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: key file too short", errs.ErrSignerUnavailable)
	}
	salt := blob[:saltLen]
	nonce := blob[saltLen : saltLen+chacha20poly1305.NonceSizeX]
	ct := blob[saltLen+chacha20poly1305.NonceSizeX:]

	fileKey := argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, keyLen)
	aead, err := chacha20poly1305.NewX(fileKey)
	if err != nil {
		return nil, err
	}
	raw, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot unseal key file (wrong passphrase?)", errs.ErrSignerUnavailable)
	}
	if len(raw) != keyLen {
		return nil, errors.New("unsealed key has wrong length")
	}
	return fromKey(secp256k1.PrivKeyFromBytes(raw)), nil
}
