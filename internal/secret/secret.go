// Package secret implements row-level AEAD encryption for persisted
// OAuth client secrets, refresh tokens, and remote API keys.
package secret

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// nonceLen is the XChaCha20-Poly1305 nonce size. saltLen is the size of
// the random per-row salt, which is bound to the ciphertext as
// additional authenticated data (see aeadWithSalt); the AEAD key is
// always the master key.
const (
	nonceLen = chacha20poly1305.NonceSizeX
	saltLen  = 32
)

// ErrCorrupt is returned when exactly one or two of (enc, salt, nonce)
// are present instead of all three or none -- a data-corruption state
// that must never be silently recovered.
var ErrCorrupt = errors.New("secret: partial encryption trio (enc/salt/nonce must all be present or all nil)")

// Box holds a process-wide master key and encrypts/decrypts individual
// row values with a fresh random salt and nonce each time, so two rows
// holding the same plaintext never produce the same ciphertext.
type Box struct {
	masterKey []byte // 32 bytes
}

// New returns a Box keyed by masterKey, which must be exactly 32 bytes
// (e.g. loaded from BODHI_MASTER_KEY or generated once at setup).
func New(masterKey []byte) (*Box, error) {
	if len(masterKey) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("secret: master key must be %d bytes, got %d", chacha20poly1305.KeySize, len(masterKey))
	}
	b := &Box{masterKey: make([]byte, len(masterKey))}
	copy(b.masterKey, masterKey)
	return b, nil
}

// GenerateMasterKey returns a fresh random 32-byte key suitable for New,
// for use on first run when no BODHI_MASTER_KEY is configured.
func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("secret: generate master key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext under a fresh random salt and nonce. The
// returned (enc, salt, nonce) must be written together in one SQL
// statement -- never partially.
func (b *Box) Encrypt(plaintext []byte) (enc, salt, nonce []byte, err error) {
	salt = make([]byte, saltLen)
	if _, err = rand.Read(salt); err != nil {
		return nil, nil, nil, fmt.Errorf("secret: generate salt: %w", err)
	}

	aead, err := b.aeadForSalt(salt)
	if err != nil {
		return nil, nil, nil, err
	}

	nonce = make([]byte, nonceLen)
	if _, err = rand.Read(nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("secret: generate nonce: %w", err)
	}

	enc = aead.Seal(nil, nonce, plaintext, nil)
	return enc, salt, nonce, nil
}

// Decrypt opens a value previously sealed by Encrypt. All three inputs
// must be non-empty and of consistent length (callers that load
// mismatched enc/salt/nonce columns from the DB should treat that as
// ErrCorrupt before even calling Decrypt).
func (b *Box) Decrypt(enc, salt, nonce []byte) ([]byte, error) {
	if len(salt) != saltLen || len(nonce) != nonceLen || len(enc) == 0 {
		return nil, ErrCorrupt
	}
	aead, err := b.aeadForSalt(salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, enc, nil)
	if err != nil {
		return nil, fmt.Errorf("secret: decrypt: %w", err)
	}
	return plaintext, nil
}

// AllOrNothing reports whether (enc, salt, nonce) are consistently all
// present or all absent. Callers scanning a DB row must check this
// before decrypting -- a mixed state is ErrCorrupt, never silently
// treated as "no secret".
func AllOrNothing(enc, salt, nonce []byte) bool {
	present := len(enc) > 0
	if (len(salt) > 0) != present || (len(nonce) > 0) != present {
		return false
	}
	return true
}

// aeadForSalt returns a per-row AEAD instance keyed by the master key.
// The salt does not change the key: it participates as additional
// authenticated data, so a row's ciphertext cannot be decrypted under a
// different row's recorded salt. Per-row uniqueness comes from the
// random 24-byte XChaCha20 nonce.
func (b *Box) aeadForSalt(salt []byte) (*aeadWithSalt, error) {
	aead, err := chacha20poly1305.NewX(b.masterKey)
	if err != nil {
		return nil, fmt.Errorf("secret: init aead: %w", err)
	}
	return &aeadWithSalt{aead: aead, salt: salt}, nil
}

// aeadWithSalt binds the per-row salt as additional authenticated data
// so a crash-recovered row can never be decrypted with a mismatched
// salt column even though the master key is shared process-wide.
type aeadWithSalt struct {
	aead cipherAEAD
	salt []byte
}

type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

func (a *aeadWithSalt) Seal(dst, nonce, plaintext, _ []byte) []byte {
	return a.aead.Seal(dst, nonce, plaintext, a.salt)
}

func (a *aeadWithSalt) Open(dst, nonce, ciphertext, _ []byte) ([]byte, error) {
	return a.aead.Open(dst, nonce, ciphertext, a.salt)
}
