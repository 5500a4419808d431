package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

var (
	// ErrDecryptionFailed is returned when AES-GCM authentication fails,
	// meaning the ciphertext was corrupted or tampered with.
	ErrDecryptionFailed = errors.New("payload decryption failed")
	// ErrUnknownTenant is returned when no key material exists for a tenant
	ErrUnknownTenant = errors.New("no key for tenant")
)

// Keyring resolves tenant-scoped encryption keys. Keys never leave the
// server side; customer-facing clients only ever see decrypted payloads.
type Keyring interface {
	Key(tenantID string) ([]byte, error)
}

// DerivedKeyring derives per-tenant AES-256 keys from a single master
// key with HMAC-SHA256. Rotating the master key invalidates every
// tenant key at once.
type DerivedKeyring struct {
	master []byte
}

// NewDerivedKeyring creates a keyring from a base64-encoded master key
func NewDerivedKeyring(masterB64 string) (*DerivedKeyring, error) {
	master, err := base64.StdEncoding.DecodeString(masterB64)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(master) < 32 {
		return nil, errors.New("master key must be at least 32 bytes")
	}
	return &DerivedKeyring{master: master}, nil
}

// Key returns the AES-256 key for a tenant
func (k *DerivedKeyring) Key(tenantID string) ([]byte, error) {
	if tenantID == "" {
		return nil, ErrUnknownTenant
	}
	mac := hmac.New(sha256.New, k.master)
	mac.Write([]byte("menulink/tenant/" + tenantID))
	return mac.Sum(nil), nil
}

// Vault encrypts and decrypts menu payloads with tenant-scoped AES-GCM
type Vault struct {
	keyring Keyring
}

// NewVault creates a new Vault
func NewVault(keyring Keyring) *Vault {
	return &Vault{keyring: keyring}
}

// Seal serializes the payload to JSON and encrypts it for the tenant.
// A fresh random 12-byte nonce is generated per encryption.
func (v *Vault) Seal(tenantID string, payload any) (ciphertext, nonce []byte, err error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}

	key, err := v.keyring.Key(tenantID)
	if err != nil {
		return nil, nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}

	ciphertext = aesgcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Open decrypts a payload sealed for the tenant and unmarshals the
// JSON into v2. Authentication failure surfaces as ErrDecryptionFailed
// so callers can classify tampering.
func (v *Vault) Open(tenantID string, ciphertext, nonce []byte, v2 any) error {
	key, err := v.keyring.Key(tenantID)
	if err != nil {
		return err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return ErrDecryptionFailed
	}

	return json.Unmarshal(plaintext, v2)
}

// argon2id parameters for access-code hashing
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// HashAccessCode hashes an access code with argon2id and a fresh salt
func HashAccessCode(code string) (hash string, salt []byte, err error) {
	salt = make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", nil, err
	}
	sum := argon2.IDKey([]byte(code), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return hex.EncodeToString(sum), salt, nil
}

// VerifyAccessCode compares a supplied code against the stored hash in
// constant time. A wrong code and a missing code are indistinguishable
// to the caller beyond the boolean.
func VerifyAccessCode(code, storedHash string, salt []byte) bool {
	stored, err := hex.DecodeString(storedHash)
	if err != nil {
		return false
	}
	sum := argon2.IDKey([]byte(code), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(sum, stored) == 1
}

// NewURLToken mints an opaque unguessable url token. 32 random bytes,
// base64url without padding.
func NewURLToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashIP hashes a client IP for attempt tracking so raw addresses are
// never stored alongside security events.
func HashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:8])
}
