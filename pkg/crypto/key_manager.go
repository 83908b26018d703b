package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"
)

var (
	ErrKeyNotFound  = errors.New("encryption key not found")
	ErrKeyNotLoaded = errors.New("key manager not initialized")
)

const envKeyName = "MASTER_ENCRYPTION_KEY"

// KeyManager holds the encryptors for every configured key version so that
// credentials written under an older key stay readable after rotation.
// New writes always use the highest loaded version.
type KeyManager struct {
	mu         sync.RWMutex
	currentVer int
	encryptors map[int]*Encryptor
}

// NewKeyManager builds a KeyManager from the primary key (base64, usually
// config.MasterEncryptionKey) plus any rotated versions found in the
// environment as MASTER_ENCRYPTION_KEY_V2 .. _V10.
func NewKeyManager(primaryKeyBase64 string) (*KeyManager, error) {
	km := &KeyManager{
		encryptors: make(map[int]*Encryptor),
	}

	if primaryKeyBase64 == "" {
		primaryKeyBase64 = os.Getenv(envKeyName)
	}
	if primaryKeyBase64 == "" {
		return nil, fmt.Errorf("load primary key: %w", ErrKeyNotFound)
	}
	if err := km.addKey(1, primaryKeyBase64); err != nil {
		return nil, fmt.Errorf("load primary key: %w", err)
	}
	km.currentVer = 1

	for v := 2; v <= 10; v++ {
		encoded := os.Getenv(fmt.Sprintf("%s_V%d", envKeyName, v))
		if encoded == "" {
			continue
		}
		if err := km.addKey(v, encoded); err != nil {
			return nil, fmt.Errorf("load key v%d: %w", v, err)
		}
		km.currentVer = v
	}

	return km, nil
}

func (km *KeyManager) addKey(version int, encoded string) error {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode key: %w", err)
	}

	enc, err := NewEncryptor(key, version)
	if err != nil {
		return fmt.Errorf("create encryptor v%d: %w", version, err)
	}

	km.encryptors[version] = enc
	return nil
}

// Encrypt encrypts plaintext with the current (latest) key version.
func (km *KeyManager) Encrypt(plaintext string) (string, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()

	enc, ok := km.encryptors[km.currentVer]
	if !ok {
		return "", ErrKeyNotLoaded
	}
	return enc.Encrypt(plaintext)
}

// Decrypt decrypts ciphertext with whichever key version it was written under.
func (km *KeyManager) Decrypt(ciphertext string) (string, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()

	version := ParseVersion(ciphertext)
	if version == 0 {
		return "", ErrInvalidCiphertext
	}

	enc, ok := km.encryptors[version]
	if !ok {
		return "", fmt.Errorf("key version %d not available", version)
	}
	return enc.Decrypt(ciphertext)
}

// ReEncrypt rewrites a ciphertext under the current key version. Used when
// rotating stored credentials to a new master key.
func (km *KeyManager) ReEncrypt(ciphertext string) (string, error) {
	plaintext, err := km.Decrypt(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decrypt for re-encryption: %w", err)
	}
	return km.Encrypt(plaintext)
}

// CurrentVersion returns the key version used for new writes.
func (km *KeyManager) CurrentVersion() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.currentVer
}

// HasVersion reports whether a specific key version is loaded.
func (km *KeyManager) HasVersion(version int) bool {
	km.mu.RLock()
	defer km.mu.RUnlock()
	_, ok := km.encryptors[version]
	return ok
}

// GenerateKey returns a fresh random AES-256 key, base64 encoded for storage
// in the environment.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
