// Package crypto provides encrypted credential storage and request signing
// for the Upbit and Binance REST APIs.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// saltLen is the random salt length in bytes.
	saltLen = 16
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
	// currentVersion is the encrypted-credentials JSON schema version.
	currentVersion = 1
)

// Credentials is a venue API key pair.
type Credentials struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
}

// encryptedCredsJSON is the on-disk format for an encrypted key pair.
type encryptedCredsJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`       // base64 standard encoding
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// CredentialConfig carries the information LoadCredentials needs to resolve a
// venue key pair. Populate the fields from environment variables or a config
// file.
type CredentialConfig struct {
	// AccessKey and SecretKey are the plaintext credentials. If both are
	// non-empty, LoadCredentials returns them directly.
	AccessKey string
	SecretKey string

	// EncryptedPath is the path to a JSON file produced by EncryptCredentials.
	EncryptedPath string

	// Password is used to decrypt the file at EncryptedPath.
	Password string
}

// EncryptCredentials encrypts a venue key pair with a password using
// PBKDF2-HMAC-SHA256 key derivation and AES-256-GCM authenticated encryption.
// It returns the JSON blob suitable for writing to disk.
func EncryptCredentials(creds Credentials, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	if creds.AccessKey == "" || creds.SecretKey == "" {
		return nil, errors.New("crypto: both access and secret keys are required")
	}

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("crypto: encoding credentials: %w", err)
	}

	// Generate random salt and derive AES key.
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	// AES-256-GCM encrypt.
	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	out := encryptedCredsJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}

	return json.MarshalIndent(out, "", "  ")
}

// DecryptCredentials decrypts a JSON blob produced by EncryptCredentials.
func DecryptCredentials(encryptedJSON []byte, password string) (Credentials, error) {
	if password == "" {
		return Credentials{}, errors.New("crypto: password must not be empty")
	}

	var stored encryptedCredsJSON
	if err := json.Unmarshal(encryptedJSON, &stored); err != nil {
		return Credentials{}, fmt.Errorf("crypto: parsing encrypted credentials JSON: %w", err)
	}
	if stored.Version != currentVersion {
		return Credentials{}, fmt.Errorf("crypto: unsupported version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return Credentials{}, fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return Credentials{}, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return Credentials{}, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return Credentials{}, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Credentials{}, fmt.Errorf("crypto: creating GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Credentials{}, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return Credentials{}, fmt.Errorf("crypto: decoding decrypted credentials: %w", err)
	}
	return creds, nil
}

// LoadCredentials resolves a venue key pair from the provided configuration.
//
// Resolution order:
//  1. If AccessKey and SecretKey are both set, return them directly.
//  2. If EncryptedPath is set, read the file and decrypt with Password.
//  3. Otherwise, return an error.
func LoadCredentials(cfg CredentialConfig) (Credentials, error) {
	// 1. Plaintext keys take precedence.
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		return Credentials{AccessKey: cfg.AccessKey, SecretKey: cfg.SecretKey}, nil
	}

	// 2. Encrypted key file.
	if cfg.EncryptedPath != "" {
		data, err := os.ReadFile(cfg.EncryptedPath)
		if err != nil {
			return Credentials{}, fmt.Errorf("crypto: reading encrypted credentials file: %w", err)
		}
		return DecryptCredentials(data, cfg.Password)
	}

	return Credentials{}, errors.New("crypto: no credential source configured (set keys or encrypted_key_path)")
}
