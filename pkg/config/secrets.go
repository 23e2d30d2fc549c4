package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// Secrets file layout: [salt][nonce][ciphertext+tag], AES-256-GCM with a
// scrypt-derived key.
const (
	secretsFileName = "secrets.json.enc"
	saltSize        = 16
	nonceSize       = 12
	gcmTagSize      = 16
	scryptN         = 32768
	scryptR         = 8
	scryptP         = 1
	keySize         = 32
)

// ErrWrongPassword is returned when the secrets file does not authenticate.
var ErrWrongPassword = errors.New("decryption failed (wrong password or corrupted file)")

//nolint:gochecknoglobals // process-wide unlocked secrets
var (
	unlocked   map[string]string
	unlockedMu sync.RWMutex
)

// SetDecryptedSecrets replaces the unlocked secrets. nil clears them.
func SetDecryptedSecrets(secrets map[string]string) {
	unlockedMu.Lock()
	defer unlockedMu.Unlock()
	unlocked = secrets
}

// GetSecret returns a secret by name: unlocked secrets first, then the environment.
func GetSecret(name string) (string, error) {
	unlockedMu.RLock()
	value := unlocked[name]
	unlockedMu.RUnlock()
	if value != "" {
		return value, nil
	}
	if value := os.Getenv(name); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("secret %s not found in secrets file or environment", name)
}

func secretsPath(projectDir string) string {
	return filepath.Join(projectDir, ProjectConfigDir, secretsFileName)
}

// SecretsFileExists reports whether an encrypted secrets file is present.
func SecretsFileExists(projectDir string) bool {
	_, err := os.Stat(secretsPath(projectDir))
	return err == nil
}

// aead derives the file key from password and salt. The derived key is
// zeroed before returning; the cipher keeps its own expanded copy.
func aead(password string, salt []byte) (cipher.AEAD, error) {
	pw := []byte(password)
	defer clear(pw)

	key, err := scrypt.Key(pw, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func seal(password string, plaintext []byte) ([]byte, error) {
	header := make([]byte, saltSize+nonceSize)
	if _, err := rand.Read(header); err != nil {
		return nil, fmt.Errorf("failed to generate salt and nonce: %w", err)
	}
	gcm, err := aead(password, header[:saltSize])
	if err != nil {
		return nil, err
	}
	return gcm.Seal(header, header[saltSize:], plaintext, nil), nil
}

func open(password string, data []byte) ([]byte, error) {
	if len(data) < saltSize+nonceSize+gcmTagSize {
		return nil, errors.New("secrets file is corrupted or invalid format (too small)")
	}
	gcm, err := aead(password, data[:saltSize])
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, data[saltSize:saltSize+nonceSize], data[saltSize+nonceSize:], nil)
	if err != nil {
		return nil, ErrWrongPassword
	}
	return plaintext, nil
}

// EncryptSecretsFile writes secrets to <projectDir>/.agentcore/secrets.json.enc
// with mode 0600. The file is replaced atomically.
func EncryptSecretsFile(projectDir, password string, secrets map[string]string) error {
	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}
	defer clear(plaintext)

	data, err := seal(password, plaintext)
	if err != nil {
		return err
	}

	path := secretsPath(projectDir)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", ProjectConfigDir, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace secrets file: %w", err)
	}
	return nil
}

// DecryptSecretsFile reads the file written by EncryptSecretsFile. Loose
// permissions are tightened to 0600 before reading.
func DecryptSecretsFile(projectDir, password string) (map[string]string, error) {
	path := secretsPath(projectDir)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets file: %w", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		getLogger().Warn("⚠️  Secrets file has permissions %04o, resetting to 0600", perm)
		if err := os.Chmod(path, 0600); err != nil {
			return nil, fmt.Errorf("failed to fix file permissions: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}
	plaintext, err := open(password, data)
	if err != nil {
		return nil, err
	}
	defer clear(plaintext)

	secrets := map[string]string{}
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("failed to parse secrets: %w", err)
	}
	return secrets, nil
}

// UnlockSecrets decrypts the project secrets file and makes its entries
// visible to GetSecret. A missing file is not an error.
func UnlockSecrets(projectDir, password string) (int, error) {
	if !SecretsFileExists(projectDir) {
		return 0, nil
	}
	secrets, err := DecryptSecretsFile(projectDir, password)
	if err != nil {
		return 0, err
	}
	SetDecryptedSecrets(secrets)
	getLogger().Info("🔐 Loaded %d secrets", len(secrets))
	return len(secrets), nil
}
