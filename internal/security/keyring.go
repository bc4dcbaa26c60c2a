package security

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "slackmind"
	vaultFile      = "vault.enc"
	saltFile       = "vault.salt"
	vaultPurpose   = "secrets"
)

// ErrSecretNotFound is returned when neither the keyring nor the vault
// holds the secret.
var ErrSecretNotFound = errors.New("secret not found")

// KeyStore manages secure storage of bot credentials.
// Primary: OS keyring. Fallback: encrypted file.
type KeyStore struct {
	encryptionKey []byte // derived from master password
	vaultPath     string
	useKeyring    bool
}

// NewKeyStore creates a key store whose vault lives in dir.
// masterKey is the AES key derived from the master password (may be nil
// if only the keyring is used).
func NewKeyStore(dir string, masterKey []byte) (*KeyStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &KeyStore{
		encryptionKey: masterKey,
		vaultPath:     filepath.Join(dir, vaultFile),
		useKeyring:    true,
	}, nil
}

// OpenKeyStore derives the vault key from password, creating the salt on
// first use. An empty password disables the vault.
func OpenKeyStore(dir, password string) (*KeyStore, error) {
	if password == "" {
		return NewKeyStore(dir, nil)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	saltPath := filepath.Join(dir, saltFile)
	salt, err := os.ReadFile(saltPath)
	if errors.Is(err, os.ErrNotExist) {
		if salt, err = GenerateSalt(); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
		if err := os.WriteFile(saltPath, salt, 0o600); err != nil {
			return nil, fmt.Errorf("write salt: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	return NewKeyStore(dir, DeriveKey(password, salt))
}

// WithoutKeyring makes the store use only the encrypted vault.
func (ks *KeyStore) WithoutKeyring() *KeyStore {
	ks.useKeyring = false
	return ks
}

// Set stores a secret (tries keyring first, falls back to encrypted file).
func (ks *KeyStore) Set(name, value string) error {
	if ks.useKeyring {
		if err := keyring.Set(keyringService, name, value); err == nil {
			return nil
		}
	}
	return ks.setInVault(name, value)
}

// Get retrieves a secret.
func (ks *KeyStore) Get(name string) (string, error) {
	if ks.useKeyring {
		if val, err := keyring.Get(keyringService, name); err == nil {
			return val, nil
		}
	}
	return ks.getFromVault(name)
}

// Delete removes a secret.
func (ks *KeyStore) Delete(name string) error {
	if ks.useKeyring {
		_ = keyring.Delete(keyringService, name)
	}
	return ks.deleteFromVault(name)
}

// Vault operations (encrypted JSON file)
func (ks *KeyStore) loadVault() (map[string]string, error) {
	data, err := os.ReadFile(ks.vaultPath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}

	if ks.encryptionKey == nil {
		return nil, fmt.Errorf("no encryption key set")
	}

	seal, err := newSealer(ks.encryptionKey, vaultPurpose)
	if err != nil {
		return nil, err
	}
	plaintext, err := seal.Open(string(data))
	if err != nil {
		return nil, fmt.Errorf("decrypt vault: %w", err)
	}

	var vault map[string]string
	if err := json.Unmarshal(plaintext, &vault); err != nil {
		return nil, fmt.Errorf("parse vault: %w", err)
	}
	return vault, nil
}

func (ks *KeyStore) saveVault(vault map[string]string) error {
	if ks.encryptionKey == nil {
		return fmt.Errorf("no encryption key set")
	}

	data, err := json.Marshal(vault)
	if err != nil {
		return err
	}

	seal, err := newSealer(ks.encryptionKey, vaultPurpose)
	if err != nil {
		return err
	}
	encrypted, err := seal.Seal(data)
	if err != nil {
		return err
	}

	return os.WriteFile(ks.vaultPath, []byte(encrypted), 0o600)
}

func (ks *KeyStore) setInVault(name, value string) error {
	vault, err := ks.loadVault()
	if errors.Is(err, ErrWrongPassword) {
		return err
	}
	if err != nil {
		vault = make(map[string]string)
	}
	vault[name] = value
	return ks.saveVault(vault)
}

func (ks *KeyStore) getFromVault(name string) (string, error) {
	vault, err := ks.loadVault()
	if err != nil {
		return "", err
	}
	val, ok := vault[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return val, nil
}

func (ks *KeyStore) deleteFromVault(name string) error {
	vault, err := ks.loadVault()
	if err != nil {
		return nil // nothing to delete
	}
	delete(vault, name)
	return ks.saveVault(vault)
}
