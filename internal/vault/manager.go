package vault

import (
	"fmt"
	"strings"

	"github.com/mtzanidakis/maestros/internal/store"
)

// secretPrefix marks a config or env value as a secret reference:
// "secret:<name>" resolves to the decrypted value at use time.
const secretPrefix = "secret:"

// Manager combines the cipher with the store's secrets table and resolves
// secret references in configuration values.
type Manager struct {
	cipher *Cipher
	store  *store.Store
}

func NewManager(cipher *Cipher, s *store.Store) *Manager {
	return &Manager{cipher: cipher, store: s}
}

func (m *Manager) Set(name, description, value string) error {
	ciphertext, nonce, err := m.cipher.Seal([]byte(value))
	if err != nil {
		return fmt.Errorf("seal secret %s: %w", name, err)
	}
	return m.store.SaveSecret(&store.Secret{
		Name:        name,
		Description: description,
		Value:       ciphertext,
		Nonce:       nonce,
	})
}

func (m *Manager) Get(name string) (string, error) {
	sec, err := m.store.GetSecret(name)
	if err != nil {
		return "", err
	}
	if sec == nil {
		return "", fmt.Errorf("unknown secret %q", name)
	}
	plaintext, err := m.cipher.Open(sec.Value, sec.Nonce)
	if err != nil {
		return "", fmt.Errorf("open secret %s: %w", name, err)
	}
	return string(plaintext), nil
}

// List returns secret metadata only.
func (m *Manager) List() ([]store.Secret, error) {
	return m.store.ListSecrets()
}

func (m *Manager) Delete(name string) error {
	return m.store.DeleteSecret(name)
}

// ResolveEnv replaces every "secret:<name>" value in an environment map
// with its decrypted secret. A missing secret fails the whole resolution
// rather than passing the literal reference to an agent.
func (m *Manager) ResolveEnv(env map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(env))
	for key, value := range env {
		name, ok := strings.CutPrefix(value, secretPrefix)
		if !ok {
			out[key] = value
			continue
		}
		resolved, err := m.Get(name)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", key, err)
		}
		out[key] = resolved
	}
	return out, nil
}
