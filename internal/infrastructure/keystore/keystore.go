// Package keystore provides signing key lookup for ledger calls. Keys are
// addressed by normalized wallet address through an explicit interface, never
// by string-formatted environment variable names.
package keystore

import (
	"fmt"

	"carboncred-backend/internal/pkg/wallet"

	"github.com/spf13/viper"
)

// SigningKeys resolves the signing key handle for an account.
type SigningKeys interface {
	Key(account string) (string, error)
}

// Static is a SigningKeys backed by an in-memory map loaded at startup.
type Static struct {
	keys map[string]string
}

// NewStatic builds a Static store; map keys are normalized before storage.
func NewStatic(keys map[string]string) *Static {
	normalized := make(map[string]string, len(keys))
	for acct, key := range keys {
		normalized[wallet.Normalize(acct)] = key
	}
	return &Static{keys: normalized}
}

// LoadFile reads a YAML key file of the form `keys: {address: keyhandle}`.
func LoadFile(path string) (*Static, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("keystore: read %s: %w", path, err)
	}
	return NewStatic(v.GetStringMapString("keys")), nil
}

// Key returns the signing key for account, or an error when none is known.
func (s *Static) Key(account string) (string, error) {
	k, ok := s.keys[wallet.Normalize(account)]
	if !ok {
		return "", fmt.Errorf("keystore: no signing key for account %s", wallet.Normalize(account))
	}
	return k, nil
}
