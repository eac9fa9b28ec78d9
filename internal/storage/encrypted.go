package storage

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/org/journalgate/internal/crypto"
)

const flagKeyContext = "journalgate-flags-v1"

// EncryptedStore seals values with AES-256-GCM before handing them to the
// wrapped store. The key name is bound as additional data, so a value copied
// under another key fails to open.
type EncryptedStore struct {
	inner FlagStore
	key   []byte
}

// NewEncryptedStore derives the flag key from rootSecret and wraps inner.
func NewEncryptedStore(inner FlagStore, rootSecret []byte) (*EncryptedStore, error) {
	key, err := crypto.DeriveKey(rootSecret, flagKeyContext)
	if err != nil {
		return nil, err
	}
	return &EncryptedStore{inner: inner, key: key}, nil
}

// Get returns ErrCorrupt when the stored value fails to decode or authenticate.
func (e *EncryptedStore) Get(ctx context.Context, key string) (string, error) {
	raw, err := e.inner.Get(ctx, key)
	if err != nil {
		return "", err
	}
	blob, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	plain, err := crypto.Open(blob, e.key, []byte(key))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return string(plain), nil
}

func (e *EncryptedStore) Set(ctx context.Context, key, value string) error {
	blob, err := crypto.Seal([]byte(value), e.key, []byte(key))
	if err != nil {
		return err
	}
	return e.inner.Set(ctx, key, base64.StdEncoding.EncodeToString(blob))
}

func (e *EncryptedStore) Delete(ctx context.Context, key string) error {
	return e.inner.Delete(ctx, key)
}
