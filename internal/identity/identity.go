// Package identity issues the self-asserted device token a client uses as its author
// string. The token carries no capability; it only distinguishes own messages from others.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// StorageKey is the local storage key the token is persisted under.
const StorageKey = "chatDeviceId"

var (
	errMissingStorage = errors.New("identity: storage is required")
	errEmptyToken     = errors.New("identity: generated token is empty")
)

// Identity is an opaque per-device token.
type Identity string

// String returns the token.
func (i Identity) String() string {
	return string(i)
}

// IsZero reports whether the identity has not been established.
func (i Identity) IsZero() bool {
	return strings.TrimSpace(string(i)) == ""
}

// Storage is client-local persistent key-value storage.
type Storage interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// ProviderConfig describes the dependencies of a Provider.
type ProviderConfig struct {
	Storage   Storage
	Generator func() (string, error)
}

// Provider resolves the device identity from storage, creating it on first use.
type Provider struct {
	mu       sync.Mutex
	storage  Storage
	generate func() (string, error)
	cached   Identity
}

// NewProvider constructs a Provider. Without a Generator, random UUIDs are issued.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if cfg.Storage == nil {
		return nil, errMissingStorage
	}
	generate := cfg.Generator
	if generate == nil {
		generate = newRandomToken
	}
	return &Provider{storage: cfg.Storage, generate: generate}, nil
}

// GetOrCreateIdentity returns the persisted token, generating and persisting one when
// storage holds none.
func (p *Provider) GetOrCreateIdentity() (Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.cached.IsZero() {
		return p.cached, nil
	}

	stored, ok, err := p.storage.Get(StorageKey)
	if err != nil {
		return "", fmt.Errorf("identity: read %s: %w", StorageKey, err)
	}
	if ok && strings.TrimSpace(stored) != "" {
		p.cached = Identity(strings.TrimSpace(stored))
		return p.cached, nil
	}

	token, err := p.generate()
	if err != nil {
		return "", fmt.Errorf("identity: generate: %w", err)
	}
	if strings.TrimSpace(token) == "" {
		return "", errEmptyToken
	}
	if err := p.storage.Set(StorageKey, token); err != nil {
		return "", fmt.Errorf("identity: persist %s: %w", StorageKey, err)
	}
	p.cached = Identity(token)
	return p.cached, nil
}

func newRandomToken() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
