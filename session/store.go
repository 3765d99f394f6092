package session

import (
	"errors"
	"fmt"
	"sync"
)

// Storage keys written by the login flow of the mobile app.
const (
	StorageSessionID      = "sessionId"
	StorageUserID         = "userId"
	StorageOrganizationID = "organizationId"
	StorageGroupCallURL   = "apiGroupCallURL"
)

var ErrNotFound = errors.New("session: key not found")

// Store is the read-only view of the device key-value storage.
type Store interface {
	GetString(key string) (string, error)
}

// Load builds a snapshot from storage. Missing keys yield empty fields; any
// other storage error aborts the load.
func Load(store Store) (*Context, error) {
	var vals [3]string
	for i, key := range []string{StorageSessionID, StorageUserID, StorageOrganizationID} {
		v, err := store.GetString(key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("load %s: %w", key, err)
		}
		vals[i] = v
	}
	return New(vals[0], vals[1], vals[2]), nil
}

// GroupCallURL reads the conferencing base URL the signaling client combines
// with room references.
func GroupCallURL(store Store) (string, error) {
	v, err := store.GetString(StorageGroupCallURL)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

// MapStore is an in-memory Store.
type MapStore struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMapStore(values map[string]string) *MapStore {
	m := make(map[string]string, len(values))
	for k, v := range values {
		m[k] = v
	}
	return &MapStore{m: m}
}

func (s *MapStore) GetString(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return v, nil
}

func (s *MapStore) SetString(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

var _ Store = &MapStore{}
