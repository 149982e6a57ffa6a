package artifact

import (
	"fmt"
	"slices"
	"sync"

	"github.com/hupe1980/codepipe/core"
)

// InMemoryStore is an in-process ArtifactStore. Save replaces the previous
// bytes of an artifact. Data is copied on save and on retrieval so callers
// never share buffers with the store.
//
// Layout: session key -> artifactID -> bytes.
type InMemoryStore struct {
	mu        sync.RWMutex
	artifacts map[core.SessionKey]map[string][]byte
}

// NewInMemoryStore returns an empty in-memory artifact store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{artifacts: make(map[core.SessionKey]map[string][]byte)}
}

// Save stores data under the artifact id of the session.
func (a *InMemoryStore) Save(key core.SessionKey, artifactID string, data []byte) error {
	if key.SessionID == "" || key.UserID == "" || artifactID == "" {
		return fmt.Errorf("artifact: session key and artifact id are required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	m, ok := a.artifacts[key]
	if !ok {
		m = make(map[string][]byte)
		a.artifacts[key] = m
	}

	m[artifactID] = slices.Clone(data)

	return nil
}

// Get returns a copy of the stored bytes.
func (a *InMemoryStore) Get(key core.SessionKey, artifactID string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	data, ok := a.artifacts[key][artifactID]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrNotFound, key.UserID, key.SessionID, artifactID)
	}

	return slices.Clone(data), nil
}

// List returns the sorted artifact ids stored for the session.
func (a *InMemoryStore) List(key core.SessionKey) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ids := make([]string, 0, len(a.artifacts[key]))
	for id := range a.artifacts[key] {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids, nil
}

// Delete removes the artifact.
func (a *InMemoryStore) Delete(key core.SessionKey, artifactID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	m := a.artifacts[key]
	if _, ok := m[artifactID]; !ok {
		return fmt.Errorf("%w: %s/%s/%s", ErrNotFound, key.UserID, key.SessionID, artifactID)
	}

	delete(m, artifactID)

	return nil
}
