package sealed

import (
	"context"
	"fmt"
	"sync"

	"filippo.io/age"
)

// StaticKeyring serves identities from memory. A fallback identity, when
// set, is used for every organization without its own entry.
type StaticKeyring struct {
	mu       sync.RWMutex
	byOrg    map[string]*age.X25519Identity
	fallback *age.X25519Identity
}

func NewStaticKeyring(fallback *age.X25519Identity) *StaticKeyring {
	return &StaticKeyring{byOrg: make(map[string]*age.X25519Identity), fallback: fallback}
}

// Add registers the identity of one organization.
func (k *StaticKeyring) Add(orgID string, id *age.X25519Identity) {
	k.mu.Lock()
	k.byOrg[orgID] = id
	k.mu.Unlock()
}

func (k *StaticKeyring) Identity(_ context.Context, orgID string) (*age.X25519Identity, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if id, ok := k.byOrg[orgID]; ok {
		return id, nil
	}
	if k.fallback != nil {
		return k.fallback, nil
	}
	return nil, fmt.Errorf("no identity for org %q", orgID)
}
