// Package registry holds the in-memory mapping from recipient names to push tokens.
package registry

import (
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
)

// TokenSuffix is the last segment of every token state id.
const TokenSuffix = ".token"

// UsersStateID is the state (relative to the namespace) holding the serialized snapshot.
const UsersStateID = "users"

// Registry maps a recipient name to its current push token.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func New() *Registry {
	return &Registry{tokens: make(map[string]string)}
}

// Upsert inserts or overwrites the token for name.
func (r *Registry) Upsert(name, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[name] = token
}

// Remove deletes the entry for name. Unknown names are ignored.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, name)
}

// Resolve looks up the token for name.
func (r *Registry) Resolve(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, ok := r.tokens[name]
	return token, ok
}

// All yields a snapshot of every (name, token) pair taken when iteration starts.
// The sequence can be ranged over more than once.
func (r *Registry) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		r.mu.RLock()
		snapshot := maps.Clone(r.tokens)
		r.mu.RUnlock()

		for name, token := range snapshot {
			if !yield(name, token) {
				return
			}
		}
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}

// Names returns the registered recipient names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.tokens))
}

// Serialize encodes the full mapping as a JSON object.
func (r *Registry) Serialize() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, err := json.Marshal(r.tokens)
	if err != nil {
		return "", fmt.Errorf("failed to serialize registry: %w", err)
	}
	return string(b), nil
}

// Deserialize replaces the mapping with the one encoded in data.
// On malformed input the registry is left empty and ErrStateCorrupt is returned.
func (r *Registry) Deserialize(data string) error {
	restored := make(map[string]string)
	err := json.Unmarshal([]byte(data), &restored)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.tokens = make(map[string]string)
		return fmt.Errorf("%w: cannot parse stored user ids: %v", dispatch.ErrStateCorrupt, err)
	}
	if restored == nil {
		// "null" decodes into a nil map
		restored = make(map[string]string)
	}
	r.tokens = restored
	return nil
}

// ParseTokenStateID extracts the user name from a token state id of the form
// <namespace>.<user>.token. It reports false for any other id.
func ParseTokenStateID(namespace, id string) (string, bool) {
	prefix := namespace + "."
	if len(id) <= len(prefix)+len(TokenSuffix) {
		return "", false
	}
	if !strings.HasPrefix(id, prefix) || !strings.HasSuffix(id, TokenSuffix) {
		return "", false
	}
	return id[len(prefix) : len(id)-len(TokenSuffix)], true
}

// TokenStateID is the inverse of ParseTokenStateID.
func TokenStateID(namespace, user string) string {
	return namespace + "." + user + TokenSuffix
}
