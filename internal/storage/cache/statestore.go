// Package cache stores host states in Redis, either as the primary store or
// as a read-aside cache in front of another StateStore.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
)

// ErrMiss is returned by CacheClient.Get when the key does not exist.
var ErrMiss = errors.New("cache miss")

const keyPrefix = "state:"

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns ErrMiss if the key is not found.
	Get(ctx context.Context, key string, dest any) error
	// Set stores the value with a TTL. Zero means no expiry.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	// Keys returns every key matching a glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// StateStore keeps host states directly in Redis.
type StateStore struct {
	client CacheClient
}

func NewStateStore(client CacheClient) *StateStore {
	return &StateStore{client: client}
}

func (s *StateStore) GetState(ctx context.Context, id string) (dispatch.State, bool, error) {
	var st dispatch.State
	err := s.client.Get(ctx, stateKey(id), &st)
	if errors.Is(err, ErrMiss) {
		return dispatch.State{}, false, nil
	}
	if err != nil {
		return dispatch.State{}, false, fmt.Errorf("redis get %s: %w", id, err)
	}
	return st, true, nil
}

func (s *StateStore) SetState(ctx context.Context, id string, st dispatch.State) error {
	if err := s.client.Set(ctx, stateKey(id), st, 0); err != nil {
		return fmt.Errorf("redis set %s: %w", id, err)
	}
	return nil
}

func (s *StateStore) DeleteState(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, stateKey(id)); err != nil {
		return fmt.Errorf("redis del %s: %w", id, err)
	}
	return nil
}

func (s *StateStore) ScanStates(ctx context.Context, prefix, suffix string) (map[string]dispatch.State, error) {
	keys, err := s.client.Keys(ctx, keyPrefix+escapeGlob(prefix)+"*"+escapeGlob(suffix))
	if err != nil {
		return nil, err
	}

	out := make(map[string]dispatch.State, len(keys))
	for _, key := range keys {
		var st dispatch.State
		if err := s.client.Get(ctx, key, &st); err != nil {
			// deleted between SCAN and GET
			if errors.Is(err, ErrMiss) {
				continue
			}
			return nil, fmt.Errorf("redis get %s: %w", key, err)
		}
		out[strings.TrimPrefix(key, keyPrefix)] = st
	}
	return out, nil
}

// CachedStateStore is a Decorator that adds Read-Aside caching to any StateStore.
type CachedStateStore struct {
	realStore dispatch.StateStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedStateStore(realStore dispatch.StateStore, cache CacheClient, ttl time.Duration) *CachedStateStore {
	return &CachedStateStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedStateStore) GetState(ctx context.Context, id string) (dispatch.State, bool, error) {
	key := cacheKey(id)

	var cached dispatch.State
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, true, nil
	}

	fresh, ok, err := s.realStore.GetState(ctx, id)
	if err != nil || !ok {
		return fresh, ok, err
	}

	// Caching is an optimization; a Redis outage falls back to the real store.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)
	return fresh, true, nil
}

// Scans always hit the real store; they only run at startup.
func (s *CachedStateStore) ScanStates(ctx context.Context, prefix, suffix string) (map[string]dispatch.State, error) {
	return s.realStore.ScanStates(ctx, prefix, suffix)
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedStateStore) SetState(ctx context.Context, id string, st dispatch.State) error {
	if err := s.realStore.SetState(ctx, id, st); err != nil {
		return err
	}
	return s.cache.Del(ctx, cacheKey(id))
}

func (s *CachedStateStore) DeleteState(ctx context.Context, id string) error {
	if err := s.realStore.DeleteState(ctx, id); err != nil {
		return err
	}
	return s.cache.Del(ctx, cacheKey(id))
}

func stateKey(id string) string {
	return keyPrefix + id
}

func cacheKey(id string) string {
	return fmt.Sprintf("relay:cache:%s", id)
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
