package service

import (
	"context"
	"sync"
	"time"
)

// PINLookupCache remembers PINs that recently resolved to nothing so that
// brute-force scans stop hitting the database. Namespaces separate the
// registration and display PIN spaces.
type PINLookupCache interface {
	IsKnownMiss(ctx context.Context, namespace, pin string) (bool, error)
	RememberMiss(ctx context.Context, namespace, pin string, ttl time.Duration) error
	Invalidate(ctx context.Context, namespace string) error
}

type NoopPINLookupCache struct{}

func NewNoopPINLookupCache() *NoopPINLookupCache { return &NoopPINLookupCache{} }

func (*NoopPINLookupCache) IsKnownMiss(context.Context, string, string) (bool, error) {
	return false, nil
}

func (*NoopPINLookupCache) RememberMiss(context.Context, string, string, time.Duration) error {
	return nil
}

func (*NoopPINLookupCache) Invalidate(context.Context, string) error { return nil }

type InMemoryPINLookupCache struct {
	mu    sync.RWMutex
	store map[string]map[string]time.Time
}

func NewInMemoryPINLookupCache() *InMemoryPINLookupCache {
	return &InMemoryPINLookupCache{store: make(map[string]map[string]time.Time)}
}

func (c *InMemoryPINLookupCache) IsKnownMiss(_ context.Context, namespace, pin string) (bool, error) {
	now := time.Now().UTC()
	c.mu.RLock()
	ns, ok := c.store[namespace]
	if !ok {
		c.mu.RUnlock()
		return false, nil
	}
	expiresAt, ok := ns[pin]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if now.After(expiresAt) {
		c.mu.Lock()
		if ns2, ok2 := c.store[namespace]; ok2 {
			delete(ns2, pin)
			if len(ns2) == 0 {
				delete(c.store, namespace)
			}
		}
		c.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (c *InMemoryPINLookupCache) RememberMiss(_ context.Context, namespace, pin string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ns, ok := c.store[namespace]
	if !ok {
		ns = make(map[string]time.Time)
		c.store[namespace] = ns
	}
	ns[pin] = time.Now().UTC().Add(ttl)
	return nil
}

func (c *InMemoryPINLookupCache) Invalidate(_ context.Context, namespace string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, namespace)
	return nil
}
