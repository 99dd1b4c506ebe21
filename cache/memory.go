package cache

import (
	"context"
	"sort"
	"sync"
)

// MemStorage is a process-local Storage. Nothing survives a restart.
type MemStorage struct {
	mutex  *sync.RWMutex
	order  []string
	caches map[string]map[string][]byte
}

func NewMemStorage() *MemStorage {
	return &MemStorage{
		mutex:  &sync.RWMutex{},
		caches: make(map[string]map[string][]byte),
	}
}

// ensure creates the named cache if needed. The caller must hold the write lock.
func (m *MemStorage) ensure(name string) map[string][]byte {
	entries, ok := m.caches[name]
	if !ok {
		entries = make(map[string][]byte)
		m.caches[name] = entries
		m.order = append(m.order, name)
	}
	return entries
}

func (m *MemStorage) Open(ctx context.Context, name string) (Cache, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.ensure(name)
	return &memCache{m: m, name: name}, nil
}

func (m *MemStorage) Lookup(ctx context.Context, name string) (Cache, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if _, ok := m.caches[name]; !ok {
		return nil, false, nil
	}
	return &memCache{m: m, name: name}, true, nil
}

func (m *MemStorage) Has(ctx context.Context, name string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.caches[name]
	return ok, nil
}

func (m *MemStorage) Delete(ctx context.Context, name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.caches[name]; !ok {
		return false, nil
	}
	delete(m.caches, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *MemStorage) Keys(ctx context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	return names, nil
}

func (m *MemStorage) Match(ctx context.Context, key string) ([]byte, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, name := range m.order {
		if bytes, ok := m.caches[name][key]; ok {
			return bytes, nil
		}
	}
	return nil, nil
}

func (m *MemStorage) Close() error {
	return nil
}

type memCache struct {
	m    *MemStorage
	name string
}

func (c *memCache) Name() string {
	return c.name
}

func (c *memCache) Match(ctx context.Context, key string) ([]byte, error) {
	c.m.mutex.RLock()
	defer c.m.mutex.RUnlock()
	return c.m.caches[c.name][key], nil
}

func (c *memCache) Put(ctx context.Context, entry Entry) error {
	return c.PutAll(ctx, []Entry{entry})
}

func (c *memCache) PutAll(ctx context.Context, entries []Entry) error {
	c.m.mutex.Lock()
	defer c.m.mutex.Unlock()
	stored := c.m.ensure(c.name)
	for _, e := range entries {
		stored[e.Key] = e.Bytes
	}
	return nil
}

func (c *memCache) Delete(ctx context.Context, key string) (bool, error) {
	c.m.mutex.Lock()
	defer c.m.mutex.Unlock()
	entries, ok := c.m.caches[c.name]
	if !ok {
		return false, nil
	}
	_, existed := entries[key]
	delete(entries, key)
	return existed, nil
}

func (c *memCache) Keys(ctx context.Context) ([]string, error) {
	c.m.mutex.RLock()
	defer c.m.mutex.RUnlock()
	keys := make([]string, 0, len(c.m.caches[c.name]))
	for key := range c.m.caches[c.name] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
