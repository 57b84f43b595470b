package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryObject struct {
	data     []byte
	modified time.Time
}

// MemoryStore is an in-process ObjectStore.
type MemoryStore struct {
	mu            sync.RWMutex
	objects       map[string]memoryObject
	archivePrefix string
	now           func() time.Time
}

var (
	_ ObjectStore = (*MemoryStore)(nil)
	_ URLSigner   = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store that writes archives under archivePrefix.
func NewMemoryStore(archivePrefix string) *MemoryStore {
	if archivePrefix == "" {
		archivePrefix = "archives"
	}
	return &MemoryStore{
		objects:       make(map[string]memoryObject),
		archivePrefix: archivePrefix,
		now:           time.Now,
	}
}

// Write implements ObjectStore.
func (s *MemoryStore) Write(ctx context.Context, records Records, keyWithoutExt string, format Format) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(records, format)
	if err != nil {
		return err
	}
	s.Put(Key(keyWithoutExt, format), data)
	return nil
}

// Put stores raw bytes at key.
func (s *MemoryStore) Put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memoryObject{data: data, modified: s.now()}
}

// Get returns the object at key.
func (s *MemoryStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	return obj.data, ok
}

// Keys returns every key under prefix in lexical order.
func (s *MemoryStore) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Exists implements ObjectStore.
func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, ok := s.Get(key)
	return ok, nil
}

// ZipByPrefix implements ObjectStore.
func (s *MemoryStore) ZipByPrefix(ctx context.Context, prefix, archiveName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	archiveKey := path.Join(s.archivePrefix, archiveName)

	var entries []zipEntry
	for _, key := range s.Keys(normalizePrefix(prefix)) {
		if key == archiveKey {
			continue
		}
		s.mu.RLock()
		obj := s.objects[key]
		s.mu.RUnlock()
		entries = append(entries, zipEntry{
			key:      key,
			modified: obj.modified,
			open: func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(obj.data)), nil
			},
		})
	}

	var buf bytes.Buffer
	if err := writeZip(&buf, prefix, entries); err != nil {
		return "", fmt.Errorf("archiving %s: %w", prefix, err)
	}
	s.Put(archiveKey, buf.Bytes())
	return archiveKey, nil
}

// DeleteByPrefix implements ObjectStore.
func (s *MemoryStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	prefix = normalizePrefix(prefix)

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			delete(s.objects, k)
			n++
		}
	}
	return n, nil
}

// PresignGet implements URLSigner with a memory:// URL.
func (s *MemoryStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if _, ok := s.Get(key); !ok {
		return "", fmt.Errorf("object %s not found", key)
	}
	u := url.URL{
		Scheme:   "memory",
		Path:     "/" + key,
		RawQuery: url.Values{"expires": {s.now().Add(ttl).UTC().Format(time.RFC3339)}}.Encode(),
	}
	return u.String(), nil
}
