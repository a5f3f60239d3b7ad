package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"atlasprep/internal/blob"
)

// Artifact describes a stored object.
type Artifact struct {
	Key         string         `json:"key"`
	ContentType string         `json:"content_type"`
	SizeBytes   int64          `json:"size_bytes"`
	URL         string         `json:"url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ObjectStore persists rendered artifacts.
type ObjectStore interface {
	// Put stores a new immutable object and fails if key exists.
	Put(ctx context.Context, key string, payload []byte, contentType string, metadata map[string]any) (Artifact, error)
	Get(ctx context.Context, key string) (Artifact, []byte, error)
	// Delete removes the object; returns true if it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// List returns artifacts under prefix ordered by key.
	List(ctx context.Context, prefix string) ([]Artifact, error)
}

// BlobObjectStore adapts a blob.Store. Metadata values are stringified with
// fmt since blob metadata is flat text.
type BlobObjectStore struct {
	store blob.Store
}

// NewBlobObjectStore wraps store.
func NewBlobObjectStore(store blob.Store) *BlobObjectStore {
	return &BlobObjectStore{store: store}
}

// Put implements ObjectStore.
func (s *BlobObjectStore) Put(ctx context.Context, key string, payload []byte, contentType string, metadata map[string]any) (Artifact, error) {
	info, err := s.store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: contentType,
		Metadata:    stringify(metadata),
	})
	if err != nil {
		return Artifact{}, err
	}
	art := fromInfo(info)
	if u, err := s.store.PresignURL(ctx, info.Key, blob.SignedURLOptions{}); err == nil {
		art.URL = u
	} else if !errors.Is(err, blob.ErrUnsupported) {
		return Artifact{}, fmt.Errorf("presign %s: %w", key, err)
	}
	return art, nil
}

// Get implements ObjectStore.
func (s *BlobObjectStore) Get(ctx context.Context, key string) (Artifact, []byte, error) {
	info, rc, err := s.store.Get(ctx, key)
	if err != nil {
		return Artifact{}, nil, err
	}
	defer func() { _ = rc.Close() }()
	payload, err := io.ReadAll(rc)
	if err != nil {
		return Artifact{}, nil, err
	}
	return fromInfo(info), payload, nil
}

// Delete implements ObjectStore.
func (s *BlobObjectStore) Delete(ctx context.Context, key string) (bool, error) {
	return s.store.Delete(ctx, key)
}

// List implements ObjectStore.
func (s *BlobObjectStore) List(ctx context.Context, prefix string) ([]Artifact, error) {
	infos, err := s.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]Artifact, len(infos))
	for i, info := range infos {
		out[i] = fromInfo(info)
	}
	return out, nil
}

func fromInfo(info blob.Info) Artifact {
	var md map[string]any
	if len(info.Metadata) > 0 {
		md = make(map[string]any, len(info.Metadata))
		for k, v := range info.Metadata {
			md[k] = v
		}
	}
	return Artifact{
		Key:         info.Key,
		ContentType: info.ContentType,
		SizeBytes:   info.Size,
		Metadata:    md,
		CreatedAt:   info.LastModified,
	}
}

func stringify(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = fmt.Sprint(v)
	}
	return out
}

// MemoryObjectStore is an in-memory ObjectStore for tests and dry runs.
type MemoryObjectStore struct {
	mu      sync.RWMutex
	objects map[string]storedObject
}

type storedObject struct {
	artifact Artifact
	payload  []byte
}

// NewMemoryObjectStore constructs an empty store.
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string]storedObject)}
}

// Put implements ObjectStore.
func (s *MemoryObjectStore) Put(_ context.Context, key string, payload []byte, contentType string, metadata map[string]any) (Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[key]; exists {
		return Artifact{}, fmt.Errorf("object %s already exists", key)
	}
	art := Artifact{
		Key:         key,
		ContentType: contentType,
		SizeBytes:   int64(len(payload)),
		Metadata:    cloneMap(metadata),
		CreatedAt:   time.Now().UTC(),
		URL:         "memory://" + key,
	}
	s.objects[key] = storedObject{artifact: art, payload: bytes.Clone(payload)}
	return art, nil
}

// Get implements ObjectStore.
func (s *MemoryObjectStore) Get(_ context.Context, key string) (Artifact, []byte, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return Artifact{}, nil, fmt.Errorf("object %s not found", key)
	}
	art := obj.artifact
	art.Metadata = cloneMap(art.Metadata)
	return art, bytes.Clone(obj.payload), nil
}

// Delete implements ObjectStore.
func (s *MemoryObjectStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.objects[key]
	delete(s.objects, key)
	return existed, nil
}

// List implements ObjectStore.
func (s *MemoryObjectStore) List(_ context.Context, prefix string) ([]Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Artifact, 0, len(s.objects))
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			art := obj.artifact
			art.Metadata = cloneMap(art.Metadata)
			out = append(out, art)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
