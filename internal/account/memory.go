package account

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"sync"

	"pv-go/internal/model"
	"pv-go/internal/pv"
)

// MemoryAccount is an in-memory implementation of the Account interface.
// It is useful for tests and for throwaway federations.
// This implementation is safe for concurrent use.
type MemoryAccount struct {
	id        model.AccountID
	limit     int64
	batchSize int
	idgen     pv.IDGenerator

	mu         sync.RWMutex
	blobs      map[string][]byte
	containers map[string]bool   // container name -> exists
	placement  map[string]string // blob id -> container name, absent at top level
}

var _ pv.Account = (*MemoryAccount)(nil)

// NewMemoryAccount creates an empty account holding at most limit bytes.
// idgen may be nil to use random UUIDs.
func NewMemoryAccount(id model.AccountID, limit int64, batchSize int, idgen pv.IDGenerator) *MemoryAccount {
	if idgen == nil {
		idgen = pv.UUIDGenerator{}
	}
	return &MemoryAccount{
		id:         id,
		limit:      limit,
		batchSize:  max(batchSize, 1),
		idgen:      idgen,
		blobs:      make(map[string][]byte),
		containers: make(map[string]bool),
		placement:  make(map[string]string),
	}
}

func (m *MemoryAccount) ID() model.AccountID { return m.id }

func (m *MemoryAccount) MaxBatchSize() int { return m.batchSize }

// UsageAndLimit counts every stored byte, including quarantined blobs.
func (m *MemoryAccount) UsageAndLimit(ctx context.Context) (int64, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var usage int64
	for _, b := range m.blobs {
		usage += int64(len(b))
	}
	return usage, m.limit, nil
}

func (m *MemoryAccount) Upload(ctx context.Context, content io.ReaderAt, size int64, fileName string) (string, error) {
	data, err := io.ReadAll(io.NewSectionReader(content, 0, size))
	if err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return "", fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	id := m.idgen.New()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[id] = data
	return id, nil
}

func (m *MemoryAccount) Download(ctx context.Context, blobID string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.blobs[blobID]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("blob not found: %s", blobID)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

// ListBlobIDs returns the top-level blobs, sorted.
func (m *MemoryAccount) ListBlobIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.blobs))
	for id := range m.blobs {
		if _, contained := m.placement[id]; !contained {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *MemoryAccount) GetOrCreateContainer(ctx context.Context, name string) (string, error) {
	if err := validateContainerName(name); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.containers[name] = true
	return name, nil
}

func (m *MemoryAccount) MoveToContainer(ctx context.Context, blobIDs []string, containerID string) error {
	if len(blobIDs) > m.batchSize {
		return fmt.Errorf("batch of %d exceeds limit of %d", len(blobIDs), m.batchSize)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.containers[containerID] {
		return fmt.Errorf("container not found: %s", containerID)
	}
	for _, id := range blobIDs {
		if _, ok := m.blobs[id]; !ok {
			return fmt.Errorf("blob not found: %s", id)
		}
	}
	for _, id := range blobIDs {
		m.placement[id] = containerID
	}
	return nil
}

// ContainerBlobIDs returns the blobs inside a container, sorted.
func (m *MemoryAccount) ContainerBlobIDs(containerID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, c := range m.placement {
		if c == containerID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Delete removes a blob outright, wherever it is.
func (m *MemoryAccount) Delete(blobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, blobID)
	delete(m.placement, blobID)
}

// ValidateSetup always succeeds for an in-memory account.
func (m *MemoryAccount) ValidateSetup(ctx context.Context) error {
	return nil
}
