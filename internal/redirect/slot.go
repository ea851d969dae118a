package redirect

import (
	"context"
	"sync"
)

// Slot is a single opaque value with a version used for compare-and-swap.
// Load returns a nil value and version 0 when nothing has been stored.
// Save fails with ErrVersionConflict when the stored version differs from version.
type Slot interface {
	Load(ctx context.Context) ([]byte, int64, error)
	Save(ctx context.Context, value []byte, version int64) error
}

// MemorySlot is an in-process Slot.
type MemorySlot struct {
	mu      sync.Mutex
	value   []byte
	version int64
}

func NewMemorySlot() *MemorySlot {
	return &MemorySlot{}
}

func (m *MemorySlot) Load(_ context.Context) ([]byte, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.value == nil {
		return nil, m.version, nil
	}
	value := make([]byte, len(m.value))
	copy(value, m.value)
	return value, m.version, nil
}

func (m *MemorySlot) Save(_ context.Context, value []byte, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if version != m.version {
		return ErrVersionConflict
	}
	m.value = make([]byte, len(value))
	copy(m.value, value)
	m.version++
	return nil
}
