package storage

import (
	"context"
	"sync"
)

type MemoryKV struct {
	values sync.Map
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{}
}

func (m *MemoryKV) Get(ctx context.Context, key string) ([]byte, error) {
	val, ok := m.values.Load(key)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), val.([]byte)...), nil
}

func (m *MemoryKV) Set(ctx context.Context, key string, value []byte) error {
	m.values.Store(key, append([]byte(nil), value...))
	return nil
}

func (m *MemoryKV) Delete(ctx context.Context, key string) error {
	m.values.Delete(key)
	return nil
}

func (m *MemoryKV) Close() error {
	return nil
}
