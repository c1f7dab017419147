package lock

import (
	"context"
	"sync"
)

// MemorySet держит ключи в памяти процесса. Подходит, когда архив обслуживает один процесс.
type MemorySet struct {
	keys sync.Map
}

// NewMemorySet создаёт пустой набор.
func NewMemorySet() *MemorySet {
	return &MemorySet{}
}

// Reset очищает набор.
func (s *MemorySet) Reset(context.Context) error {
	s.keys.Clear()
	return nil
}

// TryAcquire занимает key, если он свободен.
func (s *MemorySet) TryAcquire(_ context.Context, key string) (bool, error) {
	_, loaded := s.keys.LoadOrStore(key, struct{}{})
	return !loaded, nil
}

// Release освобождает key.
func (s *MemorySet) Release(_ context.Context, key string) error {
	s.keys.Delete(key)
	return nil
}
