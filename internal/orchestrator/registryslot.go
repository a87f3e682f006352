package orchestrator

import (
	"sync/atomic"

	"github.com/kavymi/meepo/internal/toolregistry"
)

// RegistrySlot is a write-once holder for the tool registry, resolving
// the circular dependency between the registry (which contains the
// delegate_tasks tool) and the orchestrator (which the tool needs to
// dispatch into, and which in turn needs the registry to hand each
// sub-agent its filtered tool set). The registry is built after the
// tool is registered, then filled in exactly once via Set.
type RegistrySlot struct {
	ptr atomic.Pointer[toolregistry.Registry]
}

// NewRegistrySlot returns an empty slot.
func NewRegistrySlot() *RegistrySlot {
	return &RegistrySlot{}
}

// Set fills the slot. Calling it twice returns ErrRegistryAlreadySet and
// leaves the original value in place.
func (s *RegistrySlot) Set(r *toolregistry.Registry) error {
	if !s.ptr.CompareAndSwap(nil, r) {
		return ErrRegistryAlreadySet
	}
	return nil
}

// Get returns the registry, or ErrRegistryNotSet if Set has not been
// called yet.
func (s *RegistrySlot) Get() (*toolregistry.Registry, error) {
	r := s.ptr.Load()
	if r == nil {
		return nil, ErrRegistryNotSet
	}
	return r, nil
}
