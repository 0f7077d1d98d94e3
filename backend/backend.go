// Package backend defines the subsystem sync boundary: the core owns no
// backend code, only this interface and a name-keyed registry of
// factories.
package backend

import (
	"context"
	"errors"

	"paramforge/blackboard"
	"paramforge/paramerrors"
)

// InstanceDescriptor is the minimal subsystem metadata a Backend needs
// to instantiate its SyncObject: the subsystem name/type it serves. The
// declared mapping values are passed to Instantiate separately.
type InstanceDescriptor struct {
	Name string
	Type string
}

// Backend is a platform-specific sync target factory. The core never
// imports a concrete Backend; it only holds this interface, resolved by
// name through Registry at structure-load time.
type Backend interface {
	// Endianness is the byte order the backend's wire format expects;
	// the structure's declared subsystem endianness must match it.
	Endianness() blackboard.Endianness
	// MappingKeys lists the XML <Subsystem Mapping="k1:v1,k2:v2"> keys
	// this backend understands. Neither xmlbinding nor engine.Start
	// checks a subsystem's declared mapping against this list.
	MappingKeys() []string
	Instantiate(desc InstanceDescriptor, mapping map[string]string) (SyncObject, error)
}

// SyncObject pushes (and optionally pulls) one subsystem's blackboard
// region to/from its backend.
type SyncObject interface {
	Send(ctx context.Context, region blackboard.Region, data []byte) error
	// Receive is optional; backends that are write-only return
	// ErrUnsupported.
	Receive(ctx context.Context, region blackboard.Region) ([]byte, error)
}

// ErrUnsupported is the sentinel SyncObject.Receive returns when a
// backend has no read path. Deliberately not a paramerrors.Error:
// matching by paramerrors Kind would make every BackendError look
// unsupported to errors.Is.
var ErrUnsupported = errors.New("backend: receive unsupported")

// Factory constructs a Backend. It takes no arguments: the subsystem's
// mapping reaches the backend later, through Instantiate.
type Factory func() Backend

// Registry resolves backend names (declared per-subsystem in the
// structure XML's Type attribute) to Factory implementations.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register associates a backend type name with its factory.
func (r *Registry) Register(typeName string, f Factory) {
	r.factories[typeName] = f
}

// Resolve looks up and instantiates the Backend for typeName.
func (r *Registry) Resolve(typeName string) (Backend, error) {
	f, ok := r.factories[typeName]
	if !ok {
		return nil, paramerrors.New(paramerrors.BackendError, "backend.Resolve").WithPath(typeName).WithDetail("unknown backend type")
	}
	return f(), nil
}
