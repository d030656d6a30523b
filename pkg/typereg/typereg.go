// Package typereg maps stable wire type names to statically known Go types.
//
// A Registry is populated at startup from the handler and message types a process
// compiles in. Resolution never goes beyond that set: an unknown name is an error,
// not a lookup into the program's types.
package typereg

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/morezero/mediator-broker/pkg/envelope"
)

const logPrefix = "typereg:registry"

// Descriptor describes one registered wire type.
type Descriptor struct {
	Name   string
	GoType reflect.Type
}

// New returns a pointer to a fresh zero value of the type, ready to decode into.
func (d Descriptor) New() any {
	return reflect.New(d.GoType).Interface()
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]Descriptor
	byGoTyp map[reflect.Type]string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byName:  make(map[string]Descriptor),
		byGoTyp: make(map[reflect.Type]string),
	}
}

// Register adds T under name. Registering the same (name, T) pair again is a no-op;
// reusing a name for another type, or a type under another name, is an error.
func Register[T any](r *Registry, name string) error {
	return r.add(name, reflect.TypeOf((*T)(nil)).Elem())
}

func (r *Registry) add(name string, t reflect.Type) error {
	if name == "" {
		return fmt.Errorf("%s - type name is required", logPrefix)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[name]; ok {
		if existing.GoType == t {
			return nil
		}
		return fmt.Errorf("%s - name %q already registered for %s", logPrefix, name, existing.GoType)
	}
	if other, ok := r.byGoTyp[t]; ok {
		return fmt.Errorf("%s - type %s already registered as %q", logPrefix, t, other)
	}
	r.byName[name] = Descriptor{Name: name, GoType: t}
	r.byGoTyp[t] = name
	return nil
}

// Resolve returns the descriptor registered under name, or envelope.ErrTypeNotFound.
func (r *Registry) Resolve(name string) (Descriptor, error) {
	r.mu.RLock()
	d, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return Descriptor{}, envelope.NewError(envelope.CodeTypeNotFound, fmt.Sprintf("type %q is not registered", name))
	}
	return d, nil
}

// Describe returns the wire name of v's type. Pointers are dereferenced.
func (r *Registry) Describe(v any) (string, error) {
	t := reflect.TypeOf(v)
	if t == nil {
		return "", envelope.NewError(envelope.CodeTypeNotFound, "nil value has no type")
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	r.mu.RLock()
	name, ok := r.byGoTyp[t]
	r.mu.RUnlock()
	if !ok {
		return "", envelope.NewError(envelope.CodeTypeNotFound, fmt.Sprintf("type %s is not registered", t))
	}
	return name, nil
}

// NameOf returns the wire name registered for T.
func NameOf[T any](r *Registry) (string, error) {
	return r.Describe((*T)(nil))
}

// Names lists registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
