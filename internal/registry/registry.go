// Package registry resolves view names to factories through a
// process-wide cache with a single-flight first load, replacing the
// string-keyed dynamic module cache of a browser client with a typed
// table.
package registry

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ViewName tags a registered view.
type ViewName string

const (
	ViewAccess       ViewName = "access"
	ViewCallback     ViewName = "callback"
	ViewHome         ViewName = "home"
	ViewConversation ViewName = "conversation"
	ViewNotFound     ViewName = "not-found"
)

// Registry memoizes loaded values by name for the life of the process.
// No eviction, no invalidation; concurrent first resolutions of a name
// share a single load.
type Registry[T any] struct {
	mu      sync.RWMutex
	loaders map[ViewName]func() (T, error)
	loaded  map[ViewName]T
	group   singleflight.Group
}

// New creates an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{
		loaders: map[ViewName]func() (T, error){},
		loaded:  map[ViewName]T{},
	}
}

// Register installs the loader for a name. Later registrations of the
// same name replace earlier ones until the first successful Resolve.
func (r *Registry[T]) Register(name ViewName, load func() (T, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[name] = load
}

// Resolve returns the cached value for name, loading it on first use.
// Failed loads are not cached; the next Resolve retries.
func (r *Registry[T]) Resolve(name ViewName) (T, error) {
	r.mu.RLock()
	v, ok := r.loaded[name]
	loader := r.loaders[name]
	r.mu.RUnlock()
	if ok {
		return v, nil
	}

	var zero T
	if loader == nil {
		return zero, fmt.Errorf("no view registered as %q", name)
	}

	res, err, _ := r.group.Do(string(name), func() (interface{}, error) {
		// A concurrent resolve may have finished while this call waited
		// on the flight group.
		r.mu.RLock()
		v, ok := r.loaded[name]
		r.mu.RUnlock()
		if ok {
			return v, nil
		}

		v, err := loader()
		if err != nil {
			return zero, err
		}

		r.mu.Lock()
		r.loaded[name] = v
		r.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	return res.(T), nil
}
