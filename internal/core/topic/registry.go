package topic

import (
	"sort"
	"sync"
)

// Registry holds the topics the local agent is interested in, indexed by
// name and by the hex form of the identifier.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]ID
	byHex  map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]ID),
		byHex:  make(map[string]string),
	}
}

// Register records interest in name and returns its identifier.
// Registering the same name again is a no-op.
func (r *Registry) Register(name string) ID {
	id := Hash(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[name] = id
	r.byHex[id.Hex()] = name
	return id
}

// Unregister drops interest in name. It reports whether name was registered.
func (r *Registry) Unregister(name string) bool {
	id := Hash(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byName[name]
	delete(r.byName, name)
	delete(r.byHex, id.Hex())
	return ok
}

// Resolve returns the registered name for id. A false result means this
// agent never registered the topic.
func (r *Registry) Resolve(id ID) (string, bool) {
	key := id.Hex()
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byHex[key]
	return name, ok
}

func (r *Registry) Lookup(name string) (ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	return id, ok
}

// Topics returns the registered names in sorted order.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
