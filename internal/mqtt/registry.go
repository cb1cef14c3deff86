package mqtt

import (
	"sort"
	"strings"
	"sync"
)

// Registry maps property names to their topics under a prefix:
// <prefix>/set/<name> for writes and <prefix>/state/<name> for values.
type Registry struct {
	mu     sync.RWMutex
	prefix string
	names  map[string]struct{}
}

// NewRegistry creates an empty registry. A trailing slash on prefix is
// ignored.
func NewRegistry(prefix string) *Registry {
	return &Registry{
		prefix: strings.TrimSuffix(prefix, "/"),
		names:  make(map[string]struct{}),
	}
}

// Rebuild replaces the known property names. Called on every model load.
func (r *Registry) Rebuild(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = make(map[string]struct{}, len(names))
	for _, n := range names {
		r.names[n] = struct{}{}
	}
}

// Exists returns true if the property is known.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.names[name]
	return ok
}

// Names returns the known property names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.names))
	for n := range r.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Prefix returns the topic prefix.
func (r *Registry) Prefix() string {
	return r.prefix
}

// SetTopic returns the topic external writers publish to.
func (r *Registry) SetTopic(name string) string {
	return r.prefix + "/set/" + name
}

// StateTopic returns the retained topic carrying the current value.
func (r *Registry) StateTopic(name string) string {
	return r.prefix + "/state/" + name
}

// SetWildcard is the subscription covering every set topic.
func (r *Registry) SetWildcard() string {
	return r.prefix + "/set/+"
}

// NameFromSetTopic extracts the property name from a set topic. The name
// need not be known.
func (r *Registry) NameFromSetTopic(topic string) (string, bool) {
	name, ok := strings.CutPrefix(topic, r.prefix+"/set/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}
