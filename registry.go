package flagdock

import "sync"

// Registry hands out one shared Client per SDK key, constructing it on
// first use. It exists for applications that evaluate flags from several
// projects and want a single place to close them all.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: map[string]*Client{}}
}

// Get returns the client registered for sdkKey, constructing it with the
// given options on first use. Options are ignored when the client already
// exists.
func (r *Registry) Get(sdkKey string, opts ...Option) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[sdkKey]; ok {
		return client, nil
	}
	client, err := New(sdkKey, opts...)
	if err != nil {
		return nil, err
	}
	r.clients[sdkKey] = client
	return client, nil
}

// Remove closes and forgets the client registered for sdkKey.
func (r *Registry) Remove(sdkKey string) {
	r.mu.Lock()
	client, ok := r.clients[sdkKey]
	delete(r.clients, sdkKey)
	r.mu.Unlock()
	if ok {
		client.Close()
	}
}

// CloseAll closes and forgets every registered client.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	clients := r.clients
	r.clients = map[string]*Client{}
	r.mu.Unlock()
	for _, client := range clients {
		client.Close()
	}
}
