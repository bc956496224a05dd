package channel

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lalith-99/unifiedinbox/internal/models"
)

// Registry maps each channel to its adapter. Create it with NewRegistry and
// pass it to the components that need it.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.Channel]Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: map[models.Channel]Adapter{},
	}
}

func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return errors.New("adapter is nil")
	}
	ch := adapter.Channel()
	if !ch.Valid() {
		return fmt.Errorf("unknown channel: %q", ch)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[ch]; exists {
		return fmt.Errorf("channel already registered: %s", ch)
	}
	r.adapters[ch] = adapter
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(adapters ...Adapter) {
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Get(ch models.Channel) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[ch]
	return a, ok
}

// Channels returns the registered channels in models.AllChannels order.
func (r *Registry) Channels() []models.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Channel, 0, len(r.adapters))
	for _, ch := range models.AllChannels {
		if _, ok := r.adapters[ch]; ok {
			out = append(out, ch)
		}
	}
	return out
}

// Configured returns the registered channels whose credentials are present.
func (r *Registry) Configured() []models.Channel {
	out := make([]models.Channel, 0)
	for _, ch := range r.Channels() {
		if a, _ := r.Get(ch); a.Configured() {
			out = append(out, ch)
		}
	}
	return out
}
