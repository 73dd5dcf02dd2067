package session

import (
	"sync"

	"github.com/dkeye/Consult/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry enforces one live session per (role, booking) in the process.
type Registry struct {
	mu   sync.RWMutex
	live map[domain.SessionKey]*Controller
}

func NewRegistry() *Registry {
	return &Registry{live: make(map[domain.SessionKey]*Controller)}
}

var processRegistry = NewRegistry()

func (r *Registry) Claim(key domain.SessionKey, c *Controller) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.live[key]; ok && cur != c {
		return domain.ErrSessionActive
	}
	r.live[key] = c
	log.Info().Str("module", "session.registry").Str("role", key.Role.String()).Str("booking", string(key.BookingID)).Msg("claimed session")
	return nil
}

// Release drops key if c still owns it.
func (r *Registry) Release(key domain.SessionKey, c *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.live[key]; ok && cur == c {
		delete(r.live, key)
		log.Info().Str("module", "session.registry").Str("role", key.Role.String()).Str("booking", string(key.BookingID)).Msg("released session")
	}
}

func (r *Registry) Get(key domain.SessionKey) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.live[key]
	return c, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}
