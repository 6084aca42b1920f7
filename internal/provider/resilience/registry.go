package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Status is the coarse health of an upstream.
type Status string

const (
	StatusOK       Status = "OK"
	StatusDegraded Status = "DEGRADED"
	StatusDown     Status = "DOWN"
)

// Health is a point-in-time view of one upstream.
type Health struct {
	Name          string
	State         gobreaker.State
	Counts        gobreaker.Counts
	LastSuccessAt *time.Time
	LastFailureAt *time.Time
	LastError     string
}

// Status maps the breaker state: closed is OK, half-open is DEGRADED and open is DOWN.
func (h Health) Status() Status {
	switch h.State {
	case gobreaker.StateOpen:
		return StatusDown
	case gobreaker.StateHalfOpen:
		return StatusDegraded
	default:
		return StatusOK
	}
}

// Registry tracks upstream clients and the outcome of their last calls.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	upstreams map[string]*upstream
	now       func() time.Time
}

type upstream struct {
	client        *Client
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
}

// GlobalRegistry collects every upstream client of the process.
var GlobalRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		upstreams: make(map[string]*upstream),
		now:       time.Now,
	}
}

// Register adds client under its name, replacing a previous client of that name.
func (r *Registry) Register(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upstreams[client.Name()] = &upstream{client: client}
}

func (r *Registry) record(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.upstreams[name]
	if !ok {
		return
	}
	now := r.now()
	if err == nil {
		u.lastSuccessAt = &now
		return
	}
	u.lastFailureAt = &now
	u.lastError = err.Error()
}

// Health returns the health of one upstream, or false if it is not registered.
func (r *Registry) Health(name string) (Health, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.upstreams[name]
	if !ok {
		return Health{}, false
	}
	return u.health(name), true
}

// Snapshot returns the health of every upstream ordered by name.
func (r *Registry) Snapshot() []Health {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Health, 0, len(r.upstreams))
	for name, u := range r.upstreams {
		out = append(out, u.health(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (u *upstream) health(name string) Health {
	return Health{
		Name:          name,
		State:         u.client.State(),
		Counts:        u.client.Counts(),
		LastSuccessAt: u.lastSuccessAt,
		LastFailureAt: u.lastFailureAt,
		LastError:     u.lastError,
	}
}
