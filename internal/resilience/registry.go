package resilience

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// DependencyHealth represents the health status of an outbound dependency.
type DependencyHealth struct {
	Name          string           `json:"name"`
	CircuitState  gobreaker.State  `json:"-"`
	State         string           `json:"state"`
	Counts        gobreaker.Counts `json:"-"`
	LastSuccessAt *time.Time       `json:"lastSuccessAt,omitempty"`
	LastFailureAt *time.Time       `json:"lastFailureAt,omitempty"`
	LastError     string           `json:"lastError,omitempty"`
}

// IsHealthy returns true if the dependency circuit is closed.
func (h *DependencyHealth) IsHealthy() bool {
	return h.CircuitState == gobreaker.StateClosed
}

// Registry tracks executors and their last outcomes.
type Registry struct {
	mu           sync.RWMutex
	dependencies map[string]*registeredDependency
}

type registeredDependency struct {
	executor      *Executor
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
}

// NewRegistry creates a new dependency registry.
func NewRegistry() *Registry {
	return &Registry{
		dependencies: make(map[string]*registeredDependency),
	}
}

// Register adds an executor to the registry.
func (r *Registry) Register(name string, e *Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dependencies[name] = &registeredDependency{executor: e}
}

// RecordSuccess records a successful call.
func (r *Registry) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.dependencies[name]; ok {
		now := time.Now()
		d.lastSuccessAt = &now
	}
}

// RecordFailure records a failed call.
func (r *Registry) RecordFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.dependencies[name]; ok {
		now := time.Now()
		d.lastFailureAt = &now
		if err != nil {
			d.lastError = err.Error()
		}
	}
}

// Health returns the health of a single dependency, or nil if unknown.
func (r *Registry) Health(name string) *DependencyHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.dependencies[name]
	if !ok {
		return nil
	}
	return d.health(name)
}

// AllHealth returns the health of every registered dependency, sorted by name.
func (r *Registry) AllHealth() []*DependencyHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*DependencyHealth, 0, len(r.dependencies))
	for name, d := range r.dependencies {
		out = append(out, d.health(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (d *registeredDependency) health(name string) *DependencyHealth {
	state := d.executor.CircuitBreakerState()
	return &DependencyHealth{
		Name:          name,
		CircuitState:  state,
		State:         state.String(),
		Counts:        d.executor.CircuitBreakerCounts(),
		LastSuccessAt: d.lastSuccessAt,
		LastFailureAt: d.lastFailureAt,
		LastError:     d.lastError,
	}
}

// Check fails while any registered circuit is open. It satisfies the
// readiness checker used by the health endpoints.
func (r *Registry) Check(_ context.Context) error {
	for _, h := range r.AllHealth() {
		if h.CircuitState == gobreaker.StateOpen {
			return fmt.Errorf("%s circuit open: %s", h.Name, h.LastError)
		}
	}
	return nil
}
