package orchestrator

import (
	"sync"
	"time"

	"github.com/Jackwwg83/coderunner2/internal/domain"
)

// record is the in-memory state of one active deployment. Its mutex is the
// serialization point for every state transition of that deployment; blocking
// I/O never happens while it is held.
type record struct {
	mu sync.Mutex

	d             domain.Deployment
	spec          domain.RuntimeSpec
	deadline      time.Time
	stopRequested bool
	stopReason    string
}

// Registry is the shared map of active deployments. It is an explicit object
// owned by the orchestrator and injected where needed, never a package
// singleton. Terminal deployments are removed; reads fall back to the
// persistence store.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*record
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*record)}
}

func (r *Registry) put(rec *record) {
	r.mu.Lock()
	r.records[rec.d.ID] = rec
	r.mu.Unlock()
}

func (r *Registry) get(id string) (*record, bool) {
	r.mu.RLock()
	rec, ok := r.records[id]
	r.mu.RUnlock()
	return rec, ok
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.records, id)
	r.mu.Unlock()
}

func (r *Registry) all() []*record {
	r.mu.RLock()
	out := make([]*record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	r.mu.RUnlock()
	return out
}

// Len reports the number of active deployments held in memory.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// snapshot returns a copy of the deployment state under the record lock.
func (rec *record) snapshot() (domain.Deployment, time.Time) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.d, rec.deadline
}
