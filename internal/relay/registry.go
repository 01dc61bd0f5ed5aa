package relay

import (
	"sync"

	"inkrelay/internal/metrics"
	"inkrelay/internal/provider"
)

// Registry maps project ids to their SSE subscribers and to the live provider
// handle used for result refresh and cancellation. Empty subscriber sets are
// never kept.
type Registry struct {
	mu          sync.Mutex
	subscribers map[string]map[*Subscriber]struct{}
	projects    map[string]*provider.Project
}

func NewRegistry() *Registry {
	return &Registry{
		subscribers: make(map[string]map[*Subscriber]struct{}),
		projects:    make(map[string]*provider.Project),
	}
}

// Register adds sub to the subscriber set of projectID.
func (r *Registry) Register(projectID string, sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subscribers[projectID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		r.subscribers[projectID] = set
	}
	if _, dup := set[sub]; dup {
		return
	}
	set[sub] = struct{}{}
	metrics.SSESubscribers.Inc()
}

// Unregister removes sub and drops the project entry once it is empty.
func (r *Registry) Unregister(projectID string, sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subscribers[projectID]
	if !ok {
		return
	}
	if _, present := set[sub]; !present {
		return
	}
	delete(set, sub)
	metrics.SSESubscribers.Dec()
	if len(set) == 0 {
		delete(r.subscribers, projectID)
	}
}

// Subscribers returns a snapshot of the subscribers of projectID.
func (r *Registry) Subscribers(projectID string) []*Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.subscribers[projectID]
	out := make([]*Subscriber, 0, len(set))
	for sub := range set {
		out = append(out, sub)
	}
	return out
}

// HasSubscribers reports whether projectID has a subscriber entry at all.
func (r *Registry) HasSubscribers(projectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subscribers[projectID]
	return ok
}

// TrackProject stores the live handle for its project id.
func (r *Registry) TrackProject(p *provider.Project) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[p.ID()]; !ok {
		metrics.TrackedProjects.Inc()
	}
	r.projects[p.ID()] = p
}

// ReleaseProject drops the handle for projectID, if any.
func (r *Registry) ReleaseProject(projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[projectID]; ok {
		delete(r.projects, projectID)
		metrics.TrackedProjects.Dec()
	}
}

// Project returns the tracked handle for projectID.
func (r *Registry) Project(projectID string) (*provider.Project, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[projectID]
	return p, ok
}

// Sizes reports how many subscriber sets and project handles are held.
func (r *Registry) Sizes() (subscriberSets, projects int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers), len(r.projects)
}
